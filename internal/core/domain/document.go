package domain

import "time"

// Document is the current state of a stored document.
// Identity is (Collection, ID); at most one current Document exists per pair.
type Document struct {
	// ID is the caller-chosen or content-derived identifier.
	ID string

	// Collection is the namespace the document lives in.
	Collection string

	// Summary is the stored summary text (may be a placeholder while
	// summarization is pending).
	Summary string

	// Tags holds user and system tags.
	Tags map[string]string

	// ContentHash is a digest of the raw content, not of the summary.
	ContentHash string

	// CreatedAt is preserved across content-changing writes.
	CreatedAt time.Time

	// UpdatedAt is when the current state was installed or last edited.
	UpdatedAt time.Time

	// AccessedAt is updated best-effort on reads.
	AccessedAt time.Time
}

// Version is an immutable archived snapshot of a prior Document state.
type Version struct {
	ID          string
	Collection  string
	Version     int
	Summary     string
	Tags        map[string]string
	ContentHash string

	// CreatedAt is when the snapshot was archived.
	CreatedAt time.Time
}

// Part is one section of a structurally decomposed Document.
type Part struct {
	ID         string
	Collection string
	PartNum    int
	Summary    string
	Content    string
	Tags       map[string]string
	CreatedAt  time.Time
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Tags = CloneTags(d.Tags)
	return &c
}

// AsVersion converts the current state into an archive snapshot.
func (d *Document) AsVersion(num int, archivedAt time.Time) Version {
	return Version{
		ID:          d.ID,
		Collection:  d.Collection,
		Version:     num,
		Summary:     d.Summary,
		Tags:        CloneTags(d.Tags),
		ContentHash: d.ContentHash,
		CreatedAt:   archivedAt,
	}
}

// VersionInfo is a lightweight listing entry for version history.
// Offset 0 is the current state, 1 the most recently archived version.
type VersionInfo struct {
	Version   int
	Offset    int
	Summary   string
	CreatedAt time.Time
}

// VersionNav describes neighbours of a version offset.
// A nil pointer means there is no neighbour in that direction.
type VersionNav struct {
	Offset int
	Prev   *int
	Next   *int
}
