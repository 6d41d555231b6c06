package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// VectorEntry is an embedding plus the denormalised summary and tags
// stored under a bare, version or part key.
type VectorEntry struct {
	ID        string
	Embedding []float32
	Summary   string
	Tags      map[string]string
}

// VectorHit is a nearest-neighbour or metadata match.
type VectorHit struct {
	ID      string
	Summary string
	Tags    map[string]string

	// Distance is the backend-native distance (cosine distance for all
	// bundled backends). Zero for metadata and full-text matches.
	Distance float64

	// Similarity is bounded to (0, 1]; ranking only looks at this.
	Similarity float64
}

// Similarity converts a distance into a bounded similarity score.
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// EmbeddingIdentity is the provider, model and dimension a collection
// is bound to. Vectors from different identities are not comparable.
type EmbeddingIdentity struct {
	Provider  string
	Model     string
	Dimension int
}

// IsZero reports whether no identity has been recorded.
func (e EmbeddingIdentity) IsZero() bool {
	return e.Provider == "" && e.Model == "" && e.Dimension == 0
}

// String renders the identity for logs.
func (e EmbeddingIdentity) String() string {
	return fmt.Sprintf("%s/%s/%d", e.Provider, e.Model, e.Dimension)
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// IndexName derives the vector collection name used for a logical
// collection under this identity.
func (e EmbeddingIdentity) IndexName(collection string) string {
	slug := func(s string) string {
		return strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(s), "_"), "_")
	}
	return fmt.Sprintf("%s__%s_%s_%d", collection, slug(e.Provider), slug(e.Model), e.Dimension)
}

// BindingState is the lifecycle state of an index binding.
type BindingState string

// Binding states.
const (
	// BindingActive serves reads and writes.
	BindingActive BindingState = "active"

	// BindingBuilding is being populated by a background reindex.
	BindingBuilding BindingState = "building"
)

// IndexBinding records which vector collection serves a logical collection.
type IndexBinding struct {
	Collection string
	IndexName  string
	Identity   EmbeddingIdentity
	State      BindingState
	UpdatedAt  time.Time
}

// VersionEntry rekeys e as archived version n of id and stamps the
// derived-entry system tags.
func VersionEntry(id string, n int, e VectorEntry) VectorEntry {
	e.ID = VersionKey(id, n)
	e.Tags = ApplySystemTags(e.Tags, map[string]string{
		TagBaseID:  id,
		TagVersion: strconv.Itoa(n),
	})
	return e
}

// PartEntry rekeys e as part n of id and stamps the derived-entry system tags.
func PartEntry(id string, n int, e VectorEntry) VectorEntry {
	e.ID = PartKey(id, n)
	e.Tags = ApplySystemTags(e.Tags, map[string]string{
		TagBaseID:  id,
		TagPartNum: strconv.Itoa(n),
	})
	return e
}
