package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"unicode"
)

const (
	maxIDLen = 1024

	// DefaultCollection is used when a request names no collection.
	DefaultCollection = "default"

	// GeneratedIDPrefix marks ids derived from content.
	GeneratedIDPrefix = "%"
)

var (
	collectionPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	derivedPattern    = regexp.MustCompile(`@[vp][0-9]+$`)
)

// KeyKind distinguishes the three kinds of vector index keys.
type KeyKind int

// Vector key kinds.
const (
	KeyDocument KeyKind = iota
	KeyVersion
	KeyPart
)

// String returns the kind name stored alongside vector entries.
func (k KeyKind) String() string {
	switch k {
	case KeyVersion:
		return "version"
	case KeyPart:
		return "part"
	default:
		return "document"
	}
}

// ValidateID rejects ids that cannot be stored or would collide with
// derived vector keys.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidInput)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: id longer than %d bytes", ErrInvalidInput, maxIDLen)
	}
	for _, r := range id {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: id contains control character", ErrInvalidInput)
		}
	}
	if derivedPattern.MatchString(id) {
		return fmt.Errorf("%w: id %q ends in a reserved version/part suffix", ErrInvalidInput, id)
	}
	return nil
}

// ValidateCollection checks a collection name.
func ValidateCollection(name string) error {
	if !collectionPattern.MatchString(name) {
		return fmt.Errorf("%w: collection %q must match %s", ErrInvalidInput, name, collectionPattern)
	}
	return nil
}

// VersionKey is the vector key of an archived version.
func VersionKey(id string, version int) string {
	return id + "@v" + strconv.Itoa(version)
}

// PartKey is the vector key of a part.
func PartKey(id string, partNum int) string {
	return id + "@p" + strconv.Itoa(partNum)
}

// ParseKey splits a vector key into its base id, kind and number.
func ParseKey(key string) (base string, kind KeyKind, n int) {
	loc := derivedPattern.FindStringIndex(key)
	if loc == nil {
		return key, KeyDocument, 0
	}
	suffix := key[loc[0]:]
	num, err := strconv.Atoi(suffix[2:])
	if err != nil {
		return key, KeyDocument, 0
	}
	if suffix[1] == 'v' {
		return key[:loc[0]], KeyVersion, num
	}
	return key[:loc[0]], KeyPart, num
}

// IsDerivedKey reports whether key names a version or part entry.
func IsDerivedKey(key string) bool {
	_, kind, _ := ParseKey(key)
	return kind != KeyDocument
}

// ContentHash digests raw content for change detection.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// GeneratedID derives a stable id from a hex digest of the content or URI.
func GeneratedID(digest string) string {
	if len(digest) > 12 {
		digest = digest[:12]
	}
	return GeneratedIDPrefix + digest
}
