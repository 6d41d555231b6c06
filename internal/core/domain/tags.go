package domain

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// SystemTagPrefix marks tags that only the core may write.
const SystemTagPrefix = "_"

// System tags written by the core.
const (
	TagCreated      = "_created"
	TagUpdated      = "_updated"
	TagUpdatedDate  = "_updated_date"
	TagSource       = "_source"
	TagSourceURI    = "_source_uri"
	TagContentType  = "_content_type"
	TagAnalyzedHash = "_analyzed_hash"
	TagBaseID       = "_base_id"
	TagVersion      = "_version"
	TagPartNum      = "_part_num"
)

// Values for TagSource.
const (
	SourceInline = "inline"
	SourceURI    = "uri"
)

const maxTagKeyLen = 128

// IsSystemTag reports whether key is reserved for the core.
func IsSystemTag(key string) bool {
	return strings.HasPrefix(key, SystemTagPrefix)
}

// ValidateTagKey rejects keys that cannot be stored or filtered on.
func ValidateTagKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: empty tag key", ErrInvalidInput)
	}
	if len(key) > maxTagKeyLen {
		return fmt.Errorf("%w: tag key longer than %d bytes", ErrInvalidInput, maxTagKeyLen)
	}
	for _, r := range key {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '=' {
			return fmt.Errorf("%w: tag key %q contains %q", ErrInvalidInput, key, r)
		}
	}
	return nil
}

// NormalizeUserTags lower-cases and trims user tags.
// Keys carrying the system prefix are dropped and returned in filtered.
// An empty value is kept as a deletion marker for MergeTags.
func NormalizeUserTags(tags map[string]string) (normalized map[string]string, filtered []string, err error) {
	normalized = make(map[string]string, len(tags))
	for k, v := range tags {
		key := strings.ToLower(strings.TrimSpace(k))
		if IsSystemTag(key) {
			filtered = append(filtered, k)
			continue
		}
		if err := ValidateTagKey(key); err != nil {
			return nil, nil, err
		}
		normalized[key] = strings.ToLower(strings.TrimSpace(v))
	}
	sort.Strings(filtered)
	return normalized, filtered, nil
}

// MergeTags applies layers in order, later layers overriding earlier ones.
// An empty value removes the key. System keys in any layer are ignored;
// callers apply system tags last with ApplySystemTags.
func MergeTags(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, layer := range layers {
		for k, v := range layer {
			if IsSystemTag(k) {
				continue
			}
			if v == "" {
				delete(out, k)
				continue
			}
			out[k] = v
		}
	}
	return out
}

// ApplySystemTags installs system tags verbatim over user tags.
func ApplySystemTags(tags, system map[string]string) map[string]string {
	out := CloneTags(tags)
	if out == nil {
		out = make(map[string]string, len(system))
	}
	for k, v := range system {
		out[k] = v
	}
	return out
}

// UserTags returns the non-system subset of tags.
func UserTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if !IsSystemTag(k) {
			out[k] = v
		}
	}
	return out
}

// SystemTags returns the system subset of tags.
func SystemTags(tags map[string]string) map[string]string {
	out := make(map[string]string)
	for k, v := range tags {
		if IsSystemTag(k) {
			out[k] = v
		}
	}
	return out
}

// TagsEqual compares two tag maps, treating nil and empty as equal.
func TagsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// CloneTags copies a tag map. Nil stays nil.
func CloneTags(tags map[string]string) map[string]string {
	if tags == nil {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// TagFilter selects entries whose tags contain every key.
// An empty value matches any value for that key.
type TagFilter map[string]string

// Matches reports whether tags satisfy the filter.
func (f TagFilter) Matches(tags map[string]string) bool {
	for k, want := range f {
		got, ok := tags[k]
		if !ok {
			return false
		}
		if want != "" && got != want {
			return false
		}
	}
	return true
}

// Normalize lower-cases user keys and values; system keys are verbatim.
func (f TagFilter) Normalize() (TagFilter, error) {
	if len(f) == 0 {
		return nil, nil
	}
	out := make(TagFilter, len(f))
	for k, v := range f {
		key := strings.TrimSpace(k)
		if !IsSystemTag(key) {
			key = strings.ToLower(key)
			v = strings.ToLower(strings.TrimSpace(v))
		}
		if err := ValidateTagKey(key); err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Keys returns the filter keys in sorted order.
func (f TagFilter) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
