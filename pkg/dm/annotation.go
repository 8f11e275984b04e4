package dm

import (
	"encoding/json"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Annotation is an immutable value applied to runs of characters.
type Annotation struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	// OriginalDOM links back to the source markup. It does not take part in
	// comparison or hashing.
	OriginalDOM string `json:"originalDom,omitempty"`
}

// Comparable returns the subset of the annotation that identifies it.
func (a Annotation) Comparable() map[string]any {
	c := map[string]any{"type": a.Type}
	if len(a.Attributes) > 0 {
		c["attributes"] = a.Attributes
	}
	return c
}

// CompareTo reports whether two annotations are equal ignoring transient fields.
func (a Annotation) CompareTo(other Annotation) bool {
	return HashAnnotation(a) == HashAnnotation(other)
}

// HashAnnotation returns the store handle for an annotation. encoding/json sorts
// map keys, so the canonical form does not depend on attribute insertion order.
func HashAnnotation(a Annotation) string {
	canonical, err := json.Marshal(a.Comparable())
	if err != nil {
		// Attributes must be JSON values; anything else is a programming error.
		panic(err)
	}
	return "h" + strconv.FormatUint(xxhash.Sum64(canonical), 16)
}

// AnnotationStore deduplicates annotations by handle. Entries are never removed.
type AnnotationStore struct {
	hashes []string
	values map[string]Annotation
}

func NewAnnotationStore() *AnnotationStore {
	return &AnnotationStore{values: map[string]Annotation{}}
}

// Index stores the annotation if needed and returns its handle.
func (s *AnnotationStore) Index(a Annotation) string {
	h := HashAnnotation(a)
	if _, ok := s.values[h]; !ok {
		s.values[h] = a
		s.hashes = append(s.hashes, h)
	}
	return h
}

// Value returns the annotation stored under a handle.
func (s *AnnotationStore) Value(hash string) (Annotation, bool) {
	a, ok := s.values[hash]
	return a, ok
}

// Hashes returns the handles in insertion order.
func (s *AnnotationStore) Hashes() []string {
	out := make([]string, len(s.hashes))
	copy(out, s.hashes)
	return out
}

func (s *AnnotationStore) Len() int {
	return len(s.hashes)
}

// Merge adds every annotation from other that is not already present.
func (s *AnnotationStore) Merge(other *AnnotationStore) {
	if other == nil {
		return
	}
	for _, h := range other.hashes {
		if _, ok := s.values[h]; !ok {
			s.values[h] = other.values[h]
			s.hashes = append(s.hashes, h)
		}
	}
}

// Subset returns a store holding only the given handles that are known.
func (s *AnnotationStore) Subset(hashes []string) *AnnotationStore {
	out := NewAnnotationStore()
	for _, h := range hashes {
		if a, ok := s.values[h]; ok {
			if _, dup := out.values[h]; !dup {
				out.values[h] = a
				out.hashes = append(out.hashes, h)
			}
		}
	}
	return out
}

func (s *AnnotationStore) Clone() *AnnotationStore {
	out := NewAnnotationStore()
	out.Merge(s)
	return out
}

func (s *AnnotationStore) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

func (s *AnnotationStore) UnmarshalJSON(raw []byte) error {
	var values map[string]Annotation
	if err := json.Unmarshal(raw, &values); err != nil {
		return err
	}
	*s = *NewAnnotationStore()
	keys := maps.Keys(values)
	slices.Sort(keys)
	for _, k := range keys {
		s.Index(values[k])
	}
	return nil
}
