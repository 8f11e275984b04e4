package dm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"golang.org/x/exp/slices"
)

// Element is an opening or closing structural marker. Closing markers carry only a
// type of the form "/name".
type Element struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Internal   map[string]any `json:"internal,omitempty"`
}

// IsClose reports whether the element is a closing marker.
func (e *Element) IsClose() bool {
	return strings.HasPrefix(e.Type, "/")
}

// Name returns the element type without the closing slash.
func (e *Element) Name() string {
	return strings.TrimPrefix(e.Type, "/")
}

// Clone returns a copy whose attribute and internal maps can be modified freely.
func (e *Element) Clone() *Element {
	c := &Element{Type: e.Type}
	if e.Attributes != nil {
		c.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			c.Attributes[k] = v
		}
	}
	if e.Internal != nil {
		c.Internal = make(map[string]any, len(e.Internal))
		for k, v := range e.Internal {
			c.Internal[k] = v
		}
	}
	return c
}

// Item is one unit of the linear model: a character, an annotated character or an
// element marker.
type Item struct {
	Char string
	// Annotations holds annotation store handles, kept sorted.
	Annotations []string
	Element     *Element
}

// Char returns a plain character item.
func Char(s string) Item {
	return Item{Char: s}
}

// Annotated returns a character annotated with the given handles.
func Annotated(s string, hashes ...string) Item {
	it := Item{Char: s}
	for _, h := range hashes {
		it = it.withAnnotation(h)
	}
	return it
}

// Open returns an opening element marker.
func Open(typ string, attributes map[string]any) Item {
	return Item{Element: &Element{Type: typ, Attributes: attributes}}
}

// Close returns the closing marker for an element type.
func Close(typ string) Item {
	return Item{Element: &Element{Type: "/" + typ}}
}

func (it Item) IsElement() bool {
	return it.Element != nil
}

func (it Item) IsOpen() bool {
	return it.Element != nil && !it.Element.IsClose()
}

func (it Item) IsClose() bool {
	return it.Element != nil && it.Element.IsClose()
}

// HasAnnotation reports whether the character carries the handle.
func (it Item) HasAnnotation(hash string) bool {
	_, found := slices.BinarySearch(it.Annotations, hash)
	return found
}

func (it Item) withAnnotation(hash string) Item {
	i, found := slices.BinarySearch(it.Annotations, hash)
	if found {
		return it
	}
	next := make([]string, 0, len(it.Annotations)+1)
	next = append(next, it.Annotations[:i]...)
	next = append(next, hash)
	next = append(next, it.Annotations[i:]...)
	it.Annotations = next
	return it
}

func (it Item) withoutAnnotation(hash string) Item {
	i, found := slices.BinarySearch(it.Annotations, hash)
	if !found {
		return it
	}
	next := make([]string, 0, len(it.Annotations)-1)
	next = append(next, it.Annotations[:i]...)
	next = append(next, it.Annotations[i+1:]...)
	if len(next) == 0 {
		next = nil
	}
	it.Annotations = next
	return it
}

// Equal compares two items deeply.
func (it Item) Equal(other Item) bool {
	if it.Char != other.Char || !slices.Equal(it.Annotations, other.Annotations) {
		return false
	}
	if it.Element == nil || other.Element == nil {
		return it.Element == other.Element
	}
	return it.Element.Type == other.Element.Type &&
		mapsEqual(it.Element.Attributes, other.Element.Attributes) &&
		mapsEqual(it.Element.Internal, other.Element.Internal)
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return reflect.DeepEqual(a, b)
}

func (it Item) String() string {
	switch {
	case it.Element != nil:
		return "{" + it.Element.Type + "}"
	case len(it.Annotations) > 0:
		return fmt.Sprintf("%q%v", it.Char, it.Annotations)
	default:
		return fmt.Sprintf("%q", it.Char)
	}
}

func (it Item) MarshalJSON() ([]byte, error) {
	switch {
	case it.Element != nil:
		return json.Marshal(it.Element)
	case len(it.Annotations) > 0:
		return json.Marshal([]any{it.Char, it.Annotations})
	default:
		return json.Marshal(it.Char)
	}
}

func (it *Item) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return fmt.Errorf("empty item")
	}
	*it = Item{}
	switch raw[0] {
	case '"':
		return json.Unmarshal(raw, &it.Char)
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return err
		}
		if len(parts) != 2 {
			return fmt.Errorf("annotated character needs 2 parts, got %d", len(parts))
		}
		if err := json.Unmarshal(parts[0], &it.Char); err != nil {
			return err
		}
		var hashes []string
		if err := json.Unmarshal(parts[1], &hashes); err != nil {
			return err
		}
		for _, h := range hashes {
			*it = it.withAnnotation(h)
		}
		return nil
	case '{':
		it.Element = &Element{}
		return json.Unmarshal(raw, it.Element)
	default:
		return fmt.Errorf("unexpected item %s", raw)
	}
}

// Data is a slice of the linear model.
type Data []Item

// Text splits s into plain character items.
func Text(s string) Data {
	d := make(Data, 0, len(s))
	for _, r := range s {
		d = append(d, Char(string(r)))
	}
	return d
}

// Clone returns a shallow copy; items are values and elements are copy-on-write.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	c := make(Data, len(d))
	copy(c, d)
	return c
}

// Equal compares two slices item by item.
func (d Data) Equal(other Data) bool {
	if len(d) != len(other) {
		return false
	}
	for i := range d {
		if !d[i].Equal(other[i]) {
			return false
		}
	}
	return true
}

// PlainText concatenates the characters, skipping elements.
func (d Data) PlainText() string {
	var sb strings.Builder
	for _, it := range d {
		if it.Element == nil {
			sb.WriteString(it.Char)
		}
	}
	return sb.String()
}

// ContainsElementData reports whether any item is a structural marker.
func ContainsElementData(d Data) bool {
	for _, it := range d {
		if it.Element != nil {
			return true
		}
	}
	return false
}

// Range is a half-open span of offsets.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func NewRange(start, end int) Range {
	if end < start {
		start, end = end, start
	}
	return Range{Start: start, End: end}
}

func (r Range) Len() int {
	return r.End - r.Start
}

func (r Range) IsCollapsed() bool {
	return r.Start == r.End
}

func (r Range) Contains(offset int) bool {
	return offset >= r.Start && offset < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}
