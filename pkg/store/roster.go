package store

import (
	"fmt"
	"strconv"

	"github.com/automerge/automerge-go"
	"golang.org/x/exp/slices"
)

// EncodeRoster saves an author roster as an automerge document with one map per
// author under "authors", keyed by author id.
func EncodeRoster(authors []AuthorRecord) ([]byte, error) {
	doc := automerge.New()
	if err := doc.Path("authors").Set(map[string]interface{}{}); err != nil {
		return nil, fmt.Errorf("failed to create authors map: %w", err)
	}
	for _, a := range authors {
		if err := doc.Path("authors", strconv.Itoa(a.ID)).Set(map[string]interface{}{
			"name":  a.Name,
			"color": a.Color,
			"token": a.Token,
		}); err != nil {
			return nil, fmt.Errorf("failed to set author %d: %w", a.ID, err)
		}
	}
	if _, err := doc.Commit("roster", automerge.CommitOptions{AllowEmpty: true}); err != nil {
		return nil, fmt.Errorf("failed to commit roster: %w", err)
	}
	return doc.Save(), nil
}

// DecodeRoster reads a roster written by EncodeRoster, ordered by author id.
func DecodeRoster(raw []byte) ([]AuthorRecord, error) {
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load roster: %w", err)
	}
	keys, err := doc.Path("authors").Map().Keys()
	if err != nil {
		return nil, fmt.Errorf("failed to list authors: %w", err)
	}
	out := make([]AuthorRecord, 0, len(keys))
	for _, k := range keys {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("bad author id %q: %w", k, err)
		}
		record := AuthorRecord{ID: id}
		for field, target := range map[string]*string{"name": &record.Name, "color": &record.Color, "token": &record.Token} {
			v, err := automerge.As[string](doc.Path("authors", k, field).Get())
			if err != nil {
				return nil, fmt.Errorf("failed to read %s of author %d: %w", field, id, err)
			}
			*target = v
		}
		out = append(out, record)
	}
	slices.SortFunc(out, func(a, b AuthorRecord) int {
		return a.ID - b.ID
	})
	return out, nil
}
