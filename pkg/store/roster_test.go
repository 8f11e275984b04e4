package store

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestRosterRoundTrip(t *testing.T) {
	in := []AuthorRecord{
		{ID: 10, Name: "User 10", Color: "#00ff00", Token: "b"},
		{ID: 2, Name: "User 2", Color: "#ff0000", Token: "a"},
	}
	raw, err := EncodeRoster(in)
	assert.Equal(t, err, nil)
	out, err := DecodeRoster(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, out, []AuthorRecord{in[1], in[0]})
}

func TestRosterEmpty(t *testing.T) {
	raw, err := EncodeRoster(nil)
	assert.Equal(t, err, nil)
	out, err := DecodeRoster(raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(out), 0)
}

func TestRosterGarbage(t *testing.T) {
	_, err := DecodeRoster([]byte("not a roster"))
	assert.NotEqual(t, err, nil)
}
