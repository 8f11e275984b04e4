package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/oklog/ulid/v2"

	"github.com/astromechza/docsync/pkg/dm"
)

func TestPostgres(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL is not set")
	}
	ctx := context.Background()
	p, err := OpenPostgres(ctx, databaseURL)
	assert.Equal(t, err, nil)
	defer p.Close()
	assert.NotEqual(t, p.ServerID(), "")

	name := "test-" + ulid.Make().String()
	doc, err := dm.NewDocument(dm.Data{dm.Open("paragraph", nil), dm.Close("paragraph")})
	assert.Equal(t, err, nil)

	err = p.OnNewChange(ctx, name, dm.NewChange(1, []*dm.Transaction{insertAt(t, doc, 1, "x")}, nil))
	assert.Equal(t, errors.Is(err, ErrGap), true)

	doc, err = dm.NewDocument(dm.Data{dm.Open("paragraph", nil), dm.Close("paragraph")})
	assert.Equal(t, err, nil)
	assert.Equal(t, p.OnNewChange(ctx, name, dm.NewChange(0, []*dm.Transaction{insertAt(t, doc, 1, "ab")}, nil)), nil)
	assert.Equal(t, p.OnNewChange(ctx, name, dm.NewChange(1, nil, nil)), nil)
	assert.Equal(t, p.OnNewChange(ctx, name, dm.NewChange(1, []*dm.Transaction{insertAt(t, doc, 3, "c")}, nil)), nil)
	err = p.OnNewChange(ctx, name, dm.NewChange(1, []*dm.Transaction{insertAt(t, doc, 1, "d")}, nil))
	assert.Equal(t, errors.Is(err, ErrGap), true)

	history, err := p.Load(ctx, name)
	assert.Equal(t, err, nil)
	assert.Equal(t, history.Len(), 2)
	replayed, err := dm.NewDocument(dm.Data{dm.Open("paragraph", nil), dm.Close("paragraph")})
	assert.Equal(t, err, nil)
	assert.Equal(t, history.ApplyTo(replayed), nil)
	assert.Equal(t, replayed.Data().PlainText(), "abc")

	none, err := p.LoadAuthors(ctx, name)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(none), 0)
	assert.Equal(t, p.SaveAuthors(ctx, name, []AuthorRecord{{ID: 1, Name: "User 1", Color: "#000000", Token: "t"}}), nil)
	assert.Equal(t, p.SaveAuthors(ctx, name, []AuthorRecord{{ID: 1, Name: "Ada", Color: "#000000", Token: "t"}}), nil)
	authors, err := p.LoadAuthors(ctx, name)
	assert.Equal(t, err, nil)
	assert.Equal(t, authors, []AuthorRecord{{ID: 1, Name: "Ada", Color: "#000000", Token: "t"}})
}
