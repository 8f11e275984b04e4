package store

import (
	"context"
	"sync"

	"github.com/astromechza/docsync/pkg/dm"
)

// Memory keeps everything in process memory. Histories are lost on exit.
type Memory struct {
	id string

	mu      sync.Mutex
	changes map[string]*dm.Change
	authors map[string][]AuthorRecord
}

func NewMemory() *Memory {
	return &Memory{
		id:      newServerID(),
		changes: map[string]*dm.Change{},
		authors: map[string][]AuthorRecord{},
	}
}

func (m *Memory) ServerID() string {
	return m.id
}

func (m *Memory) Load(_ context.Context, doc string) (*dm.Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if history, ok := m.changes[doc]; ok {
		return history.Clone(), nil
	}
	return dm.NewChange(0, nil, nil), nil
}

func (m *Memory) OnNewChange(_ context.Context, doc string, change *dm.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := appendChange(m.changes[doc], change)
	if err != nil {
		return err
	}
	m.changes[doc] = next
	return nil
}

func (m *Memory) LoadAuthors(_ context.Context, doc string) ([]AuthorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]AuthorRecord(nil), m.authors[doc]...), nil
}

func (m *Memory) SaveAuthors(_ context.Context, doc string, authors []AuthorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authors[doc] = append([]AuthorRecord(nil), authors...)
	return nil
}

// Documents lists the names of documents with stored history.
func (m *Memory) Documents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.changes))
	for name := range m.changes {
		out = append(out, name)
	}
	return out
}
