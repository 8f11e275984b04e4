package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/astromechza/docsync/pkg/dm"
)

// ChannelPrefix prefixes the redis channel name of each document.
const ChannelPrefix = "docsync:"

// Publishing wraps a Store and publishes every accepted change to the redis
// channel of its document once it has been persisted. Rosters are delegated to
// the wrapped store when it keeps them.
type Publishing struct {
	Store
	client *redis.Client
}

// NewPublishing connects to the redis server at addr and checks it responds.
func NewPublishing(ctx context.Context, inner Store, addr string) (*Publishing, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis: %w", err)
	}
	slog.Info("Connected to Redis", "addr", addr)
	return &Publishing{Store: inner, client: client}, nil
}

func (p *Publishing) Close() error {
	return p.client.Close()
}

func (p *Publishing) OnNewChange(ctx context.Context, doc string, change *dm.Change) error {
	if err := p.Store.OnNewChange(ctx, doc, change); err != nil {
		return err
	}
	if change.IsEmpty() {
		return nil
	}
	raw, err := change.Serialize()
	if err != nil {
		return fmt.Errorf("failed to encode change: %w", err)
	}
	// The change is already durable, a failed publish only delays other
	// subscribers until they reload.
	if err := p.client.Publish(ctx, ChannelPrefix+doc, raw).Err(); err != nil {
		slog.Error("failed to publish change", "doc", doc, "start", change.Start, "err", err)
	}
	return nil
}

func (p *Publishing) LoadAuthors(ctx context.Context, doc string) ([]AuthorRecord, error) {
	if as, ok := p.Store.(AuthorStore); ok {
		return as.LoadAuthors(ctx, doc)
	}
	return nil, nil
}

func (p *Publishing) SaveAuthors(ctx context.Context, doc string, authors []AuthorRecord) error {
	if as, ok := p.Store.(AuthorStore); ok {
		return as.SaveAuthors(ctx, doc, authors)
	}
	return nil
}

// Subscribe delivers changes published for doc until ctx is done.
func (p *Publishing) Subscribe(ctx context.Context, doc string) <-chan *dm.Change {
	sub := p.client.Subscribe(ctx, ChannelPrefix+doc)
	out := make(chan *dm.Change)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				change, err := dm.DeserializeChange([]byte(msg.Payload))
				if err != nil {
					slog.Error("failed to decode published change", "doc", doc, "err", err)
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
