package main

import (
	"context"
	"flag"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/docsync/pkg/dm"
	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/replica"
	"github.com/astromechza/docsync/pkg/transport"
	"github.com/astromechza/docsync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	addrVar := flag.String("addr", "http://127.0.0.1:8080", "the server to connect to")
	docVar := flag.String("doc", "default", "the document to edit")
	nameVar := flag.String("name", "", "the author name to show, defaults to the server's choice")
	intervalVar := flag.Duration("interval", time.Second, "the mean time between edits")
	flag.Parse()

	r, err := replica.New()
	if err != nil {
		return err
	}
	c := &client{addr: *addrVar, doc: *docVar, name: *nameVar, replica: r}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	wg := new(sync.WaitGroup)

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.connectAndRunContinuously(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.editRandomlyContinuously(ctx, *intervalVar)
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	wg.Wait()
	slog.Info("final text", "text", r.Data().PlainText(), "pending", r.Pending())
	return r.View(func(doc *dm.Document) error {
		raw, err := viz.RenderTree(doc)
		if err != nil {
			return err
		}
		path, err := viz.WriteTemp(raw)
		if err != nil {
			return err
		}
		slog.Info("dumped tree", "path", "file://"+path)
		return nil
	})
}

type client struct {
	addr    string
	doc     string
	name    string
	replica *replica.Replica

	mu   sync.Mutex
	conn *transport.Client
}

func (c *client) current() *transport.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *client) setCurrent(conn *transport.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *client) connectAndRunContinuously(ctx context.Context) {
	t := time.NewTicker(time.Second)
	defer t.Stop()
	for {
		if err := c.connectAndRun(ctx); err != nil {
			slog.Error("connection failed", "err", err)
		}
		select {
		case <-t.C:
		case <-ctx.Done():
			slog.Info("stopping connection")
			return
		}
	}
}

func (c *client) connectAndRun(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.addr, c.doc, c.replica)
	if err != nil {
		return err
	}
	defer conn.Close()
	c.setCurrent(conn)
	defer c.setCurrent(nil)
	if c.name != "" {
		if err := conn.SetAuthor(rebase.AuthorData{Name: c.name}); err != nil {
			return err
		}
	}
	id, _ := c.replica.Identity()
	slog.Info("connected", "doc", c.doc, "author", id)
	return conn.Run(ctx)
}

func randomEdit(doc *dm.Document) (*dm.Transaction, error) {
	n := doc.Len()
	switch rand.Intn(6) {
	case 0, 1:
		if n > 2 {
			o := 1 + rand.Intn(n-2)
			return dm.NewFromRemoval(doc, dm.NewRange(o, o+1))
		}
	case 2:
		if n > 3 {
			o := 1 + rand.Intn(n-3)
			return dm.NewFromAnnotation(doc, dm.NewRange(o, o+2), dm.MethodSet, dm.Annotation{Type: "textStyle/bold"})
		}
	}
	return dm.NewFromInsertion(doc, 1+rand.Intn(n-1), dm.Text(string(rune('a'+rand.Intn(26)))))
}

func (c *client) editRandomlyContinuously(ctx context.Context, interval time.Duration) {
	for {
		t := time.NewTimer(interval/2 + time.Duration(rand.Int63n(int64(interval))))
		select {
		case <-t.C:
			conn := c.current()
			if id, _ := c.replica.Identity(); id == 0 || conn == nil {
				continue
			}
			if err := c.replica.Edit(randomEdit); err != nil {
				slog.Error("failed to edit", "err", err)
				continue
			}
			if err := conn.Flush(); err != nil {
				slog.Error("failed to submit", "err", err)
				continue
			}
			slog.Info("edited", "text", c.replica.Data().PlainText(), "pending", c.replica.Pending())
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping edits")
			return
		}
	}
}
