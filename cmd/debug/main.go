package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/store"
	"github.com/astromechza/docsync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	sqliteVar := flag.String("sqlite", "docsync.sqlite3", "the sqlite database file to read")
	redisVar := flag.String("redis", os.Getenv("REDIS_ADDR"), "a redis address to follow new changes from")
	followVar := flag.Bool("follow", false, "keep logging changes published to redis until interrupted")
	flag.Parse()
	if flag.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the document to dump")
	}
	name := flag.Arg(0)
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, *sqliteVar)
	if err != nil {
		return err
	}
	defer st.Close()

	history, err := st.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}
	slog.Info("loaded history", "doc", name, "length", history.Len(), "annotations", history.Annotations.Len())
	for i, tx := range history.Transactions {
		slog.Info("transaction", "i", fmt.Sprintf("%4d", history.Start+i), "author", tx.Author, "ops", tx.String())
	}

	authors, err := st.LoadAuthors(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load authors: %w", err)
	}
	for _, a := range authors {
		slog.Info("author", "id", a.ID, "name", a.Name, "color", a.Color)
	}

	if squashed, err := history.Squash(); err != nil {
		slog.Error("failed to squash", "err", err)
	} else if !squashed.IsEmpty() {
		slog.Info("net change", "tx", squashed.Transactions[0].String())
	}

	doc, err := rebase.NewSeedDocument()
	if err != nil {
		return err
	}
	if err := history.ApplyTo(doc); err != nil {
		return fmt.Errorf("failed to replay history: %w", err)
	}
	if err := doc.CheckConsistency(); err != nil {
		return err
	}
	slog.Info("document", "text", doc.Data().PlainText(), "tree", doc.Root().String())

	for label, render := range map[string]func() ([]byte, error){
		"tree":    func() ([]byte, error) { return viz.RenderTree(doc) },
		"history": func() ([]byte, error) { return viz.RenderHistory(history) },
	} {
		raw, err := render()
		if err != nil {
			slog.Error("failed to render", "graph", label, "err", err)
			continue
		}
		path, err := viz.WriteTemp(raw)
		if err != nil {
			slog.Error("failed to write", "graph", label, "err", err)
			continue
		}
		slog.Info("rendered", "graph", label, "path", "file://"+path)
	}

	documents, err := st.Documents(ctx)
	if err != nil {
		return err
	}
	slog.Info("stored documents", "names", documents)

	if !*followVar {
		return nil
	}
	if *redisVar == "" {
		return fmt.Errorf("-follow needs a redis address")
	}
	pub, err := store.NewPublishing(ctx, st, *redisVar)
	if err != nil {
		return err
	}
	defer pub.Close()
	followCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	for change := range pub.Subscribe(followCtx, name) {
		for i, tx := range change.Transactions {
			slog.Info("published", "i", fmt.Sprintf("%4d", change.Start+i), "author", tx.Author, "ops", tx.String())
		}
	}
	return nil
}
