package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/docsync/pkg/rebase"
	"github.com/astromechza/docsync/pkg/store"
	"github.com/astromechza/docsync/pkg/transport"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return level, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return level, nil
}

func mainInner() error {
	addrVar := flag.String("addr", envOr("DOCSYNC_ADDR", "localhost:8080"), "the address to listen on")
	sqliteVar := flag.String("sqlite", envOr("DOCSYNC_SQLITE", "docsync.sqlite3"), "the sqlite database file")
	postgresVar := flag.String("postgres", os.Getenv("DATABASE_URL"), "a postgres url, used instead of sqlite when set")
	redisVar := flag.String("redis", os.Getenv("REDIS_ADDR"), "a redis address to publish accepted changes to")
	levelVar := flag.String("log-level", envOr("DOCSYNC_LOG_LEVEL", "info"), "debug, info, warn or error")
	colorsVar := flag.String("colors", os.Getenv("DOCSYNC_COLORS"), "comma separated author colours, defaults to a built in palette")
	flag.Parse()

	level, err := parseLevel(*levelVar)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var st store.Store
	if *postgresVar != "" {
		pg, err := store.OpenPostgres(ctx, *postgresVar)
		if err != nil {
			return err
		}
		defer pg.Close()
		st = pg
	} else {
		sq, err := store.OpenSQLite(ctx, *sqliteVar)
		if err != nil {
			return err
		}
		defer sq.Close()
		st = sq
	}
	if *redisVar != "" {
		pub, err := store.NewPublishing(ctx, st, *redisVar)
		if err != nil {
			return err
		}
		defer pub.Close()
		st = pub
	}

	var colors []string
	for _, c := range strings.Split(*colorsVar, ",") {
		if c = strings.TrimSpace(c); c != "" {
			colors = append(colors, c)
		}
	}
	server := rebase.NewServer(
		st,
		rebase.WithLogger(slog.Default().With("component", "rebase")),
		rebase.WithColors(colors...),
	)
	httpServer := &http.Server{
		Addr:              *addrVar,
		Handler:           transport.NewRouter(ctx, server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", *addrVar, "server", server.ServerID())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server listen failed", "err", err)
		}
	}()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-exit
	slog.Info("Signal caught", "sig", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to shut down cleanly", "err", err)
		_ = httpServer.Close()
	}
	wg.Wait()
	server.Close()
	return nil
}
