package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pvsim/pvsim/pkg/log"
	"github.com/pvsim/pvsim/pkg/publish"
	"github.com/pvsim/pvsim/pkg/sample"
	"github.com/pvsim/pvsim/pkg/server"
	"github.com/pvsim/pvsim/pkg/simulation"
	"github.com/pvsim/pvsim/pkg/storage"

	"github.com/levenlabs/go-lflag"
	"github.com/levenlabs/go-llog"
)

func main() {
	// init packages
	s := storage.Configured()
	p := publish.Configured()
	k := publish.ConfiguredKafka()
	gen := sample.NewGenerator()
	r := simulation.Configured(s, gen, p)

	// init server
	srv := server.Configured(s, r, simulation.NewSeeder(s, gen), p)

	// parse flags
	lflag.Configure()

	var level slog.Level
	// lflag automatically sets llog's level, but we need to set the slog level
	switch llog.GetLevel() {
	case llog.DebugLevel:
		level = slog.LevelDebug
	case llog.InfoLevel:
		level = slog.LevelInfo
	case llog.WarnLevel:
		level = slog.LevelWarn
	case llog.ErrorLevel:
		level = slog.LevelError
	default:
		panic(fmt.Errorf("unknown log level: %s", llog.GetLevel().String()))
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	log.SetDefaultLogLevel(level)
	slog.Debug("logger configured", slog.String("level", level.String()))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// If initialization inside lflag.Do failed, we wouldn't be here (panic).
	defer func() {
		if err := s.Close(); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
		}
	}()

	var wg sync.WaitGroup
	if k.Enabled() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// the sink outlives the signal so final STATUS events reach kafka;
			// it returns once the publisher is closed and its queue is drained
			if err := k.Run(context.WithoutCancel(ctx), p); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "kafka sink failed", "error", err)
			}
		}()
	}

	// Run will block until context is canceled or error happens
	err := srv.Run(ctx)

	// stop every driver before storage is closed; in-flight ticks finish
	// their writes first
	r.ShutdownAll(context.WithoutCancel(ctx))
	// closing subscribers ends open websockets and lets the sink drain
	p.Close()
	cancel()
	wg.Wait()

	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "server failed", "error", err)
		s.Close()
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(ctx, "server exited cleanly")
}
