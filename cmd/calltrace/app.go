package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aretw0/calltrace/internal/config"
	"github.com/aretw0/calltrace/internal/logging"
	"github.com/aretw0/calltrace/pkg/adapters/redis"
	"github.com/aretw0/calltrace/pkg/driver"
	"github.com/aretw0/calltrace/pkg/ports"
	"github.com/aretw0/calltrace/pkg/program"
	"github.com/aretw0/calltrace/pkg/threads"
	"github.com/aretw0/calltrace/pkg/trace"
	"github.com/spf13/cobra"
)

// app is the wiring shared by the commands: configuration, logger and the
// resources to release on exit.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSONFile, _ = cmd.Flags().GetString("log-json")
	}
	if cmd.Flags().Changed("redis") {
		cfg.Redis.Addr, _ = cmd.Flags().GetString("redis")
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	opts := logging.Options{Level: level}
	if cfg.Log.JSONFile != "" {
		f, err := os.OpenFile(cfg.Log.JSONFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open JSON log: %w", err)
		}
		opts.JSON = f
		a.closers = append(a.closers, f.Close)
	}
	a.logger = logging.NewWithOptions(os.Stderr, opts)
	return a, nil
}

// newManager builds a thread manager from the configuration. Updates are
// published to Redis when an address is configured.
func (a *app) newManager(extra ...threads.Option) *threads.Manager {
	opts := []threads.Option{
		threads.WithLogger(a.logger),
		threads.WithTraceOptions(
			trace.WithFeedCapacity(a.cfg.Trace.FeedCapacity),
			trace.WithClientBuffer(a.cfg.Trace.ClientBuffer),
		),
	}

	if a.cfg.Redis.Addr != "" {
		pub := redis.New(a.cfg.Redis.Addr, a.cfg.Redis.Password, a.cfg.Redis.DB,
			redis.WithPrefix(a.cfg.Redis.Prefix),
			redis.WithLogger(a.logger),
		)
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, threads.WithPublisher(pub))
		a.logger.Info("Publishing updates to Redis", "addr", a.cfg.Redis.Addr, "prefix", a.cfg.Redis.Prefix)
	}

	m := threads.NewManager(append(opts, extra...)...)
	a.closers = append(a.closers, func() error {
		m.Close()
		return nil
	})
	return m
}

// close releases resources in reverse order of acquisition.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Cleanup failed", "err", err)
		}
	}
}

// threadName derives a thread id from a program path: its base name without
// extension.
func threadName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// execute loads the program at path and runs it into a new thread of m.
// A failing program is reported, not returned: its trace is the result.
func execute(ctx context.Context, m *threads.Manager, path string, logger *slog.Logger) (*trace.Thread, error) {
	lib, err := program.Load(path)
	if err != nil {
		return nil, err
	}

	id := threadName(path)
	th, err := m.Create(id)
	if err != nil {
		return nil, err
	}

	d := driver.New(lib, driver.WithLogger(logger))
	err = m.Produce(ctx, id, func(ctx context.Context, t ports.Tracer) error {
		return d.Run(ctx, t)
	})

	switch {
	case err == nil:
		logger.Info("Program finished", "thread", id)
	case errors.Is(err, driver.ErrFunctionFailed):
		logger.Warn("Program failed", "thread", id, "err", err)
	case errors.Is(err, context.Canceled):
		logger.Warn("Program cancelled", "thread", id)
	default:
		return th, err
	}
	return th, nil
}
