package serverrun

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	cfgpkg "github.com/pitlinehq/pitline/internal/config"
	"github.com/pitlinehq/pitline/internal/runtime"
	httpserver "github.com/pitlinehq/pitline/internal/server/http"
	logpkg "github.com/pitlinehq/pitline/pkg/log"
)

type Options struct {
	Config cfgpkg.Config
}

// Run starts the runtime and HTTP server and blocks until ctx is
// cancelled or the server fails.
func Run(ctx context.Context, opts Options) error {
	// Layer a local signal context over the provided one so callers
	// without signal handling still shut down cleanly.
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := opts.Config
	if cfg.DataDir == "" {
		cfg.DataDir = cfgpkg.DefaultDataDir()
	}
	cfg.DataDir = filepath.Join(cfg.DataDir, "store")

	procLogger, err := logpkg.ApplyConfig(&logpkg.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		procLogger = logpkg.NewLogger(logpkg.WithLevel(logpkg.InfoLevel), logpkg.WithFormatter(&logpkg.TextFormatter{}))
	}
	// Redirect stdlib logs (e.g., Pebble) to our logger
	logpkg.RedirectStdLog(procLogger)

	rt, err := runtime.Open(runtime.Options{
		Config:       cfg,
		Logger:       procLogger,
		StartSweeper: true,
	})
	if err != nil {
		return err
	}
	defer rt.Close()

	procLogger.Info("Starting pitline server",
		logpkg.Str("http", cfg.HTTPAddr),
		logpkg.Str("data_dir", cfg.DataDir),
		logpkg.Str("fsync", cfg.FsyncMode),
		logpkg.Str("level", cfg.Log.Level),
		logpkg.Str("format", cfg.Log.Format),
		logpkg.Str("updates_mode", cfg.Updates.DefaultMode),
	)

	hsrv := httpserver.New(rt)
	var wg sync.WaitGroup
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hsrv.ListenAndServe(sctx, cfg.HTTPAddr); err != nil && sctx.Err() == nil {
			errCh <- err
		}
	}()

	select {
	case <-sctx.Done():
	case err := <-errCh:
		hsrv.Close()
		wg.Wait()
		return err
	}
	// Shut servers down before closing the runtime/DB to avoid races.
	hsrv.Close()
	wg.Wait()
	return nil
}
