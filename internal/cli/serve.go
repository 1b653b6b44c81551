package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/server"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		loggerFromContext(ctx).Error("load config", "err", err)
		return err
	}
	level := cfg.Server.LogLevel
	if opts.verbose {
		level = "debug"
	}
	logger, err := newLogger(os.Stderr, cfg.Server.LogFormat, level)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, clockwork.NewRealClock())
	if err != nil {
		logger.Error("wire service", "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.start(ctx); err != nil {
		logger.Error("start queue", "err", err)
		return err
	}

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:       logger,
		Cfg:       cfg,
		Session:   a.session,
		Reader:    a.reader,
		Hub:       a.hub,
		Particles: a.emitter,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server starting", "address", cfg.Server.Addr, "gallery", cfg.Gallery.Backend)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if a.emitter != nil {
		g.Go(func() error { return a.emitter.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "err", err)
		}
		a.stop(cfg.Server.ShutdownGrace)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
		return err
	}
	logger.Info("server stopped")
	return nil
}
