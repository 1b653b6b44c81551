package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/notify"
	"github.com/jo-hoe/morphportal/internal/storage"
)

func newDemoCmd(opts *rootOptions) *cobra.Command {
	var imageURL string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run one quick-pick transformation in-process and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cfg, loggerFromContext(cmd.Context()), clockwork.NewRealClock(), cmd.OutOrStdout(), imageURL)
		},
	}
	cmd.Flags().StringVar(&imageURL, "url", "", "image URL to transform (default: the configured demo image)")
	return cmd
}

func runDemo(ctx context.Context, cfg *config.Config, logger *slog.Logger, clock clockwork.Clock, out io.Writer, imageURL string) error {
	if strings.TrimSpace(imageURL) == "" {
		imageURL = cfg.Transform.DemoImageURL
	}
	img, err := storage.RemoteImage(imageURL)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger, clock)
	if err != nil {
		return err
	}
	defer a.stop(cfg.Server.ShutdownGrace)

	toasts, unsubscribe := a.hub.Subscribe()
	defer unsubscribe()

	if err := a.start(ctx); err != nil {
		return err
	}
	ticket, err := a.session.QuickPick(img)
	if err != nil {
		return err
	}
	logger.Info("portal opening", "job_id", ticket.JobID, "image", img.URI)

	rec, waitErr := ticket.Wait(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var toast notify.Event
	select {
	case toast = <-toasts:
	case <-ctx.Done():
		return ctx.Err()
	}
	fmt.Fprintf(out, "%s\n", toast.Title)
	if toast.Description != "" {
		fmt.Fprintf(out, "%s\n", toast.Description)
	}
	if waitErr != nil {
		return waitErr
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}
