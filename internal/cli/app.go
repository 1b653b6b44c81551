package cli

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/common"
	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/effects"
	"github.com/jo-hoe/morphportal/internal/morph"
	"github.com/jo-hoe/morphportal/internal/morph/mock"
	"github.com/jo-hoe/morphportal/internal/notify"
	"github.com/jo-hoe/morphportal/internal/processor"
	"github.com/jo-hoe/morphportal/internal/session"
	"github.com/jo-hoe/morphportal/internal/storage"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

// app holds the wired runtime shared by serve and demo.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	clock   clockwork.Clock
	store   transforms.Store
	queue   *transforms.Queue
	hub     *notify.Hub
	webhook *notify.Async
	session *session.Session
	worker  *processor.Worker
	reader  *storage.Reader
	emitter *effects.Emitter
}

func newApp(cfg *config.Config, logger *slog.Logger, clock clockwork.Clock) (*app, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	store, err := transforms.OpenStore(cfg.Gallery.Backend)
	if err != nil {
		return nil, fmt.Errorf("open gallery: %w", err)
	}

	transformer, err := newTransformer(cfg.Transform, clock)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{
		cfg:   cfg,
		log:   logger,
		clock: clock,
		store: store,
		queue: transforms.NewQueue(logger, cfg.Transform.QueueCapacity, common.DefaultWorkerCount),
		hub:   notify.NewHub(clock, cfg.Notifications.SubscriberCapacity),
	}

	sinks := notify.NewMulti(logger, notify.LogSink{Log: logger}, a.hub)
	if cb := strings.TrimSpace(cfg.Notifications.CallbackURL); cb != "" {
		hook := notify.NewWebhook(logger, cb, cfg.Notifications.CallbackRetries, cfg.Notifications.CallbackBackoff)
		a.webhook = notify.NewAsync(logger, hook, time.Minute)
		sinks.Add(a.webhook)
	}

	a.session, err = session.New(session.Options{
		Log:        logger,
		Clock:      clock,
		Store:      store,
		Dispatcher: a.queue,
		Notifier:   sinks,
		Timing: session.Timing{
			Delay:          cfg.Transform.Delay,
			QuickPickDelay: cfg.Transform.QuickPickDelay,
		},
		Messages: session.Messages{
			Title:        cfg.Notifications.Title,
			Description:  cfg.Notifications.Description,
			FailureTitle: cfg.Notifications.FailureTitle,
			CancelTitle:  cfg.Notifications.CancelTitle,
			Duration:     cfg.Notifications.Duration,
		},
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.worker = processor.New(logger, clock, a.session, transformer)
	a.reader = storage.NewReader(clampInt64(uint64(cfg.Server.MaxUploadSize)))
	if !cfg.Effects.Disabled {
		a.emitter = effects.NewEmitter(clock, nil, cfg.Effects.Interval, cfg.Effects.Lifetime, cfg.Effects.MaxParticles)
	}
	return a, nil
}

func newTransformer(cfg config.TransformConfig, clock clockwork.Clock) (morph.Transformer, error) {
	switch strings.ToLower(cfg.Provider) {
	case "mock":
		return mock.New(cfg.Mock, clock), nil
	default:
		return nil, fmt.Errorf("unsupported transform provider %q", cfg.Provider)
	}
}

func (a *app) start(ctx context.Context) error {
	return a.queue.Start(ctx, a.worker)
}

// stop drains the worker and pending webhook deliveries within grace.
func (a *app) stop(grace time.Duration) {
	a.queue.Shutdown(grace)
	if a.webhook != nil {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := a.webhook.Wait(ctx); err != nil {
			a.log.Warn("webhook deliveries still pending", "err", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("close gallery", "err", err)
	}
}

func clampInt64(u uint64) int64 {
	if u > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(u) // #nosec G115 - bounded above
}
