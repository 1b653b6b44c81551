package mock

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/morph"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

var _ morph.Transformer = (*Transformer)(nil)

// Transformer hands the input back unchanged after an optional delay, or
// fails with the configured message.
type Transformer struct {
	clock   clockwork.Clock
	delay   time.Duration
	fail    bool
	message string
}

func New(cfg config.MockSettings, clock clockwork.Clock) *Transformer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Transformer{
		clock:   clock,
		delay:   cfg.Delay,
		fail:    cfg.Fail,
		message: cfg.FailureMessage,
	}
}

func (t *Transformer) Transform(ctx context.Context, in transforms.ImageRef) (transforms.ImageRef, error) {
	if t.delay > 0 {
		timer := t.clock.NewTimer(t.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return transforms.ImageRef{}, ctx.Err()
		case <-timer.Chan():
		}
	}
	if err := ctx.Err(); err != nil {
		return transforms.ImageRef{}, err
	}
	if t.fail {
		msg := t.message
		if msg == "" {
			msg = "mock transformation failure"
		}
		return transforms.ImageRef{}, errors.New(msg)
	}
	return in, nil
}
