package mock

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/jo-hoe/morphportal/internal/config"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

func TestMockTransformer_ReturnsInput(t *testing.T) {
	c := New(config.MockSettings{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in := transforms.ImageRef{URI: "A.png", MimeType: "image/png", Source: "upload"}
	out, err := c.Transform(ctx, in)
	if err != nil {
		t.Fatalf("Transform error: %v", err)
	}
	if out != in {
		t.Fatalf("Transform changed the image: %+v", out)
	}
}

func TestMockTransformer_ConfiguredFailure(t *testing.T) {
	c := New(config.MockSettings{Fail: true, FailureMessage: "portal closed"}, nil)

	_, err := c.Transform(context.Background(), transforms.ImageRef{URI: "A.png"})
	if err == nil || err.Error() != "portal closed" {
		t.Fatalf("expected configured failure, got %v", err)
	}
}

func TestMockTransformer_RespectsContextCancel(t *testing.T) {
	c := New(config.MockSettings{Delay: 200 * time.Millisecond}, clockwork.NewFakeClock())

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately

	if _, err := c.Transform(ctx, transforms.ImageRef{URI: "x"}); err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestMockTransformer_DelayFollowsClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := New(config.MockSettings{Delay: time.Second}, clock)

	done := make(chan error, 1)
	go func() {
		_, err := c.Transform(context.Background(), transforms.ImageRef{URI: "A.png"})
		done <- err
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("delay timer never armed: %v", err)
	}
	clock.Advance(999 * time.Millisecond)
	select {
	case <-done:
		t.Fatalf("returned before the delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clock.Advance(time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Transform: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Transform never returned")
	}
}
