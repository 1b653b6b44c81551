package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/jo-hoe/morphportal/internal/common"
)

// Webhook posts every toast as JSON to a callback URL, retrying with
// exponential backoff. Client errors (4xx) are not retried.
type Webhook struct {
	URL     string
	Client  *http.Client
	Retries int
	Backoff time.Duration
	Log     *slog.Logger
}

var _ Notifier = (*Webhook)(nil)

func NewWebhook(log *slog.Logger, url string, retries int, base time.Duration) *Webhook {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Webhook{
		URL:     url,
		Client:  &http.Client{Timeout: 10 * time.Second},
		Retries: retries,
		Backoff: base,
		Log:     log,
	}
}

type callbackPayload struct {
	JobID       string  `json:"job_id"`
	Status      string  `json:"status"` // completed|failed|cancelled
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	RecordID    *string `json:"record_id,omitempty"`
	Error       *string `json:"error,omitempty"`
	At          string  `json:"at"`
}

func payloadFor(ev Event) callbackPayload {
	p := callbackPayload{
		JobID:       ev.JobID,
		Title:       ev.Title,
		Description: ev.Description,
		At:          ev.At.UTC().Format(time.RFC3339Nano),
	}
	switch ev.Kind {
	case KindCompleted:
		p.Status = common.StatusCompleted
	case KindFailed:
		p.Status = common.StatusFailed
	default:
		p.Status = common.StatusCancelled
	}
	if ev.RecordID != "" {
		id := ev.RecordID
		p.RecordID = &id
	}
	if ev.Error != "" {
		msg := ev.Error
		p.Error = &msg
	}
	return p
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(payloadFor(ev))
	if err != nil {
		return fmt.Errorf("marshal callback: %w", err)
	}

	tries := w.Retries
	if tries <= 0 {
		tries = 3
	}
	expo := backoff.NewExponentialBackOff()
	if w.Backoff > 0 {
		expo.InitialInterval = w.Backoff
	}

	attempt := 0
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := w.post(ctx, body)
		if err != nil {
			w.Log.Debug("callback attempt failed", "job_id", ev.JobID, "attempt", attempt, "err", err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(uint(tries)))
	if err != nil {
		return fmt.Errorf("callback after %d attempt(s): %w", attempt, err)
	}
	return nil
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return backoff.Permanent(fmt.Errorf("callback status %d", resp.StatusCode))
	default:
		return fmt.Errorf("callback status %d", resp.StatusCode)
	}
}
