package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/itsBintang/zenith-downloader/internal/coordinator"
	"github.com/itsBintang/zenith-downloader/internal/logctx"
)

// Notifier delivers a human-readable message to an external channel.
type Notifier interface {
	Notify(content string) error
}

// WebhookNotifier posts messages to a Discord-compatible webhook.
type WebhookNotifier struct {
	WebhookURL string
}

func (d *WebhookNotifier) Notify(content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	resp, err := http.Post(d.WebhookURL, "application/json", bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// WatchCompletions subscribes to the coordinator's event stream and posts
// a message for every finished download until ctx is cancelled.
func WatchCompletions(ctx context.Context, coord *coordinator.Coordinator, notif Notifier) {
	logger := logctx.LoggerFromContext(ctx)

	events, unsubscribe := coord.Subscribe()

	go func() {
		defer unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}

				if event.Type != coordinator.EventComplete {
					continue
				}

				msg := fmt.Sprintf("✅ Download finished: %s (%s)",
					event.Filename, humanize.Bytes(uint64(event.Record.Downloaded)))

				if err := notif.Notify(msg); err != nil {
					logger.Error("failed to send notification", "download_id", event.Record.ID, "err", err)
				}
			}
		}
	}()
}
