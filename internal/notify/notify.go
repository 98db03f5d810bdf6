// Package notify is an optional out-of-band error reporting sink:
// Sentry for exceptions, a Slack webhook for a human-readable stream.
// Both are no-ops when unconfigured, so the server behaves identically
// whether or not either is wired up.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
)

// Config holds the optional reporting destinations.
type Config struct {
	SentryDSN       string
	SlackWebhookURL string
}

// Reporter sends errors to Sentry and/or Slack, deduplicating repeat
// reports of the same page/mode within a short window so a page stuck
// in a failure loop doesn't spam the channel every second.
type Reporter struct {
	cfg Config
	log zerolog.Logger

	mu   sync.Mutex
	seen map[string]time.Time
}

// New constructs a Reporter and initializes the Sentry client if
// cfg.SentryDSN is set.
func New(cfg Config, log zerolog.Logger) (*Reporter, error) {
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:           cfg.SentryDSN,
			EnableTracing: false,
		}); err != nil {
			return nil, fmt.Errorf("notify: sentry init: %w", err)
		}
	}
	return &Reporter{cfg: cfg, log: log, seen: map[string]time.Time{}}, nil
}

// dedupeWindow is how long a (context) key is suppressed after being
// reported once.
const dedupeWindow = 5 * time.Minute

// ReportError sends err to every configured sink, unless an identical
// label was already reported within dedupeWindow.
func (r *Reporter) ReportError(_ context.Context, label string, err error) {
	if err == nil {
		return
	}

	if r.recentlyReported(label) {
		return
	}

	r.log.Error().Err(err).Str("context", label).Msg("reporting error")

	if r.cfg.SentryDSN != "" {
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("context", label)
			sentry.CaptureException(err)
		})
	}

	if r.cfg.SlackWebhookURL != "" {
		msg := fmt.Sprintf(":warning: webInk error in %s: %s", label, err.Error())
		if sendErr := postSlackMessage(r.cfg.SlackWebhookURL, msg); sendErr != nil {
			r.log.Error().Err(sendErr).Msg("failed to post slack notification")
		}
	}
}

func (r *Reporter) recentlyReported(label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if last, ok := r.seen[label]; ok && now.Sub(last) < dedupeWindow {
		return true
	}
	r.seen[label] = now
	return false
}

func postSlackMessage(webhookURL, text string) error {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify: slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}
