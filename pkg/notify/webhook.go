package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/cecil-the-coder/auth-resilience-kit/pkg/types"
)

// WebhookConfig configures a WebhookSink
type WebhookConfig struct {
	URL string
	// Kinds limits delivery to these advisory kinds. Empty means all.
	Kinds []types.AdvisoryKind
	// Cooldown is the minimum spacing between two deliveries of the same kind. Default: 1m
	Cooldown   time.Duration
	Timeout    time.Duration // per attempt. Default: 10s
	MaxTries   uint          // Default: 3
	RetryBase  time.Duration // Default: 500ms
	HTTPClient *http.Client
	Clock      func() time.Time
}

// WebhookEvent is the JSON body posted for each advisory
type WebhookEvent struct {
	ID               string         `json:"id"`
	Type             string         `json:"type"`
	Timestamp        time.Time      `json:"timestamp"`
	Message          string         `json:"message"`
	Actions          []types.Action `json:"actions,omitempty"`
	RemainingMinutes int            `json:"remaining_minutes,omitempty"`
}

// WebhookSink posts advisories to an HTTP endpoint in the background
type WebhookSink struct {
	cfg    WebhookConfig
	logger *slog.Logger

	mu        sync.Mutex
	cooldowns map[types.AdvisoryKind]*rate.Sometimes
	wg        sync.WaitGroup
	delivered int
	failed    int
}

// NewWebhookSink creates a sink posting to cfg.URL
func NewWebhookSink(cfg WebhookConfig, logger *slog.Logger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &WebhookSink{
		cfg:       cfg,
		logger:    logger.With("component", "webhook_sink"),
		cooldowns: make(map[types.AdvisoryKind]*rate.Sometimes),
	}, nil
}

// Advise queues delivery of advisory unless its kind is filtered out or cooling down
func (s *WebhookSink) Advise(advisory types.Advisory) {
	if len(s.cfg.Kinds) > 0 && !slices.Contains(s.cfg.Kinds, advisory.Kind) {
		return
	}

	s.cooldown(advisory.Kind).Do(func() {
		event := WebhookEvent{
			ID:               uuid.New().String(),
			Type:             string(advisory.Kind),
			Timestamp:        s.cfg.Clock().UTC(),
			Message:          advisory.Message,
			Actions:          advisory.Actions,
			RemainingMinutes: advisory.Remaining,
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliver(event)
		}()
	})
}

func (s *WebhookSink) cooldown(kind types.AdvisoryKind) *rate.Sometimes {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.cooldowns[kind]
	if !ok {
		st = &rate.Sometimes{First: 1, Interval: s.cfg.Cooldown}
		s.cooldowns[kind] = st
	}
	return st
}

func (s *WebhookSink) deliver(event WebhookEvent) {
	logger := s.logger.With("event_id", event.ID, "type", event.Type)

	body, err := json.Marshal(event)
	if err != nil {
		logger.Warn("failed to marshal webhook event", "error", err)
		s.record(false)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBase
	b.MaxInterval = 10 * s.cfg.RetryBase
	b.RandomizationFactor = 0.2

	_, err = backoff.Retry(context.Background(), func() (int, error) {
		return s.post(body)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(s.cfg.MaxTries),
	)
	if err != nil {
		logger.Warn("webhook delivery failed", "error", err)
		s.record(false)
		return
	}

	logger.Debug("webhook delivered")
	s.record(true)
}

// post sends one attempt. Client errors other than 429 are not retried.
func (s *WebhookSink) post(body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode < 300:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return resp.StatusCode, backoff.Permanent(fmt.Errorf("webhook returned status %d", resp.StatusCode))
	}
}

func (s *WebhookSink) record(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ok {
		s.delivered++
	} else {
		s.failed++
	}
}

// Wait blocks until queued deliveries have finished
func (s *WebhookSink) Wait() {
	s.wg.Wait()
}

// Stats returns the number of delivered and failed events
func (s *WebhookSink) Stats() (delivered, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered, s.failed
}

var _ types.NotificationSink = (*WebhookSink)(nil)
