package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/events"
)

const (
	defaultWebhookInterval = 2 * time.Second
	defaultWebhookTimeout  = 5 * time.Second
	defaultWebhookBatch    = 100
)

// WebhookDispatcher polls the audit log and posts new task events to the
// configured hooks. Each hook keeps its own cursor; a failed delivery is
// retried from the same event on the next tick.
type WebhookDispatcher struct {
	events   events.Writer
	webhooks []config.WebhookConfig
	logger   *slog.Logger
	client   *http.Client
	interval time.Duration
	mu       sync.Mutex
	cursors  map[int]int64
}

// NewWebhookDispatcher returns nil when no hook is active.
func NewWebhookDispatcher(w events.Writer, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	active := false
	for _, h := range hooks {
		if h.Active() {
			active = true
			break
		}
	}
	if !active || w.DB == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		events:   w,
		webhooks: hooks,
		logger:   logger,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		interval: defaultWebhookInterval,
		cursors:  make(map[int]int64),
	}
}

// Run delivers events until ctx is cancelled.
func (d *WebhookDispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		d.DispatchAll(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchAll runs one delivery pass over every active hook.
func (d *WebhookDispatcher) DispatchAll(ctx context.Context) {
	for i, hook := range d.webhooks {
		if !hook.Active() {
			continue
		}
		d.dispatchWebhook(ctx, i, hook)
	}
}

func (d *WebhookDispatcher) dispatchWebhook(ctx context.Context, idx int, hook config.WebhookConfig) {
	cursor := d.cursorFor(ctx, idx)
	evts, err := d.events.After(ctx, cursor, defaultWebhookBatch)
	if err != nil {
		d.logger.Warn("webhook: fetch events failed", "error", err)
		return
	}
	filter := newEventFilter(hook.Events)
	for _, evt := range evts {
		if !filter.match(evt.Type) {
			d.setCursor(idx, evt.ID)
			continue
		}
		if err := d.postEvent(ctx, hook, evt); err != nil {
			d.logger.Warn("webhook: delivery failed", "url", hook.URL, "event_id", evt.ID, "error", err)
			return
		}
		d.setCursor(idx, evt.ID)
	}
}

// cursorFor starts a new hook at the newest event, so only events recorded
// after startup are delivered.
func (d *WebhookDispatcher) cursorFor(ctx context.Context, idx int) int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if cur, ok := d.cursors[idx]; ok {
		return cur
	}
	cur, err := d.events.LatestID(ctx)
	if err != nil {
		d.logger.Warn("webhook: init cursor failed", "error", err)
		cur = 0
	}
	d.cursors[idx] = cur
	return cur
}

func (d *WebhookDispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

type webhookEvent struct {
	ID       int64           `json:"id"`
	Type     string          `json:"type"`
	EntityID string          `json:"entity_id,omitempty"`
	ActorID  string          `json:"actor_id"`
	TS       string          `json:"ts"`
	Payload  json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt domain.Event) error {
	payload := json.RawMessage("{}")
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		payload = json.RawMessage(evt.Payload)
	}
	data, err := json.Marshal(webhookEvent{
		ID:       evt.ID,
		Type:     evt.Type,
		EntityID: evt.EntityID,
		ActorID:  evt.ActorID,
		TS:       evt.TS,
		Payload:  payload,
	})
	if err != nil {
		return err
	}
	client := d.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != d.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Taskline-Event", evt.Type)
	req.Header.Set("X-Taskline-Delivery", fmt.Sprintf("%d", evt.ID))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Taskline-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(evts []string) eventFilter {
	set := make(map[string]struct{}, len(evts))
	for _, evt := range evts {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
