package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"bookline/internal/config"
	"bookline/internal/domain"
	"bookline/internal/logging"
)

const defaultWebhookTimeout = 5 * time.Second

// WebhookDispatcher POSTs every notification to the configured endpoints.
// Delivery is at least once; receivers de-duplicate on X-Bookline-Delivery.
type WebhookDispatcher struct {
	hooks  []webhookTarget
	client *http.Client
	log    *logrus.Entry
}

type webhookTarget struct {
	config.WebhookConfig
	filter eventFilter
}

func NewWebhookDispatcher(hooks []config.WebhookConfig, client *http.Client, log *logrus.Entry) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	d := &WebhookDispatcher{client: client, log: logging.OrNop(log)}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		d.hooks = append(d.hooks, webhookTarget{WebhookConfig: hook, filter: newEventFilter(hook.Events)})
	}
	return d
}

// Len reports how many endpoints are active.
func (d *WebhookDispatcher) Len() int { return len(d.hooks) }

func (d *WebhookDispatcher) Dispatch(ctx context.Context, n domain.Notification) error {
	var errs []error
	for _, hook := range d.hooks {
		if !hook.filter.match(n.Type) {
			continue
		}
		if err := d.post(ctx, hook.WebhookConfig, n); err != nil {
			d.log.WithError(err).WithField("url", hook.URL).Debug("webhook delivery failed")
			errs = append(errs, fmt.Errorf("webhook %s: %w", hook.URL, err))
		}
	}
	return errors.Join(errs...)
}

type webhookBody struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	RecipientID string          `json:"recipient_id"`
	EntityKind  string          `json:"entity_kind"`
	EntityID    string          `json:"entity_id"`
	OldStatus   string          `json:"old_status,omitempty"`
	NewStatus   string          `json:"new_status,omitempty"`
	CreatedAt   string          `json:"created_at"`
	Payload     json.RawMessage `json:"payload"`
}

func (d *WebhookDispatcher) post(ctx context.Context, hook config.WebhookConfig, n domain.Notification) error {
	payload := json.RawMessage("{}")
	if n.Payload != "" && json.Valid([]byte(n.Payload)) {
		payload = json.RawMessage(n.Payload)
	}
	data, err := json.Marshal(webhookBody{
		ID:          n.ID,
		Type:        n.Type,
		RecipientID: n.RecipientID,
		EntityKind:  n.EntityKind,
		EntityID:    n.EntityID,
		OldStatus:   n.OldStatus,
		NewStatus:   n.NewStatus,
		CreatedAt:   n.CreatedAt,
		Payload:     payload,
	})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Bookline-Event", n.Type)
	req.Header.Set("X-Bookline-Delivery", strconv.FormatInt(n.ID, 10))
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Bookline-Secret", hook.Secret)
	}
	res, err := d.client.Do(req)
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

// newEventFilter matches exact types, or whole families with a "booking.*" style prefix.
func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
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
	if _, ok := f.set[evt]; ok {
		return true
	}
	if i := strings.IndexByte(evt, '.'); i > 0 {
		_, ok := f.set[evt[:i]+".*"]
		return ok
	}
	return false
}
