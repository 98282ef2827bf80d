// Package push implements the Push Fan-out (spec §4.I): on a newly created
// P0/P1 action, encrypt a notification payload per subscriber and deliver
// it over Web Push, pruning endpoints the push service reports gone and
// consulting a sent-ledger so a reprocess never double-notifies (spec §9
// open question, resolved in SPEC_FULL.md). No teacher analog; VAPID/Web
// Push payload encryption uses golang.org/x/crypto's HKDF plus stdlib
// crypto/ecdh, and the VAPID identity assertion is a golang-jwt/jwt/v5
// ES256 token per RFC 8292.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/memoforge/pipeline/internal/domain"
	"github.com/memoforge/pipeline/internal/store"
)

// Notifier fans a single action out to every stored push subscriber.
type Notifier struct {
	push       store.PushStore
	actions    store.ProjectionStore
	identity   *VAPIDIdentity
	httpClient *http.Client
	logger     *slog.Logger
}

// New constructs a Notifier. identity may be nil (e.g. no VAPID keys
// configured yet); SendForAction then fails loudly rather than silently
// skipping delivery, since an operator who wired push subscriptions expects
// notifications to go out.
func New(pushStore store.PushStore, actions store.ProjectionStore, identity *VAPIDIdentity, logger *slog.Logger) *Notifier {
	return &Notifier{
		push:       pushStore,
		actions:    actions,
		identity:   identity,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// payload is the notification body delivered to every subscriber.
type payload struct {
	Title    string `json:"title"`
	Body     string `json:"body"`
	ActionID string `json:"actionId"`
	EventID  string `json:"eventId"`
	Priority string `json:"priority"`
}

// SendForAction delivers a notification for actionID to every subscriber,
// skipping entirely if the sent-ledger already has an entry (spec §4.I,
// the reprocess-idempotence supplement in SPEC_FULL.md).
func (n *Notifier) SendForAction(ctx context.Context, actionID string) error {
	if n.identity == nil {
		return fmt.Errorf("push notifier has no vapid identity configured")
	}

	sent, err := n.push.WasSent(ctx, actionID)
	if err != nil {
		return fmt.Errorf("failed to check push sent ledger: %w", err)
	}
	if sent {
		n.logger.Info("push already sent for action, skipping", "action_id", actionID)
		return nil
	}

	action, err := n.actions.GetAction(ctx, actionID)
	if err != nil {
		return fmt.Errorf("failed to load action for push: %w", err)
	}
	if action == nil {
		return fmt.Errorf("action %s not found", actionID)
	}

	subs, err := n.push.ListSubscriptions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list push subscriptions: %w", err)
	}

	body, err := json.Marshal(payload{
		Title:    titleForAction(action),
		Body:     action.Body,
		ActionID: action.ID,
		EventID:  action.SourceEventID,
		Priority: string(action.Priority),
	})
	if err != nil {
		return fmt.Errorf("failed to encode push payload: %w", err)
	}

	var lastErr error
	for _, sub := range subs {
		if err := n.deliver(ctx, sub, body); err != nil {
			lastErr = err
			n.logger.Warn("push delivery failed", "endpoint", sub.Endpoint, "error", err)
		}
	}

	if err := n.push.RecordSent(ctx, &domain.PushSent{
		ActionID:         action.ID,
		EventID:          action.SourceEventID,
		NotificationType: string(action.Type),
		SentAt:           time.Now(),
	}); err != nil {
		return fmt.Errorf("failed to record push sent ledger entry: %w", err)
	}

	return lastErr
}

func titleForAction(a *domain.Action) string {
	switch a.Priority {
	case domain.PriorityP0:
		return "P0: " + a.Title
	default:
		return "New action: " + a.Title
	}
}

// deliver encrypts and POSTs one subscriber's notification, pruning the
// subscription on a 410 Gone response (spec §4.I).
func (n *Notifier) deliver(ctx context.Context, sub domain.PushSubscription, plaintext []byte) error {
	encrypted, err := encryptPayload(sub.PublicKey, sub.AuthKey, plaintext)
	if err != nil {
		return fmt.Errorf("failed to encrypt push payload: %w", err)
	}

	authHeader, cryptoKeyHeader, err := n.identity.authHeader(sub.Endpoint)
	if err != nil {
		return fmt.Errorf("failed to build vapid auth header: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.Endpoint, bytes.NewReader(encrypted))
	if err != nil {
		return fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Content-Encoding", "aes128gcm")
	req.Header.Set("TTL", "86400")
	req.Header.Set("Urgency", "high")
	req.Header.Set("Authorization", authHeader)
	req.Header.Set("Crypto-Key", cryptoKeyHeader)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("push transport error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		if delErr := n.push.DeleteSubscription(ctx, sub.Endpoint); delErr != nil {
			return fmt.Errorf("push endpoint gone, failed to prune subscription: %w", delErr)
		}
		n.logger.Info("pruned expired push subscription", "endpoint", sub.Endpoint)
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push service returned status %d", resp.StatusCode)
	}
	return nil
}
