package billing

import (
	"encoding/json"
	"errors"
	"strings"
)

// RevenueCat webhook event types the dispatcher recognizes. Unknown types are
// acknowledged without mutation so future provider additions do not break
// delivery.
const (
	EventInitialPurchase = "INITIAL_PURCHASE"
	EventRenewal         = "RENEWAL"
	EventCancellation    = "CANCELLATION"
	EventExpiration      = "EXPIRATION"
	EventTransfer        = "TRANSFER"
	EventTest            = "TEST"

	// EventTransferredAway marks the donating side of a TRANSFER; it is a
	// local marker, never sent by the provider.
	EventTransferredAway = "TRANSFERRED_AWAY"
)

// Validation errors for inbound webhook payloads.
var (
	ErrMissingAppUserID = errors.New("missing app_user_id")
	ErrMissingEventID   = errors.New("missing event ID")
)

// WebhookEvent is the normalized billing event extracted from a RevenueCat
// webhook delivery.
type WebhookEvent struct {
	ID                string `json:"id"`
	Type              string `json:"type"`
	AppUserID         string `json:"app_user_id"`
	ProductID         string `json:"product_id"`
	OriginalAppUserID string `json:"original_app_user_id"`
	EventTimestampMs  int64  `json:"event_timestamp_ms"`
	Environment       string `json:"environment"`
	Store             string `json:"store"`
	PeriodType        string `json:"period_type"`
}

// ParseWebhookEvent decodes a webhook body. RevenueCat wraps the event under
// an "event" field, but test deliveries and older payloads carry the fields
// at the top level; both shapes are accepted.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var envelope struct {
		Event *WebhookEvent `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, err
	}

	ev := envelope.Event
	if ev == nil || (ev.ID == "" && ev.Type == "" && ev.AppUserID == "") {
		ev = &WebhookEvent{}
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, err
		}
	}

	ev.ID = strings.TrimSpace(ev.ID)
	ev.Type = strings.ToUpper(strings.TrimSpace(ev.Type))
	ev.AppUserID = strings.TrimSpace(ev.AppUserID)
	ev.ProductID = strings.TrimSpace(ev.ProductID)
	ev.OriginalAppUserID = strings.TrimSpace(ev.OriginalAppUserID)
	return ev, nil
}

// Validate checks the fields without which an event must not be applied: a
// missing user makes the mutation target undefined, and a missing event id
// means idempotency cannot be guaranteed.
func (e *WebhookEvent) Validate() error {
	if e.AppUserID == "" {
		return ErrMissingAppUserID
	}
	if e.ID == "" {
		return ErrMissingEventID
	}
	return nil
}

// HasValidTransferSource reports whether a TRANSFER event names a source
// account distinct from its target.
func (e *WebhookEvent) HasValidTransferSource() bool {
	return e.OriginalAppUserID != "" && e.OriginalAppUserID != e.AppUserID
}
