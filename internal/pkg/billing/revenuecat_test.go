package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWebhookEvent_Envelope(t *testing.T) {
	payload := []byte(`{
		"event": {
			"id": "evt-123",
			"type": "initial_purchase",
			"app_user_id": "user-abc",
			"product_id": "rockid_weekly_399",
			"environment": "PRODUCTION",
			"store": "APP_STORE"
		},
		"api_version": "1.0"
	}`)

	ev, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt-123", ev.ID)
	assert.Equal(t, EventInitialPurchase, ev.Type)
	assert.Equal(t, "user-abc", ev.AppUserID)
	assert.Equal(t, "rockid_weekly_399", ev.ProductID)
}

func TestParseWebhookEvent_Flat(t *testing.T) {
	payload := []byte(`{
		"id": "evt-456",
		"type": "RENEWAL",
		"app_user_id": "  user-def  ",
		"product_id": "rockid_annual_4999"
	}`)

	ev, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt-456", ev.ID)
	assert.Equal(t, EventRenewal, ev.Type)
	assert.Equal(t, "user-def", ev.AppUserID)
}

func TestParseWebhookEvent_InvalidJSON(t *testing.T) {
	_, err := ParseWebhookEvent([]byte(`{"event":`))
	require.Error(t, err)
}

func TestParseWebhookEvent_NullEventFallsBackToFlat(t *testing.T) {
	payload := []byte(`{"event": null, "id": "evt-789", "type": "TEST", "app_user_id": "user-x"}`)

	ev, err := ParseWebhookEvent(payload)
	require.NoError(t, err)
	assert.Equal(t, "evt-789", ev.ID)
	assert.Equal(t, EventTest, ev.Type)
}

func TestWebhookEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		event   WebhookEvent
		wantErr error
	}{
		{
			name:    "valid",
			event:   WebhookEvent{ID: "evt-1", AppUserID: "user-1"},
			wantErr: nil,
		},
		{
			name:    "missing app user id",
			event:   WebhookEvent{ID: "evt-1"},
			wantErr: ErrMissingAppUserID,
		},
		{
			name:    "missing event id",
			event:   WebhookEvent{AppUserID: "user-1"},
			wantErr: ErrMissingEventID,
		},
		{
			name:    "missing user checked before missing id",
			event:   WebhookEvent{},
			wantErr: ErrMissingAppUserID,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestHasValidTransferSource(t *testing.T) {
	ev := WebhookEvent{AppUserID: "new-user", OriginalAppUserID: "old-user"}
	assert.True(t, ev.HasValidTransferSource())

	ev = WebhookEvent{AppUserID: "same-user", OriginalAppUserID: "same-user"}
	assert.False(t, ev.HasValidTransferSource())

	ev = WebhookEvent{AppUserID: "new-user"}
	assert.False(t, ev.HasValidTransferSource())
}
