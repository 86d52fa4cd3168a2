package controllers

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rockidapp/rockid-server/app/models"
	"github.com/rockidapp/rockid-server/internal/pkg/billing"
)

// fakeBillingRepo is an in-memory billing.Repository for controller tests.
type fakeBillingRepo struct {
	entitlements map[string]*models.UserEntitlement
	processed    map[string]*models.ProcessedEvent
	failNext     error
}

func newFakeBillingRepo() *fakeBillingRepo {
	return &fakeBillingRepo{
		entitlements: make(map[string]*models.UserEntitlement),
		processed:    make(map[string]*models.ProcessedEvent),
	}
}

func (f *fakeBillingRepo) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *fakeBillingRepo) getOrCreate(appUserID string, tokens int) *models.UserEntitlement {
	if ent, ok := f.entitlements[appUserID]; ok {
		return ent
	}
	ent := &models.UserEntitlement{AppUserID: appUserID, Tokens: tokens}
	f.entitlements[appUserID] = ent
	return ent
}

func (f *fakeBillingRepo) GetEntitlement(appUserID string) (*models.UserEntitlement, error) {
	ent, ok := f.entitlements[appUserID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return ent, nil
}

func (f *fakeBillingRepo) Grant(appUserID, productID, eventType string, tokens int) (*models.UserEntitlement, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	ent := f.getOrCreate(appUserID, 0)
	ent.Tokens += tokens
	ent.IsPremium = true
	ent.SubscriptionActive = true
	ent.SubscriptionProductID = productID
	ent.LastSubscriptionEvent = eventType
	return ent, nil
}

func (f *fakeBillingRepo) Revoke(appUserID, eventType string) (*models.UserEntitlement, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	ent := f.getOrCreate(appUserID, 0)
	ent.Tokens = 0
	ent.IsPremium = false
	ent.SubscriptionActive = false
	ent.LastSubscriptionEvent = eventType
	return ent, nil
}

func (f *fakeBillingRepo) Transfer(fromAppUserID, toAppUserID, eventType string) (*billing.TransferResult, error) {
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	from, ok := f.entitlements[fromAppUserID]
	if !ok {
		return &billing.TransferResult{}, nil
	}
	to := f.getOrCreate(toAppUserID, 0)
	to.Tokens += from.Tokens
	from.Tokens = 0
	return &billing.TransferResult{From: from, To: to, Applied: true}, nil
}

func (f *fakeBillingRepo) Consume(appUserID string) (*models.UserEntitlement, error) {
	ent, ok := f.entitlements[appUserID]
	if !ok {
		return nil, billing.ErrEntitlementNotFound
	}
	if ent.Tokens <= 0 {
		return nil, billing.ErrOutOfTokens
	}
	ent.Tokens--
	return ent, nil
}

func (f *fakeBillingRepo) GetProcessedEvent(providerEventID string) (*models.ProcessedEvent, error) {
	event, ok := f.processed[providerEventID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return event, nil
}

func (f *fakeBillingRepo) CreateProcessedEventIfNotExists(event *models.ProcessedEvent) (bool, error) {
	if _, ok := f.processed[event.ProviderEventID]; ok {
		return false, nil
	}
	f.processed[event.ProviderEventID] = event
	return true, nil
}

const testWebhookSecret = "test-webhook-secret"

func newWebhookTestApp(secret string, repo billing.Repository) *fiber.App {
	app := fiber.New()
	wc := NewWebhookController(billing.NewService(repo), secret)
	app.Post("/webhooks/revenuecat", wc.HandleRevenueCatWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, auth, body string) (*http.Response, string) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/webhooks/revenuecat", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if auth != "" {
		req.Header.Set(fiber.HeaderAuthorization, auth)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestWebhook_MissingSecretConfiguration(t *testing.T) {
	app := newWebhookTestApp("", newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer anything", `{}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Webhook authentication not configured properly.", body)
}

func TestWebhook_MissingAuthorizationHeader(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "", `{}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized: Missing Authorization header.", body)
}

func TestWebhook_InvalidAuthorizationFormat(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Basic dXNlcjpwYXNz", `{}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized: Invalid Authorization header format.", body)
}

func TestWebhook_InvalidToken(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer wrong-token", `{}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Unauthorized: Invalid token.", body)
}

func TestWebhook_BearerTokenWithSurroundingWhitespace(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer  "+testWebhookSecret+" ",
		`{"event": {"id": "evt-1", "type": "TEST", "app_user_id": "user-1"}}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Webhook processed successfully.", body)
}

func TestWebhook_InvalidJSONPayload(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret, `{"event":`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON payload.", body)
}

func TestWebhook_MissingAppUserID(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret,
		`{"event": {"id": "evt-1", "type": "RENEWAL"}}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing app_user_id.", body)
}

func TestWebhook_MissingEventID(t *testing.T) {
	app := newWebhookTestApp(testWebhookSecret, newFakeBillingRepo())

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret,
		`{"event": {"type": "RENEWAL", "app_user_id": "user-1"}}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing event ID.", body)
}

func TestWebhook_InitialPurchaseProcessed(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(testWebhookSecret, repo)

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret,
		`{"event": {"id": "evt-1", "type": "INITIAL_PURCHASE", "app_user_id": "user-1", "product_id": "rockid_weekly_399"}}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Webhook processed successfully.", body)

	ent := repo.entitlements["user-1"]
	require.NotNil(t, ent)
	assert.Equal(t, 200, ent.Tokens)
	assert.True(t, ent.SubscriptionActive)
}

func TestWebhook_ReplayIsAcknowledgedWithoutMutation(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(testWebhookSecret, repo)
	payload := `{"event": {"id": "evt-1", "type": "INITIAL_PURCHASE", "app_user_id": "user-1", "product_id": "rockid_weekly_399"}}`

	resp, _ := postWebhook(t, app, "Bearer "+testWebhookSecret, payload)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret, payload)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Event already processed.", body)
	assert.Equal(t, 200, repo.entitlements["user-1"].Tokens)
}

func TestWebhook_ProcessingErrorReturns500AndStaysUnrecorded(t *testing.T) {
	repo := newFakeBillingRepo()
	repo.failNext = errors.New("db connection lost")
	app := newWebhookTestApp(testWebhookSecret, repo)

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret,
		`{"event": {"id": "evt-1", "type": "RENEWAL", "app_user_id": "user-1", "product_id": "rockid_weekly_399"}}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Internal server error while processing payload.", body)

	_, recorded := repo.processed["evt-1"]
	assert.False(t, recorded, "failed deliveries must stay unrecorded for redelivery")
}

func TestWebhook_TestEventAcknowledged(t *testing.T) {
	repo := newFakeBillingRepo()
	app := newWebhookTestApp(testWebhookSecret, repo)

	resp, body := postWebhook(t, app, "Bearer "+testWebhookSecret,
		`{"event": {"id": "evt-1", "type": "TEST", "app_user_id": "user-1"}}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Webhook processed successfully.", body)
	assert.Empty(t, repo.entitlements)
}
