package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rockidapp/rockid-server/app/models"
	"github.com/rockidapp/rockid-server/internal/pkg/billing"
	"github.com/rockidapp/rockid-server/internal/pkg/identify"
)

type fakeVisionClient struct {
	report *identify.RockReport
	err    error
	calls  int
}

func (f *fakeVisionClient) IdentifyRock(ctx context.Context, imageBase64 string) (*identify.RockReport, error) {
	f.calls++
	return f.report, f.err
}

func newIdentifyTestApp(appUserID string, repo billing.Repository, vision VisionClient) *fiber.App {
	app := fiber.New()
	ic := NewIdentifyController(billing.NewService(repo), vision)
	app.Use(withTestIdentity(appUserID))
	app.Post("/identify", ic.HandleIdentify)
	return app
}

func postIdentify(t *testing.T, app *fiber.App, body string) (*http.Response, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/identify", strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(raw, &parsed))
	return resp, parsed
}

func TestIdentify_Success(t *testing.T) {
	repo := newFakeBillingRepo()
	repo.entitlements["user-1"] = &models.UserEntitlement{AppUserID: "user-1", Tokens: 3}
	vision := &fakeVisionClient{report: &identify.RockReport{RockName: "Amethyst", Confidence: 0.95}}
	app := newIdentifyTestApp("user-1", repo, vision)

	resp, body := postIdentify(t, app, `{"image": "aGVsbG8="}`)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, body["tokens_remaining"])
	assert.Equal(t, 1, vision.calls)

	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Amethyst", result["rockName"])
}

func TestIdentify_OutOfTokensSkipsVisionCall(t *testing.T) {
	repo := newFakeBillingRepo()
	repo.entitlements["user-1"] = &models.UserEntitlement{AppUserID: "user-1", Tokens: 0}
	vision := &fakeVisionClient{}
	app := newIdentifyTestApp("user-1", repo, vision)

	resp, body := postIdentify(t, app, `{"image": "aGVsbG8="}`)
	assert.Equal(t, fiber.StatusPreconditionFailed, resp.StatusCode)
	assert.Equal(t, "failed-precondition", body["error"])
	assert.Equal(t, 0, vision.calls, "no vision call without a token")
}

func TestIdentify_MissingImage(t *testing.T) {
	repo := newFakeBillingRepo()
	repo.entitlements["user-1"] = &models.UserEntitlement{AppUserID: "user-1", Tokens: 3}
	app := newIdentifyTestApp("user-1", repo, &fakeVisionClient{})

	resp, body := postIdentify(t, app, `{"image": "  "}`)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid-argument", body["error"])
	assert.Equal(t, 3, repo.entitlements["user-1"].Tokens, "malformed requests cost nothing")
}

func TestIdentify_VisionFailure(t *testing.T) {
	repo := newFakeBillingRepo()
	repo.entitlements["user-1"] = &models.UserEntitlement{AppUserID: "user-1", Tokens: 3}
	vision := &fakeVisionClient{err: errors.New("upstream timeout")}
	app := newIdentifyTestApp("user-1", repo, vision)

	resp, body := postIdentify(t, app, `{"image": "aGVsbG8="}`)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "An unexpected error occurred during identification.", body["message"])
}

func TestIdentify_Unauthenticated(t *testing.T) {
	app := newIdentifyTestApp("", newFakeBillingRepo(), &fakeVisionClient{})

	resp, body := postIdentify(t, app, `{"image": "aGVsbG8="}`)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", body["error"])
}
