package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"

	"github.com/rockidapp/rockid-server/internal/pkg/billing"
	"github.com/rockidapp/rockid-server/internal/pkg/live"
	"github.com/rockidapp/rockid-server/internal/pkg/usercontext"
)

const streamPingInterval = 30 * time.Second

// TokenController serves the token balance endpoints for authenticated
// devices.
type TokenController struct {
	svc *billing.Service
}

func NewTokenController(svc *billing.Service) *TokenController {
	return &TokenController{svc: svc}
}

// HandleConsumeToken atomically spends one token from the caller's balance.
// The identity comes from the verified API key, never from the request body.
func (tc *TokenController) HandleConsumeToken(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return respondUnauthenticated(c)
	}

	ent, err := tc.svc.Consume(c.Context(), userCtx.AppUserID)
	if err != nil {
		return respondBillingError(c, userCtx.AppUserID, err)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"tokens_remaining": ent.Tokens,
	})
}

// HandleGetTokenBalance returns the caller's current entitlement state.
func (tc *TokenController) HandleGetTokenBalance(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return respondUnauthenticated(c)
	}

	ent, err := tc.svc.GetEntitlement(c.Context(), userCtx.AppUserID)
	if err != nil {
		return respondBillingError(c, userCtx.AppUserID, err)
	}

	return c.JSON(fiber.Map{
		"app_user_id":             ent.AppUserID,
		"tokens":                  ent.Tokens,
		"is_premium":              ent.IsPremium,
		"subscription_active":     ent.SubscriptionActive,
		"subscription_product_id": ent.SubscriptionProductID,
	})
}

// HandleTokenStream streams balance updates to the client as server-sent
// events, fed by the Redis pub/sub channel the billing service publishes to
// after every mutation.
func (tc *TokenController) HandleTokenStream(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return respondUnauthenticated(c)
	}
	appUserID := userCtx.AppUserID

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sub := live.Subscribe(ctx, appUserID)
		defer sub.Close()

		// Initial snapshot so the client starts from the current state. The
		// cached balance covers a transient store outage.
		snapshot := live.BalanceUpdate{AppUserID: appUserID}
		haveSnapshot := false
		if ent, err := tc.svc.GetEntitlement(ctx, appUserID); err == nil {
			snapshot.Tokens = ent.Tokens
			snapshot.IsPremium = ent.IsPremium
			snapshot.SubscriptionActive = ent.SubscriptionActive
			snapshot.Event = ent.LastSubscriptionEvent
			haveSnapshot = true
		} else if tokens, cacheErr := live.CachedBalance(appUserID); cacheErr == nil {
			snapshot.Tokens = tokens
			haveSnapshot = true
		}
		if payload, err := json.Marshal(snapshot); err == nil && haveSnapshot {
			fmt.Fprintf(w, "data: %s\n\n", payload)
			if err := w.Flush(); err != nil {
				return
			}
		}

		ch := sub.Channel()
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", msg.Payload)
				if err := w.Flush(); err != nil {
					return
				}
			case <-ticker.C:
				fmt.Fprint(w, ": ping\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}
