package live

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rockidapp/rockid-server/app/models"
	"github.com/rockidapp/rockid-server/internal/pkg/cache"
)

const (
	balanceKeyPrefix     = "tokens:user:"
	balanceChannelPrefix = "entitlements:user:"

	balanceCacheTTL = 24 * time.Hour
)

// BalanceUpdate is the message pushed to subscribed clients after every
// entitlement mutation. It mirrors what the mobile client used to receive
// from its document listener.
type BalanceUpdate struct {
	AppUserID          string `json:"app_user_id"`
	Tokens             int    `json:"tokens"`
	IsPremium          bool   `json:"is_premium"`
	SubscriptionActive bool   `json:"subscription_active"`
	Event              string `json:"event,omitempty"`
}

// Publisher fans entitlement changes out to Redis: a cached balance snapshot
// for fast reads plus a pub/sub message for live subscribers.
type Publisher struct{}

func NewPublisher() *Publisher {
	return &Publisher{}
}

// NotifyBalance publishes the new entitlement state for a user. Failures are
// logged and swallowed; the store transaction has already committed and the
// push channel is best-effort.
func (p *Publisher) NotifyBalance(ent *models.UserEntitlement) {
	if ent == nil {
		return
	}

	update := BalanceUpdate{
		AppUserID:          ent.AppUserID,
		Tokens:             ent.Tokens,
		IsPremium:          ent.IsPremium,
		SubscriptionActive: ent.SubscriptionActive,
		Event:              ent.LastSubscriptionEvent,
	}
	payload, err := json.Marshal(update)
	if err != nil {
		log.Printf("live: failed to marshal balance update for user %s: %v", ent.AppUserID, err)
		return
	}

	if err := cache.Set(BalanceKey(ent.AppUserID), ent.Tokens, balanceCacheTTL); err != nil {
		log.Printf("live: failed to cache balance for user %s: %v", ent.AppUserID, err)
	}
	if err := cache.Publish(BalanceChannel(ent.AppUserID), payload); err != nil {
		log.Printf("live: failed to publish balance update for user %s: %v", ent.AppUserID, err)
	}
}

// Subscribe opens a live subscription for one user's balance updates.
func Subscribe(ctx context.Context, appUserID string) *redis.PubSub {
	return cache.Subscribe(ctx, BalanceChannel(appUserID))
}

// CachedBalance returns the cached token balance, if present.
func CachedBalance(appUserID string) (int, error) {
	return cache.GetInt(BalanceKey(appUserID))
}

// BalanceKey returns the cache key holding a user's token balance.
func BalanceKey(appUserID string) string {
	return balanceKeyPrefix + appUserID
}

// BalanceChannel returns the pub/sub channel for a user's balance updates.
func BalanceChannel(appUserID string) string {
	return fmt.Sprintf("%s%s", balanceChannelPrefix, appUserID)
}
