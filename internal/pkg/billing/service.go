package billing

import (
	"context"
	"errors"
	"log"

	"github.com/rockidapp/rockid-server/app/models"
	"gorm.io/gorm"
)

// BalanceNotifier receives the post-mutation entitlement state after every
// successful balance change. Implementations push the update to connected
// clients; failures must not affect the committed mutation.
type BalanceNotifier interface {
	NotifyBalance(ent *models.UserEntitlement)
}

// Service applies billing events and token consumption against the
// entitlement store. It is the only writer of UserEntitlement rows.
type Service struct {
	repo     Repository
	notifier BalanceNotifier
}

// NewService creates a billing service from an injected repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NewServiceFromDB creates a billing service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// WithNotifier attaches a balance notifier and returns the service.
func (s *Service) WithNotifier(n BalanceNotifier) *Service {
	s.notifier = n
	return s
}

// ProcessResult describes the outcome of a single webhook delivery.
type ProcessResult struct {
	EventID     string
	EventType   string
	AppUserID   string
	ProductID   string
	Duplicate   bool
	Applied     bool
	Entitlement *models.UserEntitlement
}

// ProcessEvent runs the full webhook pipeline for one validated event:
// idempotency check, dispatch by event type, and ledger record. The ledger
// record is written only after a successful dispatch, so a failed mutation
// leaves the event unrecorded and safe for the provider to redeliver.
func (s *Service) ProcessEvent(ctx context.Context, ev *WebhookEvent) (*ProcessResult, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	result := &ProcessResult{
		EventID:   ev.ID,
		EventType: ev.Type,
		AppUserID: ev.AppUserID,
		ProductID: ev.ProductID,
	}

	existing, err := s.repo.GetProcessedEvent(ev.ID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if existing != nil {
		log.Printf("billing: event %s already processed, skipping", ev.ID)
		result.Duplicate = true
		return result, nil
	}

	switch ev.Type {
	case EventInitialPurchase, EventRenewal:
		ent, err := s.Grant(ctx, ev.AppUserID, ev.ProductID, ev.Type)
		if err != nil {
			return nil, err
		}
		result.Applied = true
		result.Entitlement = ent
	case EventCancellation, EventExpiration:
		ent, err := s.Revoke(ctx, ev.AppUserID, ev.Type)
		if err != nil {
			return nil, err
		}
		result.Applied = true
		result.Entitlement = ent
	case EventTransfer:
		if !ev.HasValidTransferSource() {
			log.Printf("billing: TRANSFER event %s without a valid original_app_user_id (new: %s, original: %s), skipping mutation",
				ev.ID, ev.AppUserID, ev.OriginalAppUserID)
			break
		}
		out, err := s.Transfer(ctx, ev.OriginalAppUserID, ev.AppUserID, ev.Type)
		if err != nil {
			return nil, err
		}
		if out.Applied {
			result.Applied = true
			result.Entitlement = out.To
		}
	case EventTest:
		log.Printf("billing: TEST event %s received, auth OK", ev.ID)
	default:
		log.Printf("billing: unhandled event type %s for user %s, acknowledging", ev.Type, ev.AppUserID)
	}

	// Recorded for every dispatched outcome, including skipped and unknown
	// types; only a dispatch error above prevents the record.
	if _, err := s.repo.CreateProcessedEventIfNotExists(&models.ProcessedEvent{
		ProviderEventID: ev.ID,
		AppUserID:       ev.AppUserID,
		EventType:       ev.Type,
		ProductID:       ev.ProductID,
	}); err != nil {
		return nil, err
	}

	return result, nil
}

// Grant adds the product's token count to the user's balance and marks the
// subscription active. Grants are additive so stacked renewals accumulate.
func (s *Service) Grant(ctx context.Context, appUserID, productID, eventType string) (*models.UserEntitlement, error) {
	tokens, known := TokensForProduct(productID)
	if !known {
		log.Printf("billing: unknown product ID %q for token grant for user %s, granting 0 tokens", productID, appUserID)
	}

	ent, err := s.repo.Grant(appUserID, productID, eventType, tokens)
	if err != nil {
		log.Printf("billing: failed to grant tokens for user %s: %v", appUserID, err)
		return nil, err
	}

	log.Printf("billing: granted %d tokens to user %s for product %s due to %s (balance now %d)",
		tokens, appUserID, productID, eventType, ent.Tokens)
	s.notify(ent)
	return ent, nil
}

// Revoke zeroes the token balance and deactivates the subscription. Tokens
// were granted as part of the subscription, so revocation is total.
func (s *Service) Revoke(ctx context.Context, appUserID, eventType string) (*models.UserEntitlement, error) {
	ent, err := s.repo.Revoke(appUserID, eventType)
	if err != nil {
		log.Printf("billing: failed to revoke subscription for user %s (event %s): %v", appUserID, eventType, err)
		return nil, err
	}

	log.Printf("billing: subscription inactive for user %s due to %s, tokens set to 0", appUserID, eventType)
	s.notify(ent)
	return ent, nil
}

// Transfer moves the source account's entitlement to the destination in one
// atomic step: the destination receives the subscription flags and the sum of
// both balances, the source is zeroed and marked transferred away.
func (s *Service) Transfer(ctx context.Context, fromAppUserID, toAppUserID, eventType string) (*TransferResult, error) {
	log.Printf("billing: transferring subscription from %s to %s", fromAppUserID, toAppUserID)

	out, err := s.repo.Transfer(fromAppUserID, toAppUserID, eventType)
	if err != nil {
		log.Printf("billing: failed to transfer subscription from %s to %s: %v", fromAppUserID, toAppUserID, err)
		return nil, err
	}
	if !out.Applied {
		log.Printf("billing: source entitlement %s not found for transfer; expected when the anonymous user had no record", fromAppUserID)
		return out, nil
	}

	log.Printf("billing: successfully transferred subscription from %s to %s", fromAppUserID, toAppUserID)
	s.notify(out.From)
	s.notify(out.To)
	return out, nil
}

// Consume atomically decrements one token from the user's balance and returns
// the updated entitlement. Premium users are not exempt. Returns
// ErrEntitlementNotFound or ErrOutOfTokens for the caller to discriminate.
func (s *Service) Consume(ctx context.Context, appUserID string) (*models.UserEntitlement, error) {
	ent, err := s.repo.Consume(appUserID)
	if err != nil {
		if errors.Is(err, ErrOutOfTokens) {
			log.Printf("billing: user %s has no tokens, denying action", appUserID)
		}
		return nil, err
	}

	log.Printf("billing: consumed token for user %s, remaining: %d", appUserID, ent.Tokens)
	s.notify(ent)
	return ent, nil
}

// GetEntitlement returns the current entitlement state for a user.
func (s *Service) GetEntitlement(ctx context.Context, appUserID string) (*models.UserEntitlement, error) {
	ent, err := s.repo.GetEntitlement(appUserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEntitlementNotFound
		}
		return nil, err
	}
	return ent, nil
}

func (s *Service) notify(ent *models.UserEntitlement) {
	if s.notifier == nil || ent == nil {
		return
	}
	s.notifier.NotifyBalance(ent)
}
