package billing

import (
	"errors"
	"time"

	"github.com/rockidapp/rockid-server/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides the atomic store operations used by the billing
// service. All entitlement mutations run inside a single transaction with the
// affected rows locked; a reader can never observe a half-applied mutation.
type Repository interface {
	GetEntitlement(appUserID string) (*models.UserEntitlement, error)
	Grant(appUserID, productID, eventType string, tokens int) (*models.UserEntitlement, error)
	Revoke(appUserID, eventType string) (*models.UserEntitlement, error)
	Transfer(fromAppUserID, toAppUserID, eventType string) (*TransferResult, error)
	Consume(appUserID string) (*models.UserEntitlement, error)
	GetProcessedEvent(providerEventID string) (*models.ProcessedEvent, error)
	CreateProcessedEventIfNotExists(event *models.ProcessedEvent) (bool, error)
}

// TransferResult reports both sides of a completed transfer. Applied is false
// when the source account had no entitlement record (expected for purchases
// made anonymously and linked later).
type TransferResult struct {
	From    *models.UserEntitlement
	To      *models.UserEntitlement
	Applied bool
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetEntitlement(appUserID string) (*models.UserEntitlement, error) {
	var ent models.UserEntitlement
	if err := r.db.Where("app_user_id = ?", appUserID).First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormRepository) Grant(appUserID, productID, eventType string, tokens int) (*models.UserEntitlement, error) {
	var out *models.UserEntitlement
	err := r.db.Transaction(func(tx *gorm.DB) error {
		ent, err := getOrCreateLocked(tx, appUserID)
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"tokens":                  gorm.Expr("tokens + ?", tokens),
			"is_premium":              true,
			"subscription_active":     true,
			"subscription_product_id": productID,
			"last_subscription_event": eventType,
			"last_grant_at":           now,
		}
		if err := tx.Model(&models.UserEntitlement{}).Where("id = ?", ent.ID).Updates(updates).Error; err != nil {
			return err
		}

		ent.Tokens += tokens
		ent.IsPremium = true
		ent.SubscriptionActive = true
		ent.SubscriptionProductID = productID
		ent.LastSubscriptionEvent = eventType
		ent.LastGrantAt = &now
		out = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) Revoke(appUserID, eventType string) (*models.UserEntitlement, error) {
	var out *models.UserEntitlement
	err := r.db.Transaction(func(tx *gorm.DB) error {
		ent, err := getOrCreateLocked(tx, appUserID)
		if err != nil {
			return err
		}

		now := time.Now()
		updates := map[string]interface{}{
			"tokens":                  0,
			"is_premium":              false,
			"subscription_active":     false,
			"last_subscription_event": eventType,
			"last_cancellation_at":    now,
		}
		if err := tx.Model(&models.UserEntitlement{}).Where("id = ?", ent.ID).Updates(updates).Error; err != nil {
			return err
		}

		ent.Tokens = 0
		ent.IsPremium = false
		ent.SubscriptionActive = false
		ent.LastSubscriptionEvent = eventType
		ent.LastCancellationAt = &now
		out = ent
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *gormRepository) Transfer(fromAppUserID, toAppUserID, eventType string) (*TransferResult, error) {
	result := &TransferResult{}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var from models.UserEntitlement
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("app_user_id = ?", fromAppUserID).
			First(&from).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Anonymous purchases linked to a fresh account have no source
			// row; the destination's entitlements arrive via other events.
			return nil
		}
		if err != nil {
			return err
		}

		to, err := getOrCreateLocked(tx, toAppUserID)
		if err != nil {
			return err
		}

		now := time.Now()
		combined := from.Tokens + to.Tokens

		toUpdates := map[string]interface{}{
			"tokens":                  combined,
			"is_premium":              from.IsPremium,
			"subscription_active":     from.SubscriptionActive,
			"subscription_product_id": from.SubscriptionProductID,
			"last_subscription_event": eventType,
			"last_grant_at":           now,
		}
		if err := tx.Model(&models.UserEntitlement{}).Where("id = ?", to.ID).Updates(toUpdates).Error; err != nil {
			return err
		}

		fromUpdates := map[string]interface{}{
			"tokens":                  0,
			"is_premium":              false,
			"subscription_active":     false,
			"last_subscription_event": EventTransferredAway,
			"last_cancellation_at":    now,
			"transferred_to":          toAppUserID,
		}
		if err := tx.Model(&models.UserEntitlement{}).Where("id = ?", from.ID).Updates(fromUpdates).Error; err != nil {
			return err
		}

		to.Tokens = combined
		to.IsPremium = from.IsPremium
		to.SubscriptionActive = from.SubscriptionActive
		to.SubscriptionProductID = from.SubscriptionProductID
		to.LastSubscriptionEvent = eventType
		to.LastGrantAt = &now

		from.Tokens = 0
		from.IsPremium = false
		from.SubscriptionActive = false
		from.LastSubscriptionEvent = EventTransferredAway
		from.LastCancellationAt = &now
		from.TransferredTo = toAppUserID

		result.From = &from
		result.To = to
		result.Applied = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *gormRepository) Consume(appUserID string) (*models.UserEntitlement, error) {
	var ent models.UserEntitlement
	err := r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("app_user_id = ?", appUserID).
			First(&ent).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrEntitlementNotFound
		}
		if err != nil {
			return err
		}

		if ent.Tokens <= 0 {
			return ErrOutOfTokens
		}

		if err := tx.Model(&ent).
			UpdateColumn("tokens", gorm.Expr("tokens - ?", 1)).Error; err != nil {
			return err
		}
		ent.Tokens--
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

func (r *gormRepository) GetProcessedEvent(providerEventID string) (*models.ProcessedEvent, error) {
	var event models.ProcessedEvent
	if err := r.db.Where("provider_event_id = ?", providerEventID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) CreateProcessedEventIfNotExists(event *models.ProcessedEvent) (bool, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// getOrCreateLocked returns a row-locked entitlement for the given user,
// creating a zero-balance row first when absent. Webhook-created rows do not
// receive the signup grant.
func getOrCreateLocked(tx *gorm.DB, appUserID string) (*models.UserEntitlement, error) {
	var ent models.UserEntitlement
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("app_user_id = ?", appUserID).
		First(&ent).Error
	if err == nil {
		return &ent, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	ent = models.UserEntitlement{AppUserID: appUserID}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "app_user_id"}},
		DoNothing: true,
	}).Create(&ent).Error; err != nil {
		return nil, err
	}

	// Re-read under lock; a concurrent writer may have created the row first.
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("app_user_id = ?", appUserID).
		First(&ent).Error; err != nil {
		return nil, err
	}
	return &ent, nil
}
