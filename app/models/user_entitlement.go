package models

import (
	"time"

	"gorm.io/gorm"
)

// DefaultSignupTokens is the starting grant every freshly registered user
// receives before any purchase.
const DefaultSignupTokens = 1

// UserEntitlement holds the token balance and subscription flags for a single
// app user. It is keyed by AppUserID because webhook events may reference
// users that never registered a device record (anonymous purchases).
//
// Rows may only be mutated through the billing repository's atomic
// operations; no other code path writes token counts.
type UserEntitlement struct {
	ID                    uint       `gorm:"primaryKey" json:"id"`
	AppUserID             string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"app_user_id"`
	Tokens                int        `gorm:"not null;default:0" json:"tokens"`
	IsPremium             bool       `gorm:"default:false" json:"is_premium"`
	SubscriptionActive    bool       `gorm:"default:false" json:"subscription_active"`
	SubscriptionProductID string     `gorm:"type:varchar(100);default:''" json:"subscription_product_id"`
	LastSubscriptionEvent string     `gorm:"type:varchar(50);default:''" json:"last_subscription_event"`
	LastGrantAt           *time.Time `gorm:"type:timestamp;default:null" json:"last_grant_at,omitempty"`
	LastCancellationAt    *time.Time `gorm:"type:timestamp;default:null" json:"last_cancellation_at,omitempty"`
	TransferredTo         string     `gorm:"type:varchar(64);default:''" json:"transferred_to,omitempty"`
	CreatedAt             time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt             time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetOrCreateUserEntitlement returns the entitlement row for the given app
// user, creating it with the default signup grant when absent. Used on first
// authentication; webhook-created rows start at zero instead (see the billing
// repository).
func GetOrCreateUserEntitlement(db *gorm.DB, appUserID string) (*UserEntitlement, error) {
	var ent UserEntitlement
	if err := db.Where("app_user_id = ?", appUserID).First(&ent).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			ent = UserEntitlement{AppUserID: appUserID, Tokens: DefaultSignupTokens}
			if err := db.Create(&ent).Error; err != nil {
				return nil, err
			}
			return &ent, nil
		}
		return nil, err
	}
	return &ent, nil
}
