package models

import "time"

// ProcessedEvent is the append-only ledger of billing webhook events that
// have been applied. Existence of a ProviderEventID is the sole gate against
// reprocessing a delivery; rows are write-once and never updated or deleted.
type ProcessedEvent struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	ProviderEventID string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"provider_event_id"`
	AppUserID       string    `gorm:"type:varchar(64);not null;index" json:"app_user_id"`
	EventType       string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	ProductID       string    `gorm:"type:varchar(100);default:''" json:"product_id"`
	ProcessedAt     time.Time `gorm:"autoCreateTime" json:"processed_at"`
}
