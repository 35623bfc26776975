package model

import "time"

// Owner is a logical account that a delivery target can be associated with.
// A shared device subscription may serve several owners at once.
type Owner struct {
	ID        string    `gorm:"primaryKey;size:128"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Targets []*DeliveryTarget `gorm:"many2many:target_owner_mapping;"`
}
