package model

import "time"

// DeliveryTarget holds the information for a registered push delivery target:
// a browser push endpoint plus its encryption keys.
type DeliveryTarget struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Owners []*Owner `gorm:"many2many:target_owner_mapping;"`
}
