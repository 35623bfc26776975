package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"festival-sync-backend/internal/model"
)

// Store defines the interface for all delivery-target database operations.
type Store interface {
	ListTargets(ctx context.Context) ([]model.DeliveryTarget, error)
	GetTarget(ctx context.Context, endpoint string) (*model.DeliveryTarget, error)
	UpsertTarget(ctx context.Context, target model.DeliveryTarget, ownerID string) error
	RemoveOwner(ctx context.Context, endpoint, ownerID string) error
	DeleteTarget(ctx context.Context, endpoint string) error
	CountTargets(ctx context.Context) (int64, error)
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// ListTargets returns every registered delivery target with its owners preloaded.
func (s *gormStore) ListTargets(ctx context.Context) ([]model.DeliveryTarget, error) {
	var targets []model.DeliveryTarget
	if err := s.db.WithContext(ctx).Preload("Owners").Find(&targets).Error; err != nil {
		return nil, fmt.Errorf("failed to list delivery targets: %w", err)
	}
	return targets, nil
}

// GetTarget fetches a single target by endpoint.
func (s *gormStore) GetTarget(ctx context.Context, endpoint string) (*model.DeliveryTarget, error) {
	var target model.DeliveryTarget
	err := s.db.WithContext(ctx).Preload("Owners").First(&target, "endpoint = ?", endpoint).Error
	if err != nil {
		return nil, err
	}
	return &target, nil
}

// UpsertTarget creates or replaces a delivery target and, when ownerID is
// non-empty, associates the owner with it. Repeating the call with the same
// owner leaves a single association (set semantics).
func (s *gormStore) UpsertTarget(ctx context.Context, target model.DeliveryTarget, ownerID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
		}).Create(&target).Error; err != nil {
			return fmt.Errorf("upsert target %s: %w", target.Endpoint, err)
		}

		if ownerID == "" {
			return nil
		}

		owner := model.Owner{ID: ownerID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&owner).Error; err != nil {
			return fmt.Errorf("upsert owner %s: %w", ownerID, err)
		}

		// Association.Append is idempotent for an existing join row.
		if err := tx.Model(&target).Association("Owners").Append(&owner); err != nil {
			return fmt.Errorf("associate owner %s with target %s: %w", ownerID, target.Endpoint, err)
		}
		return nil
	})
}

// RemoveOwner dissociates a single owner from a target without touching the
// target itself or its other owners.
func (s *gormStore) RemoveOwner(ctx context.Context, endpoint, ownerID string) error {
	target := model.DeliveryTarget{Endpoint: endpoint}
	owner := model.Owner{ID: ownerID}
	if err := s.db.WithContext(ctx).Model(&target).Association("Owners").Delete(&owner); err != nil {
		return fmt.Errorf("remove owner %s from target %s: %w", ownerID, endpoint, err)
	}
	return nil
}

// DeleteTarget removes a target and its owner associations. Deleting a target
// that no longer exists is not an error.
func (s *gormStore) DeleteTarget(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		target := model.DeliveryTarget{Endpoint: endpoint}
		if err := tx.Model(&target).Association("Owners").Clear(); err != nil {
			return fmt.Errorf("clear owners for target %s: %w", endpoint, err)
		}
		if err := tx.Delete(&target).Error; err != nil {
			return fmt.Errorf("delete target %s: %w", endpoint, err)
		}
		return nil
	})
}

// CountTargets returns the number of registered targets.
func (s *gormStore) CountTargets(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.DeliveryTarget{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count delivery targets: %w", err)
	}
	return count, nil
}
