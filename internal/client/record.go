package client

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

// recordVersion is the current schema version of the persisted record.
// Version 1 stored a single owner_id on the subscription; version 2 holds an
// owner id set.
const recordVersion = 2

// PendingActionKind names the action recorded while the server was
// unreachable.
type PendingActionKind string

const (
	PendingSubscribe   PendingActionKind = "subscribe"
	PendingUnsubscribe PendingActionKind = "unsubscribe"
)

// PendingAction is the single deferred action awaiting reconciliation.
// Last-write-wins: at most one is retained.
type PendingAction struct {
	Kind PendingActionKind `json:"kind"`
	// Endpoint is carried so a deferred unsubscribe can still name the
	// target after the local subscription field has been cleared.
	Endpoint  string    `json:"endpoint,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StoredSubscription is the last-known delivery-target registration.
type StoredSubscription struct {
	Endpoint string       `json:"endpoint"`
	Keys     webpush.Keys `json:"keys"`
	OwnerIDs []string     `json:"owner_ids"`

	// LegacyOwnerID is the pre-v2 single owner field, consumed by the
	// upgrade step and never written back.
	LegacyOwnerID string `json:"owner_id,omitempty"`
}

// HasOwner reports whether id is in the owner set.
func (s *StoredSubscription) HasOwner(id string) bool {
	for _, o := range s.OwnerIDs {
		if o == id {
			return true
		}
	}
	return false
}

// AddOwner inserts id with set semantics.
func (s *StoredSubscription) AddOwner(id string) {
	if id == "" || s.HasOwner(id) {
		return
	}
	s.OwnerIDs = append(s.OwnerIDs, id)
}

// RemoveOwner deletes id from the owner set.
func (s *StoredSubscription) RemoveOwner(id string) {
	owners := s.OwnerIDs[:0]
	for _, o := range s.OwnerIDs {
		if o != id {
			owners = append(owners, o)
		}
	}
	s.OwnerIDs = owners
}

// LocalSubscriptionRecord is the persisted client-side bookkeeping.
// WantsPush is the user's intent and is independent of whether a platform
// subscription currently exists.
type LocalSubscriptionRecord struct {
	Version              int                 `json:"version"`
	HasBeenPrompted      bool                `json:"has_been_prompted"`
	WantsPush            bool                `json:"wants_push"`
	Subscription         *StoredSubscription `json:"subscription"`
	PendingOfflineAction *PendingAction      `json:"pending_offline_action"`
}

// upgrade applies schema migrations in place and reports whether anything
// changed.
func (r *LocalSubscriptionRecord) upgrade() bool {
	if r.Version >= recordVersion {
		return false
	}
	if r.Subscription != nil && r.Subscription.LegacyOwnerID != "" {
		r.Subscription.AddOwner(r.Subscription.LegacyOwnerID)
		r.Subscription.LegacyOwnerID = ""
	}
	r.Version = recordVersion
	return true
}

// RecordStore persists the LocalSubscriptionRecord as a whole.
type RecordStore interface {
	Load() (*LocalSubscriptionRecord, error)
	Save(*LocalSubscriptionRecord) error
}

// FileRecordStore keeps the record in a single JSON file.
type FileRecordStore struct {
	Path string
}

// Load reads the record, applying the schema upgrade step. A missing file
// yields a fresh record.
func (f *FileRecordStore) Load() (*LocalSubscriptionRecord, error) {
	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return &LocalSubscriptionRecord{Version: recordVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read subscription record: %w", err)
	}

	var record LocalSubscriptionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode subscription record: %w", err)
	}
	if record.upgrade() {
		if err := f.Save(&record); err != nil {
			return nil, err
		}
	}
	return &record, nil
}

// Save writes the whole record back.
func (f *FileRecordStore) Save(record *LocalSubscriptionRecord) error {
	record.Version = recordVersion
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode subscription record: %w", err)
	}
	if err := os.WriteFile(f.Path, data, 0o600); err != nil {
		return fmt.Errorf("write subscription record: %w", err)
	}
	return nil
}
