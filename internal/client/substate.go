package client

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/SherClockHolmes/webpush-go"
)

// PermissionState is the platform notification permission.
type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// PlatformSubscription is a live push subscription held by the platform.
type PlatformSubscription struct {
	Endpoint string
	Keys     webpush.Keys
}

// Platform abstracts the push capability of the runtime. The platform is
// ground truth for whether a subscription exists; the persisted record is
// ground truth only for intent and owner association.
type Platform interface {
	Supported() bool
	Permission() PermissionState
	RequestPermission(ctx context.Context) (PermissionState, error)
	Subscription(ctx context.Context) (*PlatformSubscription, error)
	Subscribe(ctx context.Context) (*PlatformSubscription, error)
	Unsubscribe(ctx context.Context) error
}

// Enrollment is the server-side delivery-target registration API.
// Deregister with an empty ownerID deletes the whole target; with an ownerID
// it only dissociates that owner.
type Enrollment interface {
	Register(ctx context.Context, sub *PlatformSubscription, ownerID string) error
	Deregister(ctx context.Context, endpoint, ownerID string) error
}

// SubscriptionState is the reconciled view returned by CurrentState.
type SubscriptionState struct {
	Supported        bool
	Permission       PermissionState
	WantsPush        bool
	IsUserSubscribed bool
	HasBeenPrompted  bool
}

// SubscriptionStateStore reconciles the user's intent to receive delivery
// with the platform subscription, tolerating drift between the two.
type SubscriptionStateStore struct {
	platform   Platform
	enrollment Enrollment
	records    RecordStore

	mu sync.Mutex
}

// NewSubscriptionStateStore wires the store to its collaborators.
func NewSubscriptionStateStore(platform Platform, enrollment Enrollment, records RecordStore) *SubscriptionStateStore {
	return &SubscriptionStateStore{
		platform:   platform,
		enrollment: enrollment,
		records:    records,
	}
}

// CurrentState reads the live platform subscription and corrects the
// persisted record when the two disagree. Never errors on an unsupported
// platform: it reports all-false instead.
func (s *SubscriptionStateStore) CurrentState(ctx context.Context) (SubscriptionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.platform.Supported() {
		return SubscriptionState{}, nil
	}

	record, err := s.records.Load()
	if err != nil {
		return SubscriptionState{}, err
	}

	sub, err := s.platform.Subscription(ctx)
	if err != nil {
		return SubscriptionState{}, fmt.Errorf("read platform subscription: %w", err)
	}

	if changed := reconcileRecord(record, sub); changed {
		if err := s.records.Save(record); err != nil {
			return SubscriptionState{}, err
		}
	}

	return SubscriptionState{
		Supported:        true,
		Permission:       s.platform.Permission(),
		WantsPush:        record.WantsPush,
		IsUserSubscribed: sub != nil && record.WantsPush,
		HasBeenPrompted:  record.HasBeenPrompted,
	}, nil
}

// reconcileRecord corrects the persisted record to match the platform,
// preserving the recorded owner association and never touching WantsPush.
func reconcileRecord(record *LocalSubscriptionRecord, sub *PlatformSubscription) bool {
	switch {
	case sub == nil && record.Subscription != nil:
		record.Subscription = nil
		return true
	case sub != nil && record.Subscription == nil:
		record.Subscription = &StoredSubscription{Endpoint: sub.Endpoint, Keys: sub.Keys}
		return true
	case sub != nil && record.Subscription.Endpoint != sub.Endpoint:
		record.Subscription.Endpoint = sub.Endpoint
		record.Subscription.Keys = sub.Keys
		return true
	}
	return false
}

// Subscribe asks for permission if needed, creates or reuses a platform
// subscription, records the intent and registers the target with the server.
// Returns false without mutating intent when permission is denied or the
// platform is unsupported.
func (s *SubscriptionStateStore) Subscribe(ctx context.Context, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.platform.Supported() {
		return false, nil
	}

	record, err := s.records.Load()
	if err != nil {
		return false, err
	}

	record.HasBeenPrompted = true
	perm := s.platform.Permission()
	if perm == PermissionDefault {
		perm, err = s.platform.RequestPermission(ctx)
		if err != nil {
			return false, fmt.Errorf("request permission: %w", err)
		}
	}
	if perm != PermissionGranted {
		// Intent is only mutated on an actual grant.
		if err := s.records.Save(record); err != nil {
			return false, err
		}
		return false, nil
	}

	sub, err := s.platform.Subscription(ctx)
	if err != nil {
		return false, fmt.Errorf("read platform subscription: %w", err)
	}
	if sub == nil {
		sub, err = s.platform.Subscribe(ctx)
		if err != nil {
			return false, fmt.Errorf("create platform subscription: %w", err)
		}
	}

	record.WantsPush = true
	reconcileRecord(record, sub)
	record.Subscription.AddOwner(ownerID)
	record.PendingOfflineAction = nil

	if err := s.enrollment.Register(ctx, sub, ownerID); err != nil {
		// Local subscribe succeeded; replay registration once reachable.
		log.Printf("client: enrollment unreachable, queueing subscribe: %v", err)
		record.PendingOfflineAction = &PendingAction{
			Kind:      PendingSubscribe,
			OwnerID:   ownerID,
			Timestamp: time.Now(),
		}
	}

	if err := s.records.Save(record); err != nil {
		return false, err
	}
	return true, nil
}

// Unsubscribe with an ownerID only dissociates that owner; a shared device
// subscription keeps serving the rest. Only a full unsubscribe (empty
// ownerID) tears down the platform subscription and clears the intent.
func (s *SubscriptionStateStore) Unsubscribe(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.platform.Supported() {
		return nil
	}

	record, err := s.records.Load()
	if err != nil {
		return err
	}

	endpoint := ""
	if record.Subscription != nil {
		endpoint = record.Subscription.Endpoint
	}

	if ownerID != "" {
		if record.Subscription != nil {
			record.Subscription.RemoveOwner(ownerID)
		}
	} else {
		if err := s.platform.Unsubscribe(ctx); err != nil {
			return fmt.Errorf("remove platform subscription: %w", err)
		}
		record.WantsPush = false
		record.Subscription = nil
	}
	record.PendingOfflineAction = nil

	if endpoint != "" {
		if err := s.enrollment.Deregister(ctx, endpoint, ownerID); err != nil {
			log.Printf("client: enrollment unreachable, queueing unsubscribe: %v", err)
			record.PendingOfflineAction = &PendingAction{
				Kind:      PendingUnsubscribe,
				Endpoint:  endpoint,
				OwnerID:   ownerID,
				Timestamp: time.Now(),
			}
		}
	}

	return s.records.Save(record)
}

// TryReactivate silently repairs drift: when the user wants push and
// permission is already granted but the platform subscription is missing, it
// re-subscribes without prompting. Safe to call opportunistically on app
// start.
func (s *SubscriptionStateStore) TryReactivate(ctx context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.platform.Supported() {
		return nil
	}

	record, err := s.records.Load()
	if err != nil {
		return err
	}
	if !record.WantsPush || s.platform.Permission() != PermissionGranted {
		return nil
	}

	sub, err := s.platform.Subscription(ctx)
	if err != nil {
		return fmt.Errorf("read platform subscription: %w", err)
	}
	if sub == nil {
		sub, err = s.platform.Subscribe(ctx)
		if err != nil {
			return fmt.Errorf("recreate platform subscription: %w", err)
		}
	}

	reconcileRecord(record, sub)
	record.Subscription.AddOwner(ownerID)

	if err := s.enrollment.Register(ctx, sub, ownerID); err != nil {
		log.Printf("client: enrollment unreachable during reactivate: %v", err)
	}

	return s.records.Save(record)
}

// Reconcile replays the pending offline action, if any, against the server
// and clears it. The caller invokes this once connectivity returns.
func (s *SubscriptionStateStore) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, err := s.records.Load()
	if err != nil {
		return err
	}
	pending := record.PendingOfflineAction
	if pending == nil {
		return nil
	}

	switch pending.Kind {
	case PendingSubscribe:
		if record.Subscription != nil {
			sub := &PlatformSubscription{
				Endpoint: record.Subscription.Endpoint,
				Keys:     record.Subscription.Keys,
			}
			if err := s.enrollment.Register(ctx, sub, pending.OwnerID); err != nil {
				return fmt.Errorf("replay subscribe: %w", err)
			}
		}
	case PendingUnsubscribe:
		endpoint := pending.Endpoint
		if endpoint == "" && record.Subscription != nil {
			endpoint = record.Subscription.Endpoint
		}
		if endpoint != "" {
			if err := s.enrollment.Deregister(ctx, endpoint, pending.OwnerID); err != nil {
				return fmt.Errorf("replay unsubscribe: %w", err)
			}
		}
	}

	record.PendingOfflineAction = nil
	return s.records.Save(record)
}
