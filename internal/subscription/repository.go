package subscription

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrSettingsNotFound     = errors.New("integration settings not found")
)

// Repository defines the interface for subscription storage.
type Repository interface {
	// Create persists a new subscription and its integration settings in
	// one atomic operation, assigning sub.ID and settings.SubscriptionID.
	Create(ctx context.Context, sub *Subscription, settings *IntegrationSettings) error
	GetByID(ctx context.Context, id int64) (*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	List(ctx context.Context, limit, offset int) ([]*Subscription, error)

	// ListTokenExpired returns every active subscription whose token expiry
	// is at or before the given instant. The sweeper's query set.
	ListTokenExpired(ctx context.Context, now time.Time) ([]*Subscription, error)

	// UpdateWithSettings persists the subscription record and its
	// denormalized settings copy as one atomic operation. Token rotation
	// and blocking go through this, never through two separate writes.
	UpdateWithSettings(ctx context.Context, sub *Subscription, settings *IntegrationSettings) error

	// DeactivateAll applies the sweeper's batch: every listed subscription
	// is persisted with its mutated active flag, remarks and audit fields
	// in a single commit.
	DeactivateAll(ctx context.Context, subs []*Subscription) error
}

// SettingsRepository reads the denormalized integration settings. Writes go
// through Repository.Create and Repository.UpdateWithSettings exclusively.
type SettingsRepository interface {
	GetBySubscriptionID(ctx context.Context, subscriptionID int64) (*IntegrationSettings, error)
}
