package subscription

import (
	"time"
)

// Subscription is the billable, access-scoping unit. It owns users, the
// buyer/product catalog and the invoices submitted on its behalf.
type Subscription struct {
	ID           int64
	CompanyName  string
	BusinessName string
	TaxID        string
	Province     string
	Address      string
	ContactEmail string

	Active      bool
	Blocked     bool
	BlockReason *string

	// Validity window. EndsAt bounds the token expiry when set.
	StartsAt *time.Time
	EndsAt   *time.Time

	// Credential for the downstream invoicing integration. Nil when the
	// subscription is blocked or no token has been issued yet.
	SecurityToken  *string
	TokenExpiresAt *time.Time

	CreatedAt time.Time
	CreatedBy *int64
	UpdatedAt *time.Time
	UpdatedBy *int64
	Remarks   *string
}

// DisplayName prefers the business name over the registered company name.
func (s *Subscription) DisplayName() string {
	if s.BusinessName != "" {
		return s.BusinessName
	}
	return s.CompanyName
}

// WindowExpired reports whether the validity window has ended.
func (s *Subscription) WindowExpired(now time.Time) bool {
	return s.EndsAt != nil && s.EndsAt.Before(now)
}

// TokenExpired reports whether the issued token has lapsed.
func (s *Subscription) TokenExpired(now time.Time) bool {
	return s.TokenExpiresAt != nil && s.TokenExpiresAt.Before(now)
}

// IntegrationSettings is the denormalized per-subscription record consumed by
// the invoicing integration. Its token fields are a copy of the ones on the
// Subscription and must never diverge from them.
type IntegrationSettings struct {
	SubscriptionID int64
	Token          *string
	TokenExpiresAt *time.Time
	TaxID          string
	Province       string
	UpdatedAt      time.Time
}
