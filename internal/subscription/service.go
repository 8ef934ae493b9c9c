// Copyright 2026 The SubGate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package subscription

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/subgate/subgate/internal/audit"
)

// TokenIssuer produces the signed credential for a subscription.
// Implemented by token.Issuer.
type TokenIssuer interface {
	Issue(sub *Subscription) (token string, expiry time.Time, err error)
}

// Service owns the subscription lifecycle. Every operation that issues,
// rotates or revokes a token writes the subscription record and the
// denormalized integration settings through one repository call, so the two
// copies can never be observed diverging.
type Service struct {
	repo         Repository
	settingsRepo SettingsRepository
	issuer       TokenIssuer
	auditLogger  audit.Logger
}

// NewService creates a new subscription service
func NewService(repo Repository, settingsRepo SettingsRepository, issuer TokenIssuer, auditLogger audit.Logger) *Service {
	return &Service{
		repo:         repo,
		settingsRepo: settingsRepo,
		issuer:       issuer,
		auditLogger:  auditLogger,
	}
}

// CreateParams carries the admin-supplied fields for a new subscription.
type CreateParams struct {
	CompanyName  string
	BusinessName string
	TaxID        string
	Province     string
	Address      string
	ContactEmail string
	StartsAt     *time.Time
	EndsAt       *time.Time
	ActorID      *int64
}

// Create provisions a subscription: active, unblocked, token issued and
// written to both copies. If issuance fails nothing is persisted.
func (s *Service) Create(ctx context.Context, params CreateParams) (*Subscription, error) {
	if params.CompanyName == "" {
		return nil, fmt.Errorf("company name is required")
	}
	if params.TaxID == "" {
		return nil, fmt.Errorf("tax id is required")
	}

	now := time.Now()
	sub := &Subscription{
		CompanyName:  params.CompanyName,
		BusinessName: params.BusinessName,
		TaxID:        params.TaxID,
		Province:     params.Province,
		Address:      params.Address,
		ContactEmail: params.ContactEmail,
		Active:       true,
		StartsAt:     params.StartsAt,
		EndsAt:       params.EndsAt,
		CreatedAt:    now,
		CreatedBy:    params.ActorID,
	}

	tok, expiry, err := s.issuer.Issue(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}
	sub.SecurityToken = &tok
	sub.TokenExpiresAt = &expiry

	if err := s.repo.Create(ctx, sub, s.settingsFor(sub, now)); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeSubscriptionCreated,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(params.ActorID),
		Resource:       "subscription",
		Metadata:       map[string]any{"company_name": sub.CompanyName},
	})

	return sub, nil
}

// Get retrieves a subscription by ID
func (s *Service) Get(ctx context.Context, id int64) (*Subscription, error) {
	return s.repo.GetByID(ctx, id)
}

// List lists subscriptions with pagination
func (s *Service) List(ctx context.Context, limit, offset int) ([]*Subscription, error) {
	return s.repo.List(ctx, limit, offset)
}

// UpdateParams carries editable profile fields. Changing any of them
// invalidates the issued token, so Update always re-issues.
type UpdateParams struct {
	CompanyName  string
	BusinessName string
	TaxID        string
	Province     string
	Address      string
	ContactEmail string
	StartsAt     *time.Time
	EndsAt       *time.Time
	ActorID      *int64
}

// Update edits profile fields and re-propagates a fresh token to the record
// and the settings copy in one atomic write.
func (s *Service) Update(ctx context.Context, id int64, params UpdateParams) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	sub.CompanyName = params.CompanyName
	sub.BusinessName = params.BusinessName
	sub.TaxID = params.TaxID
	sub.Province = params.Province
	sub.Address = params.Address
	sub.ContactEmail = params.ContactEmail
	sub.StartsAt = params.StartsAt
	sub.EndsAt = params.EndsAt

	now := time.Now()
	sub.UpdatedAt = &now
	sub.UpdatedBy = params.ActorID

	if !sub.Blocked {
		tok, expiry, err := s.issuer.Issue(sub)
		if err != nil {
			return nil, fmt.Errorf("failed to issue token: %w", err)
		}
		sub.SecurityToken = &tok
		sub.TokenExpiresAt = &expiry
	}

	if err := s.repo.UpdateWithSettings(ctx, sub, s.settingsFor(sub, now)); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeSubscriptionUpdated,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(params.ActorID),
		Resource:       "subscription",
	})

	return sub, nil
}

// Block suspends a subscription and revokes its token in both copies.
func (s *Service) Block(ctx context.Context, id int64, reason string, actorID *int64) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	sub.Blocked = true
	sub.BlockReason = &reason
	sub.SecurityToken = nil
	sub.TokenExpiresAt = nil
	sub.UpdatedAt = &now
	sub.UpdatedBy = actorID

	if err := s.repo.UpdateWithSettings(ctx, sub, s.settingsFor(sub, now)); err != nil {
		return nil, fmt.Errorf("failed to block subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeSubscriptionBlocked,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(actorID),
		Resource:       "subscription",
		Metadata:       map[string]any{"reason": reason},
	})
	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeTokenRevoked,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(actorID),
		Resource:       "security_token",
	})

	return sub, nil
}

// Unblock lifts a block and issues a fresh token into both copies.
func (s *Service) Unblock(ctx context.Context, id int64, actorID *int64) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	tok, expiry, err := s.issuer.Issue(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := time.Now()
	sub.Blocked = false
	sub.BlockReason = nil
	sub.SecurityToken = &tok
	sub.TokenExpiresAt = &expiry
	sub.UpdatedAt = &now
	sub.UpdatedBy = actorID

	if err := s.repo.UpdateWithSettings(ctx, sub, s.settingsFor(sub, now)); err != nil {
		return nil, fmt.Errorf("failed to unblock subscription: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeSubscriptionUnblocked,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(actorID),
		Resource:       "subscription",
	})
	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeTokenIssued,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(actorID),
		Resource:       "security_token",
	})

	return sub, nil
}

// RegenerateToken forces a token rotation. Recovers a subscription whose
// token expired before its validity window did.
func (s *Service) RegenerateToken(ctx context.Context, id int64, actorID *int64) (*Subscription, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if sub.Blocked {
		return nil, fmt.Errorf("cannot issue token for blocked subscription %d", id)
	}

	tok, expiry, err := s.issuer.Issue(sub)
	if err != nil {
		return nil, fmt.Errorf("failed to issue token: %w", err)
	}

	now := time.Now()
	sub.SecurityToken = &tok
	sub.TokenExpiresAt = &expiry
	sub.UpdatedAt = &now
	sub.UpdatedBy = actorID

	if err := s.repo.UpdateWithSettings(ctx, sub, s.settingsFor(sub, now)); err != nil {
		return nil, fmt.Errorf("failed to rotate token: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:           audit.TypeTokenIssued,
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		ActorID:        actorString(actorID),
		Resource:       "security_token",
	})

	return sub, nil
}

// Settings returns the denormalized integration settings copy.
func (s *Service) Settings(ctx context.Context, id int64) (*IntegrationSettings, error) {
	return s.settingsRepo.GetBySubscriptionID(ctx, id)
}

func (s *Service) settingsFor(sub *Subscription, now time.Time) *IntegrationSettings {
	return &IntegrationSettings{
		SubscriptionID: sub.ID,
		Token:          sub.SecurityToken,
		TokenExpiresAt: sub.TokenExpiresAt,
		TaxID:          sub.TaxID,
		Province:       sub.Province,
		UpdatedAt:      now,
	}
}

func actorString(id *int64) string {
	if id == nil {
		return ""
	}
	return strconv.FormatInt(*id, 10)
}
