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

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/subgate/subgate/internal/subscription"
)

// SubscriptionRepository implements subscription.Repository and
// subscription.SettingsRepository. The dual writes run in one
// transaction so the subscription row and its settings copy commit or
// roll back together.
type SubscriptionRepository struct {
	db *DB
}

// NewSubscriptionRepository creates a new subscription repository
func NewSubscriptionRepository(db *DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `
	id, company_name, business_name, tax_id, province, address, contact_email,
	active, blocked, block_reason, starts_at, ends_at,
	security_token, token_expires_at,
	created_at, created_by, updated_at, updated_by, remarks`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(
		&sub.ID, &sub.CompanyName, &sub.BusinessName, &sub.TaxID, &sub.Province,
		&sub.Address, &sub.ContactEmail,
		&sub.Active, &sub.Blocked, &sub.BlockReason, &sub.StartsAt, &sub.EndsAt,
		&sub.SecurityToken, &sub.TokenExpiresAt,
		&sub.CreatedAt, &sub.CreatedBy, &sub.UpdatedAt, &sub.UpdatedBy, &sub.Remarks,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscription.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// Create inserts the subscription row and its settings copy in one
// transaction, assigning sub.ID.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *subscription.Subscription, settings *subscription.IntegrationSettings) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO subscriptions (
			company_name, business_name, tax_id, province, address, contact_email,
			active, blocked, block_reason, starts_at, ends_at,
			security_token, token_expires_at,
			created_at, created_by, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id
	`,
		sub.CompanyName, sub.BusinessName, sub.TaxID, sub.Province, sub.Address, sub.ContactEmail,
		sub.Active, sub.Blocked, sub.BlockReason, sub.StartsAt, sub.EndsAt,
		sub.SecurityToken, sub.TokenExpiresAt,
		sub.CreatedAt, sub.CreatedBy, sub.Remarks,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}

	settings.SubscriptionID = sub.ID
	if err := upsertSettings(ctx, tx, settings); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit subscription: %w", err)
	}
	return nil
}

// GetByID retrieves a subscription by ID
func (r *SubscriptionRepository) GetByID(ctx context.Context, id int64) (*subscription.Subscription, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE id = $1
	`, id)
	return scanSubscription(row)
}

// Update updates the subscription row only. Token-bearing mutations must
// use UpdateWithSettings.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *subscription.Subscription) error {
	result, err := r.db.pool.Exec(ctx, updateSubscriptionSQL, updateSubscriptionArgs(sub)...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}
	return nil
}

const updateSubscriptionSQL = `
	UPDATE subscriptions SET
		company_name = $2,
		business_name = $3,
		tax_id = $4,
		province = $5,
		address = $6,
		contact_email = $7,
		active = $8,
		blocked = $9,
		block_reason = $10,
		starts_at = $11,
		ends_at = $12,
		security_token = $13,
		token_expires_at = $14,
		updated_at = $15,
		updated_by = $16,
		remarks = $17
	WHERE id = $1`

func updateSubscriptionArgs(sub *subscription.Subscription) []any {
	return []any{
		sub.ID,
		sub.CompanyName, sub.BusinessName, sub.TaxID, sub.Province,
		sub.Address, sub.ContactEmail,
		sub.Active, sub.Blocked, sub.BlockReason, sub.StartsAt, sub.EndsAt,
		sub.SecurityToken, sub.TokenExpiresAt,
		sub.UpdatedAt, sub.UpdatedBy, sub.Remarks,
	}
}

// List lists subscriptions with pagination
func (r *SubscriptionRepository) List(ctx context.Context, limit, offset int) ([]*subscription.Subscription, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		ORDER BY id
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// ListTokenExpired returns active subscriptions whose token expiry is at
// or before now.
func (r *SubscriptionRepository) ListTokenExpired(ctx context.Context, now time.Time) ([]*subscription.Subscription, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE active AND token_expires_at IS NOT NULL AND token_expires_at <= $1
		ORDER BY id
	`, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list token-expired subscriptions: %w", err)
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

func collectSubscriptions(rows pgx.Rows) ([]*subscription.Subscription, error) {
	var subs []*subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateWithSettings writes the subscription row and its settings copy in
// one transaction.
func (r *SubscriptionRepository) UpdateWithSettings(ctx context.Context, sub *subscription.Subscription, settings *subscription.IntegrationSettings) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, updateSubscriptionSQL, updateSubscriptionArgs(sub)...)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return subscription.ErrSubscriptionNotFound
	}

	if err := upsertSettings(ctx, tx, settings); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit subscription update: %w", err)
	}
	return nil
}

// DeactivateAll persists the sweeper's batch in a single transaction.
func (r *SubscriptionRepository) DeactivateAll(ctx context.Context, subs []*subscription.Subscription) error {
	if len(subs) == 0 {
		return nil
	}

	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, sub := range subs {
		result, err := tx.Exec(ctx, `
			UPDATE subscriptions SET
				active = $2,
				updated_at = $3,
				remarks = $4
			WHERE id = $1
		`, sub.ID, sub.Active, sub.UpdatedAt, sub.Remarks)
		if err != nil {
			return fmt.Errorf("failed to deactivate subscription %d: %w", sub.ID, err)
		}
		if result.RowsAffected() == 0 {
			return subscription.ErrSubscriptionNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit deactivation batch: %w", err)
	}
	return nil
}

// GetBySubscriptionID retrieves the denormalized integration settings.
func (r *SubscriptionRepository) GetBySubscriptionID(ctx context.Context, subscriptionID int64) (*subscription.IntegrationSettings, error) {
	var set subscription.IntegrationSettings
	err := r.db.pool.QueryRow(ctx, `
		SELECT subscription_id, token, token_expires_at, tax_id, province, updated_at
		FROM subscription_settings
		WHERE subscription_id = $1
	`, subscriptionID).Scan(
		&set.SubscriptionID, &set.Token, &set.TokenExpiresAt,
		&set.TaxID, &set.Province, &set.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscription.ErrSettingsNotFound
		}
		return nil, fmt.Errorf("failed to get integration settings: %w", err)
	}
	return &set, nil
}

func upsertSettings(ctx context.Context, tx pgx.Tx, settings *subscription.IntegrationSettings) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO subscription_settings (subscription_id, token, token_expires_at, tax_id, province, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (subscription_id) DO UPDATE SET
			token = EXCLUDED.token,
			token_expires_at = EXCLUDED.token_expires_at,
			tax_id = EXCLUDED.tax_id,
			province = EXCLUDED.province,
			updated_at = EXCLUDED.updated_at
	`,
		settings.SubscriptionID, settings.Token, settings.TokenExpiresAt,
		settings.TaxID, settings.Province, settings.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert integration settings: %w", err)
	}
	return nil
}
