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

//go:build integration
// +build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/subgate/subgate/internal/subscription"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	cfg := Config{
		Host:         "localhost",
		Port:         "5432",
		User:         "subgate",
		Password:     "subgate_dev_password",
		Database:     "subgate",
		SSLMode:      "disable",
		MaxOpenConns: 5,
		MaxIdleConns: 5,
	}

	db, err := New(ctx, cfg)
	if err != nil {
		t.Skipf("Skipping integration test: failed to connect to database: %v", err)
	}
	t.Cleanup(db.Close)

	if err := db.Migrate(ctx, InitialSchema); err != nil {
		t.Fatalf("failed to apply schema: %v", err)
	}
	return db
}

// TestPurpose: Validates that the subscription row and its denormalized
// integration-settings copy are written atomically and never observed
// diverging.
// Scope: Database Integration Test
// Expected: After create, block and rotate, the token and expiry on both
// copies are identical (including both being NULL after a block).
func TestSubscriptionRepository_DualWriteConsistency(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewSubscriptionRepository(db)

	tok := "integration-token"
	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Microsecond)
	sub := &subscription.Subscription{
		CompanyName:    "Acme S.A.",
		TaxID:          "20-12345678-9",
		Province:       "Buenos Aires",
		Active:         true,
		SecurityToken:  &tok,
		TokenExpiresAt: &expiry,
		CreatedAt:      time.Now().UTC(),
	}

	err := repo.Create(ctx, sub, &subscription.IntegrationSettings{
		Token:          sub.SecurityToken,
		TokenExpiresAt: sub.TokenExpiresAt,
		TaxID:          sub.TaxID,
		Province:       sub.Province,
		UpdatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to create subscription: %v", err)
	}
	defer db.pool.Exec(ctx, "DELETE FROM subscriptions WHERE id = $1", sub.ID)

	settings, err := repo.GetBySubscriptionID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if settings.Token == nil || *settings.Token != tok {
		t.Errorf("settings token diverged: got %v, want %s", settings.Token, tok)
	}

	// Block: both token copies go to NULL in one transaction.
	now := time.Now().UTC()
	sub.Blocked = true
	sub.SecurityToken = nil
	sub.TokenExpiresAt = nil
	sub.UpdatedAt = &now

	err = repo.UpdateWithSettings(ctx, sub, &subscription.IntegrationSettings{
		SubscriptionID: sub.ID,
		TaxID:          sub.TaxID,
		Province:       sub.Province,
		UpdatedAt:      now,
	})
	if err != nil {
		t.Fatalf("failed to block subscription: %v", err)
	}

	got, err := repo.GetByID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("failed to get subscription: %v", err)
	}
	if got.SecurityToken != nil {
		t.Errorf("subscription token not revoked: %v", *got.SecurityToken)
	}

	settings, err = repo.GetBySubscriptionID(ctx, sub.ID)
	if err != nil {
		t.Fatalf("failed to get settings: %v", err)
	}
	if settings.Token != nil {
		t.Errorf("settings token not revoked: %v", *settings.Token)
	}
}

// TestPurpose: Validates that the sweeper's query set only contains
// active subscriptions with lapsed tokens and that the batch deactivation
// commits atomically.
func TestSubscriptionRepository_SweepBatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	repo := NewSubscriptionRepository(db)

	mk := func(expiry time.Time, active bool) *subscription.Subscription {
		tok := "tok"
		e := expiry.UTC().Truncate(time.Microsecond)
		sub := &subscription.Subscription{
			CompanyName:    "Sweep Co",
			TaxID:          "20-1",
			Active:         active,
			SecurityToken:  &tok,
			TokenExpiresAt: &e,
			CreatedAt:      time.Now().UTC(),
		}
		if err := repo.Create(ctx, sub, &subscription.IntegrationSettings{
			Token: &tok, TokenExpiresAt: &e, TaxID: sub.TaxID, UpdatedAt: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("failed to create subscription: %v", err)
		}
		t.Cleanup(func() {
			db.pool.Exec(ctx, "DELETE FROM subscriptions WHERE id = $1", sub.ID)
		})
		return sub
	}

	expired := mk(time.Now().Add(-time.Hour), true)
	mk(time.Now().Add(time.Hour), true)   // fresh
	mk(time.Now().Add(-time.Hour), false) // already inactive

	batch, err := repo.ListTokenExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("failed to list expired: %v", err)
	}

	found := false
	for _, sub := range batch {
		if sub.ID == expired.ID {
			found = true
		}
		if !sub.Active {
			t.Errorf("inactive subscription %d in sweep set", sub.ID)
		}
	}
	if !found {
		t.Fatalf("expired subscription %d missing from sweep set", expired.ID)
	}

	now := time.Now().UTC()
	remark := "Token automatically expired"
	for _, sub := range batch {
		sub.Active = false
		sub.Remarks = &remark
		sub.UpdatedAt = &now
	}
	if err := repo.DeactivateAll(ctx, batch); err != nil {
		t.Fatalf("failed to deactivate batch: %v", err)
	}

	got, err := repo.GetByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("failed to get subscription: %v", err)
	}
	if got.Active {
		t.Error("subscription still active after sweep")
	}
	if got.Remarks == nil || *got.Remarks != remark {
		t.Errorf("remark not set: %v", got.Remarks)
	}
}
