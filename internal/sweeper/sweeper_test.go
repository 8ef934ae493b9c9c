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

package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgate/subgate/internal/audit"
	"github.com/subgate/subgate/internal/gate"
	"github.com/subgate/subgate/internal/identity"
	"github.com/subgate/subgate/internal/notify"
	"github.com/subgate/subgate/internal/store/memory"
	"github.com/subgate/subgate/internal/subscription"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	if n.messages == nil {
		n.messages = make(map[string][]string)
	}
	n.messages[userID] = append(n.messages[userID], message)
	return nil
}

func seedSubscription(t *testing.T, repo *memory.SubscriptionRepository, tokenExpiry time.Time, active bool) *subscription.Subscription {
	t.Helper()

	tok := "signed-token"
	sub := &subscription.Subscription{
		CompanyName:    "Acme S.A.",
		TaxID:          "20-12345678-9",
		Active:         active,
		SecurityToken:  &tok,
		TokenExpiresAt: &tokenExpiry,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.Create(context.Background(), sub, &subscription.IntegrationSettings{
		Token:          sub.SecurityToken,
		TokenExpiresAt: sub.TokenExpiresAt,
		TaxID:          sub.TaxID,
	}))
	return sub
}

func seedUser(t *testing.T, repo *memory.UserRepository, subID int64) *identity.User {
	t.Helper()

	user := &identity.User{
		SubscriptionID: &subID,
		Email:          "user@acme.test",
		Role:           gate.RoleSubscriptionUser,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestSweepOnce_DeactivatesExpired(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	notifier := &recordingNotifier{}
	sw := New(subs, users, notifier, audit.NewSlogLogger(), time.Minute)

	expired := seedSubscription(t, subs, time.Now().Add(-time.Hour), true)
	fresh := seedSubscription(t, subs, time.Now().Add(time.Hour), true)
	seedUser(t, users, expired.ID)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := subs.GetByID(context.Background(), expired.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	require.NotNil(t, got.Remarks)
	assert.Equal(t, "Token automatically expired", *got.Remarks)
	assert.NotNil(t, got.UpdatedAt)

	untouched, err := subs.GetByID(context.Background(), fresh.ID)
	require.NoError(t, err)
	assert.True(t, untouched.Active)
	assert.Nil(t, untouched.Remarks)
}

func TestSweepOnce_NotifiesSubscriptionUsers(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	notifier := &recordingNotifier{}
	sw := New(subs, users, notifier, audit.NewSlogLogger(), time.Minute)

	expired := seedSubscription(t, subs, time.Now().Add(-time.Minute), true)
	seedUser(t, users, expired.ID)

	_, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)

	require.Len(t, notifier.messages, 1)
	for _, msgs := range notifier.messages {
		require.Len(t, msgs, 1)
		assert.Equal(t, "Your subscription token has expired! Contact admin.", msgs[0])
	}
}

func TestSweepOnce_NotificationFailureDoesNotAbort(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	notifier := &recordingNotifier{err: errors.New("connection reset")}
	sw := New(subs, users, notifier, audit.NewSlogLogger(), time.Minute)

	expired := seedSubscription(t, subs, time.Now().Add(-time.Minute), true)
	seedUser(t, users, expired.ID)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := subs.GetByID(context.Background(), expired.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}

func TestSweepOnce_Idempotent(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	sw := New(subs, users, notify.Nop{}, audit.NewSlogLogger(), time.Minute)

	seedSubscription(t, subs, time.Now().Add(-time.Hour), true)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// An inactive subscription is out of the sweep's query set, so a
	// second pass is a no-op.
	n, err = sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepOnce_IgnoresInactive(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	sw := New(subs, users, notify.Nop{}, audit.NewSlogLogger(), time.Minute)

	seedSubscription(t, subs, time.Now().Add(-time.Hour), false)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepOnce_NilInstruments(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	sw := New(subs, users, notify.Nop{}, audit.NewSlogLogger(), time.Minute)
	sw.swept = nil
	sw.duration = nil

	seedSubscription(t, subs, time.Now().Add(-time.Hour), true)

	n, err := sw.SweepOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRun_SweepsImmediately(t *testing.T) {
	subs := memory.NewSubscriptionRepository()
	users := memory.NewUserRepository()
	sw := New(subs, users, notify.Nop{}, audit.NewSlogLogger(), time.Hour)

	expired := seedSubscription(t, subs, time.Now().Add(-time.Hour), true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	// The first sweep happens before the first tick.
	assert.Eventually(t, func() bool {
		got, err := subs.GetByID(context.Background(), expired.ID)
		return err == nil && !got.Active
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on context cancellation")
	}
}
