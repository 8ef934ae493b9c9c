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

package session_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgate/subgate/internal/session"
	"github.com/subgate/subgate/internal/store/memory"
)

func newTestService(lifetime, idle time.Duration) *session.Service {
	return session.NewService(memory.NewSessionRepository(), lifetime, idle)
}

func TestService_CreateAndGet(t *testing.T) {
	svc := newTestService(time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "42", "7", "subscription_user", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "42", got.UserID)
	assert.Equal(t, "7", got.SubscriptionID)
	assert.Equal(t, "subscription_user", got.Role)
	assert.Equal(t, "10.0.0.1", got.IPAddress)
}

func TestService_GetUnknownSession(t *testing.T) {
	svc := newTestService(time.Hour, 30*time.Minute)

	_, err := svc.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestService_ExpiredSessionIsDeleted(t *testing.T) {
	repo := memory.NewSessionRepository()
	svc := session.NewService(repo, time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "42", "7", "subscription_user", "", "")
	require.NoError(t, err)

	// Force past expiry.
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, repo.Update(ctx, sess))

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	// Second lookup should not find it at all.
	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestService_IdleSessionExpires(t *testing.T) {
	repo := memory.NewSessionRepository()
	svc := session.NewService(repo, time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "42", "7", "subscription_admin", "", "")
	require.NoError(t, err)

	sess.LastSeenAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Update(ctx, sess))

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionExpired)
}

func TestService_TouchKeepsSessionAlive(t *testing.T) {
	repo := memory.NewSessionRepository()
	svc := session.NewService(repo, time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "42", "7", "subscription_user", "", "")
	require.NoError(t, err)

	before := sess.LastSeenAt
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, svc.Touch(ctx, sess))

	got, err := svc.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.LastSeenAt.After(before))
}

func TestService_Destroy(t *testing.T) {
	svc := newTestService(time.Hour, 30*time.Minute)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "42", "7", "subscription_user", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Destroy(ctx, sess.ID))

	_, err = svc.Get(ctx, sess.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestService_DestroyAllForUser(t *testing.T) {
	svc := newTestService(time.Hour, 30*time.Minute)
	ctx := context.Background()

	s1, err := svc.Create(ctx, "42", "7", "subscription_user", "", "agent-a")
	require.NoError(t, err)
	s2, err := svc.Create(ctx, "42", "7", "subscription_user", "", "agent-b")
	require.NoError(t, err)
	other, err := svc.Create(ctx, "99", "7", "subscription_user", "", "")
	require.NoError(t, err)

	require.NoError(t, svc.DestroyAllForUser(ctx, "42"))

	_, err = svc.Get(ctx, s1.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
	_, err = svc.Get(ctx, s2.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)

	_, err = svc.Get(ctx, other.ID)
	assert.NoError(t, err)
}
