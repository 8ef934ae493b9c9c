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

package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/subgate/subgate/internal/identity"
)

// UserRepository implements identity.UserRepository in memory
type UserRepository struct {
	mu          sync.RWMutex
	nextID      int64
	users       map[int64]*identity.User
	credentials map[int64]*identity.Credentials
}

// NewUserRepository creates a new in-memory user repository
func NewUserRepository() *UserRepository {
	return &UserRepository{
		nextID:      1,
		users:       make(map[int64]*identity.User),
		credentials: make(map[int64]*identity.Credentials),
	}
}

func (r *UserRepository) Create(_ context.Context, user *identity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, u := range r.users {
		if u.Email == user.Email && u.DeletedAt == nil {
			return identity.ErrUserAlreadyExists
		}
	}

	user.ID = r.nextID
	r.nextID++
	user.CreatedAt = time.Now()

	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *UserRepository) AddCredentials(_ context.Context, creds *identity.Credentials) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[creds.UserID]; !ok {
		return identity.ErrUserNotFound
	}
	cp := *creds
	cp.UpdatedAt = time.Now()
	r.credentials[creds.UserID] = &cp
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id int64) (*identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok || user.DeletedAt != nil {
		return nil, identity.ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (*identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.Email == email && user.DeletedAt == nil {
			cp := *user
			return &cp, nil
		}
	}
	return nil, identity.ErrUserNotFound
}

func (r *UserRepository) ListBySubscription(_ context.Context, subscriptionID int64) ([]*identity.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*identity.User
	for _, user := range r.users {
		if user.SubscriptionID != nil && *user.SubscriptionID == subscriptionID && user.DeletedAt == nil {
			cp := *user
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *UserRepository) Update(_ context.Context, user *identity.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return identity.ErrUserNotFound
	}
	now := time.Now()
	cp := *user
	cp.UpdatedAt = now
	r.users[user.ID] = &cp
	return nil
}

func (r *UserRepository) UpdateLockout(_ context.Context, userID int64, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	user.FailedLoginAttempts = failedAttempts
	user.LockedUntil = lockedUntil
	return nil
}

func (r *UserRepository) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return identity.ErrUserNotFound
	}
	now := time.Now()
	user.DeletedAt = &now
	return nil
}

func (r *UserRepository) GetCredentials(_ context.Context, userID int64) (*identity.Credentials, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	creds, ok := r.credentials[userID]
	if !ok {
		return nil, identity.ErrUserNotFound
	}
	cp := *creds
	return &cp, nil
}

func (r *UserRepository) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	creds, ok := r.credentials[userID]
	if !ok {
		return identity.ErrUserNotFound
	}
	creds.PasswordHash = passwordHash
	creds.UpdatedAt = time.Now()
	return nil
}
