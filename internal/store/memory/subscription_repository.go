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

	"github.com/subgate/subgate/internal/subscription"
)

// SubscriptionRepository implements subscription.Repository and
// subscription.SettingsRepository in memory. Both record and its
// denormalized settings copy live under one lock, so the dual writes are
// atomic by construction.
type SubscriptionRepository struct {
	mu       sync.RWMutex
	nextID   int64
	subs     map[int64]*subscription.Subscription
	settings map[int64]*subscription.IntegrationSettings
}

// NewSubscriptionRepository creates a new in-memory subscription repository
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{
		nextID:   1,
		subs:     make(map[int64]*subscription.Subscription),
		settings: make(map[int64]*subscription.IntegrationSettings),
	}
}

func (r *SubscriptionRepository) Create(_ context.Context, sub *subscription.Subscription, settings *subscription.IntegrationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.ID = r.nextID
	r.nextID++
	settings.SubscriptionID = sub.ID

	subCp := *sub
	setCp := *settings
	r.subs[sub.ID] = &subCp
	r.settings[sub.ID] = &setCp
	return nil
}

func (r *SubscriptionRepository) GetByID(_ context.Context, id int64) (*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil, subscription.ErrSubscriptionNotFound
	}
	cp := *sub
	return &cp, nil
}

func (r *SubscriptionRepository) Update(_ context.Context, sub *subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	cp := *sub
	r.subs[sub.ID] = &cp
	return nil
}

func (r *SubscriptionRepository) List(_ context.Context, limit, offset int) ([]*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]int64, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []*subscription.Subscription
	for i, id := range ids {
		if i < offset {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		cp := *r.subs[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (r *SubscriptionRepository) ListTokenExpired(_ context.Context, now time.Time) ([]*subscription.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*subscription.Subscription
	for _, sub := range r.subs {
		if sub.Active && sub.TokenExpired(now) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *SubscriptionRepository) UpdateWithSettings(_ context.Context, sub *subscription.Subscription, settings *subscription.IntegrationSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub.ID]; !ok {
		return subscription.ErrSubscriptionNotFound
	}
	subCp := *sub
	setCp := *settings
	r.subs[sub.ID] = &subCp
	r.settings[sub.ID] = &setCp
	return nil
}

func (r *SubscriptionRepository) DeactivateAll(_ context.Context, subs []*subscription.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range subs {
		if _, ok := r.subs[sub.ID]; !ok {
			return subscription.ErrSubscriptionNotFound
		}
	}
	for _, sub := range subs {
		cp := *sub
		r.subs[sub.ID] = &cp
	}
	return nil
}

func (r *SubscriptionRepository) GetBySubscriptionID(_ context.Context, subscriptionID int64) (*subscription.IntegrationSettings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.settings[subscriptionID]
	if !ok {
		return nil, subscription.ErrSettingsNotFound
	}
	cp := *set
	return &cp, nil
}
