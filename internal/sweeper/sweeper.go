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

// Package sweeper deactivates subscriptions whose security token has
// lapsed. It runs on a fixed period and performs the first sweep
// immediately on start, so a restart never extends an expired
// subscription's access.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/subgate/subgate/internal/audit"
	"github.com/subgate/subgate/internal/identity"
	"github.com/subgate/subgate/internal/notify"
	"github.com/subgate/subgate/internal/observability/logger"
	"github.com/subgate/subgate/internal/subscription"
)

const expiredRemark = "Token automatically expired"

const expiredMessage = "Your subscription token has expired! Contact admin."

// Sweeper periodically deactivates token-expired subscriptions.
type Sweeper struct {
	repo        subscription.Repository
	users       identity.UserRepository
	notifier    notify.Notifier
	auditLogger audit.Logger
	period      time.Duration
	now         func() time.Time

	swept    metric.Int64Counter
	duration metric.Float64Histogram
}

// New creates a sweeper. period must be positive.
func New(
	repo subscription.Repository,
	users identity.UserRepository,
	notifier notify.Notifier,
	auditLogger audit.Logger,
	period time.Duration,
) *Sweeper {
	meter := otel.Meter("subgate/sweeper")
	swept, err := meter.Int64Counter("sweeper_deactivated_total",
		metric.WithDescription("Subscriptions deactivated by the expiry sweeper"))
	if err != nil {
		slog.Error("failed to create sweeper deactivation counter", logger.Error(err))
	}
	duration, err := meter.Float64Histogram("sweeper_sweep_duration_seconds",
		metric.WithDescription("Duration of one expiry sweep"),
		metric.WithUnit("s"))
	if err != nil {
		slog.Error("failed to create sweeper duration histogram", logger.Error(err))
	}

	return &Sweeper{
		repo:        repo,
		users:       users,
		notifier:    notifier,
		auditLogger: auditLogger,
		period:      period,
		now:         time.Now,
		swept:       swept,
		duration:    duration,
	}
}

// Run sweeps immediately, then once per period until the context is done.
// Individual sweep failures are logged and the loop keeps going.
func (s *Sweeper) Run(ctx context.Context) {
	if n, err := s.SweepOnce(ctx); err != nil {
		slog.ErrorContext(ctx, "expiry sweep failed", "error", err)
	} else if n > 0 {
		slog.InfoContext(ctx, "expiry sweep complete", "deactivated", n)
	}

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				slog.ErrorContext(ctx, "expiry sweep failed", "error", err)
			} else if n > 0 {
				slog.InfoContext(ctx, "expiry sweep complete", "deactivated", n)
			}
		}
	}
}

// SweepOnce collects every active subscription whose token expiry is at or
// before now, marks the batch inactive and commits it in one write. The
// whole batch either lands or none of it does, so a retried sweep picks up
// exactly the leftovers. Returns the number of subscriptions deactivated.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := s.now()
	started := time.Now()
	defer func() {
		if s.duration != nil {
			s.duration.Record(ctx, time.Since(started).Seconds())
		}
	}()

	expired, err := s.repo.ListTokenExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list token-expired subscriptions: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	remark := expiredRemark
	for _, sub := range expired {
		at := now
		sub.Active = false
		sub.Remarks = &remark
		sub.UpdatedAt = &at
	}

	// Notifications are best effort and go out before the commit; a user
	// who misses one still gets denied at the gate with the same message.
	for _, sub := range expired {
		s.notifyUsers(ctx, sub.ID)
	}

	if err := s.repo.DeactivateAll(ctx, expired); err != nil {
		return 0, fmt.Errorf("failed to deactivate subscriptions: %w", err)
	}

	for _, sub := range expired {
		s.auditLogger.Log(ctx, audit.Event{
			Type:           audit.TypeSubscriptionDeactivated,
			SubscriptionID: strconv.FormatInt(sub.ID, 10),
			Resource:       "subscription",
			Metadata:       map[string]any{audit.AttrReason: "token_expired"},
		})
	}
	if s.swept != nil {
		s.swept.Add(ctx, int64(len(expired)))
	}

	return len(expired), nil
}

func (s *Sweeper) notifyUsers(ctx context.Context, subscriptionID int64) {
	users, err := s.users.ListBySubscription(ctx, subscriptionID)
	if err != nil {
		slog.WarnContext(ctx, "sweeper user fan-out failed",
			"subscription_id", subscriptionID, "error", err)
		return
	}
	for _, u := range users {
		if err := s.notifier.Notify(ctx, strconv.FormatInt(u.ID, 10), expiredMessage); err != nil {
			slog.WarnContext(ctx, "sweeper notification failed",
				"subscription_id", subscriptionID, "user_id", u.ID, "error", err)
		}
	}
}
