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

package gate

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/subgate/subgate/internal/observability/logger"
	"github.com/subgate/subgate/internal/subscription"
)

// Stable deny reasons. Machine-checkable; the first matching condition wins
// and the check order is part of the contract.
const (
	ReasonNoRole              = "no role found"
	ReasonMissingSubscription = "missing or invalid subscription information"
	ReasonMissingUser         = "missing or invalid user information"
	ReasonNotFound            = "subscription not found"
	ReasonBlocked             = "subscription blocked"
	ReasonInactive            = "subscription inactive"
	ReasonExpired             = "subscription expired"
	ReasonTokenExpired        = "token expired"
	ReasonLookupFailed        = "subscription lookup failed"
)

// User-facing notification messages per deny reason.
var denyMessages = map[string]string{
	ReasonNotFound:     "Subscription not found! Contact admin.",
	ReasonBlocked:      "Your subscription has been blocked by admin!",
	ReasonInactive:     "Your subscription is inactive! Contact admin.",
	ReasonExpired:      "Your subscription has expired! Please renew.",
	ReasonTokenExpired: "Your subscription token has expired! Contact admin.",
}

// DefaultAllowedPrefixes always bypass the gate: auth entry points, static
// assets and the realtime notification transport.
var DefaultAllowedPrefixes = []string{
	"/auth/login",
	"/auth/logout",
	"/auth/access-denied",
	"/static",
	"/assets",
	"/favicon",
	"/health",
	"/ws",
}

// Principal is the authenticated identity attached to a request. Claim
// values are carried as raw strings; the gate parses the numeric ones itself
// so a malformed claim becomes a denial, never a panic.
type Principal struct {
	Role           string
	SubscriptionID string
	UserID         string
}

// Decision is the ephemeral outcome of one evaluation.
type Decision struct {
	Allowed bool
	Reason  string
	// Message is the human-readable text pushed to the user's notification
	// channel on deny. Empty for claim-level denials where no user id is
	// known.
	Message string
	// UserID is the parsed numeric user id, set when known so the caller
	// can address the notification.
	UserID int64
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string, userID int64) Decision {
	return Decision{Reason: reason, Message: denyMessages[reason], UserID: userID}
}

// Store is the subset of the subscription repository the gate needs:
// a reader, plus a writer for the expired-window deactivation side effect.
type Store interface {
	GetByID(ctx context.Context, id int64) (*subscription.Subscription, error)
	Update(ctx context.Context, sub *subscription.Subscription) error
}

// Gate decides per request whether an authenticated session may proceed
// against the current subscription state.
type Gate struct {
	store    Store
	prefixes []string
	now      func() time.Time

	decisions metric.Int64Counter
}

// New creates a gate. Extra prefixes extend the default allow list.
func New(store Store, extraPrefixes ...string) *Gate {
	prefixes := make([]string, 0, len(DefaultAllowedPrefixes)+len(extraPrefixes))
	for _, p := range append(append([]string{}, DefaultAllowedPrefixes...), extraPrefixes...) {
		prefixes = append(prefixes, strings.ToLower(p))
	}

	meter := otel.Meter("subgate/gate")
	decisions, err := meter.Int64Counter("gate_decisions_total",
		metric.WithDescription("Access gate decisions by outcome reason"))
	if err != nil {
		slog.Error("failed to create gate decision counter", logger.Error(err))
	}

	return &Gate{
		store:     store,
		prefixes:  prefixes,
		now:       time.Now,
		decisions: decisions,
	}
}

// Evaluate applies the ordered policy checks. Check order is significant:
// role before subscription state, blocked before inactive before expired
// window before expired token. Never returns an error for malformed claims.
func (g *Gate) Evaluate(ctx context.Context, path string, principal *Principal) Decision {
	if g.pathAllowed(path) {
		return allow()
	}

	// Unauthenticated requests pass through; authentication itself is the
	// transport layer's concern.
	if principal == nil {
		return allow()
	}

	if principal.Role == "" {
		return g.record(ctx, deny(ReasonNoRole, 0))
	}

	if principal.Role == RolePlatformOperator {
		return allow()
	}

	subID, err := strconv.ParseInt(principal.SubscriptionID, 10, 64)
	if err != nil || subID <= 0 {
		return g.record(ctx, deny(ReasonMissingSubscription, 0))
	}

	userID, err := strconv.ParseInt(principal.UserID, 10, 64)
	if err != nil || userID <= 0 {
		return g.record(ctx, deny(ReasonMissingUser, 0))
	}

	sub, err := g.store.GetByID(ctx, subID)
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			return g.record(ctx, deny(ReasonNotFound, userID))
		}
		// Infrastructure failure: fail closed, with a reason operators can
		// tell apart from a genuine data state.
		slog.ErrorContext(ctx, "subscription lookup failed",
			logger.SubscriptionID(subID),
			logger.Error(err),
		)
		return g.record(ctx, deny(ReasonLookupFailed, userID))
	}

	if sub.Blocked {
		return g.record(ctx, deny(ReasonBlocked, userID))
	}

	if !sub.Active {
		return g.record(ctx, deny(ReasonInactive, userID))
	}

	now := g.now()

	if sub.WindowExpired(now) {
		// Persisted side effect of evaluation: the window has lapsed, so
		// the subscription is deactivated immediately rather than waiting
		// for the sweeper.
		sub.Active = false
		sub.UpdatedAt = &now
		if err := g.store.Update(ctx, sub); err != nil {
			slog.ErrorContext(ctx, "failed to deactivate expired subscription",
				logger.SubscriptionID(subID),
				logger.Error(err),
			)
		}
		return g.record(ctx, deny(ReasonExpired, userID))
	}

	// Token expiry alone is recoverable by regeneration; it denies but does
	// not deactivate.
	if sub.TokenExpired(now) {
		return g.record(ctx, deny(ReasonTokenExpired, userID))
	}

	return allow()
}

func (g *Gate) pathAllowed(path string) bool {
	p := strings.ToLower(path)
	for _, prefix := range g.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (g *Gate) record(ctx context.Context, d Decision) Decision {
	if g.decisions != nil {
		g.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", d.Reason)))
	}
	return d
}
