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

package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/subgate/subgate/internal/audit"
	"github.com/subgate/subgate/internal/gate"
	"github.com/subgate/subgate/internal/observability/logger"
)

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Log request start
			slog.InfoContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// SessionMiddleware resolves the session cookie into a principal on the
// request context. Requests without a valid session pass through
// unauthenticated; whether that is acceptable is the gate's decision.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessionID := h.getSessionFromCookie(r)
		if sessionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		sess, err := h.sessionService.Get(r.Context(), sessionID)
		if err != nil {
			h.clearSessionCookie(w)
			next.ServeHTTP(w, r)
			return
		}

		// Sliding idle window. A failed touch is not fatal to the request.
		if err := h.sessionService.Touch(r.Context(), sess); err != nil {
			slog.ErrorContext(r.Context(), "failed to touch session", logger.Error(err))
		}

		principal := &gate.Principal{
			Role:           sess.Role,
			SubscriptionID: sess.SubscriptionID,
			UserID:         sess.UserID,
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		ctx = context.WithValue(ctx, sessionIDKey, sess.ID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GateMiddleware evaluates every request against the access gate. On deny
// the session is destroyed, the cookie cleared, the user notified over the
// realtime channel and the request turned away.
func (h *Handler) GateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r.Context())

		decision := h.gate.Evaluate(r.Context(), r.URL.Path, principal)
		if decision.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		// Deny path: the session is dead from here on.
		if sessionID := GetSessionID(r.Context()); sessionID != "" {
			if err := h.sessionService.Destroy(r.Context(), sessionID); err != nil {
				slog.ErrorContext(r.Context(), "failed to destroy session", logger.Error(err))
			}
		}
		h.clearSessionCookie(w)

		if decision.Message != "" && decision.UserID != 0 {
			userID := strconv.FormatInt(decision.UserID, 10)
			if err := h.notifier.Notify(r.Context(), userID, decision.Message); err != nil {
				slog.WarnContext(r.Context(), "failed to deliver deny notification",
					"user_id", userID, logger.Error(err))
			}
		}

		event := audit.Event{
			Type:      audit.TypeAccessDenied,
			Resource:  r.URL.Path,
			IPAddress: getIPAddress(r),
			UserAgent: r.UserAgent(),
			Metadata:  map[string]any{audit.AttrReason: decision.Reason},
		}
		if principal != nil {
			event.SubscriptionID = principal.SubscriptionID
			event.ActorID = principal.UserID
		}
		h.auditLogger.Log(r.Context(), event)

		if wantsJSON(r) {
			respondError(w, http.StatusForbidden, decision.Reason)
			return
		}
		// Browsers land back on the login page with no detail attached;
		// whatever the user should know went out on the notification channel.
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
	})
}

// RequirePlatformOperator guards the admin API.
func RequirePlatformOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := GetPrincipal(r.Context())
		if principal == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		if principal.Role != gate.RolePlatformOperator {
			respondError(w, http.StatusForbidden, "platform operator role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuthenticated rejects requests without a principal.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetPrincipal(r.Context()) == nil {
			respondError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func wantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
