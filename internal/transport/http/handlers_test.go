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

package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgate/subgate/internal/audit"
	"github.com/subgate/subgate/internal/gate"
	"github.com/subgate/subgate/internal/identity"
	"github.com/subgate/subgate/internal/notify"
	"github.com/subgate/subgate/internal/session"
	"github.com/subgate/subgate/internal/store/memory"
	"github.com/subgate/subgate/internal/subscription"
	"github.com/subgate/subgate/internal/token"
	transport "github.com/subgate/subgate/internal/transport/http"
)

const cookieName = "subgate_session"

type testEnv struct {
	router        *chi.Mux
	identity      *identity.Service
	subscriptions *subscription.Service
	subs          *memory.SubscriptionRepository
	notes         *recordingNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	subRepo := memory.NewSubscriptionRepository()
	userRepo := memory.NewUserRepository()
	sessionRepo := memory.NewSessionRepository()

	hasher := identity.NewPasswordHasher(64*1024, 1, 4, 16, 32)
	auditLogger := audit.NewSlogLogger()

	identityService := identity.NewService(userRepo, hasher, auditLogger, 3, 15*time.Minute)
	sessionService := session.NewService(sessionRepo, 24*time.Hour, 30*time.Minute)

	issuer, err := token.NewIssuer(token.Config{
		SigningKey: strings.Repeat("k", 32),
		Issuer:     "subgate",
		Audience:   "invoicing-integration",
		DefaultTTL: 365 * 24 * time.Hour,
	})
	require.NoError(t, err)

	subscriptionService := subscription.NewService(subRepo, subRepo, issuer, auditLogger)
	hub := notify.NewHub()
	notes := &recordingNotifier{}

	handler := transport.NewHandler(
		identityService,
		sessionService,
		subscriptionService,
		gate.New(subRepo),
		hub,
		notes,
		auditLogger,
		transport.SessionConfig{
			CookieName:     cookieName,
			CookiePath:     "/",
			CookieHTTPOnly: true,
			CookieSameSite: http.SameSiteLaxMode,
		},
	)

	return &testEnv{
		router:        transport.NewRouter(handler, transport.NewRateLimiter(1000, 1000)),
		identity:      identityService,
		subscriptions: subscriptionService,
		subs:          subRepo,
		notes:         notes,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// seedOperator provisions a platform operator with a password.
func (e *testEnv) seedOperator(t *testing.T, email, password string) {
	t.Helper()
	user, err := e.identity.Provision(context.Background(), nil, email, "Operator", gate.RolePlatformOperator)
	require.NoError(t, err)
	require.NoError(t, e.identity.AddPassword(context.Background(), user.ID, password))
}

// seedSubscriptionUser creates a subscription plus a user under it, and
// returns the subscription and user ids.
func (e *testEnv) seedSubscriptionUser(t *testing.T, email, password string) (int64, int64) {
	t.Helper()
	sub, err := e.subscriptions.Create(context.Background(), subscription.CreateParams{
		CompanyName:  "Acme SRL",
		TaxID:        "RO1234567",
		Province:     "B",
		ContactEmail: "office@acme.test",
	})
	require.NoError(t, err)

	user, err := e.identity.Provision(context.Background(), &sub.ID, email, "Sub User", gate.RoleSubscriptionUser)
	require.NoError(t, err)
	require.NoError(t, e.identity.AddPassword(context.Background(), user.ID, password))
	return sub.ID, user.ID
}

func (e *testEnv) login(t *testing.T, email, password string) *http.Cookie {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.Value != "" {
			return c
		}
	}
	t.Fatal("login did not set a session cookie")
	return nil
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decodeBody(t, rec)["status"])
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")

	cookie := env.login(t, "op@platform.test", "op-password-1")
	assert.True(t, cookie.HttpOnly)

	rec := env.do(t, http.MethodGet, "/auth/me", nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "op@platform.test", body["email"])
	assert.Equal(t, gate.RolePlatformOperator, body["role"])
}

func TestLogin_InvalidCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")

	rec := env.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":    "op@platform.test",
		"password": "wrong",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_MalformedBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCurrentUser_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/auth/me", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	cookie := env.login(t, "op@platform.test", "op-password-1")

	rec := env.do(t, http.MethodPost, "/auth/logout", nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)

	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName && c.MaxAge < 0 {
			cleared = true
		}
	}
	assert.True(t, cleared, "logout should clear the session cookie")

	// The session is gone server-side as well.
	rec = env.do(t, http.MethodGet, "/auth/me", nil, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	cookie := env.login(t, "op@platform.test", "op-password-1")

	rec := env.do(t, http.MethodPost, "/auth/change-password", map[string]string{
		"old_password": "wrong",
		"new_password": "op-password-2",
	}, cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/auth/change-password", map[string]string{
		"old_password": "op-password-1",
		"new_password": "op-password-2",
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	env.login(t, "op@platform.test", "op-password-2")
}

func TestAdminAPI_RequiresOperator(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	env.seedSubscriptionUser(t, "user@acme.test", "user-password-1")

	// Unauthenticated.
	rec := env.do(t, http.MethodGet, "/api/v1/subscriptions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Subscription users are not operators.
	userCookie := env.login(t, "user@acme.test", "user-password-1")
	rec = env.do(t, http.MethodGet, "/api/v1/subscriptions", nil, userCookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	opCookie := env.login(t, "op@platform.test", "op-password-1")
	rec = env.do(t, http.MethodGet, "/api/v1/subscriptions", nil, opCookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	cookie := env.login(t, "op@platform.test", "op-password-1")

	// Create.
	rec := env.do(t, http.MethodPost, "/api/v1/subscriptions", map[string]any{
		"company_name":  "Acme SRL",
		"business_name": "Acme",
		"tax_id":        "RO1234567",
		"province":      "B",
		"contact_email": "office@acme.test",
	}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody(t, rec)
	assert.Equal(t, true, created["active"])
	// The raw token must never leak through the admin resource.
	assert.NotContains(t, rec.Body.String(), "security_token")
	id := int64(created["id"].(float64))

	// Get.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d", id), nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme SRL", decodeBody(t, rec)["company_name"])

	// The settings endpoint is where the integration credential lives.
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/settings", id), nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	settings := decodeBody(t, rec)
	assert.NotEmpty(t, settings["token"])

	// Block revokes the token and refuses regeneration.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/block", id), map[string]string{
		"reason": "non-payment",
	}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["blocked"])

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/regenerate-token", id), nil, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Unblock restores access and a fresh token.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/unblock", id), nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["blocked"])

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/regenerate-token", id), nil, cookie)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubscription_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	cookie := env.login(t, "op@platform.test", "op-password-1")

	rec := env.do(t, http.MethodGet, "/api/v1/subscriptions/9999", nil, cookie)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProvisionSubscriptionUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedOperator(t, "op@platform.test", "op-password-1")
	subID, _ := env.seedSubscriptionUser(t, "user@acme.test", "user-password-1")
	cookie := env.login(t, "op@platform.test", "op-password-1")

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/users", subID), map[string]string{
		"email":     "second@acme.test",
		"full_name": "Second User",
		"role":      gate.RoleSubscriptionAdmin,
		"password":  "second-password-1",
	}, cookie)
	require.Equal(t, http.StatusCreated, rec.Code)

	// Duplicate email conflicts.
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/api/v1/subscriptions/%d/users", subID), map[string]string{
		"email":     "second@acme.test",
		"full_name": "Second User",
		"role":      gate.RoleSubscriptionAdmin,
		"password":  "second-password-1",
	}, cookie)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/subscriptions/%d/users", subID), nil, cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "second@acme.test")
}
