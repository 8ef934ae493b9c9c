// @title SubGate API
// @version 1.0.0
// @description Subscription lifecycle and access gating for the invoicing platform
// @termsOfService http://swagger.io/terms/

// @contact.name API Support
// @contact.url http://www.swagger.io/support
// @contact.email support@swagger.io

// @license.name Apache 2.0
// @license.url https://www.apache.org/licenses/LICENSE-2.0

// @host localhost:8080
// @BasePath /

// @securityDefinitions.apikey CookieAuth
// @in cookie
// @name session_id

package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/subgate/subgate/internal/audit"
	"github.com/subgate/subgate/internal/gate"
	"github.com/subgate/subgate/internal/identity"
	"github.com/subgate/subgate/internal/notify"
	"github.com/subgate/subgate/internal/observability/logger"
	"github.com/subgate/subgate/internal/session"
	"github.com/subgate/subgate/internal/subscription"
)

// Handler holds HTTP handlers and dependencies
type Handler struct {
	identityService     *identity.Service
	sessionService      *session.Service
	subscriptionService *subscription.Service
	gate                *gate.Gate
	hub                 *notify.Hub
	notifier            notify.Notifier
	auditLogger         audit.Logger
	sessionConfig       SessionConfig
}

// SessionConfig holds session cookie configuration
type SessionConfig struct {
	CookieName     string
	CookieDomain   string
	CookiePath     string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite
}

// NewHandler creates a new HTTP handler
func NewHandler(
	identityService *identity.Service,
	sessionService *session.Service,
	subscriptionService *subscription.Service,
	g *gate.Gate,
	hub *notify.Hub,
	notifier notify.Notifier,
	auditLogger audit.Logger,
	sessionConfig SessionConfig,
) *Handler {
	return &Handler{
		identityService:     identityService,
		sessionService:      sessionService,
		subscriptionService: subscriptionService,
		gate:                g,
		hub:                 hub,
		notifier:            notifier,
		auditLogger:         auditLogger,
		sessionConfig:       sessionConfig,
	}
}

// NewRouter creates a new HTTP router
func NewRouter(h *Handler, rateLimiter *RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(h.SessionMiddleware)
	r.Use(h.GateMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)

	// Authentication
	r.Post("/auth/login", h.Login)
	r.Post("/auth/logout", h.Logout)
	r.Get("/auth/access-denied", h.AccessDenied)
	r.With(RequireAuthenticated).Get("/auth/me", h.GetCurrentUser)
	r.With(RequireAuthenticated).Post("/auth/change-password", h.ChangePassword)

	// Realtime notification channel
	r.Get("/ws", h.Notifications)

	// Admin API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RequirePlatformOperator)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", h.CreateSubscription)
			r.Get("/", h.ListSubscriptions)

			r.Route("/{subscriptionID}", func(r chi.Router) {
				r.Get("/", h.GetSubscription)
				r.Put("/", h.UpdateSubscription)
				r.Post("/block", h.BlockSubscription)
				r.Post("/unblock", h.UnblockSubscription)
				r.Post("/regenerate-token", h.RegenerateToken)
				r.Get("/settings", h.GetIntegrationSettings)
				r.Get("/users", h.ListSubscriptionUsers)
				r.Post("/users", h.ProvisionSubscriptionUser)
			})
		})
	})

	return r
}

// HealthCheck returns the health status
// @Summary Health Check
// @Description Checks if the service is up and running
// @Tags System
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "subgate",
	})
}

// LoginRequest represents login credentials
type LoginRequest struct {
	Email    string `json:"email" binding:"required" example:"user@example.com"`
	Password string `json:"password" binding:"required" example:"secret123"`
}

// Login handles user login
// @Summary Login
// @Description Authenticate user and create a session
// @Tags Auth
// @Accept json
// @Produce json
// @Param request body LoginRequest true "Credentials"
// @Success 200 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	subscriptionID := ""
	if user.SubscriptionID != nil {
		subscriptionID = strconv.FormatInt(*user.SubscriptionID, 10)
	}

	sess, err := h.sessionService.Create(
		r.Context(),
		strconv.FormatInt(user.ID, 10),
		subscriptionID,
		user.Role,
		getIPAddress(r),
		r.UserAgent(),
	)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to create session", logger.Error(err))
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	h.setSessionCookie(w, sess.ID)

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
	})
}

// Logout handles user logout
// @Summary Logout
// @Description Destroy the current session
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/logout [post]
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	sessionID := h.getSessionFromCookie(r)
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	sess, err := h.sessionService.Get(r.Context(), sessionID)
	if err == nil {
		h.auditLogger.Log(r.Context(), audit.Event{
			Type:           audit.TypeLogout,
			SubscriptionID: sess.SubscriptionID,
			ActorID:        sess.UserID,
			Resource:       "session",
			IPAddress:      getIPAddress(r),
			UserAgent:      r.UserAgent(),
		})
		h.sessionService.Destroy(r.Context(), sessionID)
	}

	h.clearSessionCookie(w)

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "logged out successfully",
	})
}

// AccessDenied is a static landing endpoint. It carries no detail on
// purpose; the denial specifics go out over the notification channel only.
// @Summary Access Denied
// @Description Generic access-denied notice
// @Tags Auth
// @Produce json
// @Success 200 {object} map[string]string
// @Router /auth/access-denied [get]
func (h *Handler) AccessDenied(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"error": "access denied",
	})
}

// GetCurrentUser returns the current authenticated user identity
// @Summary Get Current User
// @Description Retrieve details of the currently logged-in user
// @Tags Auth
// @Produce json
// @Security CookieAuth
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /auth/me [get]
func (h *Handler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	userID, err := strconv.ParseInt(principal.UserID, 10, 64)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	user, err := h.identityService.GetUser(r.Context(), userID)
	if err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user_id":         user.ID,
		"email":           user.Email,
		"full_name":       user.FullName,
		"role":            user.Role,
		"subscription_id": user.SubscriptionID,
	})
}

// ChangePasswordRequest represents password change data
type ChangePasswordRequest struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

// ChangePassword changes the user password
// @Summary Change Password
// @Description Update the password for the current user
// @Tags Auth
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body ChangePasswordRequest true "Password Change Data"
// @Success 200 {object} map[string]string
// @Failure 400 {object} map[string]string
// @Failure 401 {object} map[string]string
// @Router /auth/change-password [post]
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())

	userID, err := strconv.ParseInt(principal.UserID, 10, 64)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err = h.identityService.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		switch err {
		case identity.ErrInvalidCredentials:
			respondError(w, http.StatusUnauthorized, "invalid old password")
		case identity.ErrWeakPassword:
			respondError(w, http.StatusBadRequest, "new password does not meet security requirements")
		default:
			respondError(w, http.StatusInternalServerError, "failed to change password")
		}
		return
	}

	h.auditLogger.Log(r.Context(), audit.Event{
		Type:           audit.TypePasswordChanged,
		SubscriptionID: principal.SubscriptionID,
		ActorID:        principal.UserID,
		Resource:       "user_credentials",
		IPAddress:      getIPAddress(r),
		UserAgent:      r.UserAgent(),
	})

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "password changed successfully",
	})
}

// Notifications upgrades the connection to the realtime notification
// channel for the logged-in user.
// @Summary Notification Channel
// @Description WebSocket endpoint delivering subscription state notifications
// @Tags Notifications
// @Security CookieAuth
// @Success 101
// @Failure 401 {object} map[string]string
// @Router /ws [get]
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	principal := GetPrincipal(r.Context())
	if principal == nil || principal.UserID == "" {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	h.hub.HandleWS(w, r, principal.UserID)
}

// Helper functions
func (h *Handler) setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.sessionConfig.CookieName,
		Value:    sessionID,
		Path:     h.sessionConfig.CookiePath,
		Domain:   h.sessionConfig.CookieDomain,
		Secure:   h.sessionConfig.CookieSecure,
		HttpOnly: h.sessionConfig.CookieHTTPOnly,
		SameSite: h.sessionConfig.CookieSameSite,
		MaxAge:   86400, // 24 hours
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:   h.sessionConfig.CookieName,
		Value:  "",
		Path:   h.sessionConfig.CookiePath,
		Domain: h.sessionConfig.CookieDomain,
		MaxAge: -1,
	})
}

func (h *Handler) getSessionFromCookie(r *http.Request) string {
	cookie, err := r.Cookie(h.sessionConfig.CookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

func getIPAddress(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
