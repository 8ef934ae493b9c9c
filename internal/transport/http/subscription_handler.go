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
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/subgate/subgate/internal/identity"
	"github.com/subgate/subgate/internal/subscription"
)

// SubscriptionRequest carries the admin-editable subscription fields.
type SubscriptionRequest struct {
	CompanyName  string     `json:"company_name" binding:"required" example:"Acme S.A."`
	BusinessName string     `json:"business_name" example:"Acme Retail"`
	TaxID        string     `json:"tax_id" binding:"required" example:"20-12345678-9"`
	Province     string     `json:"province" example:"Buenos Aires"`
	Address      string     `json:"address" example:"Av. Corrientes 1234"`
	ContactEmail string     `json:"contact_email" example:"billing@acme.test"`
	StartsAt     *time.Time `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at"`
}

// SubscriptionResponse is the wire shape of a subscription.
type SubscriptionResponse struct {
	ID             int64      `json:"id"`
	CompanyName    string     `json:"company_name"`
	BusinessName   string     `json:"business_name,omitempty"`
	TaxID          string     `json:"tax_id"`
	Province       string     `json:"province,omitempty"`
	Address        string     `json:"address,omitempty"`
	ContactEmail   string     `json:"contact_email,omitempty"`
	Active         bool       `json:"active"`
	Blocked        bool       `json:"blocked"`
	BlockReason    *string    `json:"block_reason,omitempty"`
	StartsAt       *time.Time `json:"starts_at,omitempty"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	Remarks        *string    `json:"remarks,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at,omitempty"`
}

func toSubscriptionResponse(sub *subscription.Subscription) SubscriptionResponse {
	// The security token itself never leaves through list/get responses.
	return SubscriptionResponse{
		ID:             sub.ID,
		CompanyName:    sub.CompanyName,
		BusinessName:   sub.BusinessName,
		TaxID:          sub.TaxID,
		Province:       sub.Province,
		Address:        sub.Address,
		ContactEmail:   sub.ContactEmail,
		Active:         sub.Active,
		Blocked:        sub.Blocked,
		BlockReason:    sub.BlockReason,
		StartsAt:       sub.StartsAt,
		EndsAt:         sub.EndsAt,
		TokenExpiresAt: sub.TokenExpiresAt,
		Remarks:        sub.Remarks,
		CreatedAt:      sub.CreatedAt,
		UpdatedAt:      sub.UpdatedAt,
	}
}

func (h *Handler) actorID(r *http.Request) *int64 {
	principal := GetPrincipal(r.Context())
	if principal == nil {
		return nil
	}
	id, err := strconv.ParseInt(principal.UserID, 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func subscriptionIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "subscriptionID"), 10, 64)
}

// CreateSubscription provisions a new subscription
// @Summary Create Subscription
// @Description Provision a subscription with an issued security token
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param request body SubscriptionRequest true "Subscription Data"
// @Success 201 {object} SubscriptionResponse
// @Failure 400 {object} map[string]string
// @Router /api/v1/subscriptions [post]
func (h *Handler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subscriptionService.Create(r.Context(), subscription.CreateParams{
		CompanyName:  req.CompanyName,
		BusinessName: req.BusinessName,
		TaxID:        req.TaxID,
		Province:     req.Province,
		Address:      req.Address,
		ContactEmail: req.ContactEmail,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		ActorID:      h.actorID(r),
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, toSubscriptionResponse(sub))
}

// ListSubscriptions lists subscriptions with pagination
// @Summary List Subscriptions
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param limit query int false "Page size" default(50)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} SubscriptionResponse
// @Router /api/v1/subscriptions [get]
func (h *Handler) ListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 200 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}

	subs, err := h.subscriptionService.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	out := make([]SubscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub))
	}
	respondJSON(w, http.StatusOK, out)
}

// GetSubscription returns one subscription
// @Summary Get Subscription
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Success 200 {object} SubscriptionResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID} [get]
func (h *Handler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := h.subscriptionService.Get(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// UpdateSubscription edits subscription profile fields and rotates its token
// @Summary Update Subscription
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Param request body SubscriptionRequest true "Subscription Data"
// @Success 200 {object} SubscriptionResponse
// @Failure 400 {object} map[string]string
// @Failure 404 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID} [put]
func (h *Handler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subscriptionService.Update(r.Context(), id, subscription.UpdateParams{
		CompanyName:  req.CompanyName,
		BusinessName: req.BusinessName,
		TaxID:        req.TaxID,
		Province:     req.Province,
		Address:      req.Address,
		ContactEmail: req.ContactEmail,
		StartsAt:     req.StartsAt,
		EndsAt:       req.EndsAt,
		ActorID:      h.actorID(r),
	})
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// BlockRequest carries the block reason.
type BlockRequest struct {
	Reason string `json:"reason" example:"unpaid invoices"`
}

// BlockSubscription suspends a subscription and revokes its token
// @Summary Block Subscription
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Param request body BlockRequest true "Block Reason"
// @Success 200 {object} SubscriptionResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID}/block [post]
func (h *Handler) BlockSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subscriptionService.Block(r.Context(), id, req.Reason, h.actorID(r))
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to block subscription")
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// UnblockSubscription lifts a block and issues a fresh token
// @Summary Unblock Subscription
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Success 200 {object} SubscriptionResponse
// @Failure 404 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID}/unblock [post]
func (h *Handler) UnblockSubscription(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := h.subscriptionService.Unblock(r.Context(), id, h.actorID(r))
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to unblock subscription")
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// RegenerateToken rotates the subscription's security token
// @Summary Regenerate Security Token
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Success 200 {object} SubscriptionResponse
// @Failure 404 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID}/regenerate-token [post]
func (h *Handler) RegenerateToken(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := h.subscriptionService.RegenerateToken(r.Context(), id, h.actorID(r))
	if err != nil {
		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
			respondError(w, http.StatusNotFound, "subscription not found")
			return
		}
		respondError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, toSubscriptionResponse(sub))
}

// GetIntegrationSettings returns the denormalized settings copy
// @Summary Get Integration Settings
// @Description The denormalized record consumed by the invoicing integration
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID}/settings [get]
func (h *Handler) GetIntegrationSettings(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	settings, err := h.subscriptionService.Settings(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "integration settings not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"subscription_id":  settings.SubscriptionID,
		"token":            settings.Token,
		"token_expires_at": settings.TokenExpiresAt,
		"tax_id":           settings.TaxID,
		"province":         settings.Province,
		"updated_at":       settings.UpdatedAt,
	})
}

// ProvisionUserRequest carries the fields for a new subscription user.
type ProvisionUserRequest struct {
	Email    string `json:"email" binding:"required" example:"user@acme.test"`
	FullName string `json:"full_name" example:"Jane Doe"`
	Role     string `json:"role" binding:"required" example:"subscription_user"`
	Password string `json:"password" binding:"required"`
}

// ProvisionSubscriptionUser creates a user scoped to the subscription
// @Summary Provision Subscription User
// @Tags Subscriptions
// @Accept json
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Param request body ProvisionUserRequest true "User Data"
// @Success 201 {object} map[string]any
// @Failure 400 {object} map[string]string
// @Failure 409 {object} map[string]string
// @Router /api/v1/subscriptions/{subscriptionID}/users [post]
func (h *Handler) ProvisionSubscriptionUser(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	var req ProvisionUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.identityService.Provision(r.Context(), &id, req.Email, req.FullName, req.Role)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrUserAlreadyExists):
			respondError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, identity.ErrInvalidEmail):
			respondError(w, http.StatusBadRequest, "invalid email address")
		default:
			respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	if err := h.identityService.AddPassword(r.Context(), user.ID, req.Password); err != nil {
		respondError(w, http.StatusBadRequest, "failed to set password: "+err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
		"role":    user.Role,
	})
}

// ListSubscriptionUsers lists users of a subscription
// @Summary List Subscription Users
// @Tags Subscriptions
// @Produce json
// @Security CookieAuth
// @Param subscriptionID path int true "Subscription ID"
// @Success 200 {array} map[string]any
// @Router /api/v1/subscriptions/{subscriptionID}/users [get]
func (h *Handler) ListSubscriptionUsers(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	users, err := h.identityService.ListBySubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	out := make([]map[string]any, 0, len(users))
	for _, user := range users {
		out = append(out, map[string]any{
			"user_id":   user.ID,
			"email":     user.Email,
			"full_name": user.FullName,
			"role":      user.Role,
		})
	}
	respondJSON(w, http.StatusOK, out)
}
