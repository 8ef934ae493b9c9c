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

package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/subgate/subgate/internal/subscription"
)

// MinKeyLength is the minimum accepted HMAC key size in bytes.
const MinKeyLength = 32

var ErrKeyTooShort = errors.New("signing key must be at least 32 bytes")

// Issuer produces the signed, time-bounded credential that identifies a
// subscription to the downstream invoicing integration.
type Issuer struct {
	key        []byte
	issuer     string
	audience   string
	defaultTTL time.Duration

	now func() time.Time
}

// Config holds issuer configuration.
type Config struct {
	SigningKey string
	Issuer     string
	Audience   string
	DefaultTTL time.Duration
}

// NewIssuer validates the signing key up front. A misconfigured key is a
// fatal configuration error, not something discovered on first issuance.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.SigningKey) < MinKeyLength {
		return nil, fmt.Errorf("%w: got %d", ErrKeyTooShort, len(cfg.SigningKey))
	}
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 365 * 24 * time.Hour
	}
	return &Issuer{
		key:        []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		defaultTTL: ttl,
		now:        time.Now,
	}, nil
}

// Claims are the token claims consumed by the integration endpoints.
type Claims struct {
	SubscriptionID string `json:"subscription_id"`
	CompanyName    string `json:"company_name"`
	TaxID          string `json:"tax_id,omitempty"`
	jwt.RegisteredClaims
}

// Issue signs a credential for the subscription. The expiry is the
// subscription's validity end when set, otherwise now plus the default
// horizon. The token never outlives the validity window.
func (i *Issuer) Issue(sub *subscription.Subscription) (string, time.Time, error) {
	now := i.now().UTC()

	expiry := now.Add(i.defaultTTL)
	if sub.EndsAt != nil {
		expiry = sub.EndsAt.UTC()
	}

	claims := Claims{
		SubscriptionID: strconv.FormatInt(sub.ID, 10),
		CompanyName:    sub.DisplayName(),
		TaxID:          sub.TaxID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, expiry, nil
}

// Parse verifies a credential and returns its claims. Used by the
// integration mock endpoints and by tests.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	return claims, nil
}
