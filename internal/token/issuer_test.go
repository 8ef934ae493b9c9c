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
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subgate/subgate/internal/subscription"
)

const testKey = "0123456789abcdef0123456789abcdef" // 32 bytes

func newTestIssuer(t *testing.T, ttl time.Duration) *Issuer {
	t.Helper()

	iss, err := NewIssuer(Config{
		SigningKey: testKey,
		Issuer:     "subgate",
		Audience:   "invoicing-integration",
		DefaultTTL: ttl,
	})
	require.NoError(t, err)
	return iss
}

func TestNewIssuer_RejectsShortKey(t *testing.T) {
	_, err := NewIssuer(Config{SigningKey: "too-short"})
	assert.ErrorIs(t, err, ErrKeyTooShort)
}

func TestIssue_DefaultExpiry(t *testing.T) {
	iss := newTestIssuer(t, 24*time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return fixed }

	sub := &subscription.Subscription{ID: 7, CompanyName: "Acme S.A.", TaxID: "20-12345678-9"}

	signed, expiry, err := iss.Issue(sub)
	require.NoError(t, err)
	assert.NotEmpty(t, signed)
	assert.Equal(t, fixed.Add(24*time.Hour), expiry)
}

func TestIssue_ValidityEndOverridesDefault(t *testing.T) {
	iss := newTestIssuer(t, 365*24*time.Hour)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	iss.now = func() time.Time { return fixed }

	ends := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	sub := &subscription.Subscription{ID: 7, CompanyName: "Acme S.A.", EndsAt: &ends}

	_, expiry, err := iss.Issue(sub)
	require.NoError(t, err)
	assert.Equal(t, ends, expiry)
}

func TestIssue_RoundTripClaims(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	sub := &subscription.Subscription{
		ID:           7,
		CompanyName:  "Acme S.A.",
		BusinessName: "Acme Retail",
		TaxID:        "20-12345678-9",
	}

	signed, _, err := iss.Issue(sub)
	require.NoError(t, err)

	claims, err := iss.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "7", claims.SubscriptionID)
	// DisplayName prefers the business name.
	assert.Equal(t, "Acme Retail", claims.CompanyName)
	assert.Equal(t, "20-12345678-9", claims.TaxID)
	assert.Equal(t, "subgate", claims.Issuer)
	require.Len(t, claims.Audience, 1)
	assert.Equal(t, "invoicing-integration", claims.Audience[0])
}

func TestParse_RejectsWrongKey(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	other := newTestIssuer(t, time.Hour)
	other.key = []byte("ffffffffffffffffffffffffffffffff")

	signed, _, err := iss.Issue(&subscription.Subscription{ID: 7})
	require.NoError(t, err)

	_, err = other.Parse(signed)
	assert.Error(t, err)
}

func TestParse_RejectsExpiredToken(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)
	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	signed, _, err := iss.Issue(&subscription.Subscription{ID: 7})
	require.NoError(t, err)

	iss.now = time.Now
	_, err = iss.Parse(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestParse_RejectsUnsignedAlg(t *testing.T) {
	iss := newTestIssuer(t, time.Hour)

	tok := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"subscription_id": "7"})
	signed, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = iss.Parse(signed)
	assert.Error(t, err)
}
