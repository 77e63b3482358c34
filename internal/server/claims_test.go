/*
 * Copyright 2025 Holger de Carne
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package server_test

import (
	"encoding/base64"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid/internal/server"
)

func TestNewClaimSet(t *testing.T) {
	claims := map[string]any{
		"sub":    "jeff@example.com",
		"name":   "Jeff",
		"locale": "en-us",
	}
	claimSet, err := server.NewClaimSet(claims)
	require.NoError(t, err)
	require.Equal(t, "jeff@example.com", claimSet.Subject())
	require.Equal(t, "en-US", claimSet["locale"])
	// source map stays untouched
	require.Equal(t, "en-us", claims["locale"])
}

func TestNewClaimSetFailures(t *testing.T) {
	tests := map[string]map[string]any{
		"nil":           nil,
		"missingSub":    {"name": "John C. Developer"},
		"emptySub":      {"sub": ""},
		"numericSub":    {"sub": 42},
		"invalidLocale": {"sub": "john", "locale": "not a locale"},
		"numericLocale": {"sub": "john", "locale": 1},
	}
	for name, claims := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := server.NewClaimSet(claims)
			require.ErrorIs(t, err, server.ErrInvalidClaims)
		})
	}
}

func TestParseSampleClaimsJSON(t *testing.T) {
	sample := `{"sub":"jeff@example.com","additionalClaims":{"claim":"claimValue"}}`
	for _, encoding := range []*base64.Encoding{base64.StdEncoding, base64.RawURLEncoding} {
		claimSet, err := server.ParseSampleClaims(encoding.EncodeToString([]byte(sample)))
		require.NoError(t, err)
		require.Equal(t, "jeff@example.com", claimSet.Subject())
		require.Equal(t, map[string]any{"claim": "claimValue"}, claimSet["additionalClaims"])
	}
}

func TestParseSampleClaimsJWT(t *testing.T) {
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: []byte("0123456789abcdef0123456789abcdef")}, nil)
	require.NoError(t, err)
	sample, err := jwt.Signed(signer).Claims(map[string]any{"sub": "sample", "email": "sample@example.com"}).Serialize()
	require.NoError(t, err)
	claimSet, err := server.ParseSampleClaims(sample)
	require.NoError(t, err)
	require.Equal(t, "sample", claimSet.Subject())
	require.Equal(t, "sample@example.com", claimSet["email"])
}

func TestParseSampleClaimsFailures(t *testing.T) {
	samples := map[string]string{
		"twoSegments": "a.b",
		"brokenJWT":   "a.b.c",
		"notBase64":   "!!!",
		"notJSON":     base64.StdEncoding.EncodeToString([]byte("not json")),
		"missingSub":  base64.StdEncoding.EncodeToString([]byte(`{"name":"John"}`)),
	}
	for name, sample := range samples {
		t.Run(name, func(t *testing.T) {
			_, err := server.ParseSampleClaims(sample)
			require.ErrorIs(t, err, server.ErrInvalidClaims)
		})
	}
}

func TestClaimSetClone(t *testing.T) {
	claimSet, err := server.NewClaimSet(map[string]any{"sub": "john"})
	require.NoError(t, err)
	clone := claimSet.Clone()
	clone["nonce"] = "n"
	_, found := claimSet["nonce"]
	require.False(t, found)
}
