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

package server

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// IDTokenRequest carries the per-request input of an ID token.
type IDTokenRequest struct {
	// ClientID becomes the token's audience.
	ClientID string
	// Nonce is added when not empty.
	Nonce string
	// Subject overrides the claim set's subject when not empty.
	Subject string
}

// TokenMinter builds and signs ID tokens.
type TokenMinter struct {
	issuer     string
	claims     ClaimSet
	signingKey *SigningKey
	signer     jose.Signer
	lifetime   time.Duration
	now        func() time.Time
}

func NewTokenMinter(issuer string, claims ClaimSet, signingKey *SigningKey, lifetime time.Duration) (*TokenMinter, error) {
	if claims.Subject() == "" {
		return nil, fmt.Errorf("%w (claim '%s' is missing)", ErrInvalidClaims, ClaimSubject)
	}
	signer, err := signingKey.NewSigner()
	if err != nil {
		return nil, err
	}
	minter := &TokenMinter{
		issuer:     issuer,
		claims:     claims,
		signingKey: signingKey,
		signer:     signer,
		lifetime:   lifetime,
		now:        time.Now,
	}
	return minter, nil
}

func (m *TokenMinter) Algorithm() jose.SignatureAlgorithm {
	return m.signingKey.Algorithm()
}

// Mint returns the compact serialization of a freshly signed ID token.
func (m *TokenMinter) Mint(request *IDTokenRequest) (string, error) {
	now := m.now()
	claims := m.claims.Clone()
	if request.Subject != "" {
		claims[ClaimSubject] = request.Subject
	}
	if request.Nonce != "" {
		claims[ClaimNonce] = request.Nonce
	}
	claims[ClaimIssuer] = m.issuer
	claims[ClaimAudience] = request.ClientID
	claims[ClaimIssuedAt] = jwt.NewNumericDate(now)
	claims[ClaimExpiry] = jwt.NewNumericDate(now.Add(m.lifetime))
	idToken, err := jwt.Signed(m.signer).Claims(map[string]any(claims)).Serialize()
	if err != nil {
		return "", fmt.Errorf("failed to sign ID token (cause: %w)", err)
	}
	return idToken, nil
}
