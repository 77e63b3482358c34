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
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"golang.org/x/text/language"
)

const (
	ClaimSubject  = "sub"
	ClaimIssuer   = "iss"
	ClaimAudience = "aud"
	ClaimIssuedAt = "iat"
	ClaimExpiry   = "exp"
	ClaimNonce    = "nonce"
	ClaimLocale   = "locale"
)

var ErrInvalidClaims = errors.New("invalid claims")

// ClaimSet is the identity asserted for every user facing token.
type ClaimSet map[string]any

// NewClaimSet validates the given claims and returns them as an independent
// claim set.
func NewClaimSet(claims map[string]any) (ClaimSet, error) {
	claimSet := ClaimSet(maps.Clone(claims))
	if claimSet == nil {
		claimSet = ClaimSet{}
	}
	err := claimSet.normalize()
	if err != nil {
		return nil, err
	}
	return claimSet, nil
}

var sampleClaimsAlgorithms = []jose.SignatureAlgorithm{
	jose.HS256, jose.HS384, jose.HS512,
	jose.RS256, jose.RS384, jose.RS512,
	jose.PS256, jose.PS384, jose.PS512,
	jose.ES256, jose.ES384, jose.ES512,
	jose.EdDSA,
}

// ParseSampleClaims decodes a claim set from either a compact JWT (whose
// signature is not checked) or a base64 encoded JSON object.
func ParseSampleClaims(sample string) (ClaimSet, error) {
	sample = strings.TrimSpace(sample)
	claims := make(map[string]any)
	switch strings.Count(sample, ".") {
	case 2:
		token, err := jwt.ParseSigned(sample, sampleClaimsAlgorithms)
		if err != nil {
			return nil, fmt.Errorf("%w (failed to parse sample JWT: %w)", ErrInvalidClaims, err)
		}
		err = token.UnsafeClaimsWithoutVerification(&claims)
		if err != nil {
			return nil, fmt.Errorf("%w (failed to decode sample JWT claims: %w)", ErrInvalidClaims, err)
		}
	case 0:
		decoded, err := base64.StdEncoding.DecodeString(sample)
		if err != nil {
			decoded, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(sample, "="))
		}
		if err != nil {
			return nil, fmt.Errorf("%w (failed to decode sample claims: %w)", ErrInvalidClaims, err)
		}
		err = json.Unmarshal(decoded, &claims)
		if err != nil {
			return nil, fmt.Errorf("%w (failed to decode sample claims JSON: %w)", ErrInvalidClaims, err)
		}
	default:
		return nil, fmt.Errorf("%w (sample claims are neither a JWT nor base64 encoded JSON)", ErrInvalidClaims)
	}
	return NewClaimSet(claims)
}

func (c ClaimSet) normalize() error {
	subject, ok := c[ClaimSubject].(string)
	if !ok || subject == "" {
		return fmt.Errorf("%w (claim '%s' is missing or not a string)", ErrInvalidClaims, ClaimSubject)
	}
	rawLocale, present := c[ClaimLocale]
	if present {
		locale, ok := rawLocale.(string)
		if !ok {
			return fmt.Errorf("%w (claim '%s' is not a string)", ErrInvalidClaims, ClaimLocale)
		}
		tag, err := language.Parse(locale)
		if err != nil {
			return fmt.Errorf("%w (claim '%s' is not a valid language tag: %w)", ErrInvalidClaims, ClaimLocale, err)
		}
		c[ClaimLocale] = tag.String()
	}
	return nil
}

func (c ClaimSet) Subject() string {
	subject, _ := c[ClaimSubject].(string)
	return subject
}

// Clone returns a shallow copy which may be extended freely.
func (c ClaimSet) Clone() ClaimSet {
	return maps.Clone(c)
}
