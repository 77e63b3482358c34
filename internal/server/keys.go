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
	gocrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/go-jose/go-jose/v4"
	"github.com/tdrn-org/fakeid/internal/server/crypto"
)

// SigningKeyID is the key id of the one signing key.
const SigningKeyID = "signingKey"

const signingKeyUse = "sig"

var ErrInvalidSigningKey = errors.New("invalid signing key")

var supportedSigningAlgorithms = []jose.SignatureAlgorithm{
	jose.RS256,
	jose.RS384,
	jose.RS512,
	jose.PS256,
	jose.PS384,
	jose.PS512,
	jose.ES256,
}

func SupportedSigningAlgorithms() []jose.SignatureAlgorithm {
	return slices.Clone(supportedSigningAlgorithms)
}

// SigningKey is the immutable key material used to sign ID tokens.
type SigningKey struct {
	algorithm  jose.SignatureAlgorithm
	privateKey gocrypto.Signer
}

// NewSigningKey validates the given private key against the algorithm and
// makes sure it is actually able to sign.
func NewSigningKey(algorithm jose.SignatureAlgorithm, privateKey gocrypto.Signer) (*SigningKey, error) {
	err := checkKeyForAlgorithm(algorithm, privateKey)
	if err != nil {
		return nil, err
	}
	key := &SigningKey{
		algorithm:  algorithm,
		privateKey: privateKey,
	}
	signer, err := key.NewSigner()
	if err != nil {
		return nil, err
	}
	_, err = signer.Sign([]byte(SigningKeyID))
	if err != nil {
		return nil, fmt.Errorf("%w (probe signature failed: %w)", ErrInvalidSigningKey, err)
	}
	return key, nil
}

// GenerateSigningKey creates a fresh key suitable for the given algorithm.
func GenerateSigningKey(algorithm jose.SignatureAlgorithm) (*SigningKey, error) {
	var keyType crypto.AsymetricKeyType
	switch algorithm {
	case jose.RS256, jose.RS384, jose.RS512, jose.PS256, jose.PS384, jose.PS512:
		keyType = crypto.AsymetricKeyTypeRSA2048
	case jose.ES256:
		keyType = crypto.AsymetricKeyTypeECDSAP256
	default:
		return nil, fmt.Errorf("%w (unsupported signature key algorithm: %s)", ErrInvalidSigningKey, algorithm)
	}
	slog.Info("generating signing key", slog.String("alg", string(algorithm)), slog.String("type", string(keyType)))
	key, err := crypto.NewAsymetricKey(keyType)
	if err != nil {
		return nil, err
	}
	return NewSigningKey(algorithm, key.PrivateKey())
}

// LoadSigningKeyPEM decodes a PEM encoded private key.
func LoadSigningKeyPEM(algorithm jose.SignatureAlgorithm, data []byte) (*SigningKey, error) {
	privateKey, err := crypto.DecodePrivateKeyPEM(data)
	if err != nil {
		return nil, fmt.Errorf("%w (cause: %w)", ErrInvalidSigningKey, err)
	}
	return NewSigningKey(algorithm, privateKey)
}

// LoadSigningKeyJWKS selects the private signing key from a JSON encoded JWK
// set. The key's declared algorithm takes precedence over the given default.
func LoadSigningKeyJWKS(defaultAlgorithm jose.SignatureAlgorithm, data []byte) (*SigningKey, error) {
	jwks := &jose.JSONWebKeySet{}
	err := json.Unmarshal(data, jwks)
	if err != nil {
		return nil, fmt.Errorf("%w (failed to decode JWK set: %w)", ErrInvalidSigningKey, err)
	}
	jwkMatches := jwks.Key(SigningKeyID)
	var jwk jose.JSONWebKey
	switch {
	case len(jwkMatches) > 0:
		jwk = jwkMatches[0]
	case len(jwks.Keys) == 1:
		jwk = jwks.Keys[0]
		slog.Warn("using single JWK set key with unexpected key id", slog.String("kid", jwk.KeyID))
	default:
		return nil, fmt.Errorf("%w (JWK set contains no key '%s')", ErrInvalidSigningKey, SigningKeyID)
	}
	if jwk.IsPublic() {
		return nil, fmt.Errorf("%w (JWK '%s' has no private part)", ErrInvalidSigningKey, jwk.KeyID)
	}
	privateKey, ok := jwk.Key.(gocrypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%w (unsupported JWK key type %T)", ErrInvalidSigningKey, jwk.Key)
	}
	algorithm := defaultAlgorithm
	if jwk.Algorithm != "" {
		algorithm = jose.SignatureAlgorithm(jwk.Algorithm)
	}
	return NewSigningKey(algorithm, privateKey)
}

func checkKeyForAlgorithm(algorithm jose.SignatureAlgorithm, privateKey gocrypto.Signer) error {
	if !slices.Contains(supportedSigningAlgorithms, algorithm) {
		return fmt.Errorf("%w (unsupported signature key algorithm: %s)", ErrInvalidSigningKey, algorithm)
	}
	switch key := privateKey.(type) {
	case *rsa.PrivateKey:
		if algorithm == jose.ES256 {
			return fmt.Errorf("%w (algorithm %s requires an ECDSA key)", ErrInvalidSigningKey, algorithm)
		}
	case *ecdsa.PrivateKey:
		if algorithm != jose.ES256 {
			return fmt.Errorf("%w (algorithm %s requires an RSA key)", ErrInvalidSigningKey, algorithm)
		}
		if key.Curve != elliptic.P256() {
			return fmt.Errorf("%w (algorithm %s requires curve P-256)", ErrInvalidSigningKey, algorithm)
		}
	default:
		return fmt.Errorf("%w (unsupported key type %T)", ErrInvalidSigningKey, privateKey)
	}
	return nil
}

func (k *SigningKey) Algorithm() jose.SignatureAlgorithm {
	return k.algorithm
}

func (k *SigningKey) KeyID() string {
	return SigningKeyID
}

// NewSigner creates a JWS signer putting algorithm, key id and type into the
// protected header.
func (k *SigningKey) NewSigner() (jose.Signer, error) {
	signingKey := jose.SigningKey{
		Algorithm: k.algorithm,
		Key: jose.JSONWebKey{
			Key:       k.privateKey,
			KeyID:     SigningKeyID,
			Algorithm: string(k.algorithm),
			Use:       signingKeyUse,
		},
	}
	signer, err := jose.NewSigner(signingKey, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("%w (failed to create signer: %w)", ErrInvalidSigningKey, err)
	}
	return signer, nil
}

// PublicKey returns the verification-only projection of the key.
func (k *SigningKey) PublicKey() jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       k.privateKey.Public(),
		KeyID:     SigningKeyID,
		Algorithm: string(k.algorithm),
		Use:       signingKeyUse,
	}
}

// KeySet returns the public JWK set as published by the JWKS endpoint.
func (k *SigningKey) KeySet() *jose.JSONWebKeySet {
	return &jose.JSONWebKeySet{Keys: []jose.JSONWebKey{k.PublicKey()}}
}
