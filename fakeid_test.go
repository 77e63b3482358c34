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

package fakeid_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid"
	"github.com/tdrn-org/fakeid/internal/server"
	"github.com/tdrn-org/fakeid/internal/server/crypto"
	"github.com/tdrn-org/go-log"
	"github.com/zitadel/oidc/v3/pkg/client"
)

func testConfig() *fakeid.Config {
	config := fakeid.DefaultConfigData()
	config.Server.Address = "localhost:0"
	return config
}

func TestStartDefaults(t *testing.T) {
	s, err := fakeid.StartConfig(t.Context(), testConfig())
	require.NoError(t, err)
	discovery, err := client.Discover(t.Context(), s.IssuerURL().String(), http.DefaultClient)
	require.NoError(t, err)
	require.Equal(t, s.IssuerURL().JoinPath("/authorize").String(), discovery.AuthorizationEndpoint)
	require.Equal(t, jose.RS256, s.SigningAlgorithm())
	require.Equal(t, map[string]any{
		"sub":   "john@developer.com",
		"name":  "John C. Developer",
		"email": "john@developer.com",
	}, s.Claims())
	require.NoError(t, s.Shutdown(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))
	s.WaitStopped()
	_, err = http.Get(s.IssuerURL().JoinPath("/jwks").String())
	require.Error(t, err)
}

func TestStartConfigFile(t *testing.T) {
	s, err := fakeid.Start(t.Context(), "testdata/fakeid.toml")
	require.NoError(t, err)
	defer s.WaitStopped()
	defer s.Shutdown(context.Background())
	require.Equal(t, jose.PS256, s.SigningAlgorithm())
	claims := s.Claims()
	require.Equal(t, "jane@example.com", claims["sub"])
	require.Equal(t, "de-DE", claims["locale"])
	require.NotContains(t, claims, "email")
}

func TestStopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	s, err := fakeid.StartConfig(ctx, testConfig())
	require.NoError(t, err)
	cancel()
	s.WaitStopped()
}

func TestStartWithClaimsWithoutSubject(t *testing.T) {
	config := testConfig()
	config.Claims = map[string]any{"name": "Nobody"}
	_, err := fakeid.StartConfig(t.Context(), config)
	require.ErrorIs(t, err, server.ErrInvalidClaims)
}

func TestStartWithSampleClaims(t *testing.T) {
	config := testConfig()
	config.OAuth2.SampleClaims = base64.StdEncoding.EncodeToString([]byte(`{"sub":"sample@example.com","groups":["a","b"]}`))
	s, err := fakeid.StartConfig(t.Context(), config)
	require.NoError(t, err)
	defer s.WaitStopped()
	defer s.Shutdown(context.Background())
	require.Equal(t, "sample@example.com", s.Claims()["sub"])
	require.Equal(t, []any{"a", "b"}, s.Claims()["groups"])
}

func TestStartWithInvalidSigningKey(t *testing.T) {
	config := testConfig()
	config.OAuth2.SigningKey = "not a key!"
	_, err := fakeid.StartConfig(t.Context(), config)
	require.ErrorIs(t, err, server.ErrInvalidSigningKey)
}

func TestStartWithSigningKey(t *testing.T) {
	key, err := crypto.NewAsymetricKey(crypto.AsymetricKeyTypeECDSAP256)
	require.NoError(t, err)
	pemBytes, err := crypto.EncodePrivateKeyPEM(key.PrivateKey())
	require.NoError(t, err)
	config := testConfig()
	config.OAuth2.SigningKeyAlgorithm = fakeid.SigningKeyAlgorithmES256
	config.OAuth2.SigningKey = base64.StdEncoding.EncodeToString(pemBytes)
	s, err := fakeid.StartConfig(t.Context(), config)
	require.NoError(t, err)
	defer s.WaitStopped()
	defer s.Shutdown(context.Background())
	require.Equal(t, jose.ES256, s.SigningAlgorithm())
	keys := s.PublicKeySet().Key(server.SigningKeyID)
	require.Len(t, keys, 1)
	require.Equal(t, key.PublicKey(), keys[0].Key)
}

func TestStartWithJWKSFile(t *testing.T) {
	key, err := crypto.NewAsymetricKey(crypto.AsymetricKeyTypeRSA2048)
	require.NoError(t, err)
	jwks := &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{{
			Key:       key.PrivateKey(),
			KeyID:     server.SigningKeyID,
			Algorithm: string(jose.RS384),
			Use:       "sig",
		}},
	}
	data, err := json.Marshal(jwks)
	require.NoError(t, err)
	jwksFile := filepath.Join(t.TempDir(), "jwks.json")
	require.NoError(t, os.WriteFile(jwksFile, data, 0600))
	config := testConfig()
	config.OAuth2.JWKSFile = jwksFile
	// The key set file takes precedence
	config.OAuth2.SigningKey = "not a key!"
	s, err := fakeid.StartConfig(t.Context(), config)
	require.NoError(t, err)
	defer s.WaitStopped()
	defer s.Shutdown(context.Background())
	require.Equal(t, jose.RS384, s.SigningAlgorithm())
	keys := s.PublicKeySet().Key(server.SigningKeyID)
	require.Len(t, keys, 1)
	require.Equal(t, key.PublicKey(), keys[0].Key)
}

func TestStartWithInvalidIssuer(t *testing.T) {
	config := testConfig()
	require.NoError(t, config.Server.PublicURL.UnmarshalTOML("/relative"))
	_, err := fakeid.StartConfig(t.Context(), config)
	require.Error(t, err)
}

func init() {
	log.InitDefault()
}
