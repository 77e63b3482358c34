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

// Package fakeidtest starts fake providers scoped to a single test.
package fakeidtest

import (
	"context"
	"testing"

	"github.com/tdrn-org/fakeid"
)

// Option adjusts the configuration of a test provider before it starts.
type Option func(config *fakeid.Config)

func WithClaims(claims map[string]any) Option {
	return func(config *fakeid.Config) {
		config.Claims = claims
		config.OAuth2.SampleClaims = ""
	}
}

// WithSampleClaims takes the claims from a sample JWT or a base64 encoded
// JSON object.
func WithSampleClaims(sample string) Option {
	return func(config *fakeid.Config) {
		config.OAuth2.SampleClaims = sample
	}
}

func WithSigningKeyAlgorithm(algorithm fakeid.SigningKeyAlgorithm) Option {
	return func(config *fakeid.Config) {
		config.OAuth2.SigningKeyAlgorithm = algorithm
	}
}

// WithJWKSFile signs with the first key of the given key set file.
func WithJWKSFile(path string) Option {
	return func(config *fakeid.Config) {
		config.OAuth2.JWKSFile = path
	}
}

func WithReusableCodes() Option {
	return func(config *fakeid.Config) {
		config.OAuth2.SingleUseCodes = false
	}
}

// Start runs a provider on a random local port. The provider is shut down
// when the test and all its subtests complete.
func Start(t testing.TB, opts ...Option) *fakeid.Server {
	t.Helper()
	config := fakeid.DefaultConfigData()
	config.Server.Address = "localhost:0"
	config.OAuth2.CleanupInterval.Duration = 0
	for _, opt := range opts {
		opt(config)
	}
	s, err := fakeid.StartConfig(context.Background(), config)
	if err != nil {
		t.Fatalf("failed to start provider (cause: %v)", err)
	}
	t.Cleanup(func() {
		err := s.Shutdown(context.Background())
		if err != nil {
			t.Errorf("failed to shut down provider (cause: %v)", err)
		}
		s.WaitStopped()
	})
	return s
}
