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

// Package oauth2client provides relying party clients for exercising an
// OpenID Connect provider from tests and tools.
package oauth2client

import (
	"errors"
	"log/slog"
	"net/url"

	"github.com/gorilla/securecookie"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
)

var ErrNotAuthenticated = errors.New("not authenticated")

var ErrUnexpectedResponse = errors.New("unexpected response")

type UserInfo map[string]any

// AuthorizationFlow is a login flow driven against a provider by a user
// agent.
type AuthorizationFlow interface {
	Authenticate() error
	GetEndSessionEndpoint() string
}

func newCookieHandler(url *url.URL) *httphelper.CookieHandler {
	hashKey := securecookie.GenerateRandomKey(64)
	encryptKey := securecookie.GenerateRandomKey(32)
	opts := make([]httphelper.CookieHandlerOpt, 0, 1)
	if url.Scheme == "http" {
		slog.Warn("insecure client URL; disabling secure cookies", slog.String("url", url.String()))
		opts = append(opts, httphelper.WithUnsecure())
	}
	return httphelper.NewCookieHandler(hashKey, encryptKey, opts...)
}
