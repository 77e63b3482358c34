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
	"net/url"
	"slices"

	"github.com/go-jose/go-jose/v4"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

const (
	DiscoveryPath     = "/.well-known/openid-configuration"
	AuthorizePath     = "/authorize"
	TokenPath         = "/token"
	UserinfoPath      = "/userinfo"
	JWKSPath          = "/jwks"
	RegistrationPath  = "/register"
	EndSessionPath    = "/logout"
	IntrospectionPath = "/token/introspect"
)

const acrSilver = "urn:mace:incommon:iap:silver"

// DiscoveryDocument is the provider metadata served at the well-known
// configuration endpoint.
type DiscoveryDocument struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	UserinfoEndpoint                  string   `json:"userinfo_endpoint"`
	JwksURI                           string   `json:"jwks_uri"`
	RegistrationEndpoint              string   `json:"registration_endpoint"`
	EndSessionEndpoint                string   `json:"end_session_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	RequestParameterSupported         bool     `json:"request_parameter_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	ScopesSupported                   []string `json:"scopes_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
	AcrValuesSupported                []string `json:"acr_values_supported"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	ResponseModesSupported            []string `json:"response_modes_supported"`
	SubjectTypesSupported             []string `json:"subject_types_supported"`
	IDTokenSigningAlgValuesSupported  []string `json:"id_token_signing_alg_values_supported"`
	ClaimsSupported                   []string `json:"claims_supported"`
}

// NewDiscoveryDocument derives the metadata for the given issuer. The
// configured signing algorithm is advertised in addition to RS256 and PS256.
func NewDiscoveryDocument(issuerURL *url.URL, signingAlgorithm jose.SignatureAlgorithm) *DiscoveryDocument {
	signingAlgs := []string{string(jose.RS256), string(jose.PS256)}
	if signingAlgorithm != "" && !slices.Contains(signingAlgs, string(signingAlgorithm)) {
		signingAlgs = append(signingAlgs, string(signingAlgorithm))
	}
	return &DiscoveryDocument{
		Issuer:                    issuerURL.String(),
		AuthorizationEndpoint:     issuerURL.JoinPath(AuthorizePath).String(),
		TokenEndpoint:             issuerURL.JoinPath(TokenPath).String(),
		UserinfoEndpoint:          issuerURL.JoinPath(UserinfoPath).String(),
		JwksURI:                   issuerURL.JoinPath(JWKSPath).String(),
		RegistrationEndpoint:      issuerURL.JoinPath(RegistrationPath).String(),
		EndSessionEndpoint:        issuerURL.JoinPath(EndSessionPath).String(),
		IntrospectionEndpoint:     issuerURL.JoinPath(IntrospectionPath).String(),
		RequestParameterSupported: true,
		GrantTypesSupported: []string{
			string(oidc.GrantTypeCode),
			string(oidc.GrantTypeClientCredentials),
			string(oidc.GrantTypeRefreshToken),
		},
		ScopesSupported: []string{oidc.ScopeOpenID, oidc.ScopeProfile, oidc.ScopeEmail},
		TokenEndpointAuthMethodsSupported: []string{
			string(oidc.AuthMethodBasic),
			string(oidc.AuthMethodPost),
		},
		AcrValuesSupported:               []string{acrSilver},
		ResponseTypesSupported:           []string{string(ResponseTypeCode), string(ResponseTypeToken)},
		ResponseModesSupported:           []string{string(ResponseModeQuery), string(ResponseModeFormPost)},
		SubjectTypesSupported:            []string{"public"},
		IDTokenSigningAlgValuesSupported: signingAlgs,
		ClaimsSupported:                  []string{"name", "email", "given_name", "family_name", "sub"},
	}
}
