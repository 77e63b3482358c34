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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/tdrn-org/fakeid/internal/server/conf"
	"github.com/tdrn-org/fakeid/internal/server/crypto"
	"github.com/tdrn-org/fakeid/internal/server/store"
	"github.com/tdrn-org/fakeid/internal/trace"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var ErrInvalidRequest = errors.New("invalid request")

var ErrInvalidGrant = errors.New("invalid grant")

var ErrUnsupportedGrantType = errors.New("unsupported grant type")

var ErrUnsupportedResponseType = errors.New("unsupported response type")

const (
	authorizationCodeLength = 16
	accessTokenLength       = 32
)

type OAuth2ProviderConfig struct {
	IssuerURL  *url.URL
	SigningKey *SigningKey
	Claims     ClaimSet
	// TokenLifetime defaults to the runtime's token lifetime when zero.
	TokenLifetime time.Duration
	// CodeLifetime defaults to the runtime's code lifetime when zero.
	CodeLifetime time.Duration
	// SingleUseCodes makes an authorization code redeemable only once.
	SingleUseCodes bool
}

func (config *OAuth2ProviderConfig) NewProvider() (*OAuth2Provider, error) {
	if config.IssuerURL == nil || !config.IssuerURL.IsAbs() {
		return nil, fmt.Errorf("invalid issuer URL '%v'", config.IssuerURL)
	}
	if config.SigningKey == nil {
		return nil, fmt.Errorf("%w (no signing key)", ErrInvalidSigningKey)
	}
	claims, err := NewClaimSet(config.Claims)
	if err != nil {
		return nil, err
	}
	runtime := conf.LookupRuntime()
	tokenLifetime := config.TokenLifetime
	if tokenLifetime <= 0 {
		tokenLifetime = runtime.TokenLifetime
	}
	codeLifetime := config.CodeLifetime
	if codeLifetime <= 0 {
		codeLifetime = runtime.CodeLifetime
	}
	issuer := config.IssuerURL.String()
	minter, err := NewTokenMinter(issuer, claims, config.SigningKey, tokenLifetime)
	if err != nil {
		return nil, err
	}
	formPost, err := newFormPostRenderer()
	if err != nil {
		return nil, err
	}
	logger := slog.With(slog.String("issuer", issuer))
	provider := &OAuth2Provider{
		issuerURL:      config.IssuerURL,
		claims:         claims,
		signingKey:     config.SigningKey,
		minter:         minter,
		discovery:      NewDiscoveryDocument(config.IssuerURL, config.SigningKey.Algorithm()),
		authRequests:   store.New[*AuthRequest]("auth_requests", codeLifetime),
		grants:         store.New[*Grant]("grants", tokenLifetime),
		tokenLifetime:  tokenLifetime,
		singleUseCodes: config.SingleUseCodes,
		formPost:       formPost,
		tracer:         otel.Tracer(reflect.TypeFor[OAuth2Provider]().PkgPath()),
		logger:         logger,
		now:            time.Now,
	}
	logger.Info("OAuth2 provider initialized", slog.String("alg", string(config.SigningKey.Algorithm())), slog.String("sub", claims.Subject()), slog.Duration("token_lifetime", tokenLifetime), slog.Duration("code_lifetime", codeLifetime), slog.Bool("single_use_codes", config.SingleUseCodes))
	return provider, nil
}

// OAuth2Provider is the grant engine. It correlates authorize calls with
// later token exchanges and answers introspection queries.
type OAuth2Provider struct {
	issuerURL      *url.URL
	claims         ClaimSet
	signingKey     *SigningKey
	minter         *TokenMinter
	discovery      *DiscoveryDocument
	authRequests   *store.Store[*AuthRequest]
	grants         *store.Store[*Grant]
	tokenLifetime  time.Duration
	singleUseCodes bool
	formPost       *formPostRenderer
	tracer         oteltrace.Tracer
	logger         *slog.Logger
	now            func() time.Time
}

func (p *OAuth2Provider) IssuerURL() *url.URL {
	return p.issuerURL
}

func (p *OAuth2Provider) Claims() ClaimSet {
	return p.claims
}

func (p *OAuth2Provider) SigningKey() *SigningKey {
	return p.signingKey
}

func (p *OAuth2Provider) Discovery() *DiscoveryDocument {
	return p.discovery
}

// Authorize validates an authorize call, issues the requested artifacts and
// records the request under a fresh authorization code.
func (p *OAuth2Provider) Authorize(ctx context.Context, params *AuthorizeParams) (*AuthorizeResponse, error) {
	_, span := p.tracer.Start(ctx, "Authorize")
	defer span.End()

	response, err := p.authorize(params)
	if err != nil {
		trace.RecordError(span, err)
		return nil, err
	}
	return response, nil
}

func (p *OAuth2Provider) authorize(params *AuthorizeParams) (*AuthorizeResponse, error) {
	scopes := ParseScopes(params.Scopes...)
	err := errors.Join(
		requireParameter("client_id", params.ClientID),
		requireParameter("scope", strings.Join(scopes, " ")),
		requireParameter("redirect_uri", params.RedirectURI),
		requireParameter("response_type", params.ResponseType),
		requireParameter("state", params.State),
	)
	if err != nil {
		return nil, err
	}
	responseTypes, err := ParseResponseTypes(params.ResponseType)
	if err != nil {
		return nil, err
	}
	if responseTypes.IDToken && params.Nonce == "" {
		return nil, fmt.Errorf("%w (missing parameter: nonce)", ErrInvalidRequest)
	}
	responseMode, err := parseResponseMode(params.ResponseMode)
	if err != nil {
		return nil, err
	}
	redirectURI, err := url.Parse(params.RedirectURI)
	if err != nil || !redirectURI.IsAbs() || redirectURI.Host == "" {
		return nil, fmt.Errorf("%w (invalid redirect_uri '%s')", ErrInvalidRequest, params.RedirectURI)
	}
	code, err := crypto.RandomAlphanumeric(authorizationCodeLength)
	if err != nil {
		return nil, err
	}
	response := &AuthorizeResponse{
		RedirectURI:  params.RedirectURI,
		ResponseMode: responseMode,
		Parameters:   make([]ResponseParameter, 0, 4),
	}
	if responseTypes.Code {
		response.Parameters = append(response.Parameters, ResponseParameter{Name: "code", Value: code})
	}
	if responseTypes.Token {
		grant, err := p.issueGrant(params.ClientID, scopes)
		if err != nil {
			return nil, err
		}
		response.Parameters = append(response.Parameters, ResponseParameter{Name: "token", Value: grant.AccessToken})
	}
	if responseTypes.IDToken {
		idToken, err := p.minter.Mint(&IDTokenRequest{ClientID: params.ClientID, Nonce: params.Nonce})
		if err != nil {
			return nil, err
		}
		response.Parameters = append(response.Parameters, ResponseParameter{Name: "id_token", Value: idToken})
	}
	response.Parameters = append(response.Parameters, ResponseParameter{Name: "state", Value: params.State})
	authRequest := &AuthRequest{
		Code:          code,
		ClientID:      params.ClientID,
		Scopes:        scopes,
		RedirectURI:   params.RedirectURI,
		ResponseTypes: responseTypes,
		State:         params.State,
		Nonce:         params.Nonce,
		CreatedAt:     p.now(),
	}
	p.authRequests.Put(code, authRequest)
	p.logger.Debug("authorization request recorded", slog.String("client_id", params.ClientID), slog.String("response_type", responseTypes.String()), slog.Any("scopes", scopes))
	return response, nil
}

// ExchangeToken performs a token call, dispatching on its grant type.
func (p *OAuth2Provider) ExchangeToken(ctx context.Context, params *TokenParams) (*TokenResponse, error) {
	_, span := p.tracer.Start(ctx, "ExchangeToken")
	defer span.End()

	var response *TokenResponse
	var err error
	switch GrantType(params.GrantType) {
	case "":
		err = fmt.Errorf("%w (missing parameter: grant_type)", ErrInvalidRequest)
	case GrantTypeAuthorizationCode:
		response, err = p.exchangeAuthorizationCode(params)
	case GrantTypeClientCredentials:
		response, err = p.exchangeClientCredentials(params)
	default:
		err = fmt.Errorf("%w (grant_type '%s')", ErrUnsupportedGrantType, params.GrantType)
	}
	if err != nil {
		trace.RecordError(span, err)
		return nil, err
	}
	return response, nil
}

func (p *OAuth2Provider) exchangeAuthorizationCode(params *TokenParams) (*TokenResponse, error) {
	err := requireParameter("code", params.Code)
	if err != nil {
		return nil, err
	}
	var authRequest *AuthRequest
	var found bool
	if p.singleUseCodes {
		authRequest, found = p.authRequests.Take(params.Code)
	} else {
		authRequest, found = p.authRequests.Get(params.Code)
	}
	if !found {
		return nil, fmt.Errorf("%w (unknown authorization code)", ErrInvalidGrant)
	}
	scope := params.Scope
	if strings.TrimSpace(scope) == "" {
		scope = strings.Join(authRequest.Scopes, " ")
	}
	grant, err := p.issueGrant(authRequest.ClientID, authRequest.Scopes)
	if err != nil {
		return nil, err
	}
	response := p.tokenResponse(grant, GrantTypeAuthorizationCode, scope)
	if slices.Contains(strings.Fields(scope), oidc.ScopeOpenID) {
		idToken, err := p.minter.Mint(&IDTokenRequest{ClientID: authRequest.ClientID, Nonce: authRequest.Nonce})
		if err != nil {
			return nil, err
		}
		response.IDToken = idToken
	}
	return response, nil
}

func (p *OAuth2Provider) exchangeClientCredentials(params *TokenParams) (*TokenResponse, error) {
	err := requireParameter("client_id", params.ClientID)
	if err != nil {
		return nil, err
	}
	grant, err := p.issueGrant(params.ClientID, ParseScopes(params.Scope))
	if err != nil {
		return nil, err
	}
	return p.tokenResponse(grant, GrantTypeClientCredentials, params.Scope), nil
}

func (p *OAuth2Provider) tokenResponse(grant *Grant, grantType GrantType, scope string) *TokenResponse {
	return &TokenResponse{
		AccessToken: grant.AccessToken,
		TokenType:   TokenTypeBearer,
		ExpiresIn:   int64(p.tokenLifetime.Seconds()),
		Scope:       scope,
		IssuedAt:    grant.IssuedAt.Unix(),
		ClientID:    grant.ClientID,
		GrantType:   string(grantType),
	}
}

func (p *OAuth2Provider) issueGrant(clientID string, scopes []string) (*Grant, error) {
	accessToken, err := crypto.RandomAlphanumeric(accessTokenLength)
	if err != nil {
		return nil, err
	}
	now := p.now()
	grant := &Grant{
		AccessToken: accessToken,
		ClientID:    clientID,
		Subject:     p.claims.Subject(),
		Scopes:      scopes,
		IssuedAt:    now,
		ExpiresAt:   now.Add(p.tokenLifetime),
	}
	p.grants.Put(accessToken, grant)
	p.logger.Debug("access token issued", slog.String("client_id", clientID), slog.Any("scopes", scopes))
	return grant, nil
}

// Introspect reports whether the given access token denotes a live grant.
// Unknown and expired tokens are reported inactive.
func (p *OAuth2Provider) Introspect(ctx context.Context, token string) *IntrospectionResponse {
	_, span := p.tracer.Start(ctx, "Introspect")
	defer span.End()

	grant, found := p.grants.Get(token)
	if !found || !grant.Active(p.now()) {
		return &IntrospectionResponse{Active: false}
	}
	return &IntrospectionResponse{
		Active:    true,
		ClientID:  grant.ClientID,
		Subject:   grant.Subject,
		Scope:     strings.Join(grant.Scopes, " "),
		ExpiresAt: grant.ExpiresAt.Unix(),
		IssuedAt:  grant.IssuedAt.Unix(),
	}
}

// LookupAuthRequest returns the request recorded for an authorization code
// without consuming it.
func (p *OAuth2Provider) LookupAuthRequest(code string) (*AuthRequest, bool) {
	return p.authRequests.Get(code)
}

// LookupGrant returns the grant recorded for an access token.
func (p *OAuth2Provider) LookupGrant(token string) (*Grant, bool) {
	return p.grants.Get(token)
}

// Reset forgets all issued codes and tokens.
func (p *OAuth2Provider) Reset() {
	p.logger.Info("resetting OAuth2 provider state")
	p.authRequests.Clear()
	p.grants.Clear()
}

// DeleteExpired purges expired codes and tokens.
func (p *OAuth2Provider) DeleteExpired() {
	p.authRequests.DeleteExpired()
	p.grants.DeleteExpired()
}

func (p *OAuth2Provider) Close() error {
	p.logger.Info("closing OAuth2 provider")
	p.Reset()
	return nil
}

func requireParameter(name string, value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w (missing parameter: %s)", ErrInvalidRequest, name)
	}
	return nil
}
