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

package oauth2client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tdrn-org/fakeid/internal/buildinfo"
	"github.com/zitadel/oidc/v3/pkg/client"
	"github.com/zitadel/oidc/v3/pkg/client/rp"
	"github.com/zitadel/oidc/v3/pkg/client/rs"
	"github.com/zitadel/oidc/v3/pkg/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Config identifies a client at a provider.
type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// Client talks to the provider endpoints directly. Unlike
// [AuthorizationCodeFlow] it does not run a callback server; authorize
// redirects are returned to the caller instead of being followed.
type Client struct {
	config           *Config
	discovery        *oidc.DiscoveryConfiguration
	httpClient       *http.Client
	noRedirectClient *http.Client
	oauth2Config     *oauth2.Config
	keySet           oidc.KeySet
	resourceServer   rs.ResourceServer
	states           *stateCodec
	logger           *slog.Logger
}

// NewClient discovers the configured issuer and prepares a client for it.
// If httpClient is nil, [http.DefaultClient] is used.
func (config *Config) NewClient(ctx context.Context, httpClient *http.Client) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	discovery, err := client.Discover(ctx, config.Issuer, httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to discover issuer '%s' (cause: %w)", config.Issuer, err)
	}
	resourceServer, err := rs.NewResourceServerClientCredentials(ctx, config.Issuer, config.ClientID, config.ClientSecret, rs.WithClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to setup introspection client (cause: %w)", err)
	}
	noRedirectClient := *httpClient
	noRedirectClient.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c := &Client{
		config:           config,
		discovery:        discovery,
		httpClient:       httpClient,
		noRedirectClient: &noRedirectClient,
		oauth2Config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   discovery.AuthorizationEndpoint,
				TokenURL:  discovery.TokenEndpoint,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			RedirectURL: config.RedirectURL,
			Scopes:      config.Scopes,
		},
		keySet:         rp.NewRemoteKeySet(httpClient, discovery.JwksURI),
		resourceServer: resourceServer,
		states:         newStateCodec(),
		logger:         slog.With(slog.String("client", config.ClientID), slog.String("issuer", discovery.Issuer)),
	}
	return c, nil
}

func (c *Client) Discovery() *oidc.DiscoveryConfiguration {
	return c.discovery
}

// AuthorizeRequest selects the authorize call's parameters. Empty fields
// fall back to a code request with the configured scopes and a generated
// nonce.
type AuthorizeRequest struct {
	ResponseType string
	ResponseMode string
	Scopes       []string
	Nonce        string
}

// AuthorizeResult holds the parameters delivered to the redirect URI.
type AuthorizeResult struct {
	Location    *url.URL
	Code        string
	AccessToken string
	IDToken     string
	State       string
	Nonce       string
}

// Authorize calls the authorize endpoint and evaluates the redirect issued
// by the provider. The returned state is checked to be one of this client's
// own.
func (c *Client) Authorize(ctx context.Context, request *AuthorizeRequest) (*AuthorizeResult, error) {
	nonce := request.Nonce
	if nonce == "" {
		nonce = uuid.NewString()
	}
	state, err := c.states.encode(nonce)
	if err != nil {
		return nil, err
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("nonce", nonce)}
	if request.ResponseType != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_type", request.ResponseType))
	}
	if request.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", request.ResponseMode))
	}
	if len(request.Scopes) > 0 {
		opts = append(opts, oauth2.SetAuthURLParam("scope", strings.Join(request.Scopes, " ")))
	}
	authURL := c.oauth2Config.AuthCodeURL(state, opts...)
	rsp, err := c.do(ctx, c.noRedirectClient, http.MethodGet, authURL, nil, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusFound {
		return nil, responseError(rsp)
	}
	location, err := rsp.Location()
	if err != nil {
		return nil, fmt.Errorf("%w (invalid authorize redirect: %w)", ErrUnexpectedResponse, err)
	}
	query := location.Query()
	result := &AuthorizeResult{
		Location:    location,
		Code:        query.Get("code"),
		AccessToken: query.Get("token"),
		IDToken:     query.Get("id_token"),
		State:       query.Get("state"),
	}
	result.Nonce, err = c.states.decode(result.State)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("authorize succeeded", slog.String("location", location.String()))
	return result, nil
}

// ExchangeCode redeems an authorization code at the token endpoint.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := c.oauth2Config.Exchange(c.oauth2Context(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code (cause: %w)", err)
	}
	return token, nil
}

// ClientCredentials requests a token for the client itself. The client
// credentials are sent as basic authorization.
func (c *Client) ClientCredentials(ctx context.Context, scopes ...string) (*oauth2.Token, error) {
	config := &clientcredentials.Config{
		ClientID:     c.config.ClientID,
		ClientSecret: c.config.ClientSecret,
		TokenURL:     c.discovery.TokenEndpoint,
		Scopes:       scopes,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	token, err := config.Token(c.oauth2Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch client credentials token (cause: %w)", err)
	}
	return token, nil
}

func (c *Client) Introspect(ctx context.Context, token string) (*oidc.IntrospectionResponse, error) {
	response, err := rs.Introspect[*oidc.IntrospectionResponse](ctx, c.resourceServer, token)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect token (cause: %w)", err)
	}
	return response, nil
}

func (c *Client) UserInfo(ctx context.Context, accessToken string) (*oidc.UserInfo, error) {
	header := http.Header{}
	header.Set("Authorization", oidc.BearerToken+" "+accessToken)
	rsp, err := c.do(ctx, c.httpClient, http.MethodGet, c.discovery.UserinfoEndpoint, header, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return nil, responseError(rsp)
	}
	userInfo := &oidc.UserInfo{}
	err = json.NewDecoder(rsp.Body).Decode(userInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to decode user info response (cause: %w)", err)
	}
	return userInfo, nil
}

// VerifyIDToken checks the ID token's signature against the provider's key
// set as well as its issuer, audience, lifetime and nonce.
func (c *Client) VerifyIDToken(ctx context.Context, idToken string, nonce string) (*oidc.IDTokenClaims, error) {
	verifier := rp.NewIDTokenVerifier(c.discovery.Issuer, c.config.ClientID, c.keySet,
		rp.WithSupportedSigningAlgorithms(c.discovery.IDTokenSigningAlgValuesSupported...),
		rp.WithIssuedAtOffset(5*time.Second),
		rp.WithNonce(func(context.Context) string { return nonce }),
	)
	claims, err := rp.VerifyIDToken[*oidc.IDTokenClaims](ctx, idToken, verifier)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token (cause: %w)", err)
	}
	return claims, nil
}

// EndSession calls the end session endpoint. The returned URL is the
// redirect target issued by the provider or nil if none was requested.
func (c *Client) EndSession(ctx context.Context, postLogoutRedirectURI string, state string) (*url.URL, error) {
	endSessionURL, err := url.Parse(c.discovery.EndSessionEndpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid end session endpoint '%s' (cause: %w)", c.discovery.EndSessionEndpoint, err)
	}
	query := endSessionURL.Query()
	query.Set("client_id", c.config.ClientID)
	if postLogoutRedirectURI != "" {
		query.Set("post_logout_redirect_uri", postLogoutRedirectURI)
	}
	if state != "" {
		query.Set("state", state)
	}
	endSessionURL.RawQuery = query.Encode()
	rsp, err := c.do(ctx, c.noRedirectClient, http.MethodGet, endSessionURL.String(), nil, nil)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	switch rsp.StatusCode {
	case http.StatusOK:
		return nil, nil
	case http.StatusFound:
		return rsp.Location()
	default:
		return nil, responseError(rsp)
	}
}

func (c *Client) oauth2Context(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *Client) do(ctx context.Context, httpClient *http.Client, method string, url string, header http.Header, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s request (cause: %w)", method, err)
	}
	for key, values := range header {
		req.Header[key] = values
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent())
	rsp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failure (cause: %w)", method, err)
	}
	return rsp, nil
}

// responseError converts an error response into an error. If the body
// carries an OAuth2 error, it is wrapped.
func responseError(rsp *http.Response) error {
	oidcErr := &oidc.Error{}
	err := json.NewDecoder(rsp.Body).Decode(oidcErr)
	if err != nil || oidcErr.ErrorType == "" {
		return fmt.Errorf("%w (status: %s)", ErrUnexpectedResponse, rsp.Status)
	}
	return fmt.Errorf("%w (status: %s, cause: %w)", ErrUnexpectedResponse, rsp.Status, oidcErr)
}
