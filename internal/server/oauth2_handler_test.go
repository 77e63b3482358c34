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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid/internal/server"
)

type testMux struct {
	*http.ServeMux
}

func (mux *testMux) HandleFunc(pattern string, handler http.HandlerFunc) {
	mux.ServeMux.Handle(pattern, handler)
}

func newTestHandler(t *testing.T) (*server.OAuth2Provider, http.Handler) {
	mux := &testMux{ServeMux: http.NewServeMux()}
	provider := newTestProvider(t, nil).Mount(mux)
	return provider, mux
}

func serve(handler http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func requireErrorResponse(t *testing.T, rec *httptest.ResponseRecorder, status int, errorType string) {
	require.Equal(t, status, rec.Code)
	body := make(map[string]any)
	err := json.Unmarshal(rec.Body.Bytes(), &body)
	require.NoError(t, err)
	require.Equal(t, errorType, body["error"])
}

func authorizeQuery(responseType string) url.Values {
	return url.Values{
		"client_id":     {"C1"},
		"scope":         {"openid profile"},
		"redirect_uri":  {"https://cb"},
		"response_type": {responseType},
		"state":         {"S1"},
		"nonce":         {"N1"},
	}
}

func TestHandleDiscovery(t *testing.T) {
	_, handler := newTestHandler(t)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, server.DiscoveryPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "application/json")
	discovery := &server.DiscoveryDocument{}
	err := json.Unmarshal(rec.Body.Bytes(), discovery)
	require.NoError(t, err)
	require.Equal(t, testIssuer, discovery.Issuer)
	require.Equal(t, testIssuer+"/token/introspect", discovery.IntrospectionEndpoint)
}

func TestHandleAuthorizationCodeFlow(t *testing.T) {
	_, handler := newTestHandler(t)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, server.AuthorizePath+"?"+authorizeQuery("code").Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	require.Equal(t, "cb", location.Host)
	require.Equal(t, "S1", location.Query().Get("state"))
	code := location.Query().Get("code")
	require.Len(t, code, 16)

	rec = serve(handler, postForm(server.TokenPath, url.Values{"grant_type": {"authorization_code"}, "code": {code}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	tokenResponse := &server.TokenResponse{}
	err = json.Unmarshal(rec.Body.Bytes(), tokenResponse)
	require.NoError(t, err)
	require.Equal(t, "Bearer", tokenResponse.TokenType)
	require.Equal(t, "openid profile", tokenResponse.Scope)
	require.NotEmpty(t, tokenResponse.IDToken)

	rec = serve(handler, postForm(server.IntrospectionPath, url.Values{"token": {tokenResponse.AccessToken}}))
	require.Equal(t, http.StatusOK, rec.Code)
	introspection := make(map[string]any)
	err = json.Unmarshal(rec.Body.Bytes(), &introspection)
	require.NoError(t, err)
	require.Equal(t, true, introspection["active"])
	require.Equal(t, "C1", introspection["client_id"])
	require.Equal(t, "john@developer.com", introspection["sub"])

	rec = serve(handler, postForm(server.TokenPath, url.Values{"grant_type": {"authorization_code"}, "code": {code}}))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_grant")
}

func TestHandleAuthorizeFormPost(t *testing.T) {
	_, handler := newTestHandler(t)
	query := authorizeQuery("code")
	query.Set("response_mode", "form_post")
	rec := serve(handler, postForm(server.AuthorizePath, query))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Security-Policy"), "script-src 'sha256-")
	body := rec.Body.String()
	require.Contains(t, body, `action="https://cb"`)
	require.Contains(t, body, `name="code"`)
	require.Contains(t, body, `name="state" value="S1"`)
}

func TestHandleAuthorizeFailures(t *testing.T) {
	_, handler := newTestHandler(t)
	query := authorizeQuery("code")
	query.Del("state")
	rec := serve(handler, httptest.NewRequest(http.MethodGet, server.AuthorizePath+"?"+query.Encode(), nil))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_request")

	rec = serve(handler, httptest.NewRequest(http.MethodGet, server.AuthorizePath+"?"+authorizeQuery("code device").Encode(), nil))
	requireErrorResponse(t, rec, http.StatusBadRequest, "unsupported_response_type")
}

func TestHandleClientCredentials(t *testing.T) {
	_, handler := newTestHandler(t)
	req := postForm(server.TokenPath, url.Values{"grant_type": {"client_credentials"}, "scope": {"api:read"}})
	req.SetBasicAuth(url.QueryEscape("C2"), "secret")
	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)
	tokenResponse := make(map[string]any)
	err := json.Unmarshal(rec.Body.Bytes(), &tokenResponse)
	require.NoError(t, err)
	require.Equal(t, "api:read", tokenResponse["scope"])
	require.Equal(t, "C2", tokenResponse["client_id"])
	require.NotContains(t, tokenResponse, "id_token")
}

func TestHandleTokenFailures(t *testing.T) {
	_, handler := newTestHandler(t)
	rec := serve(handler, postForm(server.TokenPath, url.Values{"grant_type": {"authorization_code"}, "code": {"unknown"}}))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_grant")
	rec = serve(handler, postForm(server.TokenPath, url.Values{"grant_type": {"refresh_token"}, "refresh_token": {"any"}}))
	requireErrorResponse(t, rec, http.StatusBadRequest, "unsupported_grant_type")
	rec = serve(handler, postForm(server.TokenPath, url.Values{}))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_request")
	rec = serve(handler, httptest.NewRequest(http.MethodGet, server.TokenPath, nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleIntrospectUnknownToken(t *testing.T) {
	_, handler := newTestHandler(t)
	rec := serve(handler, postForm(server.IntrospectionPath, url.Values{"token": {"never-issued"}}))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"active":false}`, rec.Body.String())
	rec = serve(handler, postForm(server.IntrospectionPath, url.Values{}))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_request")
}

func TestHandleJWKS(t *testing.T) {
	provider, handler := newTestHandler(t)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, server.JWKSPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	jwks := &jose.JSONWebKeySet{}
	err := json.Unmarshal(rec.Body.Bytes(), jwks)
	require.NoError(t, err)
	keys := jwks.Key(server.SigningKeyID)
	require.Len(t, keys, 1)
	require.True(t, keys[0].IsPublic())
	require.Equal(t, string(provider.SigningKey().Algorithm()), keys[0].Algorithm)
	require.Equal(t, "sig", keys[0].Use)
}

func TestHandleUserinfo(t *testing.T) {
	_, handler := newTestHandler(t)
	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := serve(handler, httptest.NewRequest(method, server.UserinfoPath, nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.JSONEq(t, `{"sub":"john@developer.com","name":"John C. Developer","email":"john@developer.com"}`, rec.Body.String())
	}
}

func TestHandleEndSession(t *testing.T) {
	_, handler := newTestHandler(t)
	rec := serve(handler, httptest.NewRequest(http.MethodGet, server.EndSessionPath, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	query := url.Values{"post_logout_redirect_uri": {"https://cb/bye?lang=en"}, "state": {"S1"}}
	rec = serve(handler, httptest.NewRequest(http.MethodGet, server.EndSessionPath+"?"+query.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "https://cb/bye?lang=en&state=S1", rec.Header().Get("Location"))

	query = url.Values{"post_logout_redirect_uri": {"/bye"}}
	rec = serve(handler, httptest.NewRequest(http.MethodGet, server.EndSessionPath+"?"+query.Encode(), nil))
	requireErrorResponse(t, rec, http.StatusBadRequest, "invalid_request")
}
