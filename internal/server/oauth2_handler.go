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
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tdrn-org/fakeid/httpserver"
	"github.com/tdrn-org/fakeid/internal/server/web"
	httphelper "github.com/zitadel/oidc/v3/pkg/http"
	"github.com/zitadel/oidc/v3/pkg/oidc"
)

const unsupportedResponseType = "unsupported_response_type"

func (p *OAuth2Provider) Mount(handler httpserver.Handler) *OAuth2Provider {
	handler.HandleFunc("GET "+DiscoveryPath, p.handleDiscovery)
	handler.HandleFunc("GET "+AuthorizePath, p.handleAuthorize)
	handler.HandleFunc("POST "+AuthorizePath, p.handleAuthorize)
	handler.HandleFunc("POST "+TokenPath, httpserver.HeaderHandler(http.HandlerFunc(p.handleToken), httpserver.NoStore).ServeHTTP)
	handler.HandleFunc("POST "+IntrospectionPath, p.handleIntrospect)
	handler.HandleFunc("GET "+JWKSPath, p.handleJWKS)
	handler.HandleFunc("GET "+UserinfoPath, p.handleUserinfo)
	handler.HandleFunc("POST "+UserinfoPath, p.handleUserinfo)
	handler.HandleFunc("GET "+EndSessionPath, p.handleEndSession)
	return p
}

func (p *OAuth2Provider) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	httphelper.MarshalJSON(w, p.discovery)
}

func (p *OAuth2Provider) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		p.writeError(w, r, fmt.Errorf("%w (cause: %w)", ErrInvalidRequest, err))
		return
	}
	response, err := p.Authorize(r.Context(), AuthorizeParamsFromValues(r.Form))
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	switch response.ResponseMode {
	case ResponseModeFormPost:
		err = p.formPost.render(w, r, response)
		if err != nil {
			p.writeError(w, r, err)
		}
	default:
		http.Redirect(w, r, response.Target(), http.StatusFound)
	}
}

func (p *OAuth2Provider) handleToken(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		p.writeError(w, r, fmt.Errorf("%w (cause: %w)", ErrInvalidRequest, err))
		return
	}
	params := &TokenParams{
		GrantType: r.Form.Get("grant_type"),
		Code:      r.Form.Get("code"),
		ClientID:  r.Form.Get("client_id"),
		Scope:     r.Form.Get("scope"),
	}
	if params.ClientID == "" {
		params.ClientID = basicAuthClientID(r)
	}
	response, err := p.ExchangeToken(r.Context(), params)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	httphelper.MarshalJSON(w, response)
}

// basicAuthClientID returns the client id of the request's basic
// credentials. The secret is not checked.
func basicAuthClientID(r *http.Request) string {
	user, _, ok := r.BasicAuth()
	if !ok {
		return ""
	}
	clientID, err := url.QueryUnescape(user)
	if err != nil {
		return user
	}
	return clientID
}

func (p *OAuth2Provider) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	err := r.ParseForm()
	if err != nil {
		p.writeError(w, r, fmt.Errorf("%w (cause: %w)", ErrInvalidRequest, err))
		return
	}
	token := r.Form.Get("token")
	err = requireParameter("token", token)
	if err != nil {
		p.writeError(w, r, err)
		return
	}
	httphelper.MarshalJSON(w, p.Introspect(r.Context(), token))
}

func (p *OAuth2Provider) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	httphelper.MarshalJSON(w, p.signingKey.KeySet())
}

func (p *OAuth2Provider) handleUserinfo(w http.ResponseWriter, _ *http.Request) {
	httphelper.MarshalJSON(w, p.claims)
}

func (p *OAuth2Provider) handleEndSession(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	rawRedirectURI := query.Get("post_logout_redirect_uri")
	if rawRedirectURI == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	redirectURI, err := url.Parse(rawRedirectURI)
	if err != nil || !redirectURI.IsAbs() {
		p.writeError(w, r, fmt.Errorf("%w (invalid post_logout_redirect_uri '%s')", ErrInvalidRequest, rawRedirectURI))
		return
	}
	state := query.Get("state")
	if state != "" {
		redirectQuery := redirectURI.Query()
		redirectQuery.Set("state", state)
		redirectURI.RawQuery = redirectQuery.Encode()
	}
	http.Redirect(w, r, redirectURI.String(), http.StatusFound)
}

func (p *OAuth2Provider) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oidcErr *oidc.Error
	switch {
	case errors.Is(err, ErrInvalidRequest):
		oidcErr = oidc.ErrInvalidRequest()
	case errors.Is(err, ErrInvalidGrant):
		oidcErr = oidc.ErrInvalidGrant()
	case errors.Is(err, ErrUnsupportedGrantType):
		oidcErr = oidc.ErrUnsupportedGrantType()
	case errors.Is(err, ErrUnsupportedResponseType):
		oidcErr = &oidc.Error{ErrorType: unsupportedResponseType}
	default:
		p.logger.Error("request failure", slog.String("path", r.URL.Path), slog.Any("err", err))
		httphelper.MarshalJSONWithStatus(w, oidc.ErrServerError(), http.StatusInternalServerError)
		return
	}
	oidcErr.Description = err.Error()
	p.logger.Debug("request rejected", slog.String("path", r.URL.Path), slog.Any("err", err))
	httphelper.MarshalJSONWithStatus(w, oidcErr, http.StatusBadRequest)
}

type formPostRenderer struct {
	template *template.Template
	csp      *httpserver.ContentSecurityPolicyHeader
}

func newFormPostRenderer() (*formPostRenderer, error) {
	formPost, err := web.FormPostTemplate()
	if err != nil {
		return nil, err
	}
	csp := &httpserver.ContentSecurityPolicy{
		DefaultSrc:     []string{"'none'"},
		FrameAncestors: []string{"'none'"},
	}
	err = csp.AddHashes(web.Documents())
	if err != nil {
		return nil, err
	}
	renderer := &formPostRenderer{
		template: formPost,
		csp:      csp.Header(),
	}
	return renderer, nil
}

func (renderer *formPostRenderer) render(w http.ResponseWriter, r *http.Request, response *AuthorizeResponse) error {
	buffer := &bytes.Buffer{}
	err := renderer.template.Execute(buffer, response)
	if err != nil {
		return fmt.Errorf("failed to render form_post response (cause: %w)", err)
	}
	renderer.csp.ApplyDocument(w, web.FormPostDocument)
	httpserver.NoStore.Apply(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, err = w.Write(buffer.Bytes())
	return err
}
