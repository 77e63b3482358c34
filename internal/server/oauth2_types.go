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
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

type ResponseType string

const (
	ResponseTypeCode    ResponseType = "code"
	ResponseTypeToken   ResponseType = "token"
	ResponseTypeIDToken ResponseType = "id_token"
)

// ResponseTypes is the set of response types requested by an authorize call.
type ResponseTypes struct {
	Code    bool
	Token   bool
	IDToken bool
}

// ParseResponseTypes splits a response_type value on whitespace. Each token
// must be one of code, token or id_token.
func ParseResponseTypes(value string) (ResponseTypes, error) {
	responseTypes := ResponseTypes{}
	for _, responseType := range strings.Fields(value) {
		switch ResponseType(responseType) {
		case ResponseTypeCode:
			responseTypes.Code = true
		case ResponseTypeToken:
			responseTypes.Token = true
		case ResponseTypeIDToken:
			responseTypes.IDToken = true
		default:
			return ResponseTypes{}, fmt.Errorf("%w (unknown response type '%s')", ErrUnsupportedResponseType, responseType)
		}
	}
	return responseTypes, nil
}

func (t ResponseTypes) String() string {
	responseTypes := make([]string, 0, 3)
	if t.Code {
		responseTypes = append(responseTypes, string(ResponseTypeCode))
	}
	if t.Token {
		responseTypes = append(responseTypes, string(ResponseTypeToken))
	}
	if t.IDToken {
		responseTypes = append(responseTypes, string(ResponseTypeIDToken))
	}
	return strings.Join(responseTypes, " ")
}

type ResponseMode string

const (
	ResponseModeQuery    ResponseMode = "query"
	ResponseModeFormPost ResponseMode = "form_post"
)

func parseResponseMode(value string) (ResponseMode, error) {
	switch value {
	case "", string(ResponseModeQuery):
		return ResponseModeQuery, nil
	case string(ResponseModeFormPost):
		return ResponseModeFormPost, nil
	default:
		return "", fmt.Errorf("%w (unsupported response_mode '%s')", ErrInvalidRequest, value)
	}
}

// ParseScopes splits all given scope values on whitespace. Duplicates are
// dropped; the order of first appearance is kept.
func ParseScopes(values ...string) []string {
	scopes := make([]string, 0)
	for _, value := range values {
		for _, scope := range strings.Fields(value) {
			if !slices.Contains(scopes, scope) {
				scopes = append(scopes, scope)
			}
		}
	}
	return scopes
}

// AuthorizeParams holds the raw parameters of an authorize call.
type AuthorizeParams struct {
	ClientID     string
	Scopes       []string
	RedirectURI  string
	ResponseType string
	ResponseMode string
	State        string
	Nonce        string
}

func AuthorizeParamsFromValues(values url.Values) *AuthorizeParams {
	return &AuthorizeParams{
		ClientID:     values.Get("client_id"),
		Scopes:       values["scope"],
		RedirectURI:  values.Get("redirect_uri"),
		ResponseType: values.Get("response_type"),
		ResponseMode: values.Get("response_mode"),
		State:        values.Get("state"),
		Nonce:        values.Get("nonce"),
	}
}

// AuthRequest is the stored outcome of an authorize call, keyed by its code.
type AuthRequest struct {
	Code          string
	ClientID      string
	Scopes        []string
	RedirectURI   string
	ResponseTypes ResponseTypes
	State         string
	Nonce         string
	CreatedAt     time.Time
}

type ResponseParameter struct {
	Name  string
	Value string
}

// AuthorizeResponse describes where and how the authorize result is
// delivered to the client.
type AuthorizeResponse struct {
	RedirectURI  string
	ResponseMode ResponseMode
	Parameters   []ResponseParameter
}

// Target composes the redirect target by appending the parameters to the
// redirect URI as is.
func (r *AuthorizeResponse) Target() string {
	target := &strings.Builder{}
	target.WriteString(r.RedirectURI)
	separator := '?'
	if strings.ContainsRune(r.RedirectURI, '?') {
		separator = '&'
	}
	for _, parameter := range r.Parameters {
		target.WriteRune(separator)
		target.WriteString(parameter.Name)
		target.WriteRune('=')
		target.WriteString(parameter.Value)
		separator = '&'
	}
	return target.String()
}

func (r *AuthorizeResponse) Parameter(name string) (string, bool) {
	for _, parameter := range r.Parameters {
		if parameter.Name == name {
			return parameter.Value, true
		}
	}
	return "", false
}

// Grant is the record behind an issued access token.
type Grant struct {
	AccessToken string
	ClientID    string
	Subject     string
	Scopes      []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

func (g *Grant) Active(now time.Time) bool {
	return now.Before(g.ExpiresAt)
}

type GrantType string

const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
)

// TokenParams holds the raw parameters of a token call.
type TokenParams struct {
	GrantType string
	Code      string
	ClientID  string
	Scope     string
}

const TokenTypeBearer = "Bearer"

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
	Scope       string `json:"scope"`
	IssuedAt    int64  `json:"issued_at"`
	ClientID    string `json:"client_id"`
	GrantType   string `json:"grant_type"`
	IDToken     string `json:"id_token,omitempty"`
}

type IntrospectionResponse struct {
	Active    bool   `json:"active"`
	ClientID  string `json:"client_id"`
	Subject   string `json:"sub"`
	Scope     string `json:"scope"`
	ExpiresAt int64  `json:"exp"`
	IssuedAt  int64  `json:"iat"`
}

var inactiveIntrospectionResponse = []byte(`{"active":false}`)

// MarshalJSON renders an inactive response as the bare active flag.
func (r *IntrospectionResponse) MarshalJSON() ([]byte, error) {
	if !r.Active {
		return inactiveIntrospectionResponse, nil
	}
	type activeIntrospectionResponse IntrospectionResponse
	return json.Marshal((*activeIntrospectionResponse)(r))
}
