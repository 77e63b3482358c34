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

package httpserver

import (
	"net/http"
)

// Header sets one or more response headers before the wrapped handler
// writes its response.
type Header interface {
	Apply(w http.ResponseWriter, r *http.Request)
}

type ApplyHeaderFunc func(w http.ResponseWriter, r *http.Request)

func (f ApplyHeaderFunc) Apply(w http.ResponseWriter, r *http.Request) {
	f(w, r)
}

// Headers applies all contained headers in order.
type Headers []Header

func (h Headers) Apply(w http.ResponseWriter, r *http.Request) {
	for _, header := range h {
		header.Apply(w, r)
	}
}

// HeaderHandler wraps handler so the given headers are applied to every
// response. Nil headers are skipped.
func HeaderHandler(handler http.Handler, headers ...Header) http.Handler {
	applied := make(Headers, 0, len(headers))
	for _, header := range headers {
		if header != nil {
			applied = append(applied, header)
		}
	}
	if len(applied) == 0 {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		applied.Apply(w, r)
		handler.ServeHTTP(w, r)
	})
}

// StaticHeader sets a fixed value, replacing any value set before.
type StaticHeader struct {
	Key   string
	Value string
}

func (h *StaticHeader) Apply(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set(h.Key, h.Value)
}

// NoStore marks a response as not cacheable, as required for responses
// carrying credentials.
var NoStore = Headers{
	&StaticHeader{Key: "Cache-Control", Value: "no-store"},
	&StaticHeader{Key: "Pragma", Value: "no-cache"},
}
