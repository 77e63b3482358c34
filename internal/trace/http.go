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

package trace

import (
	"net"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

var remoteIPHeaders = []string{
	"True-Client-IP",
	"X-Real-IP",
	"X-Forwarded-For",
}

// GetHttpRequestRemoteIP determines the client address of a request. Proxy
// headers take precedence over the connection's remote address.
func GetHttpRequestRemoteIP(r *http.Request) string {
	forwarded := forwardedFor(r.Header.Get("Forwarded"))
	if forwarded != "" {
		return forwarded
	}
	for _, remoteIPHeader := range remoteIPHeaders {
		remoteIP, _, _ := strings.Cut(r.Header.Get(remoteIPHeader), ",")
		remoteIP = strings.TrimSpace(remoteIP)
		if remoteIP != "" {
			return remoteIP
		}
	}
	return stripPort(r.RemoteAddr)
}

// forwardedFor extracts the first for= node of a Forwarded header value.
func forwardedFor(forwarded string) string {
	element, _, _ := strings.Cut(forwarded, ",")
	for pair := range strings.SplitSeq(element, ";") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found || !strings.EqualFold(key, "for") {
			continue
		}
		node := strings.Trim(value, `"`)
		if strings.HasPrefix(node, "[") {
			node, _, _ = strings.Cut(node[1:], "]")
			return node
		}
		if strings.Count(node, ":") == 1 {
			node, _, _ = strings.Cut(node, ":")
		}
		return node
	}
	return ""
}

func stripPort(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}
	return host
}

// HttpRequestAttributes returns the span attributes describing a request.
func HttpRequestAttributes(r *http.Request) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("http.request.method", r.Method),
		attribute.String("url.path", r.URL.Path),
		attribute.String("client.address", GetHttpRequestRemoteIP(r)),
		attribute.String("user_agent.original", r.UserAgent()),
	}
}
