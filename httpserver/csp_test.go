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

package httpserver_test

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid/httpserver"
)

const cspTestScript = "document.forms[0].submit();"

func TestContentSecurityPolicy(t *testing.T) {
	documents := fstest.MapFS{
		"index.html":        {Data: []byte("<html><body><script>" + cspTestScript + "</script></body></html>")},
		"pages/styled.html": {Data: []byte(`<html><body><p style="color: red">styled</p></body></html>`)},
		"plain.txt":         {Data: []byte("<script>ignored</script>")},
	}
	csp := &httpserver.ContentSecurityPolicy{
		DefaultSrc: []string{"'none'"},
		ImgSrc:     []string{"'self'"},
	}
	err := csp.AddHashes(documents)
	require.NoError(t, err)
	header := csp.Header()

	scriptHash := sha256.Sum256([]byte(cspTestScript))
	styleHash := sha256.Sum256([]byte("color: red"))
	require.Equal(t, "default-src 'none'; script-src 'sha256-"+base64.StdEncoding.EncodeToString(scriptHash[:])+"'; img-src 'self';", header.Policy("index.html"))
	require.Equal(t, "default-src 'none'; style-src 'sha256-"+base64.StdEncoding.EncodeToString(styleHash[:])+"'; img-src 'self';", header.Policy("pages/styled.html"))
	require.Equal(t, "default-src 'none';", header.Policy("plain.txt"))

	rec := httptest.NewRecorder()
	header.Apply(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, header.Policy("index.html"), rec.Header().Get("Content-Security-Policy"))
}

func TestContentSecurityPolicyUnsafeInline(t *testing.T) {
	documents := fstest.MapFS{
		"form.html": {Data: []byte("<html><body><script>" + cspTestScript + "</script></body></html>")},
	}
	csp := &httpserver.ContentSecurityPolicy{
		DefaultSrc:     []string{"'none'"},
		ScriptSrc:      []string{"'unsafe-inline'"},
		FrameAncestors: []string{"'none'"},
	}
	err := csp.AddHashes(documents)
	require.NoError(t, err)
	require.Equal(t, "default-src 'none'; script-src 'unsafe-inline'; frame-ancestors 'none';", csp.Header().Policy("form.html"))
}
