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
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"slices"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const contentSecurityPolicyKey = "Content-Security-Policy"

const unsafeInline = "'unsafe-inline'"

// ContentSecurityPolicy derives per document policies allowing exactly the
// inline scripts and styles found in a set of HTML documents.
type ContentSecurityPolicy struct {
	DefaultSrc     []string
	ConnectSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	FrameAncestors []string
	documents      map[string]*documentHashes
}

type documentHashes struct {
	scripts []string
	styles  []string
}

// AddHashes hashes the inline content of all HTML documents in documents.
// Documents are addressed by their slash separated path.
func (p *ContentSecurityPolicy) AddHashes(documents fs.FS) error {
	return fs.WalkDir(documents, ".", func(documentPath string, entry fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk documents (cause: %w)", err)
		}
		if !entry.Type().IsRegular() || path.Ext(documentPath) != ".html" {
			return nil
		}
		return p.addDocumentHashes(documents, documentPath)
	})
}

func (p *ContentSecurityPolicy) addDocumentHashes(documents fs.FS, documentPath string) error {
	file, err := documents.Open(documentPath)
	if err != nil {
		return fmt.Errorf("failed to open document '%s' (cause: %w)", documentPath, err)
	}
	defer file.Close()
	root, err := html.Parse(file)
	if err != nil {
		return fmt.Errorf("failed to parse document '%s' (cause: %w)", documentPath, err)
	}
	hashes := &documentHashes{}
	for node := range root.Descendants() {
		if node.DataAtom == atom.Script && node.FirstChild != nil {
			hashes.scripts = append(hashes.scripts, sourceHash(node.FirstChild.Data))
		}
		for _, attr := range node.Attr {
			if attr.Key == "style" {
				hashes.styles = append(hashes.styles, sourceHash(attr.Val))
			}
		}
	}
	if len(hashes.scripts) == 0 && len(hashes.styles) == 0 {
		return nil
	}
	if p.documents == nil {
		p.documents = make(map[string]*documentHashes)
	}
	p.documents[documentPath] = hashes
	return nil
}

func sourceHash(source string) string {
	sum := sha256.Sum256([]byte(source))
	return "'sha256-" + base64.StdEncoding.EncodeToString(sum[:]) + "'"
}

// Header renders the policies of all hashed documents. Any other document
// gets a policy denying everything.
func (p *ContentSecurityPolicy) Header() *ContentSecurityPolicyHeader {
	policies := make(map[string]string, len(p.documents))
	for documentPath, hashes := range p.documents {
		policies[documentPath] = p.policy(hashes)
	}
	return &ContentSecurityPolicyHeader{
		policies:      policies,
		defaultPolicy: "default-src 'none';",
	}
}

func (p *ContentSecurityPolicy) policy(hashes *documentHashes) string {
	policy := &policyBuilder{}
	policy.directive("default-src", p.DefaultSrc)
	policy.directive("connect-src", p.ConnectSrc)
	policy.directive("script-src", p.ScriptSrc, hashes.scripts...)
	policy.directive("style-src", p.StyleSrc, hashes.styles...)
	policy.directive("img-src", p.ImgSrc)
	policy.directive("frame-ancestors", p.FrameAncestors)
	return policy.String()
}

// ContentSecurityPolicyHeader provides the policy of each hashed document.
type ContentSecurityPolicyHeader struct {
	policies      map[string]string
	defaultPolicy string
}

// Policy returns the policy for the given document path.
func (h *ContentSecurityPolicyHeader) Policy(documentPath string) string {
	policy, found := h.policies[documentPath]
	if !found {
		return h.defaultPolicy
	}
	return policy
}

// Apply sets the policy of the document addressed by the request path.
// Directory paths address their index.html.
func (h *ContentSecurityPolicyHeader) Apply(w http.ResponseWriter, r *http.Request) {
	documentPath := strings.TrimPrefix(r.URL.Path, "/")
	if documentPath == "" || strings.HasSuffix(documentPath, "/") {
		documentPath += "index.html"
	}
	h.ApplyDocument(w, documentPath)
}

// ApplyDocument sets the policy of the given document path.
func (h *ContentSecurityPolicyHeader) ApplyDocument(w http.ResponseWriter, documentPath string) {
	w.Header().Set(contentSecurityPolicyKey, h.Policy(documentPath))
}

type policyBuilder struct {
	strings.Builder
}

// directive appends a directive unless it has no sources at all. Hashes
// are omitted if the sources contain 'unsafe-inline'.
func (b *policyBuilder) directive(name string, sources []string, hashes ...string) {
	if len(sources) == 0 && len(hashes) == 0 {
		return
	}
	if slices.Contains(sources, unsafeInline) {
		hashes = nil
	}
	if b.Len() > 0 {
		b.WriteRune(' ')
	}
	b.WriteString(name)
	for _, source := range slices.Concat(sources, hashes) {
		b.WriteRune(' ')
		b.WriteString(source)
	}
	b.WriteRune(';')
}
