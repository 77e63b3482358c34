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


// Package web holds the HTML documents served by the provider.
package web

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
)

// FormPostDocument is the auto-submitting page delivering authorize results
// with response_mode=form_post.
const FormPostDocument = "form_post.html"

//go:embed *.html
var documents embed.FS

func Documents() fs.ReadDirFS {
	return documents
}

func FormPostTemplate() (*template.Template, error) {
	formPost, err := template.ParseFS(documents, FormPostDocument)
	if err != nil {
		return nil, fmt.Errorf("unexpected web document structure (cause: %w)", err)
	}
	return formPost, nil
}
