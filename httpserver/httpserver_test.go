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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tdrn-org/fakeid/httpserver"
	"github.com/tdrn-org/go-tlsconf"
	"github.com/tdrn-org/go-tlsconf/tlsclient"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestServe(t *testing.T) {
	server := newServer()
	err := server.Serve()
	require.NoError(t, err)
	client := &http.Client{}
	pingServer(t, server, client)
	require.NoError(t, server.Shutdown(t.Context()))
	server.WaitStopped()
}

func TestServeTLS(t *testing.T) {
	server := newServer()
	err := server.ServeTLS("", "")
	require.NoError(t, err)

	tlsclient.SetOptions(tlsconf.EnableInsecureSkipVerify())

	client := tlsclient.ApplyConfig(&http.Client{})
	pingServer(t, server, client)
	require.NoError(t, server.Shutdown(t.Context()))
	server.WaitStopped()
}

func TestShutdownWithoutServe(t *testing.T) {
	server := newServer().MustListen()
	require.NotEmpty(t, server.ListenerAddr())
	require.NoError(t, server.Shutdown(t.Context()))
	require.NoError(t, server.Close())
}

func TestPolicy(t *testing.T) {
	server := newServer()
	allowedNetworks, err := httpserver.ParseNetworks("127.0.0.1/32", "::1")
	require.NoError(t, err)
	allowedPolicy := httpserver.AllowNetworks(allowedNetworks)
	server.Handle("/allowed", httpserver.AccessPolicyHandler(http.HandlerFunc(echoHandler), allowedPolicy))
	forbiddenNetworks, err := httpserver.ParseNetworks("192.168.1.0/24", "fd::0/64")
	require.NoError(t, err)
	forbiddenPolicy := httpserver.AllowNetworks(forbiddenNetworks)
	server.Handle("/forbidden", httpserver.AccessPolicyHandler(http.HandlerFunc(echoHandler), forbiddenPolicy))
	err = server.Serve()
	require.NoError(t, err)
	client := &http.Client{}
	require.Equal(t, http.StatusOK, getServer(t, server, client, "/allowed"))
	require.Equal(t, http.StatusForbidden, getServer(t, server, client, "/forbidden"))
	require.NoError(t, server.Shutdown(t.Context()))
}

func TestServerPolicy(t *testing.T) {
	server := newServer()
	forbiddenNetworks, err := httpserver.ParseNetworks("192.0.2.0/24")
	require.NoError(t, err)
	server.Policy = httpserver.AllowNetworks(forbiddenNetworks)
	err = server.Serve()
	require.NoError(t, err)
	client := &http.Client{}
	require.Equal(t, http.StatusForbidden, getServer(t, server, client, "/ping"))
	require.NoError(t, server.Shutdown(t.Context()))
}

func TestParseNetworks(t *testing.T) {
	networks, err := httpserver.ParseNetworks("10.0.0.0/8", "192.0.2.1", "::1")
	require.NoError(t, err)
	require.Len(t, networks, 3)
	require.Equal(t, "192.0.2.1/32", networks[1].String())
	require.Equal(t, "::1/128", networks[2].String())
	require.Nil(t, httpserver.AllowNetworks(nil))
	_, err = httpserver.ParseNetworks("not a network")
	require.Error(t, err)
	_, err = httpserver.ParseNetworks("10.0.0.0/33")
	require.Error(t, err)
}

func TestCORS(t *testing.T) {
	server := &httpserver.Instance{
		Addr:           "localhost:",
		AllowedOrigins: []string{"https://app.example.com"},
	}
	server.HandleFunc("/ping", echoHandler)
	err := server.Serve()
	require.NoError(t, err)
	client := &http.Client{}
	for origin, allowed := range map[string]string{
		"https://app.example.com":   "https://app.example.com",
		"https://other.example.com": "",
	} {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.BaseURL().JoinPath("/ping").String(), nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		rsp, err := client.Do(req)
		require.NoError(t, err)
		rsp.Body.Close()
		require.Equal(t, allowed, rsp.Header.Get("Access-Control-Allow-Origin"))
	}
	require.NoError(t, server.Shutdown(t.Context()))
}

func TestHeaderHandler(t *testing.T) {
	handler := httpserver.HeaderHandler(http.HandlerFunc(echoHandler), &httpserver.StaticHeader{Key: "Cache-Control", Value: "no-store"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "ok", rec.Body.String())

	applied := false
	handler = httpserver.HeaderHandler(http.HandlerFunc(echoHandler), nil, httpserver.NoStore, httpserver.ApplyHeaderFunc(func(http.ResponseWriter, *http.Request) {
		applied = true
	}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.True(t, applied)
	require.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	require.Equal(t, "no-cache", rec.Header().Get("Pragma"))

	plain := http.HandlerFunc(echoHandler)
	handler = httpserver.HeaderHandler(plain)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Empty(t, rec.Header().Get("Cache-Control"))
}

func echoHandler(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func newServer() *httpserver.Instance {
	server := &httpserver.Instance{
		Addr:           "localhost:",
		AccessLog:      true,
		AllowedOrigins: []string{"http://localhost"},
	}
	server.HandleFunc("/ping", echoHandler)
	return server
}

func pingServer(t *testing.T, server *httpserver.Instance, client *http.Client) {
	rsp, err := client.Get(server.BaseURL().JoinPath("/ping").String())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	defer rsp.Body.Close()
	responseBody, err := io.ReadAll(rsp.Body)
	require.NoError(t, err)
	require.Equal(t, "ok", string(responseBody))
}

func getServer(t *testing.T, server *httpserver.Instance, client *http.Client, path string) int {
	rsp, err := client.Get(server.BaseURL().JoinPath(path).String())
	require.NoError(t, err)
	rsp.Body.Close()
	return rsp.StatusCode
}

func TestServeTraceContext(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	previousProvider := otel.GetTracerProvider()
	previousPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(recorder)))
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer func() {
		otel.SetTracerProvider(previousProvider)
		otel.SetTextMapPropagator(previousPropagator)
	}()
	server := newServer()
	err := server.Serve()
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodGet, "http://"+server.ListenerAddr()+"/ping", nil)
	require.NoError(t, err)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	rsp.Body.Close()
	require.NoError(t, server.Shutdown(t.Context()))
	server.WaitStopped()
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "GET /ping", spans[0].Name())
	require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
	require.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
}
