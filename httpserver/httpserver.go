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

// Package httpserver runs the HTTP listener hosting the provider endpoints.
package httpserver

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"
	"github.com/tdrn-org/fakeid/internal/trace"
	"github.com/tdrn-org/go-tlsconf/tlsserver"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Handler interface {
	HandleFunc(pattern string, handler http.HandlerFunc)
}

const serverFailureMessage = "http server failure"

var defaultAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}

var defaultAllowedHeaders = []string{"Authorization", "Content-Type"}

// Instance is a single HTTP(S) listener. The exported fields must be set
// before the instance starts serving.
type Instance struct {
	Addr           string
	AccessLog      bool
	AllowedOrigins []string
	AllowedMethods []string
	// Policy restricts the remote addresses allowed to access the instance.
	Policy       AccessPolicy
	listener     net.Listener
	listenerAddr string
	mux          *http.ServeMux
	handler      http.Handler
	baseURL      *url.URL
	logger       *slog.Logger
	tracer       oteltrace.Tracer
	httpServer   *http.Server
	stoppedWG    sync.WaitGroup
}

func (s *Instance) Listen() error {
	if s.listener != nil {
		return nil
	}
	serverHost, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return fmt.Errorf("failed to decode server address %s (cause: %w)", s.Addr, err)
	}
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on address %s (cause: %w)", s.Addr, err)
	}
	listenerAddr := listener.Addr().String()
	_, listenerPort, err := net.SplitHostPort(listenerAddr)
	if err != nil {
		listener.Close()
		return fmt.Errorf("failed to decode listener address %s (cause: %w)", listenerAddr, err)
	}
	if serverHost == "" {
		serverHost = "localhost"
	}
	s.listener = listener
	s.listenerAddr = net.JoinHostPort(serverHost, listenerPort)
	return nil
}

func (s *Instance) MustListen() *Instance {
	err := s.Listen()
	if err != nil {
		slog.Error(serverFailureMessage, slog.String("server", s.Addr), slog.Any("err", err))
		panic(err)
	}
	return s
}

// ListenerAddr gets the actual host:port the instance is listening on.
func (s *Instance) ListenerAddr() string {
	return s.listenerAddr
}

func (s *Instance) HandleFunc(pattern string, handler http.HandlerFunc) {
	s.Handle(pattern, handler)
}

func (s *Instance) Handle(pattern string, handler http.Handler) {
	if s.mux == nil {
		s.mux = http.NewServeMux()
	}
	slog.Debug("http server pattern", slog.String("server", s.Addr), slog.String("pattern", pattern))
	s.mux.Handle(pattern, handler)
}

// BaseURL gets the URL derived from the listener address. It is only
// available after serving has been started.
func (s *Instance) BaseURL() *url.URL {
	return s.baseURL
}

func (s *Instance) prepareServe(schema string) (http.Handler, error) {
	err := s.Listen()
	if err != nil {
		return nil, err
	}
	if s.mux == nil {
		s.mux = http.NewServeMux()
	}
	baseURL, err := url.Parse(schema + "://" + s.listenerAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL (cause: %w)", err)
	}
	s.baseURL = baseURL
	s.logger = slog.With(slog.Any("baseURL", s.baseURL))
	s.tracer = otel.Tracer(reflect.TypeFor[Instance]().PkgPath())
	s.handler = AccessPolicyHandler(s.mux, s.Policy)
	allowedMethods := s.AllowedMethods
	if len(allowedMethods) == 0 {
		allowedMethods = defaultAllowedMethods
	}
	corsOptions := cors.Options{
		AllowedOrigins: s.AllowedOrigins,
		AllowedMethods: allowedMethods,
		AllowedHeaders: defaultAllowedHeaders,
	}
	return cors.New(corsOptions).Handler(s), nil
}

func (s *Instance) runServe(serve func() error) {
	s.stoppedWG.Add(1)
	go func() {
		defer s.stoppedWG.Done()
		s.logger.Info("http server started")
		err := serve()
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(serverFailureMessage, slog.Any("err", err))
		} else {
			s.logger.Info("http server stopped")
		}
	}()
}

func (s *Instance) Serve() error {
	handler, err := s.prepareServe("http")
	if err != nil {
		return err
	}
	s.httpServer = &http.Server{
		Addr:              s.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.runServe(func() error {
		return s.httpServer.Serve(s.listener)
	})
	return nil
}

// ServeTLS starts serving via HTTPS. If neither certificate nor key file is
// given, an ephemeral certificate is generated for the listener address.
func (s *Instance) ServeTLS(certFile string, keyFile string) error {
	handler, err := s.prepareServe("https")
	if err != nil {
		return err
	}
	var certificates []tls.Certificate
	if certFile == "" && keyFile == "" {
		s.logger.Info("using ephemeral certificate")
		certificate, err := tlsserver.GenerateEphemeralCertificate(s.listenerAddr, tlsserver.CertificateAlgorithmDefault)
		if err != nil {
			return err
		}
		certificates = append(certificates, *certificate)
	}
	s.httpServer = &http.Server{
		Addr:              s.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig: &tls.Config{
			Certificates: certificates,
		},
	}
	s.runServe(func() error {
		return s.httpServer.ServeTLS(s.listener, certFile, keyFile)
	})
	return nil
}

func (s *Instance) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	remoteCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
	traceCtx, span := s.tracer.Start(remoteCtx, r.Method+" "+r.URL.Path, oteltrace.WithSpanKind(oteltrace.SpanKindServer), oteltrace.WithAttributes(trace.HttpRequestAttributes(r)...))
	defer span.End()
	traceR := r.WithContext(traceCtx)

	if !s.AccessLog {
		s.handler.ServeHTTP(w, traceR)
		return
	}
	log := &logBuilder{}
	log.appendHost(trace.GetHttpRequestRemoteIP(traceR))
	log.appendTime()
	log.appendRequest(r.Method, r.URL.Path, r.Proto)
	wrappedW := &wrappedResponseWriter{wrapped: w, statusCode: http.StatusOK}
	s.handler.ServeHTTP(wrappedW, traceR)
	log.appendStatus(wrappedW.statusCode, wrappedW.written)
	s.logger.Info(log.String())
}

func (s *Instance) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return s.closeListener()
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Instance) Close() error {
	if s.httpServer == nil {
		return s.closeListener()
	}
	return s.httpServer.Close()
}

func (s *Instance) closeListener() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.listener = nil
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("failed to close listener %s (cause: %w)", s.listenerAddr, err)
	}
	return nil
}

func (s *Instance) WaitStopped() {
	s.stoppedWG.Wait()
}

type wrappedResponseWriter struct {
	wrapped    http.ResponseWriter
	written    int
	statusCode int
}

func (w *wrappedResponseWriter) Header() http.Header {
	return w.wrapped.Header()
}

func (w *wrappedResponseWriter) Write(b []byte) (int, error) {
	written, err := w.wrapped.Write(b)
	w.written += written
	return written, err
}

func (w *wrappedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.wrapped.WriteHeader(statusCode)
}

type logBuilder struct {
	strings.Builder
}

func (b *logBuilder) appendHost(remoteIP string) {
	if remoteIP != "" {
		b.WriteString(remoteIP)
	} else {
		b.WriteRune('-')
	}
	b.WriteString(" - -")
}

func (b *logBuilder) appendTime() {
	b.WriteString(time.Now().Format(" [02/Jan/2006:15:04:05 -0700]"))
}

func (b *logBuilder) appendRequest(method string, path string, proto string) {
	b.WriteString(" \"")
	b.WriteString(method)
	b.WriteRune(' ')
	b.WriteString(path)
	b.WriteRune(' ')
	b.WriteString(proto)
	b.WriteRune('"')
}

func (b *logBuilder) appendStatus(statusCode int, written int) {
	b.WriteRune(' ')
	b.WriteString(strconv.Itoa(statusCode))
	b.WriteRune(' ')
	b.WriteString(strconv.Itoa(written))
}
