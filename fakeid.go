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

// Package fakeid runs a fake OpenID Connect provider issuing tokens for a
// configured identity without any user interaction.
package fakeid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-jose/go-jose/v4"
	"github.com/tdrn-org/fakeid/httpserver"
	"github.com/tdrn-org/fakeid/internal/buildinfo"
	"github.com/tdrn-org/fakeid/internal/server"
	serverconf "github.com/tdrn-org/fakeid/internal/server/conf"
)

const shutdownTimeout time.Duration = 5 * time.Second

func Run(ctx context.Context, args []string) error {
	cmdLine := &cmdLine{ctx: ctx}
	cmdParser, err := kong.New(cmdLine, kong.Name("fakeid"), kong.Description(buildinfo.FullVersion()), cmdLineVars)
	if err != nil {
		return err
	}
	cmd, err := cmdParser.Parse(args)
	if err != nil {
		return err
	}
	err = cmd.Run()
	if err != nil {
		return err
	}
	return nil
}

// Start loads the given configuration file and starts serving. An empty
// path starts the provider with the built-in defaults.
func Start(ctx context.Context, path string) (*Server, error) {
	config, err := LoadConfig(path, false)
	if err != nil {
		return nil, err
	}
	return StartConfig(ctx, config)
}

func MustStart(ctx context.Context, path string) *Server {
	s, err := Start(ctx, path)
	if err != nil {
		panic(err)
	}
	return s
}

// StartConfig starts serving the given configuration. The server stops when
// the context is cancelled, on SIGINT or by calling Shutdown.
func StartConfig(ctx context.Context, config *Config) (*Server, error) {
	s := &Server{
		shutdownRequested: make(chan struct{}),
	}
	err := s.initAndStart(config)
	if err != nil {
		releaseErr := s.shutdown(context.WithoutCancel(ctx))
		if releaseErr != nil {
			slog.Warn("failed to release partially started server", slog.Any("err", releaseErr))
		}
		return nil, err
	}
	s.stoppedWG.Add(1)
	go func() {
		defer s.stoppedWG.Done()
		s.run(ctx)
	}()
	return s, nil
}

type Server struct {
	httpServer        *httpserver.Instance
	telemetryShutdown func(context.Context) error
	oauth2IssuerURL   *url.URL
	oauth2Provider    *server.OAuth2Provider
	jobTicker         *time.Ticker
	jobTickerStopped  chan bool
	shutdownRequested chan struct{}
	shutdownOnce      sync.Once
	shutdownErr       error
	stoppedWG         sync.WaitGroup
}

// IssuerURL gets the issuer announced by the provider. All endpoints are
// relative to it.
func (s *Server) IssuerURL() *url.URL {
	return s.oauth2IssuerURL
}

// Claims gets a copy of the claims asserted for every user.
func (s *Server) Claims() map[string]any {
	return s.oauth2Provider.Claims().Clone()
}

func (s *Server) SigningAlgorithm() jose.SignatureAlgorithm {
	return s.oauth2Provider.SigningKey().Algorithm()
}

// PublicKeySet gets the key set as published via the JWKS endpoint.
func (s *Server) PublicKeySet() *jose.JSONWebKeySet {
	return s.oauth2Provider.SigningKey().KeySet()
}

// Reset forgets all issued authorization codes and access tokens.
func (s *Server) Reset() {
	s.oauth2Provider.Reset()
}

// Shutdown stops the server. Subsequent calls return the result of the
// first one.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		close(s.shutdownRequested)
		s.shutdownErr = s.shutdown(ctx)
		if s.shutdownErr != nil {
			slog.Warn("shutdown failed; exiting", slog.Any("err", s.shutdownErr))
		}
	})
	return s.shutdownErr
}

func (s *Server) WaitStopped() {
	s.stoppedWG.Wait()
}

func (s *Server) run(ctx context.Context) {
	sigintCtx, stopNotify := signal.NotifyContext(ctx, os.Interrupt)
	defer stopNotify()
	slog.Info("startup complete; running", slog.String("issuer", s.oauth2IssuerURL.String()))
	select {
	case <-sigintCtx.Done():
		slog.Info("server context done; stopping", slog.Any("cause", context.Cause(sigintCtx)))
	case <-s.shutdownRequested:
	}
	s.Shutdown(context.WithoutCancel(ctx))
}

func (s *Server) shutdown(ctx context.Context) error {
	slog.Info("initiating shutdown")
	shutdownCtx, cancelShutdown := context.WithTimeout(ctx, shutdownTimeout)
	defer cancelShutdown()
	// Stop background job processing
	s.stopJobTicker()
	// Stop/Close running services
	errs := make([]error, 0, 3)
	if s.httpServer != nil {
		errs = append(errs, s.httpServer.Shutdown(shutdownCtx))
		s.httpServer.WaitStopped()
	}
	if s.oauth2Provider != nil {
		errs = append(errs, s.oauth2Provider.Close())
	}
	if s.telemetryShutdown != nil {
		errs = append(errs, s.telemetryShutdown(shutdownCtx))
	}
	err := errors.Join(errs...)
	if err != nil {
		return err
	}
	slog.Info("shutdown complete; exiting")
	return nil
}

func (s *Server) initAndStart(config *Config) error {
	inits := []func(*Config) error{
		s.initServerConf,
		s.initTelemetry,
		s.initHttpServer,
		s.initOAuth2Provider,
		s.startJobTicker,
		s.startServer,
	}
	for _, init := range inits {
		err := init(config)
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) initServerConf(config *Config) error {
	runtime := &serverconf.Runtime{
		TokenLifetime:   config.OAuth2.TokenLifetime.Duration,
		CodeLifetime:    config.OAuth2.CodeLifetime.Duration,
		CleanupInterval: config.OAuth2.CleanupInterval.Duration,
	}
	runtime.Bind()
	return nil
}

func (s *Server) initTelemetry(config *Config) error {
	shutdown, err := config.toTelemetryConfig().Apply()
	if err != nil {
		return err
	}
	s.telemetryShutdown = shutdown
	return nil
}

func (s *Server) initHttpServer(config *Config) error {
	policy, err := config.toAccessPolicy()
	if err != nil {
		return err
	}
	httpServer := &httpserver.Instance{
		Addr:           config.Server.Address,
		AccessLog:      config.Server.AccessLog,
		AllowedOrigins: config.Server.AllowedOrigins,
		Policy:         policy,
	}
	err = httpServer.Listen()
	if err != nil {
		return err
	}
	s.httpServer = httpServer
	issuerURL, err := config.oauth2IssuerURL(httpServer)
	if err != nil {
		return err
	}
	s.oauth2IssuerURL = issuerURL
	return nil
}

func (s *Server) initOAuth2Provider(config *Config) error {
	slog.Info("initializing OAuth2 provider", slog.String("issuer", s.oauth2IssuerURL.String()))
	providerConfig, err := config.toOAuth2ProviderConfig(s.oauth2IssuerURL)
	if err != nil {
		return err
	}
	provider, err := providerConfig.NewProvider()
	if err != nil {
		return err
	}
	s.oauth2Provider = provider
	return nil
}

func (s *Server) startJobTicker(_ *Config) error {
	schedule := serverconf.LookupRuntime().CleanupInterval
	if schedule <= 0 {
		slog.Info("job ticker disabled")
		return nil
	}
	s.jobTicker = time.NewTicker(schedule)
	s.jobTickerStopped = make(chan bool)
	slog.Info("starting job ticker", slog.String("schedule", schedule.String()))
	s.stoppedWG.Add(1)
	go func() {
		defer s.stoppedWG.Done()
		for stopped := false; !stopped; {
			select {
			case <-s.jobTickerStopped:
				stopped = true
			case <-s.jobTicker.C:
				s.runJobs()
			}
		}
		slog.Info("job ticker stopped")
	}()
	return nil
}

func (s *Server) stopJobTicker() {
	if s.jobTicker == nil {
		return
	}
	s.jobTicker.Stop()
	s.jobTickerStopped <- true
}

func (s *Server) startServer(config *Config) error {
	s.oauth2Provider.Mount(s.httpServer)
	switch config.Server.Protocol {
	case ServerProtocolHttp:
		return s.httpServer.Serve()
	case ServerProtocolHttps:
		return s.httpServer.ServeTLS(config.Server.CertFile, config.Server.KeyFile)
	default:
		return fmt.Errorf("unexpected server protocol: %s", config.Server.Protocol)
	}
}
