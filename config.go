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

package fakeid

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"log/slog"
	"maps"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-jose/go-jose/v4"
	"github.com/tdrn-org/fakeid/httpserver"
	"github.com/tdrn-org/fakeid/internal/server"
	"github.com/tdrn-org/fakeid/internal/telemetry"
	"github.com/tdrn-org/go-log"
)

// DefaultConfig is empty, as the built-in defaults are sufficient to run.
const DefaultConfig string = ""

type Config struct {
	Logging struct {
		Level          string `toml:"level"`
		Target         string `toml:"target"`
		Color          int    `toml:"color"`
		FileName       string `toml:"file_name"`
		FileSizeLimit  int64  `toml:"file_size_limit"`
		SyslogNetwork  string `toml:"syslog_network"`
		SyslogAddress  string `toml:"syslog_address"`
		SyslogEncoding string `toml:"syslog_encoding"`
		SyslogFacility int    `toml:"syslog_facility"`
	} `toml:"logging"`
	Server struct {
		Address         string         `toml:"address"`
		Protocol        ServerProtocol `toml:"protocol"`
		AccessLog       bool           `toml:"access_log"`
		CertFile        string         `toml:"cert_file"`
		KeyFile         string         `toml:"key_file"`
		PublicURL       URLSpec        `toml:"public_url"`
		AllowedOrigins  []string       `toml:"allowed_origins"`
		AllowedNetworks []string       `toml:"allowed_networks"`
	} `toml:"server"`
	Tracing struct {
		Enabled       bool            `toml:"enabled"`
		EndpointURL   URLSpec         `toml:"endpoint_url"`
		Protocol      TracingProtocol `toml:"protocol"`
		BatchTimeout  DurationSpec    `toml:"batch_timeout"`
		ExportTimeout DurationSpec    `toml:"export_timeout"`
	} `toml:"tracing"`
	OAuth2 struct {
		SigningKeyAlgorithm SigningKeyAlgorithm `toml:"signing_key_algorithm"`
		SigningKey          string              `toml:"signing_key"`
		SigningKeyFile      string              `toml:"signing_key_file"`
		JWKSFile            string              `toml:"jwks_file"`
		SampleClaims        string              `toml:"sample_claims"`
		TokenLifetime       DurationSpec        `toml:"token_lifetime"`
		CodeLifetime        DurationSpec        `toml:"code_lifetime"`
		SingleUseCodes      bool                `toml:"single_use_codes"`
		CleanupInterval     DurationSpec        `toml:"cleanup_interval"`
	} `toml:"oauth2"`
	// Claims is the claim set asserted for every user. The built-in claims
	// are used if neither claims nor sample claims are configured.
	Claims map[string]any `toml:"claims"`
}

var defaultClaims = map[string]any{
	"sub":   "john@developer.com",
	"name":  "John C. Developer",
	"email": "john@developer.com",
}

//go:embed config_defaults.toml
var configDefaultsData string

// DefaultConfigData returns the built-in configuration.
func DefaultConfigData() *Config {
	config := &Config{}
	_, err := toml.Decode(configDefaultsData, config)
	if err != nil {
		panic(fmt.Errorf("failed to decode config defaults (cause: %w)", err))
	}
	return config
}

// LoadConfig reads the configuration file at path on top of the built-in
// defaults. An empty path yields the defaults.
func LoadConfig(path string, strict bool) (*Config, error) {
	config := DefaultConfigData()
	if path == "" {
		slog.Info("using default config")
		return config, nil
	}
	slog.Info("loading config", slog.String("path", path))
	meta, err := toml.DecodeFile(path, config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config '%s' (cause: %w)", path, err)
	}
	strictViolation := false
	for _, key := range meta.Undecoded() {
		strictViolation = true
		slog.Warn("unexpected configuration key", slog.String("path", path), slog.Any("key", key))
	}
	if strict && strictViolation {
		return nil, fmt.Errorf("config contains unexpected keys")
	}
	return config, nil
}

func (c *Config) toLogConfig() *log.Config {
	return &log.Config{
		Level:          c.Logging.Level,
		AddSource:      false,
		Target:         log.Target(c.Logging.Target),
		Color:          log.Color(c.Logging.Color),
		FileName:       c.Logging.FileName,
		FileSizeLimit:  c.Logging.FileSizeLimit,
		SyslogNetwork:  c.Logging.SyslogNetwork,
		SyslogAddress:  c.Logging.SyslogAddress,
		SyslogEncoding: c.Logging.SyslogEncoding,
		SyslogFacility: c.Logging.SyslogFacility,
	}
}

func (c *Config) toTelemetryConfig() *telemetry.Config {
	return &telemetry.Config{
		Enabled:       c.Tracing.Enabled,
		Domain:        "fakeid",
		EndpointURL:   &c.Tracing.EndpointURL.URL,
		Protocol:      string(c.Tracing.Protocol),
		BatchTimeout:  c.Tracing.BatchTimeout.Duration,
		ExportTimeout: c.Tracing.ExportTimeout.Duration,
	}
}

func (c *Config) toAccessPolicy() (httpserver.AccessPolicy, error) {
	networks, err := httpserver.ParseNetworks(c.Server.AllowedNetworks...)
	if err != nil {
		return nil, err
	}
	return httpserver.AllowNetworks(networks), nil
}

func (c *Config) oauth2IssuerURL(httpServer *httpserver.Instance) (*url.URL, error) {
	rawIssuerURL := c.Server.PublicURL.String()
	if rawIssuerURL == "" {
		rawIssuerURL = string(c.Server.Protocol) + "://" + httpServer.ListenerAddr()
	}
	issuerURL, err := url.Parse(strings.TrimSuffix(rawIssuerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid issuer URL '%s' (cause: %w)", rawIssuerURL, err)
	}
	if !issuerURL.IsAbs() {
		return nil, fmt.Errorf("invalid issuer URL '%s' (not absolute)", rawIssuerURL)
	}
	return issuerURL, nil
}

// loadSigningKey resolves the signing key in the order JWKS file, inline
// key, key file. Without any of them a fresh key is generated.
func (c *Config) loadSigningKey() (*server.SigningKey, error) {
	algorithm := jose.SignatureAlgorithm(c.OAuth2.SigningKeyAlgorithm)
	switch {
	case c.OAuth2.JWKSFile != "":
		slog.Info("loading signing key", slog.String("jwks_file", c.OAuth2.JWKSFile))
		data, err := os.ReadFile(c.OAuth2.JWKSFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read JWKS file '%s' (cause: %w)", c.OAuth2.JWKSFile, err)
		}
		return server.LoadSigningKeyJWKS(algorithm, data)
	case c.OAuth2.SigningKey != "":
		slog.Info("loading inline signing key")
		data, err := decodeSigningKey(c.OAuth2.SigningKey)
		if err != nil {
			return nil, err
		}
		return server.LoadSigningKeyPEM(algorithm, data)
	case c.OAuth2.SigningKeyFile != "":
		slog.Info("loading signing key", slog.String("signing_key_file", c.OAuth2.SigningKeyFile))
		data, err := os.ReadFile(c.OAuth2.SigningKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key file '%s' (cause: %w)", c.OAuth2.SigningKeyFile, err)
		}
		return server.LoadSigningKeyPEM(algorithm, data)
	}
	return server.GenerateSigningKey(algorithm)
}

// decodeSigningKey accepts base64 encoded as well as plain PEM data.
func decodeSigningKey(signingKey string) ([]byte, error) {
	signingKey = strings.TrimSpace(signingKey)
	if strings.HasPrefix(signingKey, "-----BEGIN") {
		return []byte(signingKey), nil
	}
	data, err := base64.StdEncoding.DecodeString(signingKey)
	if err != nil {
		return nil, fmt.Errorf("%w (failed to decode base64 signing key: %w)", server.ErrInvalidSigningKey, err)
	}
	return data, nil
}

func (c *Config) loadClaims() (server.ClaimSet, error) {
	if c.OAuth2.SampleClaims != "" {
		return server.ParseSampleClaims(c.OAuth2.SampleClaims)
	}
	claims := c.Claims
	if len(claims) == 0 {
		claims = maps.Clone(defaultClaims)
	}
	return server.NewClaimSet(claims)
}

func (c *Config) toOAuth2ProviderConfig(issuerURL *url.URL) (*server.OAuth2ProviderConfig, error) {
	signingKey, err := c.loadSigningKey()
	if err != nil {
		return nil, err
	}
	claims, err := c.loadClaims()
	if err != nil {
		return nil, err
	}
	oauth2ProviderConfig := &server.OAuth2ProviderConfig{
		IssuerURL:      issuerURL,
		SigningKey:     signingKey,
		Claims:         claims,
		TokenLifetime:  c.OAuth2.TokenLifetime.Duration,
		CodeLifetime:   c.OAuth2.CodeLifetime.Duration,
		SingleUseCodes: c.OAuth2.SingleUseCodes,
	}
	return oauth2ProviderConfig, nil
}

func notAStringErr(value any) error {
	return fmt.Errorf("value %v is not a string type", value)
}

type ServerProtocol string

const (
	ServerProtocolHttp  ServerProtocol = "http"
	ServerProtocolHttps ServerProtocol = "https"
)

func (p *ServerProtocol) Value() string {
	return string(*p)
}

func (p *ServerProtocol) MarshalTOML() ([]byte, error) {
	return []byte(`"` + p.Value() + `"`), nil
}

func (p *ServerProtocol) UnmarshalTOML(value any) error {
	protocol, ok := value.(string)
	if !ok {
		return notAStringErr(value)
	}
	switch protocol {
	case string(ServerProtocolHttp):
		*p = ServerProtocolHttp
	case string(ServerProtocolHttps):
		*p = ServerProtocolHttps
	default:
		return fmt.Errorf("unknown server protocol: '%s'", protocol)
	}
	return nil
}

type TracingProtocol string

const (
	TracingProtocolHttp TracingProtocol = "http"
	TracingProtocolGRPC TracingProtocol = "gRPC"
)

func (p *TracingProtocol) Value() string {
	return string(*p)
}

func (p *TracingProtocol) MarshalTOML() ([]byte, error) {
	return []byte(`"` + p.Value() + `"`), nil
}

func (p *TracingProtocol) UnmarshalTOML(value any) error {
	protocol, ok := value.(string)
	if !ok {
		return notAStringErr(value)
	}
	switch protocol {
	case string(TracingProtocolHttp):
		*p = TracingProtocolHttp
	case string(TracingProtocolGRPC):
		*p = TracingProtocolGRPC
	default:
		return fmt.Errorf("unknown tracing protocol: '%s'", protocol)
	}
	return nil
}

type SigningKeyAlgorithm string

const (
	SigningKeyAlgorithmRS256 SigningKeyAlgorithm = "RS256"
	SigningKeyAlgorithmRS384 SigningKeyAlgorithm = "RS384"
	SigningKeyAlgorithmRS512 SigningKeyAlgorithm = "RS512"
	SigningKeyAlgorithmPS256 SigningKeyAlgorithm = "PS256"
	SigningKeyAlgorithmPS384 SigningKeyAlgorithm = "PS384"
	SigningKeyAlgorithmPS512 SigningKeyAlgorithm = "PS512"
	SigningKeyAlgorithmES256 SigningKeyAlgorithm = "ES256"
)

// ParseSigningKeyAlgorithm maps an algorithm name to one of the supported
// signing key algorithms.
func ParseSigningKeyAlgorithm(algorithm string) (SigningKeyAlgorithm, error) {
	for _, supported := range server.SupportedSigningAlgorithms() {
		if algorithm == string(supported) {
			return SigningKeyAlgorithm(supported), nil
		}
	}
	return "", fmt.Errorf("unknown signing key algorithm: '%s'", algorithm)
}

func (a *SigningKeyAlgorithm) Value() string {
	return string(*a)
}

func (a *SigningKeyAlgorithm) MarshalTOML() ([]byte, error) {
	return []byte(`"` + a.Value() + `"`), nil
}

func (a *SigningKeyAlgorithm) UnmarshalTOML(value any) error {
	algorithm, ok := value.(string)
	if !ok {
		return notAStringErr(value)
	}
	parsed, err := ParseSigningKeyAlgorithm(algorithm)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

type DurationSpec struct {
	time.Duration
}

func (d *DurationSpec) Value() string {
	return d.String()
}

func (d *DurationSpec) MarshalTOML() ([]byte, error) {
	return []byte(`"` + d.Value() + `"`), nil
}

func (d *DurationSpec) UnmarshalTOML(value any) error {
	durationString, ok := value.(string)
	if !ok {
		return notAStringErr(value)
	}
	parsedDuration, err := time.ParseDuration(durationString)
	if err != nil {
		return fmt.Errorf("invalid duration: '%s' (cause: %w)", durationString, err)
	}
	d.Duration = parsedDuration
	return nil
}

type URLSpec struct {
	url.URL
}

func (url *URLSpec) Value() string {
	return url.String()
}

func (url *URLSpec) MarshalTOML() ([]byte, error) {
	return []byte(`"` + url.Value() + `"`), nil
}

func (url *URLSpec) UnmarshalTOML(value any) error {
	urlString, ok := value.(string)
	if !ok {
		return notAStringErr(value)
	}
	parsedURL, err := url.Parse(urlString)
	if err != nil {
		return fmt.Errorf("invalid URL: '%s' (cause: %w)", urlString, err)
	}
	url.URL = *parsedURL
	return nil
}
