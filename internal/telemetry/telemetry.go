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

// Package telemetry sets up the OpenTelemetry trace export.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tdrn-org/fakeid/internal/buildinfo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

// Config describes the OTLP trace exporter. Nothing is exported unless
// enabled.
type Config struct {
	Enabled       bool
	Domain        string
	EndpointURL   *url.URL
	Protocol      string
	BatchTimeout  time.Duration
	ExportTimeout time.Duration
}

// Apply installs the configured tracer provider and the W3C trace context
// propagator. The returned function flushes and stops the export.
func (c *Config) Apply() (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	if !c.Enabled {
		return shutdownFuncs{}.Run, nil
	}
	if c.EndpointURL == nil || c.EndpointURL.Host == "" {
		return nil, fmt.Errorf("invalid tracing endpoint URL: '%v'", c.EndpointURL)
	}
	newExporter, found := exporterFactories[c.Protocol]
	if !found {
		return nil, fmt.Errorf("unrecognized tracing protocol: '%s'", c.Protocol)
	}
	exporter, err := newExporter(c.EndpointURL)
	if err != nil {
		return nil, err
	}
	serviceResource := resource.NewSchemaless(
		attribute.String("service.name", c.Domain),
		attribute.String("service.version", buildinfo.Version()),
	)
	provider := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exporter, tracesdk.WithBatchTimeout(c.BatchTimeout), tracesdk.WithExportTimeout(c.ExportTimeout)),
		tracesdk.WithResource(serviceResource),
	)
	otel.SetTracerProvider(&domainTracerProvider{domain: c.Domain, provider: provider})
	// Shutting down the provider also shuts down its exporter
	return shutdownFuncs{provider.Shutdown}.Run, nil
}

var exporterFactories = map[string]func(*url.URL) (*otlptrace.Exporter, error){
	"http": newHttpExporter,
	"gRPC": newGRPCExporter,
}

func newHttpExporter(endpointURL *url.URL) (*otlptrace.Exporter, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpointURL(endpointURL.String())}
	if endpointURL.Scheme == "http" {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP/HTTP exporter (cause: %w)", err)
	}
	return exporter, nil
}

func newGRPCExporter(endpointURL *url.URL) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpointURL(endpointURL.String())}
	if endpointURL.Scheme == "http" {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP/gRPC exporter (cause: %w)", err)
	}
	return exporter, nil
}

type domainTracerProvider struct {
	embedded.TracerProvider
	domain   string
	provider trace.TracerProvider
}

func (p *domainTracerProvider) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return p.provider.Tracer(p.domain+"/"+name, opts...)
}

type shutdownFuncs []func(context.Context) error

func (shutdowns shutdownFuncs) Run(ctx context.Context) error {
	errs := make([]error, 0, len(shutdowns))
	for _, shutdown := range shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}
