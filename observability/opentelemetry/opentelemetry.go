// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package opentelemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"

	"github.com/tickvault/collector/common"
)

// Name identifies this module as the OpenTelemetry service/tracer name.
const Name = "tickvault-collector"

// Setup wires a batched OTLP trace exporter, using gRPC unless otel.protocol_http is true or
// "http". When otel.enabled is false, Setup leaves otel's default no-op global tracer
// provider in place and returns a no-op shutdown func: every call site that starts a span
// keeps working whether or not a collector backend is configured.
func Setup() (func(context.Context) error, error) {
	if !viper.GetBool("otel.enabled") {
		log.Info("opentelemetry disabled, using no-op tracer")
		return func(context.Context) error { return nil }, nil
	}

	ctx := context.Background()

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(Name),
			semconv.ServiceVersionKey.String(common.CurrentVersion.String()),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var client otlptrace.Client
	endpoint := viper.GetString("otel.endpoint")
	if viper.GetBool("otel.protocol_http") || strings.EqualFold(viper.GetString("otel.protocol_http"), "http") {
		log.Info("using HTTP(s) for OTLP connection")
		client = otlptracehttp.NewClient(otlptracehttp.WithEndpoint(endpoint))
	} else {
		log.Info("using gRPC for OTLP connection")
		client = otlptracegrpc.NewClient(otlptracegrpc.WithEndpoint(endpoint))
	}

	traceExporter, err := otlptrace.New(dialCtx, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tracerProvider.Shutdown, nil
}
