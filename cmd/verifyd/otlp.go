package main

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	otelexport "github.com/MrEthical07/goVerify/metrics/export/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// startOTLP pushes engine metrics to endpoint every 10 seconds. An empty
// endpoint returns a no-op shutdown.
func startOTLP(ctx context.Context, endpoint string, engine *goVerify.Engine) (func(context.Context) error, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid OTLP endpoint %q", endpoint)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(u.Host)}
	if u.Scheme != "https" {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))),
	)
	exporter, err := otelexport.NewOTelExporter(provider.Meter("github.com/MrEthical07/goVerify"), engine)
	if err != nil {
		_ = provider.Shutdown(ctx)
		return nil, err
	}

	return func(ctx context.Context) error {
		_ = exporter.Close()
		return provider.Shutdown(ctx)
	}, nil
}
