package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics instruments the plugin. All record methods are safe on a nil
// receiver so library users without a metrics pipeline pay nothing.
type Metrics struct {
	ActiveConnections metric.Int64UpDownCounter
	Notifications     metric.Int64Counter
	RPCCalls          metric.Int64Counter
	Reconnects        metric.Int64Counter
	HTTPRetries       metric.Int64Counter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"bells_websocket_connections",
		metric.WithDescription("Number of live ledger websocket connections"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Notifications, err = meter.Int64Counter(
		"bells_notifications_total",
		metric.WithDescription("Total transfer notification events emitted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.RPCCalls, err = meter.Int64Counter(
		"bells_rpc_calls_total",
		metric.WithDescription("Total ledger RPC calls"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.Reconnects, err = meter.Int64Counter(
		"bells_reconnects_total",
		metric.WithDescription("Total websocket reconnect attempts"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRetries, err = meter.Int64Counter(
		"bells_http_retries_total",
		metric.WithDescription("Total HTTP attempts retried with backoff"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
}

func (m *Metrics) ConnectionUp(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionDown(ctx context.Context) {
	if m == nil {
		return
	}
	m.ActiveConnections.Add(ctx, -1)
}

func (m *Metrics) RecordNotification(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.Notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}

func (m *Metrics) RecordRPC(ctx context.Context, method string, ok bool) {
	if m == nil {
		return
	}
	m.RPCCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Bool("ok", ok),
	))
}

func (m *Metrics) RecordReconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.Reconnects.Add(ctx, 1)
}

func (m *Metrics) RecordHTTPRetry(ctx context.Context) {
	if m == nil {
		return
	}
	m.HTTPRetries.Add(ctx, 1)
}
