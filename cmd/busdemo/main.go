// Command busdemo wires a PolyBus bus together with the in-memory broker,
// JSON serializer, retry/dead-letter handler, and Prometheus metrics, then
// publishes one sample OrderPlaced event through it.
//
// Usage:
//
//	go run ./cmd/busdemo
//	go run ./cmd/busdemo -metrics-addr :9090
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polybus/polybus"
	"github.com/polybus/polybus/broker"
	"github.com/polybus/polybus/middleware"
	"github.com/polybus/polybus/observability"
	"github.com/polybus/polybus/retry"
	"github.com/polybus/polybus/serializer"
)

// OrderPlaced is a sample event payload registered with the bus.
type OrderPlaced struct {
	OrderID string `json:"order_id"`
	Total   int    `json:"total_cents"`
}

// ShipOrder is a sample command payload registered with the bus.
type ShipOrder struct {
	OrderID string `json:"order_id"`
}

func main() {
	metricsAddr := flag.String("metrics-addr", ":9090", "address to serve Prometheus metrics on")
	flag.Parse()

	logger := polybus.DefaultLogger()
	logger.Info("busdemo_starting", "version", "0.1.0")

	go func() {
		http.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(*metricsAddr, nil); err != nil {
			logger.Warn("metrics_server_stopped", "error", err.Error())
		}
	}()

	b := broker.New(logger).WithObserver(observability.ObserveBrokerDelivery)

	jsonSerializer := serializer.New()
	metrics := observability.Metrics{}
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = logger
	retryCfg.OnOutcome = observability.ObserveRetryOutcome

	bus, err := polybus.NewBuilder().
		WithName("orders").
		WithLogger(logger).
		WithTransportFactory(b.TransportFactory()).
		UseIncoming(
			metrics.Handler(),
			middleware.LoggingHandler(logger),
			jsonSerializer.Deserialize,
			retry.Handler(retryCfg),
		).
		UseOutgoing(
			metrics.Handler(),
			middleware.LoggingHandler(logger),
			jsonSerializer.Serialize,
		).
		Build()
	if err != nil {
		log.Fatalf("build bus: %v", err)
	}

	mustRegister(bus, OrderPlaced{}, polybus.MessageInfo{
		Kind: polybus.KindEvent, Endpoint: "orders", Name: "order-placed", Major: 1,
	})
	mustRegister(bus, ShipOrder{}, polybus.MessageInfo{
		Kind: polybus.KindCommand, Endpoint: "orders", Name: "ship-order", Major: 1,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bus.Start(ctx); err != nil {
		log.Fatalf("start bus: %v", err)
	}
	logger.Info("busdemo_ready", "bus", bus.Name(), "metrics_addr", *metricsAddr)

	if err := publishSample(ctx, bus); err != nil {
		logger.Error("busdemo_publish_failed", "error", err.Error())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := bus.Stop(stopCtx); err != nil {
		logger.Warn("bus_stop_error", "error", err.Error())
	}
	logger.Info("busdemo_stopped")
}

func mustRegister(bus *polybus.Bus, sample any, info polybus.MessageInfo) {
	if err := bus.Registry().Register(sample, info); err != nil {
		log.Fatalf("register %s: %v", info.String(), err)
	}
}

func publishSample(ctx context.Context, bus *polybus.Bus) error {
	tx, err := bus.CreateOutgoingTransaction(ctx)
	if err != nil {
		return fmt.Errorf("create outgoing transaction: %w", err)
	}
	if _, err := tx.Add(OrderPlaced{OrderID: "ord-1", Total: 4999}); err != nil {
		return fmt.Errorf("add order-placed: %w", err)
	}
	return tx.Commit(ctx)
}
