package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/interledgerx/plugin-bells/internal/config"
	"github.com/interledgerx/plugin-bells/internal/events"
	"github.com/interledgerx/plugin-bells/internal/log"
	"github.com/interledgerx/plugin-bells/internal/metrics"
	"github.com/interledgerx/plugin-bells/internal/plugin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting bells ledger probe",
		"env", cfg.Env,
		"account", cfg.Account,
		"prefix", cfg.Prefix,
	)

	metricsObj, metricsHandler, err := metrics.Setup("bells-plugin")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		logger.Infow("Serving metrics", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warnw("Metrics server stopped", "error", err)
		}
	}()

	cert, key, ca, err := cfg.TLSMaterial()
	if err != nil {
		logger.Fatalw("Failed to read TLS material", "error", err)
	}

	p, err := plugin.New(plugin.Options{
		Prefix:                  cfg.Prefix,
		Account:                 cfg.Account,
		Username:                cfg.Username,
		Password:                cfg.Password,
		Cert:                    cert,
		Key:                     key,
		CA:                      ca,
		Connector:               cfg.Connector,
		DebugReplyNotifications: cfg.DebugReplyNotifications,
		RequestTimeout:          cfg.RequestTimeout,
		Logger:                  logger,
		Metrics:                 metricsObj,
	})
	if err != nil {
		logger.Fatalw("Failed to create plugin", "error", err)
	}

	registerEventLogging(p, logger)

	ctx := context.Background()
	if err := p.Connect(ctx, plugin.ConnectOptions{Timeout: cfg.ConnectTimeout}); err != nil {
		logger.Fatalw("Failed to connect to ledger", "error", err)
	}

	if prefix, err := p.GetPrefix(); err == nil {
		logger.Infow("Ledger resolved", "prefix", prefix)
	}
	if info, err := p.GetInfo(ctx); err == nil {
		logger.Infow("Ledger info",
			"precision", info.Precision,
			"scale", info.Scale,
			"currency", info.CurrencyCode,
		)
	}
	if balance, err := p.GetBalance(ctx); err == nil {
		logger.Infow("Account balance", "balance", balance)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infow("Shutting down")
	if err := p.Disconnect(); err != nil {
		logger.Warnw("Disconnect failed", "error", err)
	}
}

func registerEventLogging(p *plugin.Plugin, logger *zap.SugaredLogger) {
	transferEvents := []events.Event{
		events.IncomingPrepare, events.IncomingTransfer, events.IncomingFulfill, events.IncomingCancel,
		events.OutgoingPrepare, events.OutgoingTransfer, events.OutgoingFulfill, events.OutgoingCancel,
	}
	for _, event := range transferEvents {
		event := event
		p.On(event, func(ctx context.Context, payload events.Payload) error {
			kv := []any{"event", event}
			if payload.Transfer != nil {
				kv = append(kv,
					"id", payload.Transfer.ID,
					"account", payload.Transfer.Account,
					"amount", payload.Transfer.Amount,
				)
			}
			if payload.Fulfillment != "" {
				kv = append(kv, "fulfillment", payload.Fulfillment)
			}
			if payload.Reason != "" {
				kv = append(kv, "reason", payload.Reason)
			}
			logger.Infow("Transfer event", kv...)
			return nil
		})
	}
	p.On(events.Connect, func(ctx context.Context, _ events.Payload) error {
		logger.Infow("Connected")
		return nil
	})
	p.On(events.Disconnect, func(ctx context.Context, _ events.Payload) error {
		logger.Infow("Disconnected")
		return nil
	})
}
