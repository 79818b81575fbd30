// Calyx - Care Collaboration and Realtime Notification Backend
// Copyright 2026 Calyx Health
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/calyxhealth/calyx

// Command server runs the Calyx realtime notification backend: the
// event bus, the notification store and unread counter engine, the
// domain event handlers, and the websocket presence registry, under one
// supervision tree.
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/calyxhealth/calyx/internal/api"
	"github.com/calyxhealth/calyx/internal/bus"
	"github.com/calyxhealth/calyx/internal/config"
	"github.com/calyxhealth/calyx/internal/events"
	"github.com/calyxhealth/calyx/internal/logging"
	"github.com/calyxhealth/calyx/internal/notify"
	"github.com/calyxhealth/calyx/internal/realtime"
	"github.com/calyxhealth/calyx/internal/store"
	"github.com/calyxhealth/calyx/internal/subscriptions"
	"github.com/calyxhealth/calyx/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server failed")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("bus_transport", cfg.Bus.Transport).
		Str("counters_mode", cfg.Counters.Mode).
		Bool("mongo", cfg.Mongo.Enabled).
		Msg("starting calyx")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stores, storeCleanup, err := buildStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer storeCleanup()

	counters, counterCleanup, err := buildCounterStore(ctx, cfg, stores.notifications)
	if err != nil {
		return err
	}
	defer counterCleanup()

	eventBus, busCleanup, err := buildBus(cfg)
	if err != nil {
		return err
	}
	defer busCleanup()

	svc := notify.NewService(stores.notifications, counters, eventBus)
	events.NewHandlers(svc, stores.groups, stores.careplans).Register(eventBus)

	filters := subscriptions.NewDefaultRegistry(stores.groups, stores.aiSessions)
	hub := realtime.NewHub(eventBus, filters)
	bridge := realtime.NewBridge(eventBus, hub)

	auth := realtime.NewAuthenticator([]byte(cfg.Auth.JWTSecret), stores.sessions)
	wsHandler := realtime.NewHandler(hub, auth, nil)
	router := api.NewRouter(cfg.Server, wsHandler)

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(hub)
	tree.AddMessagingService(bridge)
	if cfg.Reconcile.Enabled {
		tree.AddMaintenanceService(notify.NewReconciler(svc, hub, cfg.Reconcile.Interval))
	}
	tree.AddAPIService(api.NewServer(cfg.Server, router))

	err = tree.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor: %w", err)
	}
	if report, rerr := tree.UnstoppedServiceReport(); rerr == nil && len(report) > 0 {
		for _, unstopped := range report {
			logging.Warn().Str("service", unstopped.Name).Msg("service did not stop in time")
		}
	}
	logging.Info().Msg("calyx stopped")
	return nil
}

// stores bundles the persistence collaborators.
type stores struct {
	notifications store.Notifications
	careplans     store.CarePlans
	groups        store.Groups
	sessions      store.Sessions
	aiSessions    store.AISessions
}

// buildStores selects MongoDB or in-memory persistence.
func buildStores(ctx context.Context, cfg *config.Config) (*stores, func(), error) {
	if !cfg.Mongo.Enabled {
		return &stores{
			notifications: store.NewMemoryNotifications(),
			careplans:     store.NewMemoryCarePlans(),
			groups:        store.NewMemoryGroups(),
			sessions:      store.NewMemorySessions(),
			aiSessions:    store.NewMemoryAISessions(),
		}, func() {}, nil
	}

	db, err := store.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect mongo: %w", err)
	}
	cleanup := func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(disconnectCtx); err != nil {
			logging.Error().Err(err).Msg("mongo disconnect failed")
		}
	}
	return &stores{
		notifications: store.NewMongoNotifications(db),
		careplans:     store.NewMongoCarePlans(db),
		groups:        store.NewMongoGroups(db),
		sessions:      store.NewMongoSessions(db),
		aiSessions:    store.NewMongoAISessions(db),
	}, cleanup, nil
}

// buildCounterStore selects the unread counter backend.
func buildCounterStore(ctx context.Context, cfg *config.Config, notifications store.Notifications) (notify.CounterStore, func(), error) {
	switch cfg.Counters.Mode {
	case "memory":
		return notify.NewMemoryCounterStore(), func() {}, nil

	case "redis":
		client, err := notify.ConnectRedis(ctx, cfg.Counters.RedisAddr, cfg.Counters.RedisPassword, cfg.Counters.RedisDB)
		if err != nil {
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cleanup := func() {
			if err := client.Close(); err != nil {
				logging.Error().Err(err).Msg("redis close failed")
			}
		}
		return notify.NewRedisCounterStore(client), cleanup, nil

	case "badger":
		counters, err := notify.NewBadgerCounterStore(cfg.Counters.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger counters: %w", err)
		}
		cleanup := func() {
			if err := counters.Close(); err != nil {
				logging.Error().Err(err).Msg("badger close failed")
			}
		}
		return counters, cleanup, nil

	case "aggregate":
		return notify.NewAggregateCounterStore(notifications), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown counters mode %q", cfg.Counters.Mode)
	}
}

// buildBus assembles the transport and the bus on top of it.
func buildBus(cfg *config.Config) (*bus.Bus, func(), error) {
	var (
		pub      message.Publisher
		sub      message.Subscriber
		embedded *bus.EmbeddedServer
	)

	switch cfg.Bus.Transport {
	case "channel":
		pub, sub = bus.NewGoChannelTransport(bus.GoChannelConfig{Buffer: cfg.Bus.Buffer})

	case "nats":
		url := cfg.Bus.URL
		if cfg.Bus.Embedded {
			srv, err := bus.NewEmbeddedServer(bus.EmbeddedServerConfig{StoreDir: cfg.Bus.StoreDir})
			if err != nil {
				return nil, nil, fmt.Errorf("start embedded nats: %w", err)
			}
			embedded = srv
			url = srv.ClientURL()
		}
		var err error
		pub, sub, err = bus.NewNATSTransport(bus.NATSConfig{
			URL:           url,
			MaxReconnects: -1,
			ReconnectWait: time.Second,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}

	default:
		return nil, nil, fmt.Errorf("unknown bus transport %q", cfg.Bus.Transport)
	}

	eventBus := bus.New(pub, sub)
	cleanup := func() {
		if err := eventBus.Close(); err != nil {
			logging.Error().Err(err).Msg("bus close failed")
		}
		if embedded != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("embedded nats shutdown failed")
			}
		}
	}
	return eventBus, cleanup, nil
}
