package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/discordwell/cliaas/pkg/clients"
	"github.com/discordwell/cliaas/pkg/compression"
	"github.com/discordwell/cliaas/pkg/config"
	"github.com/discordwell/cliaas/pkg/connector/registry"
	"github.com/discordwell/cliaas/pkg/events"
	"github.com/discordwell/cliaas/pkg/logger"
	"github.com/discordwell/cliaas/pkg/observability"
	"github.com/discordwell/cliaas/pkg/store"
	"github.com/discordwell/cliaas/pkg/syncengine"
)

// skipConfig marks commands that run without loading configuration
const skipConfig = "skip-config"

// app carries state shared by every command
type app struct {
	configPath string
	logLevel   string

	cfg             *config.Config
	log             *zap.Logger
	shutdownTracing observability.ShutdownFunc
}

func (a *app) load(cmd *cobra.Command) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logger.Init(cfg.Log); err != nil {
		return err
	}
	shutdown, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = logger.Get().With(zap.String("component", "cliaas-cli"))
	a.shutdownTracing = shutdown
	return nil
}

func (a *app) close() {
	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil && a.log != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
	}
	_ = logger.Sync()
}

func (a *app) registry() *registry.Registry {
	return registry.New(
		registry.WithHTTPClient(clients.NewHTTPClient(&a.cfg.HTTP, a.log)),
		registry.WithLogger(a.log))
}

// engine wires the configured store and event publisher into a sync engine.
// The returned cleanup closes both.
func (a *app) engine(ctx context.Context) (*syncengine.Engine, func(), error) {
	pub, err := events.Open(a.cfg.Events, a.log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := pub.Close(); err != nil {
			a.log.Warn("failed to close event publisher", zap.Error(err))
		}
	}

	var stores syncengine.StoreFactory
	switch a.cfg.Store.Driver {
	case "", store.DriverFile:
		codec, err := compression.Parse(a.cfg.Store.Compression)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		stores = syncengine.FileStores(a.cfg.Store.Dir, codec)
	default:
		st, err := store.Open(ctx, a.cfg.Store)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		closePublisher := cleanup
		cleanup = func() {
			if err := st.Close(); err != nil {
				a.log.Warn("failed to close store", zap.Error(err))
			}
			closePublisher()
		}
		stores = syncengine.SharedStore(st)
	}

	e := syncengine.New(a.registry(), a.cfg,
		syncengine.WithStoreFactory(stores),
		syncengine.WithPublisher(pub),
		syncengine.WithLogger(a.log))
	return e, cleanup, nil
}
