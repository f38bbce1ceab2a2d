// Command trolleyd launches the cart synchronization daemon.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/coachpo/trolley/internal/domain/cartstore"
	"github.com/coachpo/trolley/internal/engine"
	"github.com/coachpo/trolley/internal/identity"
	"github.com/coachpo/trolley/internal/infra/config"
	memorygw "github.com/coachpo/trolley/internal/infra/gateway/memory"
	wsgw "github.com/coachpo/trolley/internal/infra/gateway/ws"
	"github.com/coachpo/trolley/internal/infra/persistence"
	"github.com/coachpo/trolley/internal/infra/persistence/migrations"
	"github.com/coachpo/trolley/internal/infra/persistence/postgres"
	"github.com/coachpo/trolley/internal/storage"
	"github.com/coachpo/trolley/lib/telemetry"
)

const (
	defaultConfigPath        = "config/trolley.yaml"
	daemonLoggerPrefix       = "trolleyd "
	sessionStorageKey        = "trolley.session"
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the trolley YAML configuration")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stderr, daemonLoggerPrefix, log.LstdFlags|log.Lmsgprefix)

	cfg, err := config.Load(ctx, *cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, gateway=%s", cfg.Environment, cfg.Gateway.Kind)

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}

	store, err := buildStorage(cfg.Storage, logger)
	if err != nil {
		logger.Fatalf("initialise storage: %v", err)
	}

	gateway, closeGateway, err := buildGateway(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("initialise gateway: %v", err)
	}

	resolver := identity.New(store, identity.WithStorageKey(sessionStorageKey))
	if resolver.Degraded() {
		logger.Print("session storage unavailable, identity will not survive restarts")
	}
	logger.Printf("session identity resolved: %s", resolver.Identity())

	eng := engine.New(gateway, resolver, engineConfig(cfg))

	snapshots, unwatch := eng.SubscribeSnapshot()
	defer unwatch()
	go func() {
		for snap := range snapshots {
			logger.Printf("cart updated: lines=%d quantity=%d subtotal=%s",
				len(snap), snap.TotalQuantity(), snap.Subtotal())
		}
	}()

	if err := eng.Resync(ctx); err != nil {
		logger.Printf("initial sync failed, continuing with empty cart: %v", err)
	}

	logger.Print("trolleyd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	eng.Close()
	closeGateway()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	shutdownCancel()
	logger.Print("shutdown completed")
}

func engineConfig(cfg config.AppConfig) engine.Config {
	return engine.Config{
		DebounceWindow: cfg.Engine.DebounceWindow,
		ResyncRate:     rate.Limit(cfg.Engine.ResyncRate),
		GatewayName:    string(cfg.Gateway.Kind),
	}
}

func buildStorage(cfg config.StorageConfig, logger *log.Logger) (storage.Store, error) {
	switch cfg.Kind {
	case config.StorageMemory:
		return storage.NewMemory(), nil
	default:
		store, err := storage.NewFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		logger.Printf("session storage at %s", cfg.Path)
		return store, nil
	}
}

func buildGateway(ctx context.Context, cfg config.AppConfig, logger *log.Logger) (cartstore.Gateway, func(), error) {
	switch cfg.Gateway.Kind {
	case config.GatewayPostgres:
		if cfg.Database.RunMigrations {
			if err := migrations.ApplyEmbedded(ctx, cfg.Database.DSN, logger); err != nil {
				return nil, nil, err
			}
		}
		pool, err := persistence.NewPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := postgres.NewCartStore(pool)
		logger.Printf("postgres gateway connected: %s", redactDSN(cfg.Database.DSN))
		return store, func() {
			store.Close()
			pool.Close()
		}, nil
	case config.GatewayWebsocket:
		client, err := wsgw.Dial(ctx, cfg.Gateway.URL)
		if err != nil {
			return nil, nil, err
		}
		logger.Printf("ws gateway connected: %s", cfg.Gateway.URL)
		return client, client.Close, nil
	default:
		logger.Print("using in-memory gateway, cart contents will not survive restarts")
		return memorygw.New(), func() {}, nil
	}
}

func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
