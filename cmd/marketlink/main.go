package main

// @title           Marketlink Core API
// @version         1.0
// @description     Internal API for connecting sellers to fulfillment providers and orchestrating orders, inventory and catalogue syncs.

// @host      localhost:8080
// @BasePath  /api/v1
// @schemes   http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Service JWT. Format: "Bearer {token}"

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/auth"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/cache"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/crypto"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/metrics"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/postgres"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers/printful"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers/shipbob"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/providers/shiphero"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/ratelimit"
	redisadapter "github.com/custodia-labs/marketlink-core/internal/adapters/driven/redis"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driven/webhook"
	"github.com/custodia-labs/marketlink-core/internal/adapters/driving/http"
	"github.com/custodia-labs/marketlink-core/internal/config"
	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
	"github.com/custodia-labs/marketlink-core/internal/core/services"
	"github.com/custodia-labs/marketlink-core/internal/worker"
)

var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := mintToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	// A positional argument overrides the configured run mode.
	if len(os.Args) > 1 {
		cfg.RunMode = os.Args[1]
		if err := cfg.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("marketlink stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("marketlink starting", "version", version, "mode", cfg.RunMode)

	// ===== Initialize PostgreSQL =====
	db, err := postgres.Connect(ctx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	})
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}
	logger.Info("postgres connected and schema initialized")

	// ===== Initialize Redis (optional) =====
	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = redisadapter.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		logger.Info("redis connected")
	}

	// ===== Infrastructure (Redis if available, otherwise in-process / PostgreSQL) =====
	sink := metrics.NewSink(logger)

	var (
		lock       driven.DistributedLock
		publisher  driven.Publisher
		cacheStore driven.CacheBackend
		limiter    driven.RateLimiter
		redisPing  http.Pinger
	)
	if redisClient != nil {
		redisLock := redisadapter.NewLock(redisClient)
		lock = redisLock
		redisPing = redisLock
		publisher = redisadapter.NewPublisher(redisClient)
		cacheStore = redisadapter.NewCache(redisClient)
		logger.Info("using redis lock, cache and publisher")
	} else {
		lock = postgres.NewAdvisoryLock(db.DB)
		memory := cache.NewMemory(time.Minute)
		defer memory.Close()
		cacheStore = memory
		logger.Info("using postgres advisory lock and in-memory cache")
	}
	if !cfg.Cache.Enabled {
		cacheStore = nil
	}

	switch cfg.RateLimit.Backend {
	case "redis":
		limiter = redisadapter.NewTokenBucket(redisClient, cfg.RateLimit.MaxWait)
	default:
		limiter = ratelimit.New(cfg.RateLimit.MaxWait)
	}
	logger.Info("rate limiter configured", "backend", cfg.RateLimit.Backend, "max_wait", cfg.RateLimit.MaxWait)

	// ===== Credential vault =====
	var salt []byte
	if cfg.Vault.Salt != "" {
		salt = []byte(cfg.Vault.Salt)
	}
	cipher, err := crypto.NewCipherFromMasterKey([]byte(cfg.Vault.MasterKey), salt)
	if err != nil {
		return fmt.Errorf("create credential cipher: %w", err)
	}

	integrationStore := postgres.NewIntegrationStore(db.DB)
	fulfillmentStore := postgres.NewFulfillmentStore(db.DB)
	syncStore := postgres.NewSyncProgressStore(db.DB)
	vault := services.NewCredentialVault(integrationStore, cipher, logger)

	// ===== Provider registry =====
	tokens := providers.NewTokenProviderFactory(providers.TokenProviderConfig{
		Vault:   vault,
		Lock:    lock,
		Metrics: sink,
		Logger:  logger,
	})
	registry := providers.NewRegistry(vault, tokens)
	registry.Register(shipbob.NewBuilderWithConfig(shipbob.Config{Timeout: cfg.Provider.Timeout}))
	registry.Register(shiphero.NewBuilderWithConfig(shiphero.Config{Timeout: cfg.Provider.Timeout}))
	registry.Register(printful.NewBuilderWithConfig(printful.Config{Timeout: cfg.Provider.Timeout}))

	for _, info := range registry.Providers() {
		if info.AuthMethod != domain.AuthMethodOAuth2 {
			continue
		}
		client, ok := cfg.Providers[info.Name]
		if !ok {
			logger.Warn("no oauth client configured, token refresh disabled", "provider", info.Name)
			continue
		}
		tokens.RegisterRefresher(info.Name, providers.NewOAuthRefresher(info, client.ClientID, client.ClientSecret, cfg.Provider.Timeout))
	}

	// ===== Services =====
	dispatcher := webhook.NewDispatcher(webhook.Config{
		Vault:       vault,
		Store:       integrationStore,
		Metrics:     sink,
		Logger:      logger,
		MaxAttempts: cfg.Webhook.MaxAttempts,
		BaseDelay:   cfg.Webhook.BaseDelay,
		MaxDelay:    cfg.Webhook.MaxDelay,
		Timeout:     cfg.Webhook.Timeout,
	})

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		Resolver:     registry,
		Fulfillments: fulfillmentStore,
		Syncs:        syncStore,
		Limiter:      limiter,
		Cache: services.NewCacheManager(services.CacheManagerConfig{
			Backend: cacheStore,
			TTL:     cfg.Cache.TTL,
			Metrics: sink,
			Logger:  logger,
		}),
		Publisher:   publisher,
		Dispatcher:  dispatcher,
		Metrics:     sink,
		SyncWorkers: cfg.Sync.Workers,
		Logger:      logger,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := orchestrator.Shutdown(shutdownCtx); err != nil {
			logger.Warn("orchestrator shutdown incomplete", "error", err)
		}
	}()

	integrations := services.NewIntegrationService(services.IntegrationServiceConfig{
		Store:    integrationStore,
		Vault:    vault,
		Resolver: registry,
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)

	if cfg.RunsWorker() && cfg.Poller.Enabled {
		poller := worker.NewPoller(worker.PollerConfig{
			Refresher: orchestrator,
			Lock:      lock,
			Logger:    logger,
			Interval:  cfg.Poller.Interval,
			BatchSize: cfg.Poller.BatchSize,
		})
		if err := poller.Start(gctx); err != nil {
			return fmt.Errorf("start poller: %w", err)
		}
		defer poller.Stop()
		logger.Info("fulfillment poller started", "interval", cfg.Poller.Interval)
	}

	if cfg.ServesAPI() {
		server := http.NewServer(
			http.Config{
				Host:            cfg.HTTP.Host,
				Port:            cfg.HTTP.Port,
				Version:         version,
				ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
				Logger:          logger,
			},
			orchestrator,
			integrations,
			auth.NewAdapter(cfg.Auth.JWTSecret),
			sink.Handler(),
			db,
			redisPing,
		)
		g.Go(func() error { return server.Start(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown signal received, stopping")
	return nil
}

// mintToken prints a signed service token:
//
//	marketlink token -service checkout [-seller S1] [-ttl 24h]
func mintToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	service := fs.String("service", "", "calling service name (required)")
	seller := fs.String("seller", "", "restrict the token to one seller; empty is platform-wide")
	ttl := fs.Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if *ttl <= 0 {
		*ttl = cfg.Auth.TokenTTL
	}

	now := time.Now()
	token, err := auth.NewAdapter(cfg.Auth.JWTSecret).GenerateToken(&domain.ServiceClaims{
		Service:   *service,
		SellerID:  *seller,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(*ttl).Unix(),
	})
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// newLogger builds the process logger from log.format and log.level.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
