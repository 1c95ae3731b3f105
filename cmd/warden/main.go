package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bricksaw/warden/pkg/api"
	"github.com/bricksaw/warden/pkg/audit"
	"github.com/bricksaw/warden/pkg/billing"
	"github.com/bricksaw/warden/pkg/catalog"
	"github.com/bricksaw/warden/pkg/config"
	"github.com/bricksaw/warden/pkg/entitlement"
	"github.com/bricksaw/warden/pkg/guard"
	"github.com/bricksaw/warden/pkg/identity"
	"github.com/bricksaw/warden/pkg/impersonation"
	"github.com/bricksaw/warden/pkg/middleware"
	"github.com/bricksaw/warden/pkg/observability"
	"github.com/bricksaw/warden/pkg/orgs"
	"github.com/bricksaw/warden/pkg/storage/postgres"
	"github.com/bricksaw/warden/pkg/superadmin"
)

func main() {
	// .env is a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Server exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	connections, err := postgres.NewConnectionManager(postgres.NewConnectionConfig(cfg.Storage), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	db := connections.Primary()

	var redisClient *postgres.RedisClient
	if cfg.Storage.RedisEnabled() {
		redisClient, err = postgres.NewRedisClient(cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
	}

	// Stores. Each constructor ensures its own schema.
	planStore, err := catalog.NewStore(db, logger, metrics,
		cfg.Storage.CacheTTL["plan"], cfg.Storage.CacheTTL["plan_list"])
	if err != nil {
		return err
	}
	auditStore, err := audit.NewStore(db)
	if err != nil {
		return err
	}
	superAdminStore, err := superadmin.NewStore(db)
	if err != nil {
		return err
	}
	orgStore, err := orgs.NewStore(db)
	if err != nil {
		return err
	}
	billingStore, err := billing.NewStore(db)
	if err != nil {
		return err
	}
	sessionStore, err := impersonation.NewStore(db)
	if err != nil {
		return err
	}

	if cfg.Catalog.SeedPath != "" {
		if err := planStore.SeedFromFile(ctx, cfg.Catalog.SeedPath); err != nil {
			return fmt.Errorf("failed to seed plan catalog: %w", err)
		}
		logger.WithField("path", cfg.Catalog.SeedPath).Info("Plan catalog seeded")

		if cfg.Catalog.WatchSeed {
			if err := planStore.WatchSeed(ctx, cfg.Catalog.SeedPath); err != nil {
				return fmt.Errorf("failed to watch plan seed file: %w", err)
			}
		}
	}

	recorder := audit.NewRecorder(auditStore, logger, metrics)
	g := guard.NewGuard(superAdminStore, recorder, logger, metrics)

	orgService := orgs.NewService(orgStore, g, logger)
	processor := billing.NewOfflineProcessor(cfg.Billing.PortalBaseURL)
	billingService := billing.NewService(billingStore, planStore, processor, g, logger, metrics, cfg.Billing.TrialDays)
	superAdminService := superadmin.NewService(superAdminStore, g)
	impersonationService := impersonation.NewService(db, sessionStore, recorder, g, logger, metrics)

	var reportCache entitlement.ReportCache
	if redisClient != nil && cfg.Storage.CacheEnabled {
		reportCache = redisClient
	}
	entitlementService := entitlement.NewService(planStore, billingStore, orgStore, reportCache, g, logger, metrics)

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	principals := middleware.NewPrincipalMiddleware(verifier, impersonationService, logger)

	var rateLimiter *middleware.RateLimiter
	if redisClient != nil {
		rateLimiter = middleware.NewRateLimiter(redisClient, middleware.DefaultRateLimitConfig(), logger)
	}

	var redisConn *redis.Client
	if redisClient != nil {
		redisConn = redisClient.GetClient()
	}
	health := observability.NewHealthChecker(db, redisConn, cfg.Observability.OTelServiceVersion)

	server := api.NewServer(api.Config{
		Plans:         planStore,
		Organisations: orgService,
		Entitlements:  entitlementService,
		Billing:       billingService,
		SuperAdmins:   superAdminService,
		Impersonation: impersonationService,
		AuditLog:      api.NewAuditQuery(auditStore, g),
		Principals:    principals,
		RateLimiter:   rateLimiter,
		Health:        health,
		Metrics:       metrics,
		WebhookSecret: cfg.Billing.WebhookSecret,
		Logger:        logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Probes and metrics listen separately so they stay reachable while the
	// API drains.
	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, health)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(healthMux, registry)
	}
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("health server", healthServer.Shutdown)
	shutdown.RegisterShutdownFunc("postgres", func(context.Context) error { return connections.Close() })
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, otelProviders, logger)
		})
	}

	errCh := make(chan error, 2)
	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("Warden trust engine listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	done := make(chan error, 1)
	go func() { done <- shutdown.WaitForShutdown() }()

	select {
	case err := <-errCh:
		return err
	case err := <-done:
		return err
	}
}

// buildVerifier assembles the identity chain: service tokens for machine
// callers, OIDC for interactive super admins. Config validation guarantees
// at least one is configured.
func buildVerifier(ctx context.Context, cfg *config.Config) (identity.Verifier, error) {
	var chain identity.Chain

	if cfg.Identity.ServiceTokens != "" {
		serviceTokens, err := identity.ParseServiceTokens(cfg.Identity.ServiceTokens)
		if err != nil {
			return nil, fmt.Errorf("invalid service token configuration: %w", err)
		}
		chain = append(chain, serviceTokens)
	}

	if cfg.Identity.OIDCEnabled {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		oidcVerifier, err := identity.NewOIDCVerifier(initCtx, cfg.Identity.OIDCIssuer, cfg.Identity.OIDCClientID)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OIDC verifier: %w", err)
		}
		chain = append(chain, oidcVerifier)
	}

	return chain, nil
}
