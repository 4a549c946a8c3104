// Trustkitd serves the trustkit admin API and content gate over HTTP.
//
// Authentication is delegated: an upstream proxy authenticates the caller
// and forwards the principal in the X-User-ID header and its verified email,
// if any, in X-User-Email. Bind the listener so that only the proxy can
// reach it.
//
// On startup:
//  1. Loads configuration from --config and TRUSTKIT_* environment variables.
//  2. Connects to Postgres and, with --migrate, applies pending migrations.
//  3. With --seed, creates missing system roles and superuser grants.
//  4. Serves the admin API, /healthz and /metrics until SIGINT or SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fernandezvara/dbkit"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/fernandezvara/trustkit"
)

// UserHeader carries the authenticated principal from the upstream proxy.
const UserHeader = "X-User-ID"

// EmailHeader carries the principal's verified email from the upstream proxy.
const EmailHeader = "X-User-Email"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		listen     string
		migrate    bool
		seed       bool
	)

	flagSet := pflag.NewFlagSet("trustkitd", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", os.Getenv("TRUSTKIT_CONFIG"), "path to the YAML config file")
	flagSet.StringVar(&listen, "listen", "", "listen address (overrides server.listen)")
	flagSet.BoolVar(&migrate, "migrate", false, "apply database migrations before serving")
	flagSet.BoolVar(&seed, "seed", false, "create missing system roles and superuser grants before serving")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := trustkit.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}

	log := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kit, err := dbkit.New(dbkit.Config{URL: cfg.Database.URL})
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer kit.Close()

	store := trustkit.NewPostgresStore(kit)
	if err := store.ConfigureConnectionPool(cfg.Database.Pool); err != nil {
		return fmt.Errorf("configuring pool: %w", err)
	}

	if migrate {
		result, err := kit.Migrate(ctx, trustkit.Migrations())
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		for _, m := range result.Applied {
			log.WithField("migration", m.ID).Info("migration applied")
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := trustkit.NewMetrics(registry)

	var cache trustkit.PermissionCache
	if cfg.Redis.URL != "" {
		redisCache, err := trustkit.NewRedisCache(ctx, trustkit.RedisCacheConfig{
			URL:      cfg.Redis.URL,
			TTL:      cfg.Cache.TTL,
			PoolSize: cfg.Redis.PoolSize,
		}, log)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		cache = redisCache
	} else {
		cache = trustkit.NewLRUCache(cfg.Cache.Size, cfg.Cache.TTL)
	}

	opts := append(cfg.ServiceOptions(),
		trustkit.WithLogger(log),
		trustkit.WithMetrics(metrics),
		trustkit.WithCache(cache),
	)
	service := trustkit.NewService(store, opts...)

	if seed {
		result, err := service.SeedWithRetry(ctx, 5)
		if err != nil {
			return fmt.Errorf("seeding: %w", err)
		}
		log.WithField("roles_created", result.RolesCreated).
			WithField("superusers_granted", result.SuperusersGranted).
			Info("seeded")
	}

	mw := trustkit.NewMiddleware(service,
		trustkit.WithUserIDExtractor(func(r *http.Request) string {
			return r.Header.Get(UserHeader)
		}),
		trustkit.WithEmailExtractor(func(r *http.Request) string {
			return r.Header.Get(EmailHeader)
		}),
	)
	handlers := trustkit.NewHandlers(service, mw,
		trustkit.WithRedeemLimit(cfg.Invites.RedeemRate, cfg.Invites.RedeemBurst))

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
	router.HandleFunc("/healthz", healthHandler(service)).Methods("GET")
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(mw.InjectAuditContext)
	handlers.RegisterRoutes(api)

	server := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.WithField("listen", cfg.Server.Listen).Info("trustkitd listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func healthHandler(service *trustkit.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := service.Health(r.Context())
		code := http.StatusOK
		if !status.Healthy {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
