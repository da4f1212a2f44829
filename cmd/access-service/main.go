package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/medvault/phr-access/internal/access"
	"github.com/medvault/phr-access/internal/authz"
	"github.com/medvault/phr-access/internal/content"
	"github.com/medvault/phr-access/internal/eventlog"
	"github.com/medvault/phr-access/internal/httpapi"
	"github.com/medvault/phr-access/internal/records"
	"github.com/medvault/phr-access/internal/registry"
	"github.com/medvault/phr-access/internal/rolereq"
	"github.com/medvault/phr-access/pkg/config"
	"github.com/medvault/phr-access/pkg/database"
	"github.com/medvault/phr-access/pkg/interfaces"
	"github.com/medvault/phr-access/pkg/logger"
	"github.com/medvault/phr-access/pkg/monitoring"
	"github.com/medvault/phr-access/pkg/types"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel)
	log.WithComponent("main").Info("Starting access service")

	metrics := monitoring.NewMetricsCollector("access-service")
	health := monitoring.NewHealthManager()

	// Storage layer. Without a database everything lives in memory.
	var (
		regRepo registry.Repository
		recRepo records.Repository
		reqRepo rolereq.Repository
		events  interfaces.EventLog
	)
	if cfg.Database.Enabled {
		db, err := database.Connect(cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to database")
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := db.Migrate(ctx); err != nil {
			cancel()
			log.WithError(err).Fatal("Failed to apply database schema")
		}
		cancel()

		regRepo = registry.NewPostgresRepository(db.DB, metrics)
		recRepo = records.NewPostgresRepository(db.DB, metrics)
		reqRepo = rolereq.NewPostgresRepository(db.DB, metrics)
		events = eventlog.NewPostgres(db.DB, metrics)
		health.Register(monitoring.NewDatabaseChecker("postgres", db.Health))
	} else {
		events = eventlog.NewMemory()
		log.WithComponent("main").Warn("Database disabled, running with in-memory state")
	}

	reg := registry.New(regRepo, log)
	store := records.New(recRepo, log)
	requests := rolereq.New(reg, events, reqRepo, log)

	loadCtx, loadCancel := context.WithTimeout(context.Background(), 30*time.Second)
	for _, load := range []func(context.Context) error{reg.LoadFrom, store.LoadFrom, requests.LoadFrom} {
		if err := load(loadCtx); err != nil {
			loadCancel()
			log.WithError(err).Fatal("Failed to restore state from database")
		}
	}
	loadCancel()

	if err := bootstrapAdmin(cfg, reg, log); err != nil {
		log.WithError(err).Fatal("Failed to bootstrap admin")
	}

	engine := authz.NewEngine(reg, store, authz.Policy{
		CreatorRoles: parseRoles(cfg.Policy.CreatorRoles, log),
		GranteeRoles: parseRoles(cfg.Policy.GranteeRoles, log),
	})

	contentStore := content.NewClient(cfg.Content.Endpoint,
		time.Duration(cfg.Content.TimeoutSeconds)*time.Second)
	health.Register(monitoring.NewHTTPChecker("content-store", cfg.Content.Endpoint+"/api/v0/version"))

	svc := access.New(reg, requests, store, engine, contentStore, log, metrics)

	router := mux.NewRouter()
	router.Handle(cfg.Monitoring.HealthPath, health.Handler()).Methods(http.MethodGet)
	if cfg.Monitoring.Enabled {
		router.Handle(cfg.Monitoring.MetricsPath, metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(httpapi.LoggingMiddleware(log))
	api.Use(metrics.HTTPMiddleware)
	api.Use(httpapi.NewAuthMiddleware(cfg.JWT.Secret, log).Handler)
	if cfg.Server.RateLimitOn {
		api.Use(httpapi.NewRateLimiter(cfg.Server.RateLimit, time.Minute).Handler)
	}
	httpapi.NewHandlers(svc, log).RegisterRoutes(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.WithComponent("main").Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}
	log.WithComponent("main").Info("Server stopped")
}

// bootstrapAdmin assigns the admin role to the configured principal so a
// fresh deployment has someone who can resolve role requests.
func bootstrapAdmin(cfg *config.Config, reg *registry.Registry, log *logger.Logger) error {
	if cfg.Policy.BootstrapAdmin == "" {
		return nil
	}
	principal, err := types.ParsePrincipal(cfg.Policy.BootstrapAdmin)
	if err != nil {
		return fmt.Errorf("bootstrap admin is not a valid principal: %w", err)
	}
	if reg.GetRole(principal) == types.RoleAdmin {
		return nil
	}
	if err := reg.SetRole(context.Background(), principal, types.RoleAdmin); err != nil {
		return err
	}
	log.WithPrincipal(principal.String()).Info("Bootstrapped admin")
	return nil
}

func parseRoles(raw []string, log *logger.Logger) []types.Role {
	var out []types.Role
	for _, r := range raw {
		role, err := types.ParseRole(r)
		if err != nil {
			log.WithField("role", r).Warn("Ignoring unknown role in policy configuration")
			continue
		}
		out = append(out, role)
	}
	return out
}
