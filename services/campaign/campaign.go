// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package campaign assembles the testnet points campaign service.
//
// The service coordinates the relational store, the AI adjudicator, proof
// storage, registration, referrals, the submission engine and the HTTP
// surface, plus tracing and Prometheus metrics.
//
// # Usage
//
//	cfg, err := campaign.LoadConfig("campaign.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := campaign.New(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run(ctx))
//
// Deployments with their own identity layer inject it through
// extensions.ServiceOptions:
//
//	opts := &extensions.ServiceOptions{AuthProvider: sso, AuditLogger: siem}
//	svc, err := campaign.New(ctx, cfg, opts)
package campaign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/consolepoints/campaign/pkg/extensions"
	"github.com/consolepoints/campaign/services/campaign/adjudicator"
	"github.com/consolepoints/campaign/services/campaign/catalog"
	"github.com/consolepoints/campaign/services/campaign/identity"
	"github.com/consolepoints/campaign/services/campaign/leaderboard"
	"github.com/consolepoints/campaign/services/campaign/ledger"
	"github.com/consolepoints/campaign/services/campaign/observability"
	"github.com/consolepoints/campaign/services/campaign/referrals"
	"github.com/consolepoints/campaign/services/campaign/registration"
	"github.com/consolepoints/campaign/services/campaign/routes"
	"github.com/consolepoints/campaign/services/campaign/screening"
	"github.com/consolepoints/campaign/services/campaign/settings"
	"github.com/consolepoints/campaign/services/campaign/storage"
	"github.com/consolepoints/campaign/services/campaign/store"
	"github.com/consolepoints/campaign/services/campaign/submissions"
	"github.com/consolepoints/campaign/services/llm"
)

// ServiceName identifies the service in traces and logs.
const ServiceName = "campaign-service"

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the campaign service lifecycle.
//
// # Thread Safety
//
// Safe for concurrent use after New returns. Run should be called at most
// once.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails, then shuts
	// down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine for integration tests.
	Router() *gin.Engine

	// Close releases resources without serving. Run calls it on return.
	Close()
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config   Config
	opts     extensions.ServiceOptions
	router   *gin.Engine
	store    *store.GormStore
	closers  []func()
	registry *prometheus.Registry
	logger   *slog.Logger
}

// New builds every component and the router.
//
// # Description
//
//  1. Applies configuration defaults
//  2. Initializes OpenTelemetry tracing (when an endpoint is configured)
//  3. Opens and migrates the database
//  4. Creates the LLM client (optional; without it AI review falls back
//     to the manual queue)
//  5. Creates the proof object store (local directory or GCS)
//  6. Loads the proof text screening rules
//  7. Wires the domain services and registers routes
//
// If opts is nil, DefaultOptions() is used and the auth provider follows
// cfg.Auth.Mode.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if a required dependency cannot be initialized
func New(ctx context.Context, cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	cfg = applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s := &service{
		config:   cfg,
		registry: prometheus.NewRegistry(),
		logger:   slog.Default().With("service", ServiceName),
	}
	if opts != nil {
		s.opts = *opts
	} else {
		s.opts = extensions.DefaultOptions()
	}

	if cfg.OTelEndpoint != "" {
		cleanup, err := s.initTracer(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.closers = append(s.closers, func() { cleanup(context.Background()) })
	}

	if err := s.initStore(ctx); err != nil {
		s.Close()
		return nil, err
	}
	objects, err := s.initObjectStore(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	deps, err := s.wire(ctx, objects)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.initRouter(deps)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

func (s *service) Run(ctx context.Context) error {
	defer s.Close()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting campaign server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down campaign server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

func (s *service) Router() *gin.Engine {
	return s.router
}

// Close runs cleanups in reverse order of acquisition.
func (s *service) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer(ctx context.Context) (func(context.Context), error) {
	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
		_ = conn.Close()
	}
	return cleanup, nil
}

func (s *service) initStore(ctx context.Context) error {
	db, err := store.Open(s.config.Database)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, func() {
		if err := db.Close(); err != nil {
			s.logger.Error("failed to close database", "error", err)
		}
	})
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	s.store = db
	s.logger.Info("Database ready", "driver", s.config.Database.Driver)
	return nil
}

func (s *service) initObjectStore(ctx context.Context) (storage.ObjectStore, error) {
	sc := s.config.Storage
	if sc.Backend == StorageGCS {
		gcs, err := storage.NewGCSStore(ctx, sc.GCSBucket, sc.GCSKeyPath)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, func() { _ = gcs.Close() })
		s.logger.Info("Proof uploads go to GCS", "bucket", sc.GCSBucket)
		return gcs, nil
	}
	local, err := storage.NewLocalStore(sc.LocalDir)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Proof uploads go to a local directory", "dir", sc.LocalDir)
	return local, nil
}

// initLLMClient returns nil when no backend is configured or the backend
// cannot be created. The adjudicator treats a nil client as unavailable.
func (s *service) initLLMClient(ctx context.Context) llm.LLMClient {
	if s.config.LLM.Backend == "" {
		s.logger.Warn("No LLM backend configured; AI review will route to the manual queue")
		return nil
	}
	client, err := llm.New(ctx, s.config.LLM)
	if err != nil {
		s.logger.Warn("LLM client initialization failed; AI review will route to the manual queue",
			"backend", s.config.LLM.Backend, "error", err)
		return nil
	}
	return client
}

func (s *service) wire(ctx context.Context, objects storage.ObjectStore) (routes.Deps, error) {
	s.registry.MustRegister(collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(s.registry)

	settingsSvc := settings.NewService(s.store)
	settler := ledger.NewSettler(s.store, s.logger, metrics)
	judge := adjudicator.New(s.initLLMClient(ctx), settingsSvc, s.config.Adjudicator, s.logger, metrics)
	cat := catalog.New(s.store)
	refs := referrals.NewService(s.store, settler, s.config.ReferralLinkBase, s.logger, metrics)
	regSvc, err := registration.NewService(s.store, judge, settingsSvc, refs, s.config.Registration, s.logger)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("failed to initialize registration: %w", err)
	}
	screener, err := screening.New()
	if err != nil {
		return routes.Deps{}, fmt.Errorf("failed to load proof screening rules: %w", err)
	}
	regSvc.WithScreener(screener)
	gate, err := identity.DefaultGate(s.store, s.config.Auth.AdminWallets)
	if err != nil {
		return routes.Deps{}, fmt.Errorf("failed to initialize role gate: %w", err)
	}

	if s.opts.AuthProvider == nil {
		s.opts.AuthProvider = s.authProvider()
	}
	if s.opts.AuditLogger == nil {
		s.opts.AuditLogger = extensions.NewSlogAuditLogger(s.logger)
	}

	return routes.Deps{
		Store:   s.store,
		Catalog: cat,
		Engine: submissions.NewEngine(submissions.Deps{
			Store:    s.store,
			Tasks:    cat,
			Judge:    judge,
			Objects:  objects,
			Settings: settingsSvc,
			Settler:  settler,
			Logger:   s.logger,
			Metrics:  metrics,
			Screener: screener,
		}, s.config.Submissions),
		Settler:      settler,
		Settings:     settingsSvc,
		Leaderboard:  leaderboard.NewService(s.store),
		Referrals:    refs,
		Registration: regSvc,
		Gate:         gate,
		Options:      s.opts,
		Gatherer:     s.registry,
		MaxUpload:    s.config.MaxUploadBytes,
		CORSOrigins:  s.config.CORSOrigins,
	}, nil
}

func (s *service) authProvider() extensions.AuthProvider {
	if s.config.Auth.Mode == AuthModeSignature {
		s.logger.Info("Operator and admin calls require a signed wallet challenge")
		return identity.NewSignatureAuthProvider(s.config.Auth.SignatureMaxAge)
	}
	s.logger.Warn("Operator and admin calls trust the X-Wallet-Address header")
	return identity.HeaderAuthProvider{}
}

// initRouter sets up the Gin router with tracing and every route.
func (s *service) initRouter(deps routes.Deps) {
	router := gin.Default()
	if s.config.OTelEndpoint != "" {
		router.Use(otelgin.Middleware(ServiceName))
	}
	routes.SetupRoutes(router, deps)
	s.router = router
}
