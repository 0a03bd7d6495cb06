package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/pesio-ai/be-ar-carf/internal/client"
	"github.com/pesio-ai/be-ar-carf/internal/handler"
	"github.com/pesio-ai/be-ar-carf/internal/platform/config"
	"github.com/pesio-ai/be-ar-carf/internal/platform/database"
	"github.com/pesio-ai/be-ar-carf/internal/platform/logger"
	"github.com/pesio-ai/be-ar-carf/internal/platform/metrics"
	"github.com/pesio-ai/be-ar-carf/internal/platform/middleware"
	"github.com/pesio-ai/be-ar-carf/internal/platform/tracing"
	"github.com/pesio-ai/be-ar-carf/internal/repository"
	"github.com/pesio-ai/be-ar-carf/internal/service"
	"github.com/pesio-ai/be-ar-carf/migrations"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
	})

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting CARF approval service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdownTracing, err := tracing.Init(cfg.Service.Name, cfg.Service.Version, cfg.Tracing.OutputFile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracing")
		}
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				log.Error().Err(err).Msg("Tracing shutdown failed")
			}
		}()
	}

	// Initialize database
	db, err := database.New(ctx, database.Config{
		DSN:         cfg.Database.DSN(),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		MaxConnTime: cfg.Database.MaxConnTime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
		HealthCheck: cfg.Database.HealthCheck,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	log.Info().Msg("Database connection established")

	if cfg.Database.MigrateOnStart {
		applied, err := db.Migrate(ctx, migrations.FS)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
		log.Info().Int("applied", applied).Msg("Migrations applied")
	}

	// Messaging and cache. Both are optional: notifications degrade to
	// logged no-ops and actor lookups go straight to the directory.
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.Service.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.NATS.URL).Msg("NATS unavailable, notifications disabled")
		nc = nil
	} else {
		defer nc.Drain()
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis ping failed, actor cache will fall through")
		}
		defer rdb.Close()
	}

	// Initialize gRPC service clients
	directoryClient, err := client.NewDirectoryGRPCClient(cfg.Directory.GRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create directory gRPC client")
	}
	defer directoryClient.Close()

	masterDataClient, err := client.NewMasterDataGRPCClient(cfg.MasterData.GRPCAddr, cfg.MasterData.CallTimeout)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create master-data gRPC client")
	}
	defer masterDataClient.Close()

	log.Info().
		Str("directory_grpc", cfg.Directory.GRPCAddr).
		Str("masterdata_grpc", cfg.MasterData.GRPCAddr).
		Msg("gRPC service clients initialized")

	directory := client.NewCachedDirectory(directoryClient, rdb, cfg.Redis.ActorCacheTTL, log.Logger)
	publisher := client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log.Logger)

	// Initialize repositories
	requestRepo := repository.NewCustomerRequestRepository(db)
	matrixRepo := repository.NewApprovalMatrixRepository(db)
	auditRepo := repository.NewRequestAuditRepository(db)
	inboxRepo := repository.NewApproverInboxRepository(db)
	ledgerRepo := repository.NewSubmissionLedgerRepository(db)
	executiveRepo := repository.NewExecutiveRepository(db)
	classificationRepo := repository.NewClassificationRepository(db)

	// Initialize services
	m := metrics.Default()
	dispatcher := service.NewNotificationDispatcher(publisher, executiveRepo, cfg.Notification.Concurrency, m, log)
	gateway := service.NewSubmissionGateway(classificationRepo, ledgerRepo, masterDataClient, m, log)
	approvalService := service.NewApprovalService(requestRepo, matrixRepo, auditRepo, ledgerRepo, dispatcher, gateway, m, log)
	requestService := service.NewRequestService(requestRepo, matrixRepo, auditRepo, inboxRepo, ledgerRepo, dispatcher, log)

	// Setup HTTP routes
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	httpHandler := handler.NewHTTPHandler(approvalService, requestService, directory, log)
	httpHandler.Register(router)

	// Apply middleware
	var h http.Handler = router
	h = middleware.Logger(&log.Logger)(h)
	h = middleware.Recovery(&log.Logger)(h)
	h = middleware.CORS(cfg.Server.CORSOrigins)(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Start gRPC server
	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(approvalService, requestService, directory, log).Register(grpcServer)
	reflection.Register(grpcServer)

	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create gRPC listener")
	}

	go func() {
		log.Info().Int("port", cfg.Server.GRPCPort).Msg("Starting gRPC server")
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Error().Err(err).Msg("gRPC server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	grpcServer.GracefulStop()

	log.Info().Msg("Server stopped")
}
