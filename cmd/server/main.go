package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/shiva/fastcare/config"
	"github.com/shiva/fastcare/internal/feed"
	"github.com/shiva/fastcare/internal/handler"
	"github.com/shiva/fastcare/internal/middleware"
	"github.com/shiva/fastcare/internal/repository"
	"github.com/shiva/fastcare/internal/service"
	"github.com/shiva/fastcare/internal/telemetry"
	"github.com/shiva/fastcare/pkg/cache"
	"github.com/shiva/fastcare/pkg/db"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry := telemetry.Setup(ctx, cfg.Telemetry)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	if err := db.EnsureSchema(ctx, pgPool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Change feed ─────────────────────────────────────
	changes, runner := newFeed(cfg, pgPool, redisClient)
	defer changes.Close()
	log.Printf("✓ Change feed: %s", cfg.Feed.Backend)

	// ── Initialize layers ───────────────────────────────
	snapshots := cache.NewSnapshotCache(redisClient, cfg.Redis.SnapshotTTL)
	bookingRepo := repository.NewBookingRepository(pgPool, snapshots, changes)
	vehicleRepo := repository.NewVehicleRepository(pgPool, snapshots, changes)

	dispatchSvc := service.NewDispatchService(bookingRepo, vehicleRepo, cfg.Tracking.DefaultETAMinutes)
	trackingSvc := service.NewTrackingService(service.NewTrackingStore(bookingRepo, vehicleRepo), changes, cfg.Tracking)

	bookingHandler := handler.NewBookingHandler(dispatchSvc)
	vehicleHandler := handler.NewVehicleHandler(dispatchSvc)
	trackingHandler := handler.NewTrackingHandler(trackingSvc)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.Metrics)

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// API v1 routes.
	api := router.PathPrefix("/api/v1").Subrouter()
	bookingHandler.Register(api)
	vehicleHandler.Register(api)
	trackingHandler.Register(api)

	h := middleware.Recoverer(middleware.RequestID(middleware.RequestLogger(middleware.CORS(cfg.Server.CORSOrigins)(router))))

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      otelhttp.NewHandler(h, "fastcare"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	if runner != nil {
		g.Go(func() error { return runner.Run(gctx) })
	}

	g.Go(func() error {
		log.Printf("🚀 Server listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// ── Graceful shutdown ───────────────────────────────
	g.Go(func() error {
		<-gctx.Done()
		log.Println("⏳ Shutting down server...")

		// Websocket connections are hijacked and not tracked by Shutdown;
		// closing the sessions ends their handlers.
		trackingSvc.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server stopped with error: %v", err)
	}
	log.Println("✅ Server gracefully stopped")
}

// newFeed builds the configured change feed. Listener-based feeds also
// return a Runner that must be kept running for subscriptions to work.
func newFeed(cfg *config.Config, pool *pgxpool.Pool, rdb *redis.Client) (feed.Feed, feed.Runner) {
	switch cfg.Feed.Backend {
	case config.FeedMemory:
		return feed.NewMemory(), nil
	case config.FeedRedis:
		return feed.NewRedis(rdb), nil
	case config.FeedKafka:
		k := feed.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Tracking.ReconnectMaxInterval)
		return k, k
	default:
		p := feed.NewPostgres(pool, cfg.Feed.PGChannel, cfg.Tracking.ReconnectMaxInterval)
		return p, p
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
