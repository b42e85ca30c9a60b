package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/rueidis"
	"go.uber.org/zap"

	"github.com/docdex/docdex/internal/config"
	"github.com/docdex/docdex/internal/dispatch"
	"github.com/docdex/docdex/internal/dispatch/redisstream"
	logpkg "github.com/docdex/docdex/internal/logger"
	"github.com/docdex/docdex/internal/metrics"
	collectionrepo "github.com/docdex/docdex/internal/repository/collection"
	docrepo "github.com/docdex/docdex/internal/repository/doc"
	indexrepo "github.com/docdex/docdex/internal/repository/index"
	jobrepo "github.com/docdex/docdex/internal/repository/job"
	"github.com/docdex/docdex/internal/search"
	searchbleve "github.com/docdex/docdex/internal/search/bleve"
	searchredis "github.com/docdex/docdex/internal/search/redis"
	"github.com/docdex/docdex/internal/store"
	chiTransport "github.com/docdex/docdex/internal/transport/chi"
	collectionuc "github.com/docdex/docdex/internal/usecase/collection"
	indexuc "github.com/docdex/docdex/internal/usecase/index"
	jobuc "github.com/docdex/docdex/internal/usecase/job"
	syncuc "github.com/docdex/docdex/internal/usecase/sync"
	"github.com/docdex/docdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docdex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("search_driver", cfg.Search.Driver),
		zap.String("dispatch_driver", cfg.Dispatch.Driver),
	)

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() { _ = db.Close() }()

	// Shared rueidis client when either the engine or the dispatcher is
	// redis-backed.
	var rclient rueidis.Client
	if cfg.Search.Driver == "redis" || cfg.Dispatch.Driver == "redis" {
		rclient, err = rueidis.NewClient(rueidis.ClientOption{
			InitAddress:  cfg.Search.Addrs,
			Password:     cfg.Search.Password,
			DisableCache: true,
			AlwaysRESP2:  true,
		})
		if err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		defer rclient.Close()
	}

	// Search engine based on driver
	var engine search.Engine
	switch cfg.Search.Driver {
	case "bleve":
		bl := searchbleve.New(cfg.Search.Dir)
		defer func() { _ = bl.Close() }()
		engine = bl
	case "redis":
		re := searchredis.NewFromClient(rclient)
		timeout := time.Duration(cfg.Search.ReadinessTimeout) * time.Second
		if err := re.WaitForReady(ctx, timeout); err != nil {
			logger.Fatal("Search engine not ready", zap.Error(err))
		}
		engine = re
	default:
		logger.Fatal("Unknown search driver", zap.String("driver", cfg.Search.Driver))
	}
	logger.Info("Search engine ready", zap.String("driver", cfg.Search.Driver))

	// Register sync metrics explicitly (no init())
	metrics.RegisterSyncMetrics()

	// Repositories
	collRepo := collectionrepo.New(db)
	idxRepo := indexrepo.New(db)
	dRepo := docrepo.New(db)
	jRepo := jobrepo.New(db)

	// Job service first, then the runner that reports into it, then the
	// dispatcher that delivers to the runner.
	jobSvc := jobuc.New(jRepo, logger)
	runner := syncuc.NewRunner(idxRepo, dRepo, jobSvc, engine, logger).
		WithPageSize(cfg.Sync.PageSize)

	var dispatcher dispatch.Dispatcher
	var runWorkers func(ctx context.Context) error
	switch cfg.Dispatch.Driver {
	case "inproc":
		inproc := dispatch.NewInproc(runner.Handle, logger, cfg.Dispatch.Buffer)
		dispatcher = inproc
		runWorkers = func(ctx context.Context) error {
			return inproc.Run(ctx, cfg.Dispatch.Workers)
		}
	case "redis":
		stream := redisstream.New(rclient,
			cfg.Dispatch.Stream, cfg.Dispatch.Group, cfg.Dispatch.Consumer,
			runner.Handle, logger)
		dispatcher = stream
		runWorkers = func(ctx context.Context) error {
			return stream.Run(ctx, cfg.Dispatch.Workers)
		}
	default:
		logger.Fatal("Unknown dispatch driver", zap.String("driver", cfg.Dispatch.Driver))
	}
	jobSvc.WithDispatcher(dispatcher)

	idxSvc := indexuc.New(idxRepo, dRepo, collRepo, jobSvc, engine, logger)
	collSvc := collectionuc.New(collRepo, dRepo, idxSvc, logger)

	server := chiTransport.NewServer(collSvc, idxSvc, jobSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Workers run until shutdown cancels their context.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		if err := runWorkers(workerCtx); err != nil && workerCtx.Err() == nil {
			logger.Error("Worker pool stopped", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	stopWorkers()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		logger.Warn("Workers did not stop in time")
	}

	logger.Info("Server stopped gracefully")
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
