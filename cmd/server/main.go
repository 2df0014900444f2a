package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"nodeflow/internal/api/handler"
	"nodeflow/internal/core/ports"
	"nodeflow/internal/core/postgres/repository"
	"nodeflow/internal/engine"
	infraredis "nodeflow/internal/infrastructure/redis"
	"nodeflow/internal/metrics"
	"nodeflow/internal/registry"
	"nodeflow/internal/scheduler"
	"nodeflow/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	registerBuiltins(reg)

	var sinks engine.FanoutSink

	// Persistence and the event bus are optional collaborators; the engine
	// serves in-flight state from memory either way.
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		store := repository.NewStore(db)
		if err := store.Migrate(); err != nil {
			logger.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, store)
		logger.Info("postgres persistence enabled")
	}

	var queue ports.RunQueue
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client, err := infraredis.NewClient(ctx, addr)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		sinks = append(sinks, infraredis.NewEventBus(client))
		queue = infraredis.NewRunQueue(client)
		logger.Info("redis event bus and run queue enabled", "addr", addr)
	}

	var sink ports.EventSink
	if len(sinks) > 0 {
		sink = sinks
	}

	eng := engine.New(engine.Config{
		Registry: reg,
		Sink:     sink,
		Queue:    queue,
		Metrics:  metrics.New(prometheus.DefaultRegisterer),
		Logger:   logger,
		Scheduler: scheduler.Options{
			ContinueOnError: os.Getenv("CONTINUE_ON_ERROR") == "true",
			FailFast:        os.Getenv("FAIL_FAST") == "true",
		},
	})
	eng.Start(ctx)

	runHandler := handler.NewRunHandler(service.NewRunService(eng))

	router := gin.Default()
	runHandler.Register(router.Group("/api/v1"))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	logger.Info("server starting", "addr", addr)
	if err := router.Run(addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
