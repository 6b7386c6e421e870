package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/makeasinger/deckflow/internal/config"
	"github.com/makeasinger/deckflow/internal/logger"
	"github.com/makeasinger/deckflow/internal/server"
	"github.com/makeasinger/deckflow/internal/service"
	ws "github.com/makeasinger/deckflow/internal/websocket"
	"github.com/makeasinger/deckflow/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load(nil)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer zl.Sync()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		zl.Warn("redis not available", zap.Error(err))
	}

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	presentations := service.NewPresentationService(redisClient, asynqClient, cfg.Worker.SlideCount, zl.Named("service"))
	hub := ws.NewHub(presentations, zl.Named("hub"))

	app := server.New(server.Options{
		Presentations: presentations,
		Hub:           hub,
		JWTSecret:     cfg.JWT.Secret,
		Validate:      validator.New(),
		AccessLog:     true,
	})

	workerSrv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Queues: map[string]int{
			service.QueuePresentations: 1,
		},
		Logger: zl.Named("asynq").Sugar(),
	})
	generation := worker.NewGenerationWorker(presentations, hub, cfg.Worker.StepDelay, zl.Named("worker"))
	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeGenerate, generation.ProcessTask)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	g.Go(func() error {
		if err := workerSrv.Start(mux); err != nil {
			return err
		}
		<-gctx.Done()
		workerSrv.Shutdown()
		return nil
	})

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		zl.Info("server starting", zap.String("addr", addr))
		return app.Listen(addr)
	})

	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down server")
		return app.ShutdownWithTimeout(10 * time.Second)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
