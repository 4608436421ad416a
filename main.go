package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"ms-marketplace/internal/app"
	"ms-marketplace/internal/auth"
	"ms-marketplace/internal/config"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

const (
	outboxInterval = 30 * time.Second
	outboxBatch    = 100
)

func main() {
	log := logger.NewLogger("marketplace")
	defer log.Close()

	log.Info("APP", "Starting Marketplace Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("APP", "Verifying database connections")
	bunDB, err := app.ConnectDatabase(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", err.Error())
	}
	defer bunDB.Close()
	if err := app.PrepareSchema(ctx, bunDB, cfg.Database, log); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Schema preparation failed: %v", err))
	}

	var redisClient *redis.Client
	if redisClient, err = app.ConnectRedis(ctx, cfg.Redis, log); err != nil {
		log.Warn("REDIS", fmt.Sprintf("Running without sweep lock: %v", err))
	} else {
		defer redisClient.Close()
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.RefundIntents, cfg.Kafka.Topics.RefundDeadLetters, cfg.Kafka.Topics.CheckIns}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()
		log.Info("KAFKA", "Kafka producer initialized successfully")
	} else {
		log.Warn("KAFKA", "Kafka disabled; refund intents stay in the outbox")
	}

	svcs := app.NewServices(cfg, bunDB, redisClient, producer, log)

	authenticate, err := auth.Middleware(ctx, cfg.Auth, log)
	if err != nil {
		log.Fatal("AUTH", err.Error())
	}
	log.Info("AUTH", "JWT middleware ready for organizer routes")

	server := &http.Server{
		Addr:        cfg.Server.Port,
		Handler:     app.NewRouter(svcs, authenticate, log),
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		resumed, err := svcs.Lifecycle.ResumePendingSweeps(ctx)
		if err != nil {
			log.Error("SWEEP", fmt.Sprintf("Resuming pending sweeps failed: %v", err))
		}
		if resumed > 0 {
			log.Info("SWEEP", fmt.Sprintf("Finished %d interrupted cancellation sweeps", resumed))
		}
	}()

	if producer != nil {
		go relayOutbox(ctx, svcs, log)
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("🚀 Marketplace Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		log.Info("HTTP", "✅ Marketplace Service shutdown complete")
	}
}

// relayOutbox republishes refund intents whose publish failed after the
// refund was recorded.
func relayOutbox(ctx context.Context, svcs *app.Services, log *logger.Logger) {
	ticker := time.NewTicker(outboxInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := svcs.Lifecycle.RelayOutbox(ctx, outboxBatch); err != nil {
				log.Error("KAFKA", fmt.Sprintf("Outbox relay failed: %v", err))
			}
		}
	}
}
