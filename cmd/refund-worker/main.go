// refund-worker consumes refund intents from Kafka and executes them
// against Stripe.
package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"ms-marketplace/internal/config"
	"ms-marketplace/internal/kafka"
	"ms-marketplace/internal/logger"
	"ms-marketplace/internal/payment"

	"github.com/joho/godotenv"
)

func main() {
	log := logger.NewLogger("refund-worker")
	defer log.Close()

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	}
	cfg := config.Load()

	executor, err := payment.NewRefundExecutor(cfg.Stripe.SecretKey, log)
	if err != nil {
		log.Fatal("STRIPE", err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics, cfg.Kafka.GroupID, log)

	log.Info("KAFKA", fmt.Sprintf("🚀 Consuming %s as group %s", cfg.Kafka.Topics.RefundIntents, cfg.Kafka.GroupID))
	err = consumer.Run(ctx, executor.Execute)
	consumer.Close()
	if err != nil {
		// Exit non-zero so the supervisor restarts us from the last committed offset.
		log.Fatal("KAFKA", fmt.Sprintf("Consumer stopped: %v", err))
	}
	log.Info("APP", "✅ Refund worker shutdown complete")
}
