package main

import (
	"bathguard/internal/config"
	"bathguard/internal/database"
	"bathguard/internal/models"
	"bathguard/internal/stream"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg, err := config.Load("./bathguard.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisCfg, err := config.GetRedisConfig()
	if err != nil {
		log.Fatalf("Failed to read Redis config: %v", err)
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	defer redisClient.Close()

	// Initialize database
	db, err := database.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	hostname, _ := os.Hostname()
	consumer := stream.NewConsumer(redisClient, cfg.Streams.Ticks, cfg.Streams.ConsumerGroup+"_store", "store-"+hostname)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signal
	go func() {
		<-quit
		log.Println("Shutting down store service...")
		cancel()
	}()

	log.Printf("Store into db started, reading from Redis stream %s. Press Ctrl+C to stop...", cfg.Streams.Ticks)

	h := &tickHandler{store: db}
	if err := consumer.Run(ctx, h.handle); err != nil {
		log.Fatalf("Store service failed: %v", err)
	}

	log.Println("Store service stopped")
}

type tickStore interface {
	StoreTicks(ctx context.Context, ticks []models.TickRecord) error
}

type tickHandler struct {
	store tickStore
}

// handle decodes a batch and writes it in one transaction. Undecodable entries
// are dropped so they cannot block the batch forever.
func (h *tickHandler) handle(ctx context.Context, msgs []stream.Message) error {
	ticks := make([]models.TickRecord, 0, len(msgs))
	for _, m := range msgs {
		tick, err := stream.DecodeTick(m)
		if err != nil {
			log.Printf("Failed to unmarshal message: %v", err)
			continue
		}
		ticks = append(ticks, *tick)
	}

	if len(ticks) == 0 {
		return nil
	}
	if err := h.store.StoreTicks(ctx, ticks); err != nil {
		return fmt.Errorf("failed to store %d ticks: %w", len(ticks), err)
	}
	return nil
}
