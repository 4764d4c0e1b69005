package main

import (
	"bathguard/internal/api"
	"bathguard/internal/config"
	"bathguard/internal/database"
	"bathguard/internal/platform"
	"bathguard/internal/runner"
	"bathguard/internal/server"
	"bathguard/internal/stream"
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

const configPath = "./bathguard.yaml"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := database.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize Redis client from environment variables
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

	mqttCfg, err := config.GetMQTTConfig()
	if err != nil {
		log.Fatalf("Failed to read MQTT config: %v", err)
	}
	mqttPlatform, err := platform.NewMQTTPlatform(platform.MQTTConfig{
		Broker:         mqttCfg.Broker,
		ClientID:       mqttCfg.ClientID,
		Username:       mqttCfg.Username,
		Password:       mqttCfg.Password,
		BaseTopic:      cfg.MQTT.BaseTopic,
		StaleAfter:     cfg.MQTT.StaleAfter,
		CommandTimeout: cfg.Control.CommandTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to connect platform: %v", err)
	}
	defer mqttPlatform.Close()

	publisher := stream.NewPublisher(redisClient, cfg.Streams.MaxLen)
	r, err := runner.New(cfg.Automations, mqttPlatform, db, api.NewOpenMeteoClient(), publisher, runner.OptionsFromConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to create runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Learning.AutoApply {
		applyStoredThresholds(ctx, db, r, cfg.Learning.MinConfidence)
	}

	// Learned thresholds published by the learning job
	hostname, _ := os.Hostname()
	thresholds := stream.NewConsumer(redisClient, cfg.Streams.Thresholds, cfg.Streams.ConsumerGroup+"_controller", "controller-"+hostname)
	go func() {
		if err := thresholds.Run(ctx, r.HandleThresholds); err != nil {
			log.Printf("Thresholds consumer stopped: %v", err)
		}
	}()

	httpServer := server.NewServer(r, db)
	httpServer.SetMinConfidence(cfg.Learning.MinConfidence)
	go func() {
		log.Printf("Starting server on %s", cfg.Server.Addr)
		if err := httpServer.Start(cfg.Server.Addr); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	// Handle reload and shutdown signals
	go func() {
		for sig := range signals {
			if sig == syscall.SIGHUP {
				reload(ctx, r, db)
				continue
			}
			log.Println("Shutting down controller...")
			cancel()
			return
		}
	}()

	log.Printf("Controller started with %d automations. Press Ctrl+C to stop...", len(cfg.Automations))
	r.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}

	log.Println("Controller stopped")
}

// reload re-reads the config file and swaps in the new automations. Learned
// thresholds are restored on top of the file values when auto_apply is set.
func reload(ctx context.Context, r *runner.Runner, db *database.DB) {
	cfg, err := config.Reload(configPath)
	if err != nil {
		log.Printf("Config reload rejected, keeping current config: %v", err)
		return
	}
	if err := r.Reload(cfg.Automations); err != nil {
		log.Printf("Automation reload rejected: %v", err)
		return
	}
	if cfg.Learning.AutoApply {
		applyStoredThresholds(ctx, db, r, cfg.Learning.MinConfidence)
	}
}

// applyStoredThresholds restores the newest accepted proposal for each automation
func applyStoredThresholds(ctx context.Context, db *database.DB, r *runner.Runner, minConfidence float64) {
	for _, c := range r.Controllers() {
		lt, err := db.GetLatestLearnedThresholds(ctx, c.Name())
		if err != nil {
			log.Printf("[%s] Failed to load learned thresholds: %v", c.Name(), err)
			continue
		}
		if lt == nil {
			continue
		}
		applied, err := c.ApplyLearned(lt, minConfidence)
		if err != nil {
			log.Printf("[%s] Stored thresholds rejected: %v", c.Name(), err)
			continue
		}
		if applied {
			log.Printf("[%s] ✓ Restored learned thresholds %.1f%%/%.1f%%", c.Name(), lt.HumidityHigh, lt.HumidityLow)
		}
	}
}
