package main

import (
	"bathguard/internal/config"
	"bathguard/internal/database"
	"bathguard/internal/learner"
	"bathguard/internal/metrics"
	"bathguard/internal/models"
	"bathguard/internal/stream"
	"context"
	"log"
	"sync"
	"time"

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

	// Initialize database
	db, err := database.NewDB(config.GetDatabaseDSN())
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx := context.Background()

	withEvents, err := db.GetAutomationsWithEvents(ctx)
	if err != nil {
		log.Fatalf("Failed to get automations from database: %v", err)
	}

	var automations []string
	for _, a := range cfg.Automations {
		if !withEvents[a.Name] {
			log.Printf("Skipping %s: no closed events yet", a.Name)
			continue
		}
		automations = append(automations, a.Name)
	}

	if len(automations) == 0 {
		log.Println("No automations with closed events. Run the seed command or let the controller record showers first.")
		return
	}

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

	tl := learner.NewThresholdLearner()
	tl.SetMinSamples(cfg.Learning.MinSamples)

	job := &learningJob{
		store:         db,
		publisher:     stream.NewPublisher(redisClient, cfg.Streams.MaxLen),
		learner:       tl,
		stream:        cfg.Streams.Thresholds,
		minConfidence: cfg.Learning.MinConfidence,
		since:         time.Now().AddDate(0, 0, -cfg.Learning.HistoryDays),
		workers:       cfg.Learning.Workers,
	}

	log.Println("Learning thresholds for all automations...")

	// Run once, scheduling is external
	job.run(ctx, automations)

	log.Println("Learning run completed successfully")
}

type eventStore interface {
	GetClosedEvents(ctx context.Context, automation string, since time.Time) ([]models.Event, error)
	StoreLearnedThresholds(ctx context.Context, lt *models.LearnedThresholds, accepted bool) error
}

type thresholdPublisher interface {
	PublishThresholds(ctx context.Context, stream string, lt *models.LearnedThresholds) error
}

type learningJob struct {
	store         eventStore
	publisher     thresholdPublisher
	learner       *learner.ThresholdLearner
	stream        string
	minConfidence float64
	since         time.Time
	workers       int
}

// LearningResult holds the outcome for a single automation
type LearningResult struct {
	Automation     string
	Events         int
	Proposal       *models.LearnedThresholds
	Accepted       bool
	Error          error
	ProcessingTime time.Duration
}

type learningSummary struct {
	processed int
	proposals int
	accepted  int
	published int
	errors    int
}

func (j *learningJob) run(ctx context.Context, automations []string) learningSummary {
	startTime := time.Now()

	numWorkers := j.workers
	if numWorkers <= 0 || numWorkers > len(automations) {
		numWorkers = len(automations)
	}
	log.Printf("Learning thresholds for %d automations with %d workers...", len(automations), numWorkers)

	// Create channels for job distribution and result collection
	jobs := make(chan string, len(automations))
	results := make(chan LearningResult, len(automations))

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go j.worker(ctx, jobs, results, &wg)
	}

	for _, name := range automations {
		jobs <- name
	}
	close(jobs)

	// Wait for all workers to finish, then close results channel
	go func() {
		wg.Wait()
		close(results)
	}()

	var summary learningSummary
	for result := range results {
		summary.processed++
		progress := summary.processed

		if result.Error != nil {
			log.Printf("[%d/%d] ❌ %s: %v (%.1fs)",
				progress, len(automations), result.Automation, result.Error, result.ProcessingTime.Seconds())
			summary.errors++
			continue
		}

		if result.Proposal == nil {
			log.Printf("[%d/%d] ✓ %s: %d events, not enough for a proposal (%.1fs)",
				progress, len(automations), result.Automation, result.Events, result.ProcessingTime.Seconds())
			continue
		}

		summary.proposals++
		metrics.LearnedThresholdConfidence.WithLabelValues(result.Automation).Set(result.Proposal.Confidence)

		if err := j.store.StoreLearnedThresholds(ctx, result.Proposal, result.Accepted); err != nil {
			log.Printf("[%d/%d] Failed to store thresholds for %s: %v", progress, len(automations), result.Automation, err)
			summary.errors++
			continue
		}

		if !result.Accepted {
			log.Printf("[%d/%d] ✓ %s: proposal %.1f%%/%.1f%% below confidence floor (%.2f < %.2f)",
				progress, len(automations), result.Automation, result.Proposal.HumidityHigh, result.Proposal.HumidityLow,
				result.Proposal.Confidence, j.minConfidence)
			continue
		}
		summary.accepted++

		if j.publisher != nil {
			if err := j.publisher.PublishThresholds(ctx, j.stream, result.Proposal); err != nil {
				log.Printf("[%d/%d] Failed to publish thresholds for %s: %v", progress, len(automations), result.Automation, err)
				summary.errors++
				continue
			}
			summary.published++
		}

		log.Printf("[%d/%d] ✓ %s: high %.1f%%, low %.1f%% (confidence %.2f, %d events, %.1fs)",
			progress, len(automations), result.Automation, result.Proposal.HumidityHigh, result.Proposal.HumidityLow,
			result.Proposal.Confidence, result.Proposal.SamplesUsed, result.ProcessingTime.Seconds())
	}

	totalDuration := time.Since(startTime)
	log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Printf("Learning complete in %.1f seconds", totalDuration.Seconds())
	log.Printf("  Automations: %d processed, %d errors", summary.processed-summary.errors, summary.errors)
	log.Printf("  Proposals: %d, accepted %d, published %d", summary.proposals, summary.accepted, summary.published)
	log.Printf("  Workers: %d", numWorkers)
	log.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	return summary
}

// worker learns thresholds for automations from the jobs channel
func (j *learningJob) worker(ctx context.Context, jobs <-chan string, results chan<- LearningResult, wg *sync.WaitGroup) {
	defer wg.Done()

	for name := range jobs {
		startTime := time.Now()

		events, err := j.store.GetClosedEvents(ctx, name, j.since)
		if err != nil {
			results <- LearningResult{
				Automation:     name,
				Error:          err,
				ProcessingTime: time.Since(startTime),
			}
			continue
		}

		proposal := j.learner.Learn(name, events)
		results <- LearningResult{
			Automation:     name,
			Events:         len(events),
			Proposal:       proposal,
			Accepted:       proposal != nil && proposal.Confidence >= j.minConfidence,
			ProcessingTime: time.Since(startTime),
		}
	}
}
