package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/executor"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/service/delivery"
	"github.com/ignite/outreach-engine/internal/worker"
)

// One-shot scheduler pass for cron or systemd-timer deployments: connect,
// run, print the report, exit. The server binary with its trigger endpoint
// covers deployments that prefer an HTTP cron.
func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	campaignRepo := postgres.NewCampaignRepo(db)
	attemptRepo := postgres.NewAttemptRepo(db)
	audienceRepo := postgres.NewAudienceRepo(db)
	deliverySvc := delivery.NewService(attemptRepo)

	tracker := worker.NewContactQueueTracker(campaignRepo, audienceRepo)
	dispatcher := worker.NewBatchDispatcher(campaignRepo, tracker, audienceRepo, audienceRepo,
		executor.NewRegistry(), deliverySvc)
	dispatcher.SetSendTimeout(cfg.Delivery.SendTimeout)
	dispatcher.SetMaxConcurrent(cfg.Delivery.MaxConcurrentPerBatch)

	sweeper := worker.NewReconciliationSweeper(campaignRepo, deliverySvc)
	runner := worker.NewSchedulerRunner(campaignRepo, sweeper, dispatcher,
		worker.RunLockFactory(redisClient, db, cfg.Scheduler.RunLockTTL))

	report, err := runner.RunOnce(ctx)
	if err != nil {
		log.Fatalf("Scheduler pass failed: %v", err)
	}

	out, _ := json.MarshalIndent(report, "", "  ")
	os.Stdout.Write(append(out, '\n'))

	if len(report.Errors) > 0 {
		os.Exit(1)
	}
}
