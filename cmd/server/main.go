package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/outreach-engine/internal/api"
	"github.com/ignite/outreach-engine/internal/config"
	"github.com/ignite/outreach-engine/internal/executor"
	"github.com/ignite/outreach-engine/internal/repository/postgres"
	"github.com/ignite/outreach-engine/internal/service/campaign"
	"github.com/ignite/outreach-engine/internal/service/delivery"
	"github.com/ignite/outreach-engine/internal/worker"
)

func main() {
	log.Println("Starting Outreach Delivery Engine...")

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	// Redis is optional: without it the run lock falls back to a PG
	// advisory lock.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Redis unavailable (%v), using PG advisory locks", err)
			redisClient = nil
		} else {
			log.Println("Connected to Redis")
			defer redisClient.Close()
		}
	}

	campaignRepo := postgres.NewCampaignRepo(db)
	attemptRepo := postgres.NewAttemptRepo(db)
	audienceRepo := postgres.NewAudienceRepo(db)

	campaignSvc := campaign.NewService(campaignRepo)
	deliverySvc := delivery.NewService(attemptRepo)

	tracker := worker.NewContactQueueTracker(campaignRepo, audienceRepo)
	dispatcher := worker.NewBatchDispatcher(campaignRepo, tracker, audienceRepo, audienceRepo,
		executor.NewRegistry(), deliverySvc)
	dispatcher.SetSendTimeout(cfg.Delivery.SendTimeout)
	dispatcher.SetMaxConcurrent(cfg.Delivery.MaxConcurrentPerBatch)

	sweeper := worker.NewReconciliationSweeper(campaignRepo, deliverySvc)
	runner := worker.NewSchedulerRunner(campaignRepo, sweeper, dispatcher,
		worker.RunLockFactory(redisClient, db, cfg.Scheduler.RunLockTTL))
	runner.SetInterval(cfg.Scheduler.PollInterval)

	if cfg.Scheduler.InProcessTicker {
		if err := runner.Start(); err != nil {
			log.Fatalf("Failed to start scheduler ticker: %v", err)
		}
		defer runner.Stop()
	} else {
		log.Println("In-process ticker disabled; expecting external cron on /api/scheduler/run")
	}

	server := api.NewServer(cfg.Server, campaignSvc, deliverySvc, runner, cfg.Scheduler.TriggerSecret)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Printf("HTTP server listening on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err.Error() != "http: Server closed" {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	log.Println("Stopped")
}
