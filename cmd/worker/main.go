package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/maildrip/maildrip/internal/config"
	"github.com/maildrip/maildrip/internal/domain"
	"github.com/maildrip/maildrip/internal/mailer"
	"github.com/maildrip/maildrip/internal/pkg/distlock"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/queue"
	"github.com/maildrip/maildrip/internal/worker"
)

func buildSender(ctx context.Context, cfg *config.Config) (mailer.Sender, error) {
	timeout := time.Duration(cfg.Mailer.TimeoutSeconds) * time.Second
	switch cfg.Mailer.Vendor {
	case "ses":
		return mailer.NewSESSender(ctx, cfg.SES, cfg.Mailer.FromName, cfg.Mailer.FromEmail)
	case "sparkpost":
		return mailer.NewSparkPostSender(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL,
			cfg.Mailer.FromName, cfg.Mailer.FromEmail, timeout), nil
	default:
		logger.Warn("no mailer vendor configured, sends will fail", "vendor", cfg.Mailer.Vendor)
		return mailer.SenderFunc(func(ctx context.Context, to, subject, htmlBody, textBody string) error {
			return mailer.Permanent(errNoVendor)
		}), nil
	}
}

var errNoVendor = errors.New("no mailer vendor configured")

func main() {
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	logger.Info("database connected")

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable, falling back to advisory locks", "error", err.Error())
			redisClient = nil
		}
	}

	sender, err := buildSender(context.Background(), cfg)
	if err != nil {
		log.Fatalf("build sender: %v", err)
	}

	q := queue.New(db)
	lockFor := func(key string, ttl time.Duration) distlock.DistLock {
		return distlock.NewLock(redisClient, db, key, ttl)
	}

	sendTimeout := cfg.Delivery.SendTimeout()
	fanout := worker.NewFanoutHandler(db, q, lockFor)
	dispatch := worker.NewDispatchHandler(db, sender, cfg.Delivery.MaxAttempts, sendTimeout)
	confirm := worker.NewConfirmationHandler(db, sender, mailer.NewTemplateRenderer(),
		cfg.Mailer.ConfirmBaseURL, sendTimeout)

	pool := queue.NewWorkerPool(db, cfg.Queue.Workers, cfg.Queue.BatchSize, cfg.Queue.PollInterval())
	pool.Register(domain.JobTypeFanout, fanout.Handle, retryPolicy(cfg.Queue.Fanout))
	pool.Register(domain.JobTypeDeliverySend, dispatch.Handle, retryPolicy(cfg.Queue.Delivery))
	pool.Register(domain.JobTypeConfirmation, confirm.Handle, retryPolicy(cfg.Queue.Confirmation))
	pool.Start()

	recoveryCtx, cancelRecovery := context.WithCancel(context.Background())
	recovery := queue.NewRecoveryWorker(db, 0, 0, maxAttempts(cfg))
	go recovery.Start(recoveryCtx)

	// The job sweeper above recovers crashed jobs; this one recovers the
	// delivery record leases those crashes leave behind.
	deliveryRecovery := worker.NewDeliveryRecoveryWorker(db, q, 0, 0)
	go deliveryRecovery.Start(recoveryCtx)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-done
	logger.Info("shutting down", "signal", sig.String())

	cancelRecovery()
	pool.Stop()
}

func retryPolicy(rc config.RetryConfig) queue.RetryPolicy {
	return queue.RetryPolicy{
		MaxAttempts: rc.MaxAttempts,
		BackoffBase: time.Duration(rc.BackoffBaseSeconds) * time.Second,
		BackoffCap:  time.Duration(rc.BackoffCapSeconds) * time.Second,
	}
}

func maxAttempts(cfg *config.Config) int {
	m := cfg.Queue.Confirmation.MaxAttempts
	if cfg.Queue.Fanout.MaxAttempts > m {
		m = cfg.Queue.Fanout.MaxAttempts
	}
	if cfg.Queue.Delivery.MaxAttempts > m {
		m = cfg.Queue.Delivery.MaxAttempts
	}
	return m
}
