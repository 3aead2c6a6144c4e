package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/maildrip/maildrip/internal/api"
	"github.com/maildrip/maildrip/internal/config"
	"github.com/maildrip/maildrip/internal/pkg/logger"
	"github.com/maildrip/maildrip/internal/queue"
	"github.com/maildrip/maildrip/internal/repository/postgres"
	"github.com/maildrip/maildrip/internal/service/list"
	"github.com/maildrip/maildrip/internal/service/message"
	"github.com/maildrip/maildrip/internal/service/subscription"
)

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
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	if err := db.Ping(); err != nil {
		log.Fatalf("ping database: %v", err)
	}
	logger.Info("database connected")

	q := queue.New(db)
	listSvc := list.NewService(postgres.NewListRepo(db))
	subSvc := subscription.NewService(postgres.NewSubscriberRepo(db), q)
	msgSvc := message.NewService(postgres.NewMessageRepo(db), q)

	server := api.NewServer(cfg.Server, listSvc, subSvc, msgSvc)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown failed", "error", err.Error())
		}
	}
}
