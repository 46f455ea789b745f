package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"stonebeam/db"
	"stonebeam/db/memory"
	"stonebeam/db/migrations"
	"stonebeam/internal/auth"
	"stonebeam/internal/config"
	"stonebeam/internal/events"
	"stonebeam/internal/handlers"
	"stonebeam/internal/quotation"
)

// store объединяет то, что нужно движку и обработчикам
type store interface {
	quotation.Repository
	handlers.StorageInterface
}

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	var st store
	switch cfg.Storage {
	case config.StorageMemory:
		logger.Warn("Using in-memory storage, data is lost on restart")
		st = memory.NewStorage()
	default:
		dbConn, err := sqlx.Connect("postgres", cfg.PostgresConn)
		if err != nil {
			logger.WithError(err).Fatal("Cannot connect to DB")
		}
		defer dbConn.Close()

		dbConn.SetMaxOpenConns(20)
		dbConn.SetMaxIdleConns(5)
		dbConn.SetConnMaxLifetime(5 * time.Minute)

		if err := migrations.Run(dbConn.DB); err != nil {
			logger.WithError(err).Fatal("Migrations failed")
		}
		logger.Info("Database connection established")
		st = db.NewStorage(dbConn)
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()
		publisher = producer
	}

	h := handlers.NewHandler(
		st,
		quotation.NewEngine(st),
		auth.NewIssuer(cfg.JWTSecret, cfg.JWTTTL),
		publisher,
		logger,
	)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      h.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("address", cfg.ServerAddress).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	logger.Info("Server gracefully stopped")
}
