package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sjaiswal27/courierdrop/internal/api"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/config"
	"github.com/sjaiswal27/courierdrop/internal/repositories"
	"github.com/sjaiswal27/courierdrop/internal/services"
	"github.com/sjaiswal27/courierdrop/internal/storage"
	"go.uber.org/zap"
)

// @title CourierDrop API
// @version 1.0
// @description Authenticated file transfers gated by access codes.
// @BasePath /api/v1
func main() {
	db, err := repositories.Connect(config.Envs.DB_URL)
	if err != nil {
		log.Fatalf("Database setup failed: %v", err)
	}

	store, err := storage.New(config.Envs.StorageDir)
	if err != nil {
		log.Fatalf("Storage setup failed: %v", err)
	}

	var logger *zap.Logger
	if config.Envs.Environment == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Logger setup failed: %v", err)
	}
	defer logger.Sync()

	auditLog := audit.New(config.Envs.AuditLogFile)
	defer auditLog.Sync()

	tokens := auth.NewService(config.Envs.JWTSecret)
	transfers := services.NewTransferService(db, store, tokens, auditLog)
	files := services.NewFileService(db, store, auditLog)

	handler := api.SetupRouter(api.Deps{
		DB:        db,
		Tokens:    tokens,
		Audit:     auditLog,
		Transfers: transfers,
		Files:     files,
		Logger:    logger,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Envs.Port),
		Handler: handler,
		// Timeouts prevent resource exhaustion from slow clients
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("Starting CourierDrop server", zap.String("port", config.Envs.Port))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Could not listen", zap.String("port", config.Envs.Port), zap.Error(err))
	}
}
