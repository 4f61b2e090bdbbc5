package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/isdelr/vidstream-be/internal/api"
	"github.com/isdelr/vidstream-be/internal/api/handlers"
	"github.com/isdelr/vidstream-be/internal/auth"
	"github.com/isdelr/vidstream-be/internal/config"
	"github.com/isdelr/vidstream-be/internal/database"
	"github.com/isdelr/vidstream-be/internal/logger"
	"github.com/isdelr/vidstream-be/internal/media"
	"github.com/isdelr/vidstream-be/internal/services"
)

func main() {
	logger.Init()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Ensure the temp dir for multipart uploads exists
	if err := os.MkdirAll(cfg.TempDir, 0755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create temp upload directory")
	}

	// Set up database
	db, err := database.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Msg("Failed to apply database migrations")
	}

	// Set up media storage client
	uploader, err := media.NewS3Client(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize media storage client")
	}

	// Set up token manager and services
	tokens := auth.NewManager(cfg.AccessTokenSecret, cfg.RefreshTokenSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	userService := services.NewUserService(db, tokens, uploader)

	// Set up router
	userHandler := handlers.NewUserHandler(userService, cfg.TempDir, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	router := api.NewRouter(userHandler, tokens, cfg.CORSOrigin)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		log.Info().Int("port", cfg.ServerPort).Msg("Server starting")
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("ListenAndServe failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exiting")
}
