package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/puertocho/assistant-gateway/adapters/hardware"
	"github.com/puertocho/assistant-gateway/adapters/remote"
	"github.com/puertocho/assistant-gateway/internal/api"
	"github.com/puertocho/assistant-gateway/internal/assistant"
	"github.com/puertocho/assistant-gateway/internal/config"
	"github.com/puertocho/assistant-gateway/internal/events"
	"github.com/puertocho/assistant-gateway/internal/verification"
	"github.com/puertocho/assistant-gateway/usecase"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg := config.Load(logger)

	// State machine and event hub. The hub needs the state machine for
	// manual activation and the machine needs the hub to broadcast, so the
	// machine is created first with the hub attached after.
	states := assistant.NewStateMachine(nil, logger)
	hub := events.NewHub(states, logger)
	states.SetPublisher(hub)

	// Verification store
	store, err := verification.NewStore(
		cfg.VerificationDir,
		cfg.VerificationMaxAge,
		cfg.VerificationMaxFiles,
		cfg.VerificationInterval,
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize verification store", zap.Error(err))
	}

	// Remote processor session and dispatcher
	session := remote.NewSessionManager(
		cfg.RemoteBackendURL,
		remote.Credentials{Email: cfg.RemoteBackendEmail, Password: cfg.RemoteBackendPassword},
		cfg.AuthRenewalMargin,
		&http.Client{Timeout: 10 * time.Second},
		logger,
	)
	dispatcher := remote.NewDispatcher(
		cfg.RemoteBackendURL,
		session,
		store,
		&http.Client{Timeout: cfg.RequestTimeout},
		cfg.RetryAttempts,
		cfg.RetryBackoffBase,
		logger,
	)

	// Hardware bridge and pipeline
	player := hardware.NewClient(cfg.HardwareURL, nil, logger)
	queue := assistant.NewJobQueue(cfg.QueueCapacity)
	coordinator := usecase.NewCoordinator(states, player, hub, logger)
	pipeline := usecase.NewPipeline(queue, dispatcher, coordinator, states, hub, player, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go store.Run(ctx.Done())
	go pipeline.Run(ctx)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, pipeline, states, store, hub, logger)

	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Assistant gateway started",
		zap.String("port", cfg.Port),
		zap.String("remoteBackend", cfg.RemoteBackendURL),
		zap.String("hardware", cfg.HardwareURL))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Gateway is shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Gateway exited")
}
