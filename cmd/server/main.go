package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/screener-api/internal/auth"
	"github.com/ksred/screener-api/internal/brokerage"
	"github.com/ksred/screener-api/internal/config"
	"github.com/ksred/screener-api/internal/database"
	"github.com/ksred/screener-api/internal/executor"
	"github.com/ksred/screener-api/internal/governor"
	"github.com/ksred/screener-api/internal/marketdata"
	"github.com/ksred/screener-api/internal/monitor"
	"github.com/ksred/screener-api/internal/profiles"
	"github.com/ksred/screener-api/internal/risk"
	"github.com/ksred/screener-api/internal/scheduler"
	"github.com/ksred/screener-api/internal/screener"
	"github.com/ksred/screener-api/internal/types"
	"github.com/ksred/screener-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main wires the screener service together and runs it with graceful
// shutdown: database, request governor, simulated collaborators, screening,
// risk, execution, the scan scheduler, and the position monitor.
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Missing config file is fine; defaults and env cover the demo setup.
		if errors.Is(err, os.ErrNotExist) {
			cfg, err = config.Load("")
		}
		if err != nil {
			zlog.Fatal().Err(err).Msg("Failed to load configuration")
		}
	}
	mode := types.TradingMode(cfg.Trading.Mode)

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}
	settings := database.NewSettings(db)

	// Simulated collaborators stand in for the real providers; the default
	// provider set covers market data and the brokerage.
	if len(cfg.Providers) == 0 {
		cfg.Providers = map[string]config.ProviderConfig{
			"sim_market": {RateLimitPerMinute: 60, RateLimitPerDay: 5000},
			"sim_broker": {RateLimitPerMinute: 30},
		}
	}
	gov := governor.New(cfg.Providers)
	if err := governor.ApplyPersistedLimits(gov, settings); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to apply persisted rate limits")
	}

	market := marketdata.NewSimulatedProvider("sim_market", 0.02)
	broker := brokerage.NewSimulatedBroker(mode, 100_000, func(symbol string) float64 {
		quote, err := market.GetQuote(symbol)
		if err != nil {
			return 0
		}
		return quote.Price
	})
	var clock marketdata.Clock = marketdata.NewSessionClock()
	if mode == types.ModePaper {
		clock = marketdata.AlwaysOpenClock{}
	}
	broker.SetSessionClock(clock)

	// Initialize services and handlers
	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	if cfg.Auth.APIKey != "" {
		authService.RegisterAPICredentials(cfg.Auth.APIKey, cfg.Auth.APISecret)
	} else {
		authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	}

	profilesService := profiles.NewService(db)
	profilesHandlers := profiles.NewGinHandlers(profilesService)

	riskService := risk.NewService(db, mode)
	riskHandlers := risk.NewGinHandlers(riskService)

	governorHandlers := governor.NewGinHandlers(gov, settings)

	screenerService := screener.NewService(db, profilesService.Database(), market, gov)
	screenerHandlers := screener.NewGinHandlers(screenerService)

	executorService := executor.NewService(db, broker, market, gov, riskService, mode)
	executorHandlers := executor.NewGinHandlers(executorService)

	schedulerService := scheduler.NewService(
		db, profilesService.Database(), screenerService, executorService,
		clock, settings, mode, cfg.DefaultScanInterval(),
	)
	schedulerHandlers := scheduler.NewGinHandlers(schedulerService)

	if cfg.Scheduler.AutoStart {
		if err := schedulerService.ResumeIfPersisted(); err != nil {
			zlog.Error().Err(err).Msg("Failed to resume scheduler")
		}
	}

	// Start the position monitor loop
	monitorCtx, monitorCancel := context.WithCancel(context.Background())
	defer monitorCancel()
	if cfg.Monitor.Enabled {
		positionMonitor := monitor.New(executorService, market, gov, schedulerService.Database(), mode, cfg.MonitorInterval())
		go positionMonitor.Start(monitorCtx)
	}

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.JWTSecret, authHandlers, profilesHandlers,
		schedulerHandlers, screenerHandlers, executorHandlers, riskHandlers,
		governorHandlers)

	// Create server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Stop future ticks and monitor loops; dispatched calls finish on their
	// own, and whatever is still queued in the governor gets rejected.
	if schedulerService.Status().Running {
		if err := schedulerService.Stop(); err != nil {
			zlog.Error().Err(err).Msg("Failed to stop scheduler")
		}
	}
	monitorCancel()
	gov.Shutdown()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	profilesHandlers *profiles.GinHandlers,
	schedulerHandlers *scheduler.GinHandlers,
	screenerHandlers *screener.GinHandlers,
	executorHandlers *executor.GinHandlers,
	riskHandlers *risk.GinHandlers,
	governorHandlers *governor.GinHandlers,
) {
	v1 := router.Group("/api/v1")

	// Public authentication endpoint
	v1.POST("/auth/token", authHandlers.GenerateTokenHandler())

	// Everything else requires a valid token
	protected := v1.Group("")
	protected.Use(middleware.JWTAuth(jwtSecret))

	protected.POST("/scheduler/start", schedulerHandlers.StartHandler())
	protected.POST("/scheduler/stop", schedulerHandlers.StopHandler())
	protected.POST("/scheduler/reload", schedulerHandlers.ReloadHandler())
	protected.GET("/scheduler/status", schedulerHandlers.StatusHandler())
	protected.GET("/job-runs", schedulerHandlers.ListJobRunsHandler())

	protected.POST("/profiles", profilesHandlers.CreateHandler())
	protected.GET("/profiles", profilesHandlers.ListHandler())
	protected.GET("/profiles/:id", profilesHandlers.GetHandler())
	protected.PUT("/profiles/:id", profilesHandlers.UpdateHandler())
	protected.DELETE("/profiles/:id", profilesHandlers.DeleteHandler())
	protected.POST("/profiles/:id/scan", schedulerHandlers.ManualScanHandler())
	protected.GET("/profiles/:id/matches", screenerHandlers.LatestMatchesHandler())

	protected.POST("/trades", executorHandlers.ExecuteTradeHandler())
	protected.GET("/trades", executorHandlers.ListTradesHandler())
	protected.GET("/trades/:trade_id", executorHandlers.GetTradeHandler())
	protected.GET("/positions", executorHandlers.ListPositionsHandler())
	protected.GET("/positions/closed", executorHandlers.ListClosedPositionsHandler())

	protected.GET("/risk-settings", riskHandlers.GetSettingsHandler())
	protected.PUT("/risk-settings", riskHandlers.UpdateSettingsHandler())

	protected.GET("/rate-limits", governorHandlers.StatusHandler())
	protected.PUT("/rate-limits/:provider", governorHandlers.UpdateLimitsHandler())
}
