package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/akagifreeez/azeroth-sniper/internal/config"
	"github.com/akagifreeez/azeroth-sniper/internal/handlers"
	"github.com/akagifreeez/azeroth-sniper/internal/reference"
	"github.com/akagifreeez/azeroth-sniper/internal/services"
	"github.com/akagifreeez/azeroth-sniper/internal/workers"
	"github.com/akagifreeez/azeroth-sniper/pkg/battlenet"
	"github.com/akagifreeez/azeroth-sniper/pkg/database"
	"github.com/akagifreeez/azeroth-sniper/pkg/retryhttp"
)

func main() {
	// Setup logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("region", cfg.Region).
		Str("faction", cfg.Faction).
		Bool("debug", cfg.Debug).
		Msg("Starting Azeroth Sniper")

	data, err := reference.Load(cfg)
	if errors.Is(err, reference.ErrNoRules) {
		log.Fatal().Msg("No snipe rules configured: add desired items, ilvl rules or pets")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load reference data")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Fail fast on bad credentials before any scanning starts
	tokens := battlenet.NewTokenManager(cfg.WowClientID, cfg.WowClientSecret, "")
	if _, err := tokens.Token(ctx); err != nil {
		log.Fatal().Err(err).Msg("Battle.net authentication failed")
	}

	// Optional Redis: shared request budget and a restart-safe ledger
	var shared *battlenet.RateLimiter
	var ledger services.Ledger = services.NewMemoryLedger()
	if cfg.RedisURL != "" {
		shared, err = battlenet.NewRateLimiter(cfg.RedisURL, cfg.APIRateLimit, time.Second, "battlenet:rate_limit:"+cfg.WowClientID)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to create shared RateLimiter, using local limits only")
			shared = nil
		} else {
			defer shared.Close()
			ledger = services.NewRedisLedger(shared.Client(), cfg.Region)
		}
	}

	// Optional Postgres alert history
	var history services.History
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to database, alert history disabled")
		} else {
			defer db.Close()
			if err := db.Migrate(ctx); err != nil {
				log.Fatal().Err(err).Msg("Failed to run migrations")
			}
			history = services.NewPGHistory(db.Pool)
		}
	}

	client := battlenet.NewClient(battlenet.ClientConfig{
		Region:    cfg.Region,
		Faction:   cfg.Faction,
		RateLimit: cfg.APIRateLimit,
	}, tokens, shared)

	httpClient := retryhttp.NewClient(retryhttp.DefaultRetries, retryhttp.DefaultDelay)
	timers := services.NewTimerTracker(cfg, data.RealmNames, httpClient)
	matcher := services.NewMatcher(cfg, data)
	alerts := services.NewAlertService(cfg, ledger, history, httpClient)
	progress := services.NewProgressHub(256)

	sniper := workers.NewSniper(cfg, client, timers, matcher, alerts, progress)

	// Control surface
	var server *http.Server
	if cfg.StatusAddr != "" {
		control := handlers.NewControlHandler(sniper, progress, cancel)
		server = &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      handlers.NewRouter(control, cfg.ControlJWTSecret),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.StatusAddr).Msg("Control server listening")
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Control server error")
			}
		}()
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("Shutdown signal received, stopping sniper...")
			cancel()
		case <-ctx.Done():
		}
	}()

	runErr := sniper.Run(ctx)

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Control server shutdown error")
		}
		shutdownCancel()
	}

	var authErr *battlenet.AuthError
	if errors.As(runErr, &authErr) {
		log.Fatal().Err(runErr).Msg("Battle.net authentication failed")
	}

	log.Info().Msg("Sniper stopped")
}
