package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/traceloom-io/traceloom/internal/api"
	"github.com/traceloom-io/traceloom/internal/cache"
	"github.com/traceloom-io/traceloom/internal/config"
	"github.com/traceloom-io/traceloom/internal/database"
	"github.com/traceloom-io/traceloom/internal/observability"
	"github.com/traceloom-io/traceloom/internal/search"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("Traceloom %s\n", Version)
		fmt.Printf("Commit: %s\n", Commit)
		fmt.Printf("Build Date: %s\n", BuildDate)
		os.Exit(0)
	}

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	log.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("build_date", BuildDate).
		Msg("Starting Traceloom")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	metrics := observability.NewMetrics()

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()
	db.SetMetricsSink(metrics)

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	var resultCache search.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer redisCache.Close()
		resultCache = redisCache
	} else {
		log.Info().Msg("Redis disabled, using in-process result cache")
		resultCache = cache.NewMemory()
	}

	executor := search.NewExecutor(database.NewTraceStore(db), resultCache, metrics, search.ExecutorConfig{
		MaxFilterDepth: cfg.Search.MaxFilterDepth,
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
		CacheTTL:       cfg.Search.CacheTTL,
		CacheTTLRecent: cfg.Search.CacheTTLRecent,
		CacheTimeout:   cfg.Search.CacheOpTimeout,
	})

	server := api.NewServer(cfg, db, executor, resultCache, metrics)

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Starting Traceloom server")
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
