package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/liveset/go/internal/catalog"
	"github.com/mcdev12/liveset/go/internal/live/hub"
	"github.com/mcdev12/liveset/go/internal/live/relay"
)

func main() {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := loadConfig(getEnv("CONFIG_PATH", ""))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	port := getEnv("HUB_PORT", cfg.Server.Port)
	if port == "" {
		port = "8081"
	}
	natsURL := getEnv("NATS_URL", cfg.NATS.URL)
	databaseURL := getEnv("DATABASE_URL", cfg.Database.DSN)

	log.Info().
		Str("port", port).
		Str("nats_url", natsURL).
		Msg("starting live hub")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hub service
	connCfg := hub.DefaultConnectionConfig()
	connCfg.WriteTimeout = cfg.writeTimeout(connCfg.WriteTimeout)
	connCfg.ReadTimeout = cfg.readTimeout(connCfg.ReadTimeout)
	connCfg.PingInterval = cfg.pingInterval(connCfg.PingInterval)
	if cfg.Hub.MaxMessageSize > 0 {
		connCfg.MaxMessageSize = cfg.Hub.MaxMessageSize
	}
	hubService := hub.NewService(hub.Config{ConnectionConfig: connCfg})

	// Cross-instance relay, enabled when NATS is configured
	if natsURL != "" {
		relayCfg := relay.DefaultConfig()
		relayCfg.URL = natsURL
		if cfg.NATS.SubjectPrefix != "" {
			relayCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		r, err := relay.New(hubService.Manager(), relayCfg)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect relay")
		}
		if err := r.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start relay")
		}
		defer r.Stop()
	} else {
		log.Warn().Msg("NATS_URL not set, running single-instance")
	}

	mux := http.NewServeMux()
	hubService.RegisterRoutes(mux)

	// Running-order snapshot endpoint, enabled when the catalog DB is
	// configured
	if databaseURL != "" {
		pool, err := catalog.Connect(ctx, databaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to catalog database")
		}
		defer pool.Close()

		repo := catalog.NewRepository(catalog.NewPGQuerier(pool))
		hub.NewSongsHandler(repo).RegisterSongRoutes(mux)
	} else {
		log.Warn().Msg("DATABASE_URL not set, running-order endpoint disabled")
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/info", func(w http.ResponseWriter, r *http.Request) {
		stats := hubService.Stats()
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"service":"live-hub","connections":%d}`, stats["total_connections"])
	})

	go hubService.Start(ctx)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: cors.AllowAll().Handler(mux),
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down live hub")
		server.Shutdown(context.Background())
	}()

	log.Info().Str("addr", server.Addr).Msg("live hub listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
