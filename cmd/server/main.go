package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/UttU28/voldermotDiary/internal/api"
	"github.com/UttU28/voldermotDiary/internal/config"
	"github.com/UttU28/voldermotDiary/internal/db"
	"github.com/UttU28/voldermotDiary/internal/logging"
	"github.com/UttU28/voldermotDiary/internal/ws"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	logging.Init(cfg.Env)

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer database.Close()

	hub := ws.NewHub(database, ws.Options{
		ReplayDelay:       cfg.ReplayDelay,
		MessagesPerSecond: cfg.MessagesPerSecond,
		MessageBurst:      cfg.MessageBurst,
	})
	go hub.Run()

	apiHandler := api.New(hub, database)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: apiHandler.Router(),
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down server")
		hub.Shutdown()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("port", cfg.Port).Str("db", cfg.DBPath).
		Msg("🪄 Voldermot Diary backend starting")
	log.Info().Msg("endpoints: /ws, /health, /metrics, /api/pages, /api/pages/latest, /api/stats")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("listen and serve")
	}
}
