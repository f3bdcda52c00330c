package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	_ "github.com/lib/pq"

	"healthsignal/internal/config"
	"healthsignal/internal/core"
	"healthsignal/internal/db"
	"healthsignal/internal/geo"
	httpserver "healthsignal/internal/http"
	"healthsignal/internal/llm"
)

func main() {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("configuration error", zap.Error(err))
	}

	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer dbConn.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(pingCtx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	sessions := db.NewSessionStore(dbConn)
	reports := db.NewReportStore(dbConn)
	queries := db.NewQueryStore(dbConn)

	extractor := llm.NewOpenAIExtractor(cfg.OpenAIKey, cfg.OpenAIModel)
	geocoder := geo.NewHTTPGeocoder(cfg.GeocoderBaseURL, cfg.GeocoderTimeout)
	matcher := core.NewMatcher(queries, cfg.Matcher, log)
	orch := core.NewOrchestrator(sessions, reports, extractor, geocoder, matcher, log)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpserver.NewServer(orch, log).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
}
