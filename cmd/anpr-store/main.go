// Command anpr-store is the plate store: it persists plates posted by the
// detector and serves them back.
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

	"github.com/gin-gonic/gin"

	"anpr-pipeline/internal/config"
	"anpr-pipeline/internal/db"
	apihttp "anpr-pipeline/internal/http"
	"anpr-pipeline/internal/logger"
	"anpr-pipeline/internal/repository"
	"anpr-pipeline/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anpr-store: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log, "anpr-store")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	gdb, err := db.Open(cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to open database")
	}

	plateRepo := repository.NewPlateRepository(gdb)
	plateService := service.NewPlateService(plateRepo, log)

	router := apihttp.NewRouter(cfg.Server.CORSOrigins, log)
	apihttp.NewHandler(plateService, log).Register(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("plate store listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down plate store")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}

	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
