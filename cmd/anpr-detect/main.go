// Command anpr-detect reads a camera or video file, recognizes plates in
// the configured region and forwards each new plate to the store.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-pipeline/internal/config"
	"anpr-pipeline/internal/dashboard"
	"anpr-pipeline/internal/geometry"
	apihttp "anpr-pipeline/internal/http"
	"anpr-pipeline/internal/ledger"
	"anpr-pipeline/internal/logger"
	"anpr-pipeline/internal/ocr"
	"anpr-pipeline/internal/pipeline"
	"anpr-pipeline/internal/recognizer"
	"anpr-pipeline/internal/remote"
	"anpr-pipeline/internal/vision"
)

// OpenCV's window calls must stay on the main OS thread.
func init() {
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	autostart := flag.Bool("autostart", false, "start detection immediately in dashboard mode")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "anpr-detect: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log, "anpr-detect")
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	roi, err := geometry.FromPairs(cfg.Pipeline.ROI)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid region of interest")
	}

	client := remote.NewClient(cfg.Store.BaseURL, cfg.Store.Timeout)
	forwarder := remote.NewForwarder(client, cfg.Store.Timeout, log.With().Str("component", "forwarder").Logger())
	reconciler := remote.NewReconciler(client, log.With().Str("component", "reconciler").Logger())
	plates := ledger.New()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []pipeline.Option{pipeline.WithTickInterval(cfg.Pipeline.TickInterval)}

	var (
		hub     *dashboard.Hub
		feed    *dashboard.Feed
		window  *vision.Window
		mailbox *pipeline.Mailbox
	)
	switch cfg.Pipeline.Display {
	case "dashboard":
		hub = dashboard.NewHub(log.With().Str("component", "dashboard").Logger())
		feed = dashboard.NewFeed(hub)
		opts = append(opts, pipeline.WithPublisher(feed))
	case "window":
		window = vision.NewWindow("RGB", log)
		mailbox = pipeline.NewMailbox()
		opts = append(opts, pipeline.WithPublisher(mailbox))
	}

	loop := pipeline.New(sessionFactory(cfg, roi, log), plates, forwarder, roi, log, opts...)

	log.Info().
		Str("source", cfg.Camera.Source).
		Str("camera_model", cfg.Camera.Model).
		Str("store", cfg.Store.BaseURL).
		Str("display", cfg.Pipeline.Display).
		Msg("anpr-detect starting")

	var srv *http.Server
	if hub != nil {
		loop.OnStateChange(feed.StateChanges())
		go hub.Run(ctx)

		router := apihttp.NewRouter(cfg.Dashboard.CORSOrigins, log)
		dashboard.NewHandler(loop, plates, forwarder, reconciler, feed, hub, log).Register(router)

		srv = &http.Server{
			Addr:              cfg.Dashboard.Addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			log.Info().Str("addr", cfg.Dashboard.Addr).Msg("dashboard listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("dashboard listen failed")
				stop()
			}
		}()
	}

	if hub == nil || *autostart {
		if err := loop.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start detection")
		}
	}

	// Without a dashboard the process lives as long as the first run.
	if hub == nil {
		go func() {
			if err := loop.Wait(); err != nil {
				log.Error().Err(err).Msg("detection ended with error")
			}
			stop()
		}()
	}

	if window != nil {
		// Esc cancels ctx; the shutdown path below stops the loop.
		window.Run(ctx, mailbox.Updates(), stop)
	} else {
		<-ctx.Done()
	}
	log.Info().Msg("shutting down")

	if err := loop.Stop(); err != nil && !errors.Is(err, pipeline.ErrInvalidTransition) {
		log.Error().Err(err).Msg("failed to stop detection")
	}
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("forced dashboard shutdown")
		}
	}
	if window != nil {
		_ = window.Close()
	}

	stats := plates.Stats()
	fwd := forwarder.Stats()
	log.Info().
		Int("plates", stats.Total).
		Float64("avg_confidence", stats.AvgConfidence).
		Uint64("forwarded", fwd.Sent).
		Uint64("forward_failures", fwd.Failed).
		Msg("session summary")
}

// sessionFactory opens the video source and loads both models for one run.
func sessionFactory(cfg *config.Config, roi geometry.Polygon, log zerolog.Logger) pipeline.SessionFactory {
	return func(ctx context.Context) (*pipeline.Session, error) {
		src, err := vision.OpenSource(cfg.Camera.Source, cfg.Pipeline.FrameWidth, cfg.Pipeline.FrameHeight)
		if err != nil {
			return nil, err
		}

		det, err := vision.NewDetector(cfg.Detector.ModelPath, cfg.Detector.InputSize, cfg.Detector.Confidence, cfg.Detector.NMS)
		if err != nil {
			_ = src.Close()
			return nil, err
		}

		engine, err := ocr.NewEngine(cfg.OCR.Language, cfg.OCR.Whitelist)
		if err != nil {
			_ = src.Close()
			_ = det.Close()
			return nil, err
		}

		rec := recognizer.New(det, engine, roi, log,
			recognizer.WithCropSize(cfg.Pipeline.CropWidth, cfg.Pipeline.CropHeight))

		return &pipeline.Session{
			Source:     src,
			Recognizer: rec,
			Annotator:  vision.Annotator{},
			Release: func() error {
				return errors.Join(det.Close(), engine.Close())
			},
		}, nil
	}
}
