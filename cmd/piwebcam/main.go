package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"piwebcam/internal/auth"
	"piwebcam/internal/camera"
	"piwebcam/internal/config"
	"piwebcam/internal/motion"
	"piwebcam/internal/server"
	"piwebcam/internal/snapshot"
	"piwebcam/internal/stream"
	"piwebcam/internal/vision"
	"piwebcam/internal/ws"
)

// statusPushInterval is how often the detector status is pushed to idle
// WebSocket clients between motion events.
const statusPushInterval = 5 * time.Second

func main() {
	// Command line flags override the environment configuration.
	var (
		hostF       = flag.String("host", "", "Bind address (overrides WEBCAM_HOST)")
		portF       = flag.Int("port", 0, "HTTP port (overrides WEBCAM_PORT)")
		deviceF     = flag.String("device", "", "Camera device path or URL (overrides WEBCAM_DEVICE)")
		resolutionF = flag.String("resolution", "", "Capture resolution as WIDTHxHEIGHT (overrides WEBCAM_RESOLUTION)")
		framerateF  = flag.Int("framerate", 0, "Capture framerate (overrides WEBCAM_FRAMERATE)")
		noAuthF     = flag.Bool("no-auth", false, "Disable authentication even when credentials are configured")
		logLevelF   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	)
	flag.Parse()

	cfg := config.Load()
	if *hostF != "" {
		cfg.Host = *hostF
	}
	if *portF != 0 {
		cfg.Port = *portF
	}
	if *deviceF != "" {
		cfg.Device = *deviceF
	}
	if *framerateF != 0 {
		cfg.FPS = *framerateF
	}
	if *noAuthF {
		cfg.AuthEnabled = false
	}
	if *logLevelF != "" {
		cfg.LogLevel = *logLevelF
	}

	logger := newLogger(cfg.LogLevel)

	if *resolutionF != "" {
		if err := cfg.SetResolution(*resolutionF); err != nil {
			logger.Fatal().Err(err).Msg("invalid resolution flag")
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := snapshot.NewStore(cfg.SnapshotCapacity)
	if err != nil {
		logger.Fatal().Err(err).Msg("snapshot store")
	}

	// With snapshots disabled the detector gets no store and the API simply
	// reports an empty history.
	detectorStore := store
	if !cfg.SnapshotsEnabled {
		detectorStore = nil
	}

	detector, err := motion.NewDetector(cfg.MotionConfig(), vision.Compare, detectorStore, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("motion detector")
	}
	detector.SetAnnotator(vision.AnnotateTimestamp)

	authn, err := auth.New(auth.Options{
		Enabled:   cfg.AuthEnabled,
		Username:  cfg.AuthUsername,
		Password:  cfg.AuthPassword,
		JWTSecret: cfg.JWTSecret,
		JWTExpiry: cfg.JWTExpiry,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("auth setup")
	}

	capture := camera.NewCapture(cfg.Device, cfg.Width, cfg.Height, cfg.FPS, logger)
	broadcaster := stream.NewBroadcaster(logger)
	hub := ws.NewEventHub(logger)

	srv := server.New(server.Info{
		Host:      cfg.Host,
		Port:      cfg.Port,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Framerate: cfg.FPS,
		StaticDir: cfg.StaticDir,
	}, capture, detector, store, authn, broadcaster, hub, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Routes(),
	}

	// Channel used by both the signal handler and the server goroutine to
	// notify the main goroutine when to stop.
	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		capture.Run(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		processFrames(ctx, capture, detector, broadcaster, hub)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.RunStatusPusher(ctx, statusPushInterval, detector.Status)
	}()

	go func() {
		logger.Info().
			Str("addr", httpServer.Addr).
			Str("device", cfg.Device).
			Str("resolution", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height)).
			Bool("auth", cfg.AuthEnabled).
			Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	logger.Info().Msgf("exiting (%v)", <-errc)

	cancel()
	broadcaster.Close()
	hub.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}

	wg.Wait()
	logger.Info().Msg("exited")
}

// processFrames drives the motion detector with every captured frame,
// republishes the frame to MJPEG viewers, and pushes detector events to
// WebSocket clients.
func processFrames(ctx context.Context, capture *camera.Capture, detector *motion.Detector,
	broadcaster *stream.Broadcaster, hub *ws.EventHub) {
	frames := capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			event := detector.Process(frame, time.Now())
			broadcaster.Publish(frame)
			if event != motion.EventNone {
				hub.BroadcastEvent(event, detector.Status())
			}
		}
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
