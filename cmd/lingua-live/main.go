package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sjawhar/lingua-live/internal/audio"
	"github.com/sjawhar/lingua-live/internal/config"
	"github.com/sjawhar/lingua-live/internal/live"
	"github.com/sjawhar/lingua-live/internal/logger"
	"github.com/sjawhar/lingua-live/internal/metrics"
	"github.com/sjawhar/lingua-live/internal/recap"
	"github.com/sjawhar/lingua-live/internal/server"
	"github.com/sjawhar/lingua-live/internal/session"
)

func main() {
	configPath := flag.String("config", envOrDefault(config.EnvPrefix+"CONFIG", "config.yaml"), "Path to configuration file")
	envPath := flag.String("env", ".env", "Path to a .env file with API keys")
	flag.Parse()

	boot := logger.New("info", "text")
	if err := config.LoadDotEnv(*envPath); err != nil {
		boot.WithError(err).Warn("ignoring .env file")
	}

	cfg, warnings, loadErr := config.Load(*configPath)
	if loadErr != nil {
		boot.WithError(loadErr).Fatal("load config")
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err := cfg.CheckCredentials(); err != nil {
		log.WithError(err).Fatal("lingua-live: cannot start")
	}
	log.WithFields(logrus.Fields{
		"language": cfg.TutorLanguage().Name(),
		"scenario": cfg.TutorScenario().Title(),
	}).Info("lingua-live: starting")

	m := metrics.New()
	hub := server.NewHub(log)

	liveClient := live.NewClient(live.Config{
		APIKey:           cfg.GeminiAPIKey,
		BaseURL:          cfg.LiveBaseURL,
		Model:            cfg.Model,
		HandshakeTimeout: cfg.ParsedHandshakeTimeout(),
	}, log.WithField("component", "live"))

	var recapper session.Recapper
	if cfg.RecapModel != "" {
		completer, err := recap.NewCompleter(cfg.RecapModel, recap.Keys{Gemini: cfg.GeminiAPIKey, OpenAI: cfg.OpenAIAPIKey})
		if err != nil {
			log.WithError(err).Warn("recaps disabled")
		} else {
			recapper = recap.New(completer, log)
		}
	}

	manager := session.NewManager(session.Config{
		APIKey:           cfg.GeminiAPIKey,
		Language:         cfg.TutorLanguage(),
		Scenario:         cfg.TutorScenario(),
		Voice:            cfg.Voice,
		MicSampleRate:    cfg.MicSampleRate,
		MicFrameSize:     cfg.MicFrameSize,
		OutputSampleRate: cfg.OutputSampleRate,
	}, session.Deps{
		Dialer:      session.LiveDialer{Client: liveClient},
		OpenCapture: openMic,
		OpenOutput:  openSpeaker(log.WithField("component", "speaker")),
		Sink:        hub,
		Recapper:    recapper,
		Metrics:     m,
		Log:         log,
	})

	handler := server.Handler(server.Options{
		Hub:        hub,
		Controller: manager,
		Metrics:    m.Handler(),
		Warnings:   func() []string { return warnings },
		Log:        log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx, cfg.ListenAddr, handler, log) }()

	var err error
	select {
	case <-ctx.Done():
		log.Info("lingua-live: shutting down")
		err = <-serveErr
	case err = <-serveErr:
	}
	if err != nil {
		log.WithError(err).Error("http server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := manager.Disconnect(shutdownCtx); err != nil {
		log.WithError(err).Warn("disconnect on shutdown failed")
	}
}

func openMic(sampleRate, framesPerBuffer int) (session.Capture, error) {
	mic, err := audio.OpenMic(sampleRate, framesPerBuffer)
	if err != nil {
		return nil, err
	}
	return mic, nil
}

func openSpeaker(log logrus.FieldLogger) session.OutputOpener {
	return func(sampleRate, framesPerBuffer int) (session.Output, error) {
		spk, err := audio.OpenSpeaker(sampleRate, framesPerBuffer, log)
		if err != nil {
			return nil, err
		}
		return spk, nil
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
