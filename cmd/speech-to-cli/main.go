package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"SpeechToCLI/internal/config"
	"SpeechToCLI/internal/logging"
	"SpeechToCLI/internal/platform"
	"SpeechToCLI/internal/service/audio"
	"SpeechToCLI/internal/service/audio/portaudio"
	"SpeechToCLI/internal/service/notify"
	"SpeechToCLI/internal/service/player"
	"SpeechToCLI/internal/service/ptt"
	"SpeechToCLI/internal/service/stt"
)

// Временные файлы старше этого считаются оставшимися от упавшего процесса
const staleRecordingTTL = time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateCredentials(); err != nil {
		sugar.Errorw("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sugar.Infow("Starting speech-to-cli",
		"Platform", runtime.GOOS,
		"PTT key", cfg.PTTKey,
		"Will press Enter after typing", cfg.PressEnter,
		"backend", cfg.Backend,
		"model", cfg.Model,
		"language", cfg.Language,
	)

	audio.NewCleaner(sugar.Named("cleaner")).Clean(cfg.TempDir, staleRecordingTTL)

	handler, err := platform.New(sugar.Named("platform"))
	if err != nil {
		sugar.Errorw("Platform is not supported", "error", err)
		return 1
	}

	httpClient := stt.NewHTTPClient(cfg.RequestTimeout, cfg.EnableHTTP2)
	transcriber, err := stt.New(cfg, httpClient, sugar.Named("stt"))
	if err != nil {
		sugar.Errorw("Failed to create transcription client", "error", err)
		return 1
	}

	var notifier ptt.Notifier
	sounds := notify.NewSoundNotifier(sugar.Named("notify"), player.New(0), cfg.CueStartPath, cfg.CueStopPath)
	if sounds.Enabled() {
		go func() { _ = sounds.Run(ctx) }()
		notifier = sounds
	}

	capture := audio.NewCapture(portaudio.New(sugar.Named("portaudio")), cfg.SampleRate, cfg.Channels, sugar.Named("audio"))

	daemon := ptt.New(ptt.Config{
		Key:              cfg.PTTKey,
		ReleaseKey:       cfg.PTTKeysym,
		PressEnter:       cfg.PressEnter,
		SampleRate:       cfg.SampleRate,
		MaxDuration:      cfg.MaxDuration(),
		WatchdogInterval: ptt.DefaultWatchdogInterval,
		ShutdownTimeout:  ptt.DefaultShutdownTimeout,
		TempDir:          cfg.TempDir,
	}, capture, handler, transcriber, notifier, sugar.Named("ptt"))

	errCh := make(chan error, 1)
	go func() { errCh <- daemon.Run(ctx) }()

	select {
	case err := <-errCh:
		return exitCode(sugar, err)
	case <-ctx.Done():
	}

	sugar.Infow("Shutting down")
	daemon.Stop()
	select {
	case err := <-errCh:
		return exitCode(sugar, err)
	case <-time.After(ptt.DefaultShutdownTimeout + platform.PollInterval):
		sugar.Warnw("Daemon did not stop in time; exiting")
		return 0
	}
}

func exitCode(sugar *zap.SugaredLogger, err error) int {
	if err != nil {
		sugar.Errorw("Daemon failed", "error", err)
		return 1
	}
	return 0
}
