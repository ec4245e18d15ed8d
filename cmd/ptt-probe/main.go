package main

// Диагностика клавиши push-to-talk: печатает нажатия и отпускания без записи звука.

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SpeechToCLI/internal/config"
	"SpeechToCLI/internal/logging"
	"SpeechToCLI/internal/platform"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	handler, err := platform.New(sugar.Named("platform"))
	if err != nil {
		sugar.Errorw("Platform is not supported", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Нажимайте %s, Ctrl+C для выхода\n", cfg.PTTKey)
	var downAt time.Time
	err = handler.StartListening(ctx, cfg.PTTKey, func(pressed bool) {
		ts := time.Now().Format("15:04:05.000")
		if pressed {
			downAt = time.Now()
			fmt.Printf("[DOWN %s]\n", ts)
			return
		}
		fmt.Printf("[UP   %s] held %s\n", ts, time.Since(downAt).Round(time.Millisecond))
	})
	if err != nil {
		sugar.Errorw("Key listener failed", "key", cfg.PTTKey, "error", err)
		os.Exit(1)
	}
}
