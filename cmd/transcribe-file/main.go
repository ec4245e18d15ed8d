package main

// Распознаёт готовый WAV-файл выбранным сервисом и печатает текст в stdout.

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"SpeechToCLI/internal/config"
	"SpeechToCLI/internal/logging"
	"SpeechToCLI/internal/service/stt"
)

func main() {
	file := flag.String("file", "", "path to a 16-bit PCM WAV file")
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	path := *file
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: transcribe-file [flags] -file recording.wav")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sugar := logger.Sugar()
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateCredentials(); err != nil {
		sugar.Errorw("Invalid configuration", "error", err)
		os.Exit(1)
	}
	if _, err := os.Stat(path); err != nil {
		sugar.Errorw("Audio file not accessible", "path", path, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transcriber, err := stt.New(cfg, stt.NewHTTPClient(cfg.RequestTimeout, cfg.EnableHTTP2), sugar.Named("stt"))
	if err != nil {
		sugar.Errorw("Failed to create transcription client", "error", err)
		os.Exit(1)
	}

	text := transcriber.Transcribe(ctx, path)
	if text == "" {
		os.Exit(1)
	}
	fmt.Println(text)
}
