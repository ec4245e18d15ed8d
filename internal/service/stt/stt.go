package stt

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"SpeechToCLI/internal/config"
	"SpeechToCLI/internal/service/stt/openai"
	"SpeechToCLI/internal/service/stt/yandex"
)

// Transcriber превращает записанный WAV в текст.
// Любая ошибка логируется реализацией и даёт "", пустой результат — не ошибка.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) string
}

// NewHTTPClient общий HTTP-клиент с таймаутом запроса; владеет политикой таймаутов.
func NewHTTPClient(timeout time.Duration, enableHTTP2 bool) *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	if enableHTTP2 {
		_ = http2.ConfigureTransport(tr)
	}
	return &http.Client{
		Transport: tr,
		Timeout:   timeout,
	}
}

// New выбирает сервис распознавания по cfg.Backend.
func New(cfg *config.Config, httpClient *http.Client, logger *zap.SugaredLogger) (Transcriber, error) {
	switch cfg.Backend {
	case config.BackendOpenAI:
		c, err := openai.New(openai.Config{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.Model,
			Language:       cfg.Language,
			LogTranscripts: cfg.LogTranscripts,
		}, httpClient, logger.Named("openai"))
		if err != nil {
			return nil, err
		}
		return c, nil
	case config.BackendYandex:
		c, err := yandex.New(yandex.Config{
			Endpoint:       cfg.Yandex.Endpoint,
			APIKey:         cfg.Yandex.APIKey,
			Language:       cfg.Language,
			ChunkMS:        cfg.Yandex.ChunkMS,
			FinalWait:      cfg.Yandex.FinalWait,
			LogTranscripts: cfg.LogTranscripts,
		}, httpClient, logger.Named("yandex"))
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("stt: unknown backend %q", cfg.Backend)
	}
}
