package openai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

// Config параметры клиента OpenAI Audio Transcriptions.
type Config struct {
	APIKey         string
	BaseURL        string // пусто — api.openai.com
	Model          string // например, gpt-4o-transcribe
	Language       string // ISO-639-1, пусто — автоопределение
	LogTranscripts bool
}

// Client отправляет WAV-файл одним запросом и возвращает распознанный текст.
type Client struct {
	api    openai.Client
	cfg    Config
	logger *zap.SugaredLogger
}

// New создаёт клиент. Повторы внутри SDK отключены: один запрос на сессию.
func New(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai stt: empty API key (expected OPENAI_API_KEY)")
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-transcribe"
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &Client{api: openai.NewClient(opts...), cfg: cfg, logger: logger}, nil
}

// Transcribe возвращает обрезанный по краям текст или "" при любой ошибке.
func (c *Client) Transcribe(ctx context.Context, path string) string {
	f, err := os.Open(path)
	if err != nil {
		c.logger.Errorw("Failed to open audio file", "path", path, "error", err)
		return ""
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(c.cfg.Model),
	}
	if c.cfg.Language != "" {
		params.Language = openai.String(c.cfg.Language)
	}

	resp, err := c.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		c.logFailure(err)
		return ""
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		c.logger.Warnw("Transcription response did not contain text.")
		return ""
	}
	if c.cfg.LogTranscripts {
		c.logger.Infow("Transcription received", "text", text)
	} else {
		c.logger.Infow("Transcription received.", "chars", len([]rune(text)))
	}
	return text
}

func (c *Client) logFailure(err error) {
	var apiErr *openai.Error
	switch {
	case errors.As(err, &apiErr):
		c.logger.Errorw("Transcription request failed", "class", "other", "status", apiErr.StatusCode, "error", err)
	case IsNetworkError(err):
		c.logger.Errorw(fmt.Sprintf("Transcription failed: could not reach OpenAI (%v). Check your network/DNS or VPN/firewall.", err),
			"class", "network")
	default:
		c.logger.Errorw("Transcription request failed", "class", "other", "error", err)
	}
}

// IsNetworkError true для ошибок соединения: DNS, отказ в подключении, таймаут, TLS.
func IsNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
