package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Поддерживаемые сервисы распознавания
const (
	BackendOpenAI = "openai"
	BackendYandex = "yandex"
)

type Config struct {
	PTTKey           string        `env:"SPEECH_PTT_KEY"`         // Клавиша push-to-talk (имя зависит от платформы)
	PTTKeysym        string        `env:"SPEECH_PTT_KEYSYM"`      // Keysym для принудительного отпускания клавиши перед вводом; "none" отключает
	PressEnter       bool          `env:"SPEECH_PRESS_ENTER"`     // Нажимать Enter после ввода текста
	Backend          string        `env:"SPEECH_BACKEND"`         // openai|yandex
	Model            string        `env:"SPEECH_MODEL"`           // Модель распознавания
	Language         string        `env:"SPEECH_LANGUAGE"`        // Код языка
	SampleRate       int           `env:"SPEECH_SAMPLE_RATE"`     // Частота дискретизации, Гц
	Channels         int           `env:"SPEECH_CHANNELS"`        // Количество каналов (1|2)
	MaxRecordSeconds int           `env:"SPEECH_MAX_SECONDS"`     // Максимальная длительность записи
	LogLevel         string        `env:"SPEECH_LOG_LEVEL"`       // debug|info|warn|error
	LogTranscripts   bool          `env:"SPEECH_LOG_TRANSCRIPTS"` // Писать распознанный текст в лог
	RequestTimeout   time.Duration `env:"SPEECH_REQUEST_TIMEOUT"` // Таймаут HTTP-запроса к сервису распознавания
	EnableHTTP2      bool          `env:"SPEECH_HTTP2"`
	TempDir          string        `env:"SPEECH_TEMP_DIR"`  // Каталог для временных WAV; пусто — системный
	CueStartPath     string        `env:"SPEECH_CUE_START"` // Звук начала записи (mp3|wav), пусто — без звука
	CueStopPath      string        `env:"SPEECH_CUE_STOP"`  // Звук окончания записи

	OpenAI OpenAIConfig
	Yandex YandexSTTConfig
}

// OpenAIConfig параметры доступа к OpenAI Audio API.
type OpenAIConfig struct {
	APIKey  string `env:"OPENAI_API_KEY"`
	BaseURL string `env:"OPENAI_BASE_URL"` // Для совместимых прокси, пусто — api.openai.com
}

// YandexSTTConfig параметры потокового распознавания Yandex SpeechKit (WebSocket).
type YandexSTTConfig struct {
	APIKey    string        `env:"YC_STT_API_KEY"`
	Endpoint  string        `env:"YC_STT_ENDPOINT"`
	ChunkMS   int           `env:"YC_STT_CHUNK_MS"`   // Длительность чанка при отправке, мс
	FinalWait time.Duration `env:"YC_STT_FINAL_WAIT"` // Сколько ждать финальных результатов после конца аудио
}

// MaxDuration возвращает лимит записи как time.Duration.
func (c *Config) MaxDuration() time.Duration {
	return time.Duration(c.MaxRecordSeconds) * time.Second
}

// DefaultPTTKey клавиша по умолчанию для текущей платформы.
func DefaultPTTKey() string {
	if runtime.GOOS == "linux" {
		return "KEY_RIGHTSHIFT"
	}
	return "shift_r"
}

// DefaultPTTKeysym keysym для отпускания клавиши, нужен только под X11.
func DefaultPTTKeysym() string {
	if runtime.GOOS == "linux" {
		return "Shift_R"
	}
	return ""
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		PTTKey:           DefaultPTTKey(),
		PTTKeysym:        DefaultPTTKeysym(),
		PressEnter:       true,
		Backend:          BackendOpenAI,
		Model:            "gpt-4o-transcribe",
		Language:         "en",
		SampleRate:       16000,
		Channels:         1,
		MaxRecordSeconds: 60,
		LogLevel:         "info",
		LogTranscripts:   false,
		RequestTimeout:   60 * time.Second,
		EnableHTTP2:      true,
		Yandex: YandexSTTConfig{
			Endpoint:  "wss://stt.api.cloud.yandex.net/speech/v1/stt:streaming",
			ChunkMS:   50,
			FinalWait: 10 * time.Second,
		},
	}
}

// NewConfig загружает конфигурацию из .env, окружения и флагов командной строки.
// Дополнительные флаги утилиты нужно объявить в flag.CommandLine до вызова.
func NewConfig() (*Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load собирает конфигурацию: дефолты → .env → окружение → флаги → валидация.
func Load(fs *flag.FlagSet, args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	var verbose bool
	fs.StringVar(&cfg.PTTKey, "key", cfg.PTTKey, "push-to-talk key name (e.g. KEY_PAUSE on linux, f13 or shift_r elsewhere)")
	fs.BoolVar(&cfg.PressEnter, "enter", cfg.PressEnter, "press Enter after typing the transcription")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "speech recognition service: openai|yandex")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "transcription model")
	fs.StringVar(&cfg.Language, "language", cfg.Language, "language code for transcription")
	fs.BoolVar(&verbose, "verbose", false, "enable debug logging")
	fs.BoolVar(&cfg.LogTranscripts, "log-transcripts", cfg.LogTranscripts, "log transcription text")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if verbose {
		cfg.LogLevel = "debug"
	}
	if strings.EqualFold(strings.TrimSpace(cfg.PTTKeysym), "none") {
		cfg.PTTKeysym = ""
	}
	cfg.Backend = strings.ToLower(strings.TrimSpace(cfg.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет диапазоны значений. Учётные данные проверяет ValidateCredentials.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.PTTKey) == "" {
		errs = append(errs, errors.New("empty push-to-talk key"))
	}
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("invalid sample rate: %d (must be > 0)", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Errorf("invalid channels: %d (allowed 1..2)", c.Channels))
	}
	if c.MaxRecordSeconds <= 0 {
		errs = append(errs, fmt.Errorf("invalid max record seconds: %d (must be > 0)", c.MaxRecordSeconds))
	}
	switch c.Backend {
	case BackendOpenAI, BackendYandex:
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q (supported: openai, yandex)", c.Backend))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ValidateCredentials проверяет наличие ключа выбранного сервиса.
func (c *Config) ValidateCredentials() error {
	switch c.Backend {
	case BackendYandex:
		if strings.TrimSpace(c.Yandex.APIKey) == "" {
			return errors.New("config: YC_STT_API_KEY is not set; set it in your environment or .env file")
		}
	default:
		if strings.TrimSpace(c.OpenAI.APIKey) == "" {
			return errors.New("config: OPENAI_API_KEY is not set; set it in your environment or .env file")
		}
	}
	return nil
}
