package yandex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-audio/wav"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config настройки клиента Yandex STT Streaming (WebSocket).
type Config struct {
	// Endpoint WebSocket, по умолчанию wss://stt.api.cloud.yandex.net/speech/v1/stt:streaming
	Endpoint string
	APIKey   string // Api-Key из окружения (YC_STT_API_KEY)
	Language string // например, "ru-RU"; короткий код "ru" дополняется регионом

	// Необязательный стартовый JSON, отправляется текстовым фреймом сразу после подключения.
	StartJSON string
	// Сигнал конца аудио. Если пусто — используется {"eof":true}.
	EndJSON string

	// Длительность одного бинарного фрейма, мс
	ChunkMS int
	// Сколько ждать финальных результатов после конца аудио
	FinalWait      time.Duration
	LogTranscripts bool
}

// Result единица результата распознавания.
type Result struct {
	Text      string
	Final     bool
	Timestamp time.Time
}

// Client распознаёт записанный WAV, отправляя его потоком через WebSocket.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
	logger *zap.SugaredLogger
}

// New создаёт клиент, без установления соединения.
func New(cfg Config, httpClient *http.Client, logger *zap.SugaredLogger) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "wss://stt.api.cloud.yandex.net/speech/v1/stt:streaming"
	}
	if cfg.APIKey == "" {
		return nil, errors.New("yandex stt: пустой API key (ожидается YC_STT_API_KEY)")
	}
	cfg.Language = normalizeLanguage(cfg.Language)
	if cfg.ChunkMS <= 0 {
		cfg.ChunkMS = 50
	}
	if cfg.FinalWait <= 0 {
		cfg.FinalWait = 10 * time.Second
	}
	if cfg.EndJSON == "" {
		cfg.EndJSON = `{"eof":true}`
	}
	handshake := 15 * time.Second
	if httpClient != nil && httpClient.Timeout > 0 && httpClient.Timeout < handshake {
		handshake = httpClient.Timeout
	}
	return &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:             http.ProxyFromEnvironment,
			HandshakeTimeout:  handshake,
			EnableCompression: false,
		},
		logger: logger,
	}, nil
}

// normalizeLanguage en → en-US, ru → ru-RU; полные коды остаются как есть.
func normalizeLanguage(lang string) string {
	lang = strings.TrimSpace(lang)
	switch strings.ToLower(lang) {
	case "":
		return "ru-RU"
	case "ru":
		return "ru-RU"
	case "en":
		return "en-US"
	case "kk":
		return "kk-KZ"
	case "uz":
		return "uz-UZ"
	case "tr":
		return "tr-TR"
	}
	return lang
}

// Transcribe возвращает склеенные финальные результаты или "" при ошибке.
func (c *Client) Transcribe(ctx context.Context, path string) string {
	samples, sampleRate, err := readPCM16(path)
	if err != nil {
		c.logger.Errorw("Failed to read audio file", "path", path, "error", err)
		return ""
	}

	results, err := c.stream(ctx, samples, sampleRate)
	if err != nil {
		class := "other"
		if isNetworkError(err) {
			class = "network"
		}
		c.logger.Errorw("Transcription request failed", "class", class, "error", err)
		return ""
	}

	var parts []string
	for _, r := range results {
		if r.Final {
			if t := strings.TrimSpace(r.Text); t != "" {
				parts = append(parts, t)
			}
		}
	}
	text := strings.Join(parts, " ")
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

// readPCM16 читает WAV целиком; многоканальный звук сводится в моно.
func readPCM16(path string) ([]int16, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, 0, errors.New("not a valid WAV file")
	}
	if d.BitDepth != 16 {
		return nil, 0, fmt.Errorf("unsupported bit depth %d (want 16)", d.BitDepth)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}
	ch := int(d.NumChans)
	if ch <= 0 {
		ch = 1
	}
	out := make([]int16, len(buf.Data)/ch)
	for i := range out {
		sum := 0
		for c := 0; c < ch; c++ {
			sum += buf.Data[i*ch+c]
		}
		out[i] = int16(sum / ch)
	}
	return out, int(d.SampleRate), nil
}

func (c *Client) endpointURL(sampleRate int) (string, error) {
	// Параметры, которые ожидает WebSocket API SpeechKit (v1):
	// lang, sampleRateHertz, topic (домен), format=lpcm (LINEAR16 PCM)
	u, err := url.Parse(c.cfg.Endpoint)
	if err != nil {
		return "", fmt.Errorf("yandex stt: неверный endpoint: %w", err)
	}
	q := u.Query()
	q.Set("lang", c.cfg.Language)
	q.Set("sampleRateHertz", fmt.Sprint(sampleRate))
	if q.Get("topic") == "" {
		q.Set("topic", "general")
	}
	if q.Get("format") == "" {
		q.Set("format", "lpcm")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// stream отправляет аудио чанками и собирает ответы до закрытия соединения сервером.
func (c *Client) stream(ctx context.Context, samples []int16, sampleRate int) ([]Result, error) {
	endpoint, err := c.endpointURL(sampleRate)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Api-Key "+c.cfg.APIKey)

	conn, resp, err := c.dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		// Улучшим диагностику рукопожатия, если доступен HTTP-ответ.
		if resp != nil {
			return nil, fmt.Errorf("yandex stt: не удалось подключиться: %s (HTTP %d): %w", http.StatusText(resp.StatusCode), resp.StatusCode, err)
		}
		return nil, fmt.Errorf("yandex stt: не удалось подключиться: %w", err)
	}
	defer conn.Close()

	// отмена ctx прерывает блокирующие чтение и запись
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, c.startMessage(sampleRate)); err != nil {
		return nil, fmt.Errorf("yandex stt: не удалось отправить стартовое сообщение: %w", err)
	}

	chunk := sampleRate * c.cfg.ChunkMS / 1000
	if chunk <= 0 {
		chunk = len(samples)
	}
	for off := 0; off < len(samples); off += chunk {
		end := min(off+chunk, len(samples))
		if err := conn.WriteMessage(websocket.BinaryMessage, encodePCM16(samples[off:end])); err != nil {
			return nil, fmt.Errorf("yandex stt: отправка аудио: %w", err)
		}
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(c.cfg.EndJSON)); err != nil {
		return nil, fmt.Errorf("yandex stt: отправка конца аудио: %w", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.FinalWait))
	var results []Result
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				break
			}
			if ctxErr := context.Cause(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(results) > 0 {
				c.logger.Warnw("Timed out waiting for the server to close the stream", "results", len(results))
				break
			}
			return nil, fmt.Errorf("yandex stt: чтение ответа: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if res, ok := parseServerMessage(data); ok {
			results = append(results, res)
		}
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "eof"))
	return results, nil
}

func (c *Client) startMessage(sampleRate int) []byte {
	if sj := c.cfg.StartJSON; sj != "" {
		return []byte(sj)
	}
	start := map[string]any{
		"lang":            c.cfg.Language,
		"format":          "lpcm",
		"sampleRateHertz": sampleRate,
		"topic":           "general",
	}
	b, _ := json.Marshal(start)
	return b
}

// parseServerMessage пытается вытащить текст и признак финальности из произвольного JSON.
func parseServerMessage(data []byte) (Result, bool) {
	// 1) {"result":"text","final":true}
	var s1 struct {
		Result string `json:"result"`
		Final  bool   `json:"final"`
	}
	if json.Unmarshal(data, &s1) == nil && (s1.Result != "" || s1.Final) {
		return Result{Text: s1.Result, Final: s1.Final, Timestamp: time.Now()}, true
	}

	// 2) {"alternatives":[{"text":"..."}],"final":true}
	var s2 struct {
		Alternatives []struct {
			Text string `json:"text"`
		} `json:"alternatives"`
		Final bool `json:"final"`
	}
	if json.Unmarshal(data, &s2) == nil && len(s2.Alternatives) > 0 {
		return Result{Text: s2.Alternatives[0].Text, Final: s2.Final, Timestamp: time.Now()}, true
	}

	// 3) {"partial":"..."}
	var s3 struct {
		Partial string `json:"partial"`
	}
	if json.Unmarshal(data, &s3) == nil && s3.Partial != "" {
		return Result{Text: s3.Partial, Final: false, Timestamp: time.Now()}, true
	}

	// 4) {"text":"...","is_final":true}
	var s4 struct {
		Text    string `json:"text"`
		IsFinal bool   `json:"is_final"`
		Final   bool   `json:"final"`
	}
	if json.Unmarshal(data, &s4) == nil && (s4.Text != "" || s4.IsFinal || s4.Final) {
		return Result{Text: s4.Text, Final: s4.IsFinal || s4.Final, Timestamp: time.Now()}, true
	}

	return Result{}, false
}

// encodePCM16 little-endian без промежуточных структур.
func encodePCM16(samples []int16) []byte {
	b := make([]byte, 0, 2*len(samples))
	for _, s := range samples {
		b = append(b, byte(s), byte(s>>8))
	}
	return b
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
