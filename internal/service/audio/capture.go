package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNoDevice входное аудиоустройство недоступно или не открылось.
var ErrNoDevice = errors.New("audio: input device unavailable")

// Source открывает входной поток. onSamples вызывается из потока драйвера
// с чередующимися (interleaved) float32-сэмплами; буфер переиспользуется драйвером.
type Source interface {
	Open(sampleRate, channels int, onSamples func([]float32)) (Stream, error)
}

// Stream открытый поток устройства. После Close колбэк больше не вызывается.
type Stream interface {
	Close() error
}

// Frames записанное аудио: чередующиеся сэмплы в [-1,1] (вне диапазона допускаются).
type Frames struct {
	Samples  []float32
	Channels int
}

// Len количество кадров (сэмплов на канал).
func (f Frames) Len() int {
	if f.Channels <= 0 {
		return 0
	}
	return len(f.Samples) / f.Channels
}

func (f Frames) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Len()) * time.Second / time.Duration(sampleRate)
}

// Capture записывает аудио с устройства между Start и Stop.
// Колбэк драйвера только дописывает в буфер под отдельным мьютексом.
type Capture struct {
	src        Source
	sampleRate int
	channels   int
	logger     *zap.SugaredLogger
	now        func() time.Time

	mu        sync.Mutex // stream, startedAt
	stream    Stream
	startedAt time.Time

	bufMu sync.Mutex // buf, gen
	buf   []float32
	gen   uint64
}

func NewCapture(src Source, sampleRate, channels int, logger *zap.SugaredLogger) *Capture {
	return &Capture{
		src:        src,
		sampleRate: sampleRate,
		channels:   channels,
		logger:     logger,
		now:        time.Now,
	}
}

// Start открывает поток и начинает запись. Повторный вызов во время записи ничего не делает.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream != nil {
		return nil
	}

	c.bufMu.Lock()
	c.buf = nil
	gen := c.gen
	c.bufMu.Unlock()

	stream, err := c.src.Open(c.sampleRate, c.channels, func(in []float32) { c.append(gen, in) })
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoDevice, err)
	}
	c.stream = stream
	c.startedAt = c.now()
	c.logger.Debugw("Recording started", "sample_rate", c.sampleRate, "channels", c.channels)
	return nil
}

func (c *Capture) append(gen uint64, in []float32) {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()
	// колбэк потока от прошлой сессии, который успел сработать после drain
	if gen != c.gen {
		return
	}
	c.buf = append(c.buf, in...)
}

// Recording возвращает true, пока поток открыт.
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

// Elapsed время с начала текущей записи, 0 если запись не идёт.
func (c *Capture) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return 0
	}
	return c.now().Sub(c.startedAt)
}

// HasExceeded true, если запись идёт и длится не меньше max.
func (c *Capture) HasExceeded(max time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return false
	}
	return c.now().Sub(c.startedAt) >= max
}

// Stop закрывает поток и забирает всё записанное. ok=false, если запись не шла
// или не было ни одного кадра.
func (c *Capture) Stop() (Frames, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return Frames{}, false
	}
	stream := c.stream
	elapsed := c.now().Sub(c.startedAt)
	c.stream = nil
	c.startedAt = time.Time{}

	if err := stream.Close(); err != nil {
		c.logger.Warnw("Failed to close audio stream", "error", err)
	}

	c.bufMu.Lock()
	samples := c.buf
	c.buf = nil
	c.gen++
	c.bufMu.Unlock()

	// только целые кадры
	samples = samples[:len(samples)-len(samples)%c.channels]
	if len(samples) == 0 {
		c.logger.Warnw("No audio frames captured.")
		return Frames{}, false
	}
	c.logger.Infow(fmt.Sprintf("Recording stopped after %.2f seconds.", elapsed.Seconds()))
	return Frames{Samples: samples, Channels: c.channels}, true
}
