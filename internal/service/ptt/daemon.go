package ptt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"SpeechToCLI/internal/platform"
	"SpeechToCLI/internal/service/audio"
	"SpeechToCLI/internal/service/notify"
	"SpeechToCLI/internal/service/stt"
)

var (
	ErrAlreadyRunning = errors.New("ptt: daemon already running")
	// ErrStopped причина отмены контекста при штатной остановке.
	ErrStopped = errors.New("ptt: daemon stopped")
)

const (
	DefaultWatchdogInterval = 100 * time.Millisecond
	DefaultShutdownTimeout  = time.Second
)

// Config параметры демона push-to-talk.
type Config struct {
	Key        string // клавиша для слушателя
	ReleaseKey string // keysym для синтетического отпускания перед вводом, пусто — не отпускать
	PressEnter bool
	SampleRate int
	// MaxDuration лимит длительности одной записи
	MaxDuration      time.Duration
	WatchdogInterval time.Duration
	ShutdownTimeout  time.Duration
	TempDir          string // пусто — системный temp
}

// Recorder источник записи, в продакшене *audio.Capture.
type Recorder interface {
	Start() error
	Stop() (audio.Frames, bool)
	HasExceeded(max time.Duration) bool
}

// Notifier получает звуковые сигналы; может быть nil.
type Notifier interface {
	Notify(c notify.Cue)
}

// State состояние демона.
type State int

const (
	StateIdle State = iota
	StateRecording
	// StateFinalizing запись остановлена, идёт распознавание и ввод; новые нажатия игнорируются
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	}
	return "unknown"
}

// Daemon связывает клавишу, запись, распознавание и ввод текста.
type Daemon struct {
	cfg         Config
	rec         Recorder
	platform    platform.Handler
	transcriber stt.Transcriber
	notifier    Notifier
	logger      *zap.SugaredLogger

	mu      sync.Mutex // state, session
	state   State
	session string

	running atomic.Bool
	ctxMu   sync.Mutex
	baseCtx context.Context
	cancel  context.CancelCauseFunc
}

func New(cfg Config, rec Recorder, handler platform.Handler, transcriber stt.Transcriber, notifier Notifier, logger *zap.SugaredLogger) *Daemon {
	if cfg.WatchdogInterval <= 0 {
		cfg.WatchdogInterval = DefaultWatchdogInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Daemon{
		cfg:         cfg,
		rec:         rec,
		platform:    handler,
		transcriber: transcriber,
		notifier:    notifier,
		logger:      logger,
		baseCtx:     context.Background(),
	}
}

// State текущее состояние.
func (d *Daemon) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Run слушает клавишу до Stop или отмены ctx. Блокирует.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer d.running.Store(false)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(ErrStopped)
	d.ctxMu.Lock()
	// начатое распознавание доживает до конца даже при остановке
	d.baseCtx = context.WithoutCancel(runCtx)
	d.cancel = cancel
	d.ctxMu.Unlock()
	defer func() {
		d.ctxMu.Lock()
		d.cancel = nil
		d.ctxMu.Unlock()
	}()

	wd := newWatchdog(d.cfg.WatchdogInterval, d.checkDuration)
	wdDone := make(chan struct{})
	go func() {
		defer close(wdDone)
		wd.run(runCtx)
	}()

	d.logger.Infow("Push-to-talk daemon started", "key", d.cfg.Key, "max_duration", d.cfg.MaxDuration.String())
	err := d.platform.StartListening(runCtx, d.cfg.Key, d.handleKey)
	cancel(ErrStopped)

	// watchdog может быть занят финализацией; ждём ограниченно
	joinCtx, joinCancel := context.WithTimeoutCause(context.Background(), d.cfg.ShutdownTimeout,
		errors.New("watchdog did not stop in time"))
	defer joinCancel()
	select {
	case <-wdDone:
	case <-joinCtx.Done():
		d.logger.Warnw("Shutdown wait expired", "cause", context.Cause(joinCtx))
	}

	if err != nil {
		return fmt.Errorf("listen for key %q: %w", d.cfg.Key, err)
	}
	d.logger.Infow("Push-to-talk daemon stopped")
	return nil
}

// Stop просит Run завершиться и сразу возвращает управление.
func (d *Daemon) Stop() {
	d.platform.StopListening()
	d.ctxMu.Lock()
	cancel := d.cancel
	d.ctxMu.Unlock()
	if cancel != nil {
		cancel(ErrStopped)
	}
}

func (d *Daemon) handleKey(pressed bool) {
	if pressed {
		d.onKeyDown()
		return
	}
	d.finalizeIf("key_up", "")
}

func (d *Daemon) onKeyDown() {
	d.mu.Lock()
	if d.state != StateIdle {
		state := d.state
		d.mu.Unlock()
		d.logger.Debugw("Key down ignored", "state", state.String())
		return
	}
	if err := d.rec.Start(); err != nil {
		d.mu.Unlock()
		d.logger.Errorw("Failed to start recording", "error", err)
		return
	}
	d.state = StateRecording
	d.session = uuid.NewString()
	session := d.session
	d.mu.Unlock()

	d.logger.Infow("Recording started", "session", session)
	d.notify(notify.CueRecordingStarted)
}

// checkDuration вызывается watchdog'ом.
func (d *Daemon) checkDuration() {
	d.mu.Lock()
	exceeded := d.state == StateRecording && d.rec.HasExceeded(d.cfg.MaxDuration)
	session := d.session
	d.mu.Unlock()
	if !exceeded {
		return
	}
	d.logger.Warnw("Maximum recording duration reached; finalizing", "session", session, "max_duration", d.cfg.MaxDuration.String())
	d.finalizeIf("max_duration", session)
}

// finalizeIf атомарно переводит Recording → Finalizing и останавливает запись.
// Выполняет финализацию только победивший триггер; session != "" ограничивает
// переход конкретной сессией.
func (d *Daemon) finalizeIf(reason, session string) {
	d.mu.Lock()
	if d.state != StateRecording || (session != "" && session != d.session) {
		d.mu.Unlock()
		return
	}
	d.state = StateFinalizing
	id := d.session
	frames, ok := d.rec.Stop()
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.state = StateIdle
		d.session = ""
		d.mu.Unlock()
	}()

	d.notify(notify.CueRecordingStopped)
	d.finalize(id, reason, frames, ok)
}

func (d *Daemon) finalize(session, reason string, frames audio.Frames, ok bool) {
	log := d.logger.With("session", session, "reason", reason)
	if !ok {
		log.Infow("No audio captured; nothing to transcribe")
		return
	}

	path := audio.TempPath(d.cfg.TempDir, session)
	if err := audio.WriteWAVFile(path, frames, d.cfg.SampleRate); err != nil {
		log.Errorw("Failed to write audio file", "error", err)
		return
	}
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnw("Failed to remove temporary audio file", "path", path, "error", err)
		}
	}()

	log.Infow("Transcribing", "duration", frames.Duration(d.cfg.SampleRate).String())
	d.ctxMu.Lock()
	ctx := d.baseCtx
	d.ctxMu.Unlock()

	text := d.transcriber.Transcribe(ctx, path)
	if text == "" {
		log.Infow("Transcription empty; nothing to type")
		return
	}

	if d.cfg.ReleaseKey != "" {
		d.platform.ReleaseKey(d.cfg.ReleaseKey)
	}
	d.platform.TypeText(text, d.cfg.PressEnter)
	log.Infow("Text typed", "chars", len([]rune(text)), "enter", d.cfg.PressEnter)
}

func (d *Daemon) notify(c notify.Cue) {
	if d.notifier != nil {
		d.notifier.Notify(c)
	}
}
