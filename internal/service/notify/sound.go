package notify

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"SpeechToCLI/internal/service/player"
)

// Cue звуковой сигнал о смене состояния записи.
type Cue int

const (
	CueRecordingStarted Cue = iota + 1
	CueRecordingStopped
)

func (c Cue) String() string {
	switch c {
	case CueRecordingStarted:
		return "recording_started"
	case CueRecordingStopped:
		return "recording_stopped"
	}
	return "unknown"
}

// SoundNotifier проигрывает сигналы в одной фоновой горутине.
// Сигналы, пришедшие во время проигрывания, сверх буфера отбрасываются.
type SoundNotifier struct {
	logger *zap.SugaredLogger
	paths  map[Cue]string
	ply    player.Player
	queue  chan Cue
}

// NewSoundNotifier создаёт нотификатор. Пустой путь отключает соответствующий сигнал.
// Относительный путь сначала ищется рядом с бинарём, затем от рабочей директории.
func NewSoundNotifier(logger *zap.SugaredLogger, ply player.Player, startPath, stopPath string) *SoundNotifier {
	paths := make(map[Cue]string, 2)
	if p := resolve(startPath); p != "" {
		paths[CueRecordingStarted] = p
	}
	if p := resolve(stopPath); p != "" {
		paths[CueRecordingStopped] = p
	}
	return &SoundNotifier{
		logger: logger,
		paths:  paths,
		ply:    ply,
		queue:  make(chan Cue, 2),
	}
}

func resolve(path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if exe, err := os.Executable(); err == nil {
		cand := filepath.Join(filepath.Dir(exe), path)
		if _, statErr := os.Stat(cand); statErr == nil {
			return cand
		}
	}
	return filepath.FromSlash(path)
}

// Enabled true, если настроен хотя бы один сигнал.
func (n *SoundNotifier) Enabled() bool { return len(n.paths) > 0 }

// Notify ставит сигнал в очередь, не блокируя вызывающего.
func (n *SoundNotifier) Notify(c Cue) {
	if _, ok := n.paths[c]; !ok {
		return
	}
	select {
	case n.queue <- c:
	default:
		n.logger.Debugw("Cue dropped, player busy", "cue", c.String())
	}
}

// Run проигрывает сигналы из очереди до отмены ctx.
func (n *SoundNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case c := <-n.queue:
			n.play(c)
		}
	}
}

func (n *SoundNotifier) play(c Cue) {
	path := n.paths[c]
	f, err := os.Open(path)
	if err != nil {
		n.logger.Warnw("Не удалось открыть звуковой файл сигнала", "cue", c.String(), "path", path, "error", err)
		return
	}
	defer f.Close()

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		ext = "mp3"
	}
	if err := n.ply.Play(ext, f); err != nil {
		n.logger.Warnw("Не удалось воспроизвести звуковой сигнал", "cue", c.String(), "path", path, "error", err)
	}
}
