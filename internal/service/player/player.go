package player

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

// Player воспроизводит короткий звук до конца.
type Player interface {
	Play(format string, r io.ReadCloser) error
}

// Default реализует Player для mp3 и wav.
type Default struct {
	volumeDB float64

	mu         sync.Mutex // speaker глобальный
	sampleRate beep.SampleRate
}

// New создаёт плеер с громкостью в dB (0 — без изменений, отрицательные — тише).
func New(volumeDB float64) *Default { return &Default{volumeDB: volumeDB} }

func (d *Default) Play(format string, r io.ReadCloser) error {
	streamer, f, err := decode(format, r)
	if err != nil {
		return err
	}
	defer streamer.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	// speaker переинициализируем только при смене частоты
	if d.sampleRate != f.SampleRate {
		if err := speaker.Init(f.SampleRate, f.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("speaker init: %w", err)
		}
		d.sampleRate = f.SampleRate
	}

	vol := &effects.Volume{
		Streamer: streamer,
		Base:     2,
		Volume:   d.volumeDB,
	}
	done := make(chan struct{})
	speaker.Play(beep.Seq(vol, beep.Callback(func() { close(done) })))
	<-done
	return nil
}

func decode(format string, r io.ReadCloser) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(format) {
	case "wav":
		return wav.Decode(r)
	case "mp3":
		return mp3.Decode(r)
	default:
		return nil, beep.Format{}, fmt.Errorf("unsupported format %q for playback; use mp3 or wav", format)
	}
}
