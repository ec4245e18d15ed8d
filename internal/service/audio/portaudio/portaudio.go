// Package portaudio источник звука для audio.Capture на PortAudio (cgo).
// На Windows нужна portaudio DLL в PATH или рядом с бинарём,
// на linux/macOS — libportaudio (apt install portaudio19-dev / brew install portaudio).
package portaudio

import (
	"errors"
	"fmt"
	"sync/atomic"

	pa "github.com/gordonklaus/portaudio"
	"go.uber.org/zap"

	"SpeechToCLI/internal/service/audio"
)

// Source открывает устройство ввода по умолчанию.
type Source struct {
	logger *zap.SugaredLogger
	// FramesPerBuffer размер буфера колбэка; 0 — ~50мс от частоты.
	FramesPerBuffer int
}

var _ audio.Source = (*Source)(nil)

func New(logger *zap.SugaredLogger) *Source {
	return &Source{logger: logger}
}

type stream struct {
	stream    *pa.Stream
	logger    *zap.SugaredLogger
	overflows atomic.Int64
}

func (s *Source) framesPerBuffer(sampleRate int) int {
	if s.FramesPerBuffer > 0 {
		return s.FramesPerBuffer
	}
	return max(sampleRate/20, 256)
}

func (s *Source) Open(sampleRate, channels int, onSamples func([]float32)) (audio.Stream, error) {
	if err := pa.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	st := &stream{logger: s.logger}
	cb := func(in []float32, _ pa.StreamCallbackTimeInfo, flags pa.StreamCallbackFlags) {
		if flags&pa.InputOverflow != 0 {
			st.overflows.Add(1)
		}
		onSamples(in)
	}
	paStream, err := pa.OpenDefaultStream(channels, 0, float64(sampleRate), s.framesPerBuffer(sampleRate), cb)
	if err != nil {
		_ = pa.Terminate()
		return nil, fmt.Errorf("OpenDefaultStream: %w", err)
	}
	if err := paStream.Start(); err != nil {
		_ = paStream.Close()
		_ = pa.Terminate()
		return nil, fmt.Errorf("start stream: %w", err)
	}
	st.stream = paStream
	return st, nil
}

// Close останавливает поток (Pa_StopStream дожидается последнего колбэка) и освобождает PortAudio.
func (s *stream) Close() error {
	errStop := s.stream.Stop()
	errClose := s.stream.Close()
	errTerm := pa.Terminate()
	if n := s.overflows.Load(); n > 0 {
		s.logger.Warnw("Audio input overflow during recording", "callbacks", n)
	}
	return errors.Join(errStop, errClose, errTerm)
}
