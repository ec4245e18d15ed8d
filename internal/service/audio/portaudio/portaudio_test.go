package portaudio

import (
	"testing"

	"go.uber.org/zap"
)

func TestFramesPerBuffer(t *testing.T) {
	s := New(zap.NewNop().Sugar())
	tests := []struct {
		sampleRate int
		want       int
	}{
		{16000, 800},
		{48000, 2400},
		{4000, 256},
	}
	for _, tt := range tests {
		if got := s.framesPerBuffer(tt.sampleRate); got != tt.want {
			t.Errorf("framesPerBuffer(%d) = %d, want %d", tt.sampleRate, got, tt.want)
		}
	}

	s.FramesPerBuffer = 512
	if got := s.framesPerBuffer(16000); got != 512 {
		t.Errorf("explicit FramesPerBuffer ignored: %d", got)
	}
}
