package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth      = 16
	pcmFormat     = 1
	int16MaxFloat = 32767
)

// PCM16 переводит сэмпл в 16-битное значение: обрезка до [-1,1], умножение на 32767,
// отбрасывание дробной части к нулю.
func PCM16(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * int16MaxFloat)
}

// EncodeWAV пишет кадры как канонический WAV (RIFF/WAVE, fmt PCM, data), 16 бит little-endian.
func EncodeWAV(w io.WriteSeeker, f Frames, sampleRate int) error {
	if f.Channels <= 0 {
		return fmt.Errorf("encode wav: invalid channels %d", f.Channels)
	}
	n := f.Len() * f.Channels
	data := make([]int, n)
	for i, s := range f.Samples[:n] {
		data[i] = int(PCM16(s))
	}

	enc := wav.NewEncoder(w, sampleRate, bitDepth, f.Channels, pcmFormat)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// WriteWAVFile создаёт файл path (не перезаписывая существующий) и сохраняет в него кадры.
// При ошибке частично записанный файл удаляется.
func WriteWAVFile(path string, f Frames, sampleRate int) (err error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	defer func() {
		if cerr := file.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close wav: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()
	return EncodeWAV(file, f, sampleRate)
}
