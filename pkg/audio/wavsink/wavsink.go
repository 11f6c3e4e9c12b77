// Package wavsink persists finished recordings as 16-bit PCM WAV files.
package wavsink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/clearmic/clearmic/pkg/audio"
)

// Sink writes each recording to a timestamped file in a directory. It
// implements [audio.Encoder].
type Sink struct {
	dir string

	// now is overridable for tests.
	now func() time.Time
}

var _ audio.Encoder = (*Sink)(nil)

// New creates a sink writing into dir. The directory must already exist.
func New(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

// Encode writes samples as a mono 16-bit WAV file. Samples outside [-1, 1]
// are clamped. The file is written atomically: a partial write never leaves
// a truncated .wav behind.
func (s *Sink) Encode(ctx context.Context, samples []float32, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	name := fmt.Sprintf("rec-%s.wav", s.now().Format("20060102-150405.000"))
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("wavsink: create %q: %w", tmp, err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &gaudio.IntBuffer{
		Format: &gaudio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		buf.Data[i] = int(clamp16(v))
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("wavsink: write %q: %w", tmp, err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("wavsink: finalize %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wavsink: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("wavsink: rename to %q: %w", final, err)
	}
	return nil
}

func clamp16(v float32) int16 {
	scaled := v * 32767
	switch {
	case scaled > 32767:
		return 32767
	case scaled < -32768:
		return -32768
	default:
		return int16(scaled)
	}
}
