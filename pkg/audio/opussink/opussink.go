// Package opussink persists finished recordings as Opus packet streams.
//
// The on-disk format is a flat sequence of length-prefixed packets: a 2-byte
// little-endian payload length followed by the raw Opus packet. Each packet
// carries one 20 ms frame. The format carries no container metadata; the
// sample rate is fixed by convention at the pipeline target rate.
package opussink

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"layeh.com/gopus"

	"github.com/clearmic/clearmic/pkg/audio"
)

const (
	frameMs = 20

	// maxPacketBytes is the Opus maximum packet size.
	maxPacketBytes = 1275
)

// Sink writes each recording to a timestamped .opus file in a directory. It
// implements [audio.Encoder].
type Sink struct {
	dir string

	now func() time.Time
}

var _ audio.Encoder = (*Sink)(nil)

// New creates a sink writing into dir. The directory must already exist.
func New(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

// Encode compresses samples as mono Opus in voice mode and writes the packet
// stream atomically. The final partial frame is zero-padded to a full 20 ms.
func (s *Sink) Encode(ctx context.Context, samples []float32, sampleRate int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return fmt.Errorf("opussink: create encoder: %w", err)
	}

	name := fmt.Sprintf("rec-%s.opus", s.now().Format("20060102-150405.000"))
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("opussink: create %q: %w", tmp, err)
	}
	w := bufio.NewWriter(f)

	frameSize := sampleRate * frameMs / 1000
	pcm := make([]int16, frameSize)
	for off := 0; off < len(samples); off += frameSize {
		end := off + frameSize
		if end > len(samples) {
			end = len(samples)
		}
		n := copy(pcm, floatToInt16(samples[off:end]))
		for i := n; i < frameSize; i++ {
			pcm[i] = 0
		}

		packet, err := enc.Encode(pcm, frameSize, maxPacketBytes)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("opussink: encode frame at %d: %w", off, err)
		}
		if err := writePacket(w, packet); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("opussink: write %q: %w", tmp, err)
		}
	}

	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("opussink: flush %q: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("opussink: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("opussink: rename to %q: %w", final, err)
	}
	return nil
}

func writePacket(w *bufio.Writer, packet []byte) error {
	var hdr [2]byte
	binary.LittleEndian.PutUint16(hdr[:], uint16(len(packet)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := w.Write(packet)
	return err
}

func floatToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, v := range samples {
		scaled := v * 32767
		switch {
		case scaled > 32767:
			out[i] = 32767
		case scaled < -32768:
			out[i] = -32768
		default:
			out[i] = int16(scaled)
		}
	}
	return out
}
