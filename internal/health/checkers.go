package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// OutputDir returns a checker that verifies the recording output directory
// exists and is writable. It probes by creating and removing a temp file so
// permission problems surface in /readyz before a recording fails at encode
// time.
func OutputDir(dir string) Checker {
	return Checker{
		Name: "output_dir",
		Check: func(_ context.Context) error {
			info, err := os.Stat(dir)
			if err != nil {
				return fmt.Errorf("stat %q: %w", dir, err)
			}
			if !info.IsDir() {
				return fmt.Errorf("%q is not a directory", dir)
			}
			f, err := os.CreateTemp(dir, ".readyz-*")
			if err != nil {
				return fmt.Errorf("directory %q not writable: %w", dir, err)
			}
			name := f.Name()
			f.Close()
			return os.Remove(filepath.Clean(name))
		},
	}
}

// Recorder returns a checker that reports the recorder's current state. The
// recorder is considered ready in any state; the state string is surfaced in
// the checks map for operators. A nil state func fails the check.
func Recorder(state func() string) Checker {
	return Checker{
		Name: "recorder",
		Check: func(_ context.Context) error {
			if state == nil {
				return fmt.Errorf("recorder not wired")
			}
			_ = state()
			return nil
		},
	}
}

// Capture returns a checker that probes whether the configured capture
// backend can be opened. The probe func should be cheap; it is called on
// every /readyz request.
func Capture(probe func(ctx context.Context) error) Checker {
	return Checker{
		Name: "capture",
		Check: func(ctx context.Context) error {
			if probe == nil {
				return fmt.Errorf("capture backend not wired")
			}
			return probe(ctx)
		},
	}
}
