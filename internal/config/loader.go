package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/clearmic/clearmic/internal/recorder"
	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

// validate holds the shared struct validator for range tags.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Unknown YAML keys are rejected. Useful in tests
// where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("config: %s fails %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("config: server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if p := mixer.Policy(cfg.Capture.MixerPolicy); !p.IsValid() {
		errs = append(errs, fmt.Errorf("config: capture.mixer_policy %q is invalid; valid values: %s, %s",
			cfg.Capture.MixerPolicy, mixer.PolicyAverageAll, mixer.PolicyFirstTwo))
	}
	switch recorder.Mode(cfg.Recorder.Mode) {
	case recorder.ModeManual, recorder.ModeListening:
	default:
		errs = append(errs, fmt.Errorf("config: recorder.mode %q is invalid; valid values: manual, listening", cfg.Recorder.Mode))
	}
	if cfg.Denoise.Hop > 0 && cfg.Denoise.FrameLen%cfg.Denoise.Hop != 0 {
		errs = append(errs, fmt.Errorf("config: denoise.hop %d must evenly divide denoise.frame_len %d",
			cfg.Denoise.Hop, cfg.Denoise.FrameLen))
	}
	switch cfg.Output.Encoder {
	case "wav", "opus", "none":
	default:
		errs = append(errs, fmt.Errorf("config: output.encoder %q is invalid; valid values: wav, opus, none", cfg.Output.Encoder))
	}

	return errors.Join(errs...)
}
