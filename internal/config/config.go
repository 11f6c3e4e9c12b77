// Package config provides the configuration schema, loader, adapter
// registry, and file watcher for the clearmic capture service.
package config

import (
	"time"

	"github.com/clearmic/clearmic/internal/recorder"
	"github.com/clearmic/clearmic/pkg/dsp/mixer"
)

// LogLevel controls log verbosity for the clearmic service.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for clearmic. It is typically
// loaded from a YAML file using [Load] or [LoadFromReader]. Every numeric
// field has a documented default and a validated range; zero values take
// the default.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Capture  CaptureConfig  `yaml:"capture"`
	Filter   FilterConfig   `yaml:"filter"`
	Denoise  DenoiseConfig  `yaml:"denoise"`
	AGC      AGCConfig      `yaml:"agc"`
	Recorder RecorderConfig `yaml:"recorder"`
	Output   OutputConfig   `yaml:"output"`
}

// ServerConfig holds the admin endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address serving /metrics, /healthz and /readyz
	// (e.g. ":9090"). Empty disables the admin server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info".
	LogLevel LogLevel `yaml:"log_level"`
}

// CaptureConfig holds device and front-of-chain settings.
type CaptureConfig struct {
	// Source selects the capture adapter registered in the [Registry]
	// (e.g. "malgo", "mock"). Default "malgo".
	Source string `yaml:"source"`

	// TargetRate is the output sample rate of the enhancement chain in Hz.
	// Default 16000. Range [8000, 48000].
	TargetRate int `yaml:"target_rate" validate:"omitempty,gte=8000,lte=48000"`

	// BufferSeconds sizes the capture ring buffer at the target rate.
	// Default 300. Range [1, 3600].
	BufferSeconds int `yaml:"buffer_seconds" validate:"omitempty,gte=1,lte=3600"`

	// MixerPolicy selects the downmix behaviour for devices with more than
	// two channels: "average-all" (default) or "first-two".
	MixerPolicy string `yaml:"mixer_policy"`
}

// FilterConfig holds the preprocessing stage settings.
type FilterConfig struct {
	// HighpassCutoffHz is the rumble filter corner frequency. Default 80.
	// Range [20, 500].
	HighpassCutoffHz float64 `yaml:"highpass_cutoff_hz" validate:"omitempty,gte=20,lte=500"`

	// PreemphasisAlpha is the pre-emphasis coefficient. Default 0.97.
	// Range (0, 1).
	PreemphasisAlpha float64 `yaml:"preemphasis_alpha" validate:"omitempty,gt=0,lt=1"`

	// BypassHighpass disables the highpass while keeping the chain shape.
	BypassHighpass bool `yaml:"bypass_highpass"`

	// BypassPreemphasis disables the pre-emphasis filter.
	BypassPreemphasis bool `yaml:"bypass_preemphasis"`
}

// DenoiseConfig holds the noise suppressor settings.
type DenoiseConfig struct {
	// FrameLen is the analysis frame length in samples. Default 512.
	// Must be a multiple of Hop. Range [64, 4096].
	FrameLen int `yaml:"frame_len" validate:"omitempty,gte=64,lte=4096"`

	// Hop is the frame advance per run. Default 128. Range [16, 1024].
	Hop int `yaml:"hop" validate:"omitempty,gte=16,lte=1024"`

	// Disabled turns the suppressor into bit-identical passthrough.
	Disabled bool `yaml:"disabled"`
}

// AGCConfig holds the gain control settings.
type AGCConfig struct {
	// TargetDb is the desired RMS level in dBFS. Default -12. Range [-40, 0].
	TargetDb float64 `yaml:"target_db" validate:"omitempty,gte=-40,lte=0"`

	// MaxGainDb caps amplification. Default 20. Range [0, 40].
	MaxGainDb float64 `yaml:"max_gain_db" validate:"omitempty,gte=0,lte=40"`

	// AttackMs is the envelope attack time. Default 10. Range [1, 100].
	AttackMs float64 `yaml:"attack_ms" validate:"omitempty,gte=1,lte=100"`

	// ReleaseMs is the envelope release time. Default 150. Range [50, 1000].
	ReleaseMs float64 `yaml:"release_ms" validate:"omitempty,gte=50,lte=1000"`

	// CeilingDb is the soft-limiter engagement point in dBFS. Default -3.
	// Range [-12, 0].
	CeilingDb float64 `yaml:"ceiling_db" validate:"omitempty,gte=-12,lte=0"`

	// Disabled turns the stage into bit-identical passthrough.
	Disabled bool `yaml:"disabled"`
}

// RecorderConfig holds the coordinator settings.
type RecorderConfig struct {
	// Mode selects the resting state: "manual" (default) or "listening".
	Mode string `yaml:"mode"`

	// DoubleTapWindowMs is the press-collapse interval. Default 300.
	// Range [50, 2000].
	DoubleTapWindowMs int `yaml:"double_tap_window_ms" validate:"omitempty,gte=50,lte=2000"`

	// QuiesceTimeoutMs bounds the wait for capture shutdown. Default 1000.
	// Range [100, 10000].
	QuiesceTimeoutMs int `yaml:"quiesce_timeout_ms" validate:"omitempty,gte=100,lte=10000"`

	// ReconnectAttempts bounds device recovery mid-recording. Default 3.
	// Range [1, 10].
	ReconnectAttempts int `yaml:"reconnect_attempts" validate:"omitempty,gte=1,lte=10"`

	// ReconnectDelayMs is the pause between reconnect attempts. Default 250.
	// Range [10, 5000].
	ReconnectDelayMs int `yaml:"reconnect_delay_ms" validate:"omitempty,gte=10,lte=5000"`
}

// OutputConfig selects where finished recordings go.
type OutputConfig struct {
	// Encoder selects the sink registered in the [Registry]: "wav"
	// (default), "opus", or "none".
	Encoder string `yaml:"encoder"`

	// Directory is where recordings are written. Default ".".
	Directory string `yaml:"directory"`
}

// ApplyDefaults fills in the documented default for every zero field.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = "localhost:9090"
	}
	if c.Capture.Source == "" {
		c.Capture.Source = "malgo"
	}
	if c.Capture.TargetRate == 0 {
		c.Capture.TargetRate = 16000
	}
	if c.Capture.BufferSeconds == 0 {
		c.Capture.BufferSeconds = 300
	}
	if c.Capture.MixerPolicy == "" {
		c.Capture.MixerPolicy = string(mixer.PolicyAverageAll)
	}
	if c.Filter.HighpassCutoffHz == 0 {
		c.Filter.HighpassCutoffHz = 80
	}
	if c.Filter.PreemphasisAlpha == 0 {
		c.Filter.PreemphasisAlpha = 0.97
	}
	if c.Denoise.FrameLen == 0 {
		c.Denoise.FrameLen = 512
	}
	if c.Denoise.Hop == 0 {
		c.Denoise.Hop = 128
	}
	if c.AGC.TargetDb == 0 {
		c.AGC.TargetDb = -12
	}
	if c.AGC.MaxGainDb == 0 {
		c.AGC.MaxGainDb = 20
	}
	if c.AGC.AttackMs == 0 {
		c.AGC.AttackMs = 10
	}
	if c.AGC.ReleaseMs == 0 {
		c.AGC.ReleaseMs = 150
	}
	if c.AGC.CeilingDb == 0 {
		c.AGC.CeilingDb = -3
	}
	if c.Recorder.Mode == "" {
		c.Recorder.Mode = string(recorder.ModeManual)
	}
	if c.Recorder.DoubleTapWindowMs == 0 {
		c.Recorder.DoubleTapWindowMs = 300
	}
	if c.Recorder.QuiesceTimeoutMs == 0 {
		c.Recorder.QuiesceTimeoutMs = 1000
	}
	if c.Recorder.ReconnectAttempts == 0 {
		c.Recorder.ReconnectAttempts = 3
	}
	if c.Recorder.ReconnectDelayMs == 0 {
		c.Recorder.ReconnectDelayMs = 250
	}
	if c.Output.Encoder == "" {
		c.Output.Encoder = "wav"
	}
	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
}

// DoubleTapWindow returns the configured window as a duration.
func (c *RecorderConfig) DoubleTapWindow() time.Duration {
	return time.Duration(c.DoubleTapWindowMs) * time.Millisecond
}

// QuiesceTimeout returns the configured timeout as a duration.
func (c *RecorderConfig) QuiesceTimeout() time.Duration {
	return time.Duration(c.QuiesceTimeoutMs) * time.Millisecond
}

// ReconnectDelay returns the configured delay as a duration.
func (c *RecorderConfig) ReconnectDelay() time.Duration {
	return time.Duration(c.ReconnectDelayMs) * time.Millisecond
}
