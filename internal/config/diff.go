package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the service are tracked: the log level
// takes effect immediately, the rest on the next recording session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AGCChanged is true when any gain-control setting differs.
	AGCChanged bool

	// FilterChanged is true when any preprocessing setting differs.
	FilterChanged bool

	// RecorderChanged is true when the double-tap window, quiesce timeout,
	// or reconnect budget differs.
	RecorderChanged bool

	// OutputChanged is true when the encoder selection or directory differs.
	OutputChanged bool
}

// Any reports whether the diff contains any change at all.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.AGCChanged || d.FilterChanged || d.RecorderChanged || d.OutputChanged
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart; capture-device and buffer
// settings are deliberately ignored because they require re-opening the
// device.
func Diff(oldCfg, newCfg *Config) ConfigDiff {
	d := ConfigDiff{}

	if oldCfg.Server.LogLevel != newCfg.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = newCfg.Server.LogLevel
	}
	if oldCfg.AGC != newCfg.AGC {
		d.AGCChanged = true
	}
	if oldCfg.Filter != newCfg.Filter {
		d.FilterChanged = true
	}
	if oldCfg.Recorder != newCfg.Recorder {
		d.RecorderChanged = true
	}
	if oldCfg.Output != newCfg.Output {
		d.OutputChanged = true
	}

	return d
}
