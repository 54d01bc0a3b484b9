package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// needs a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	BackendChanged bool
	NewBackend     SpeechBackend

	// RestartRequired lists the sections that changed but cannot be applied
	// to a running session.
	RestartRequired []string
}

// Changed reports whether anything differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.BackendChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Log.Level != new.Log.Level {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Log.Level
	}
	if old.Speech.Backend != new.Speech.Backend {
		d.BackendChanged = true
		d.NewBackend = new.Speech.Backend
	}

	if old.Endpoints != new.Endpoints {
		d.RestartRequired = append(d.RestartRequired, "endpoints")
	}
	if old.Stream != new.Stream {
		d.RestartRequired = append(d.RestartRequired, "stream")
	}
	if old.Chat != new.Chat {
		d.RestartRequired = append(d.RestartRequired, "chat")
	}
	if speechRest(old.Speech) != speechRest(new.Speech) {
		d.RestartRequired = append(d.RestartRequired, "speech")
	}
	if !audioEqual(old.Audio, new.Audio) {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Health != new.Health {
		d.RestartRequired = append(d.RestartRequired, "health")
	}
	if old.Debug != new.Debug {
		d.RestartRequired = append(d.RestartRequired, "debug")
	}
	return d
}

// speechRest is the speech section without the hot-reloadable backend.
func speechRest(s SpeechConfig) SpeechConfig {
	s.Backend = ""
	return s
}

func audioEqual(a, b AudioConfig) bool {
	return a.SampleRate == b.SampleRate &&
		a.BufferSize == b.BufferSize &&
		a.DeviceRate == b.DeviceRate &&
		slices.Equal(a.CaptureCommand, b.CaptureCommand) &&
		slices.Equal(a.PlayerCommand, b.PlayerCommand)
}
