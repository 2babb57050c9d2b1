package config

import (
	"slices"
	"time"
)

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; everything else
// takes effect on restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	TypingIdleChanged bool
	NewTypingIdle     time.Duration

	PhoneticCorrectionChanged bool
	NewPhoneticCorrection     bool

	MaxKeytermsChanged bool
	NewMaxKeyterms     int

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// Empty reports whether d carries no change at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.TypingIdleChanged &&
		!d.PhoneticCorrectionChanged && !d.MaxKeytermsChanged &&
		len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Dictation.TypingIdle != new.Dictation.TypingIdle {
		d.TypingIdleChanged = true
		d.NewTypingIdle = new.Dictation.TypingIdle
	}
	if old.Dictation.PhoneticCorrection != new.Dictation.PhoneticCorrection {
		d.PhoneticCorrectionChanged = true
		d.NewPhoneticCorrection = new.Dictation.PhoneticCorrection
	}
	if old.Dictation.MaxKeyterms != new.Dictation.MaxKeyterms {
		d.MaxKeytermsChanged = true
		d.NewMaxKeyterms = new.Dictation.MaxKeyterms
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || !sameTLS(old.Server.TLS, new.Server.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Deepgram != new.Deepgram {
		d.RestartRequired = append(d.RestartRequired, "deepgram")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if old.Auth != new.Auth {
		d.RestartRequired = append(d.RestartRequired, "auth")
	}
	if !sameEvents(old.Events, new.Events) {
		d.RestartRequired = append(d.RestartRequired, "events")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}

func sameTLS(a, b *TLSConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameEvents(a, b EventsConfig) bool {
	return a.Enabled == b.Enabled &&
		a.TopicSegments == b.TopicSegments &&
		a.TopicDictations == b.TopicDictations &&
		a.Principal == b.Principal &&
		slices.Equal(a.Brokers, b.Brokers)
}
