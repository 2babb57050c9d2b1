// Package config provides the configuration schema and loader for the Blink
// dictation server.
package config

import "time"

// LogLevel controls log verbosity for the Blink server.
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

// Model names a Deepgram model family accepted for live dictation.
type Model string

const (
	ModelNova2 Model = "nova-2"
	ModelNova3 Model = "nova-3"
)

// IsValid reports whether m is a supported model.
func (m Model) IsValid() bool {
	return m == ModelNova2 || m == ModelNova3
}

// Config is the root configuration structure for Blink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Deepgram  DeepgramConfig  `yaml:"deepgram"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Dictation DictationConfig `yaml:"dictation"`
	Events    EventsConfig    `yaml:"events"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings for the HTTP server.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// DeepgramConfig holds the credentials and endpoints of the speech
// recogniser. APIKey and ProjectID are usually supplied through the
// DEEPGRAM_API_KEY and DEEPGRAM_PROJECT_ID environment variables.
type DeepgramConfig struct {
	APIKey    string `yaml:"api_key"`
	ProjectID string `yaml:"project_id"`

	// APIURL is the management API base used to mint browser keys.
	APIURL string `yaml:"api_url"`

	// ListenURL is the streaming endpoint used by server-side sessions.
	ListenURL string `yaml:"listen_url"`

	// DefaultModel is used when a user has not picked a model.
	DefaultModel Model `yaml:"default_model"`

	Language string `yaml:"language"`

	// KeyTTL is the lifetime of minted browser keys.
	KeyTTL time.Duration `yaml:"key_ttl"`
}

// DatabaseConfig selects the persistence backend. An empty PostgresDSN
// runs Blink on the in-memory store.
type DatabaseConfig struct {
	PostgresDSN string `yaml:"postgres_dsn"`
}

// AuthConfig configures password hashing and session cookies.
type AuthConfig struct {
	// JWTSecret signs session tokens. When empty a random secret is
	// generated at startup and sessions do not survive restarts.
	JWTSecret string `yaml:"jwt_secret"`

	SessionTTL   time.Duration `yaml:"session_ttl"`
	BcryptCost   int           `yaml:"bcrypt_cost"`
	CookieName   string        `yaml:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

// DictationConfig tunes live dictation sessions.
type DictationConfig struct {
	// TypingIdle is how long recogniser output is withheld after the
	// user's last keystroke.
	TypingIdle time.Duration `yaml:"typing_idle"`

	// EventBuffer sizes the per-session command and event queues.
	EventBuffer int `yaml:"event_buffer"`

	// PhoneticCorrection rewrites final segments towards the user's
	// dictionary phrases.
	PhoneticCorrection bool `yaml:"phonetic_correction"`

	// MaxKeyterms caps the keyterms sent to the recogniser per session.
	MaxKeyterms int `yaml:"max_keyterms"`
}

// EventsConfig configures Kafka publishing of dictation events.
type EventsConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Brokers         []string `yaml:"brokers"`
	TopicSegments   string   `yaml:"topic_segments"`
	TopicDictations string   `yaml:"topic_dictations"`
	Principal       string   `yaml:"principal"`
}

// TelemetryConfig configures OpenTelemetry resource attributes.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`
}
