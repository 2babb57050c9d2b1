package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override secrets from the config file.
const (
	EnvDeepgramAPIKey    = "DEEPGRAM_API_KEY"
	EnvDeepgramProjectID = "DEEPGRAM_PROJECT_ID"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvJWTSecret         = "BLINK_JWT_SECRET"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr      = ":8080"
	DefaultDeepgramAPIURL  = "https://api.deepgram.com"
	DefaultListenURL       = "wss://api.deepgram.com/v1/listen"
	DefaultLanguage        = "en"
	DefaultKeyTTL          = 60 * time.Second
	DefaultSessionTTL      = 30 * 24 * time.Hour
	DefaultBcryptCost      = 10
	DefaultCookieName      = "blink_session"
	DefaultTypingIdle      = 400 * time.Millisecond
	DefaultEventBuffer     = 32
	DefaultMaxKeyterms     = 100
	DefaultTopicSegments   = "blink.segments"
	DefaultTopicDictations = "blink.dictations"
	DefaultServiceName     = "blink"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies environment overrides
// and defaults, and validates the result. An empty document yields the
// default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg, os.LookupEnv)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets in cfg with the environment variables reported
// by lookup. Variables that are unset or empty leave the file value alone.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&cfg.Deepgram.APIKey, EnvDeepgramAPIKey)
	set(&cfg.Deepgram.ProjectID, EnvDeepgramProjectID)
	set(&cfg.Database.PostgresDSN, EnvDatabaseURL)
	set(&cfg.Auth.JWTSecret, EnvJWTSecret)
}

// ApplyDefaults fills zero values with their defaults.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Deepgram.APIURL, DefaultDeepgramAPIURL)
	setDefault(&cfg.Deepgram.ListenURL, DefaultListenURL)
	setDefault(&cfg.Deepgram.DefaultModel, ModelNova2)
	setDefault(&cfg.Deepgram.Language, DefaultLanguage)
	setDefault(&cfg.Deepgram.KeyTTL, DefaultKeyTTL)

	setDefault(&cfg.Auth.SessionTTL, DefaultSessionTTL)
	setDefault(&cfg.Auth.BcryptCost, DefaultBcryptCost)
	setDefault(&cfg.Auth.CookieName, DefaultCookieName)

	setDefault(&cfg.Dictation.TypingIdle, DefaultTypingIdle)
	setDefault(&cfg.Dictation.EventBuffer, DefaultEventBuffer)
	setDefault(&cfg.Dictation.MaxKeyterms, DefaultMaxKeyterms)

	setDefault(&cfg.Events.TopicSegments, DefaultTopicSegments)
	setDefault(&cfg.Events.TopicDictations, DefaultTopicDictations)
	setDefault(&cfg.Events.Principal, DefaultServiceName)

	setDefault(&cfg.Telemetry.ServiceName, DefaultServiceName)
}

func setDefault[T comparable](dst *T, def T) {
	var zero T
	if *dst == zero {
		*dst = def
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Deepgram
	if cfg.Deepgram.DefaultModel != "" && !cfg.Deepgram.DefaultModel.IsValid() {
		errs = append(errs, fmt.Errorf("deepgram.default_model %q is invalid; valid values: nova-2, nova-3", cfg.Deepgram.DefaultModel))
	}
	if cfg.Deepgram.KeyTTL < 0 {
		errs = append(errs, fmt.Errorf("deepgram.key_ttl %s must not be negative", cfg.Deepgram.KeyTTL))
	}
	if cfg.Deepgram.APIKey == "" {
		slog.Warn("deepgram.api_key is empty; live transcription is unavailable")
	} else if cfg.Deepgram.ProjectID == "" {
		slog.Warn("deepgram.project_id is empty; browser keys cannot be minted")
	}

	// Database
	if cfg.Database.PostgresDSN == "" {
		slog.Warn("database.postgres_dsn is empty; data is kept in memory only")
	}

	// Auth
	if cost := cfg.Auth.BcryptCost; cost != 0 && (cost < 4 || cost > 31) {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost %d is out of range [4, 31]", cost))
	}
	if cfg.Auth.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("auth.session_ttl %s must not be negative", cfg.Auth.SessionTTL))
	}
	if s := cfg.Auth.JWTSecret; s != "" && len(s) < 16 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 16 bytes"))
	}

	// Dictation
	if cfg.Dictation.TypingIdle < 0 {
		errs = append(errs, fmt.Errorf("dictation.typing_idle %s must not be negative", cfg.Dictation.TypingIdle))
	}
	if cfg.Dictation.EventBuffer < 0 {
		errs = append(errs, fmt.Errorf("dictation.event_buffer %d must not be negative", cfg.Dictation.EventBuffer))
	}
	if n := cfg.Dictation.MaxKeyterms; n < 0 || n > DefaultMaxKeyterms {
		errs = append(errs, fmt.Errorf("dictation.max_keyterms %d is out of range [0, %d]", n, DefaultMaxKeyterms))
	}

	// Events
	if cfg.Events.Enabled {
		if len(cfg.Events.Brokers) == 0 {
			errs = append(errs, errors.New("events.brokers is required when events are enabled"))
		}
		if cfg.Events.TopicSegments == "" || cfg.Events.TopicDictations == "" {
			errs = append(errs, errors.New("events.topic_segments and events.topic_dictations are required when events are enabled"))
		}
	}

	return errors.Join(errs...)
}
