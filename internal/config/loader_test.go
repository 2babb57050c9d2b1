package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/blink/internal/config"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
  tls:
    cert_file: /etc/blink/cert.pem
    key_file: /etc/blink/key.pem
deepgram:
  api_key: dg-key
  project_id: proj-1
  default_model: nova-3
  key_ttl: 90s
database:
  postgres_dsn: postgres://blink@localhost/blink
auth:
  jwt_secret: 0123456789abcdef0123
  session_ttl: 12h
  bcrypt_cost: 12
  secure_cookie: true
dictation:
  typing_idle: 250ms
  phonetic_correction: true
  max_keyterms: 40
events:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]
telemetry:
  service_name: blink-test
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Server.TLS == nil || cfg.Server.TLS.KeyFile != "/etc/blink/key.pem" {
		t.Errorf("tls = %+v", cfg.Server.TLS)
	}
	if cfg.Deepgram.DefaultModel != config.ModelNova3 || cfg.Deepgram.KeyTTL != 90*time.Second {
		t.Errorf("deepgram = %+v", cfg.Deepgram)
	}
	if cfg.Auth.SessionTTL != 12*time.Hour || cfg.Auth.BcryptCost != 12 || !cfg.Auth.SecureCookie {
		t.Errorf("auth = %+v", cfg.Auth)
	}
	if cfg.Dictation.TypingIdle != 250*time.Millisecond || !cfg.Dictation.PhoneticCorrection || cfg.Dictation.MaxKeyterms != 40 {
		t.Errorf("dictation = %+v", cfg.Dictation)
	}
	if !cfg.Events.Enabled || len(cfg.Events.Brokers) != 2 {
		t.Errorf("events = %+v", cfg.Events)
	}
	// Unset values still receive defaults.
	if cfg.Events.TopicSegments != config.DefaultTopicSegments {
		t.Errorf("topic_segments = %q, want default", cfg.Events.TopicSegments)
	}
	if cfg.Auth.CookieName != config.DefaultCookieName {
		t.Errorf("cookie_name = %q, want default", cfg.Auth.CookieName)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"listen_addr", cfg.Server.ListenAddr, config.DefaultListenAddr},
		{"log_level", cfg.Server.LogLevel, config.LogInfo},
		{"api_url", cfg.Deepgram.APIURL, config.DefaultDeepgramAPIURL},
		{"listen_url", cfg.Deepgram.ListenURL, config.DefaultListenURL},
		{"default_model", cfg.Deepgram.DefaultModel, config.ModelNova2},
		{"language", cfg.Deepgram.Language, "en"},
		{"key_ttl", cfg.Deepgram.KeyTTL, 60 * time.Second},
		{"session_ttl", cfg.Auth.SessionTTL, config.DefaultSessionTTL},
		{"bcrypt_cost", cfg.Auth.BcryptCost, config.DefaultBcryptCost},
		{"typing_idle", cfg.Dictation.TypingIdle, 400 * time.Millisecond},
		{"event_buffer", cfg.Dictation.EventBuffer, config.DefaultEventBuffer},
		{"max_keyterms", cfg.Dictation.MaxKeyterms, 100},
		{"service_name", cfg.Telemetry.ServiceName, "blink"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  listen_adr: \":1\"\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantErr: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: a.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "unsupported model",
			yaml:    "deepgram:\n  default_model: whisper\n",
			wantErr: "deepgram.default_model",
		},
		{
			name:    "bcrypt cost too high",
			yaml:    "auth:\n  bcrypt_cost: 40\n",
			wantErr: "auth.bcrypt_cost",
		},
		{
			name:    "short jwt secret",
			yaml:    "auth:\n  jwt_secret: short\n",
			wantErr: "auth.jwt_secret",
		},
		{
			name:    "negative typing idle",
			yaml:    "dictation:\n  typing_idle: -1s\n",
			wantErr: "dictation.typing_idle",
		},
		{
			name:    "too many keyterms",
			yaml:    "dictation:\n  max_keyterms: 500\n",
			wantErr: "dictation.max_keyterms",
		},
		{
			name:    "events without brokers",
			yaml:    "events:\n  enabled: true\n",
			wantErr: "events.brokers",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
auth:
  bcrypt_cost: 2
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "server.log_level") || !strings.Contains(errStr, "auth.bcrypt_cost") {
		t.Errorf("error should list both failures, got: %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		config.EnvDeepgramAPIKey:    "env-key",
		config.EnvDeepgramProjectID: "",
		config.EnvDatabaseURL:       "postgres://env",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &config.Config{}
	cfg.Deepgram.APIKey = "file-key"
	cfg.Deepgram.ProjectID = "file-project"
	cfg.Auth.JWTSecret = "file-secret"

	config.ApplyEnv(cfg, lookup)

	if cfg.Deepgram.APIKey != "env-key" {
		t.Errorf("api_key = %q, want env-key", cfg.Deepgram.APIKey)
	}
	if cfg.Deepgram.ProjectID != "file-project" {
		t.Errorf("empty env var overrode project_id: %q", cfg.Deepgram.ProjectID)
	}
	if cfg.Database.PostgresDSN != "postgres://env" {
		t.Errorf("postgres_dsn = %q", cfg.Database.PostgresDSN)
	}
	if cfg.Auth.JWTSecret != "file-secret" {
		t.Errorf("unset env var overrode jwt_secret: %q", cfg.Auth.JWTSecret)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "blink.yaml")
	if err := os.WriteFile(path, []byte("server:\n  listen_addr: \":7000\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != ":7000" {
		t.Errorf("listen_addr = %q", cfg.Server.ListenAddr)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load of missing file succeeded")
	}
}
