package app_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/blink/internal/app"
	"github.com/MrWong99/blink/internal/config"
	"github.com/MrWong99/blink/internal/store"
	"github.com/MrWong99/blink/pkg/provider/stt/deepgram"
	"github.com/MrWong99/blink/pkg/provider/stt/mock"
)

type staticMinter struct{}

func (staticMinter) Mint(context.Context, string) (deepgram.EphemeralKey, error) {
	return deepgram.EphemeralKey{Key: "k", TTL: 60}, nil
}

// testConfig returns a config with defaults applied and no external
// services.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server: config.ServerConfig{
			ListenAddr: "127.0.0.1:0",
			LogLevel:   config.LogInfo,
		},
		Auth: config.AuthConfig{
			JWTSecret:  "app-test-secret",
			BcryptCost: 4,
		},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newTestApp(t *testing.T, opts ...app.Option) *app.App {
	t.Helper()
	opts = append([]app.Option{
		app.WithStore(store.NewMemStore()),
		app.WithSTT(&mock.Provider{}),
		app.WithKeyMinter(staticMinter{}),
	}, opts...)
	a, err := app.New(context.Background(), testConfig(), opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_WithInjectedDependencies(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	if a.Handler() == nil {
		t.Fatal("Handler() returned nil")
	}
	if a.Sessions().Count() != 0 {
		t.Errorf("Sessions().Count() = %d, want 0", a.Sessions().Count())
	}
}

func TestNew_WithoutDatabaseUsesMemoryStore(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), testConfig(), app.WithKeyMinter(staticMinter{}))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer a.Shutdown(context.Background())

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("readyz status = %d, want 200", resp.StatusCode)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{"health summary", http.MethodGet, "/api/health", "", http.StatusOK, `"hasDatabaseUrl":false`},
		{"liveness", http.MethodGet, "/healthz", "", http.StatusOK, `"ok"`},
		{"metrics", http.MethodGet, "/metrics", "", http.StatusOK, ""},
		{"register", http.MethodPost, "/api/auth/register", `{"name":"Lin","email":"lin@example.com","password":"secret123"}`, http.StatusCreated, `"email":"lin@example.com"`},
		{"protected", http.MethodGet, "/api/dictations", "", http.StatusUnauthorized, `"Unauthorized"`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, strings.NewReader(tc.body))
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatalf("%s %s: %v", tc.method, tc.path, err)
			}
			defer resp.Body.Close()
			data, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != tc.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", resp.StatusCode, tc.wantStatus, data)
			}
			if !strings.Contains(string(data), tc.wantBody) {
				t.Errorf("body %s does not contain %s", data, tc.wantBody)
			}
		})
	}
}

func TestHandler_HealthSummaryFacts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(newTestApp(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatalf("GET /api/health: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["eventsEnabled"] != false || body["hasDeepgramKey"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	a := newTestApp(t, app.WithListener(ln))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(3 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestApplyConfig_DoesNotPanic(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	old := testConfig()
	updated := testConfig()
	updated.Dictation.TypingIdle = 900 * time.Millisecond
	updated.Dictation.PhoneticCorrection = !old.Dictation.PhoneticCorrection
	updated.Dictation.MaxKeyterms = 20
	updated.Server.ListenAddr = ":9999"

	d := config.Diff(old, updated)
	if !d.TypingIdleChanged || !d.PhoneticCorrectionChanged || !d.MaxKeytermsChanged {
		t.Fatalf("diff = %+v, want hot-reloadable changes", d)
	}
	a.ApplyConfig(d)
}

func TestShutdown_Idempotent(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx := context.Background()
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("first Shutdown() error: %v", err)
	}
	if err := a.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown() error: %v", err)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := a.Shutdown(ctx); err == nil {
		t.Error("Shutdown() with cancelled context should return an error")
	}
}
