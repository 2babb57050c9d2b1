// Package app wires all Blink subsystems into a running HTTP server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject test doubles via functional options (WithStore,
// WithSTT, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/blink/internal/api"
	"github.com/MrWong99/blink/internal/auth"
	"github.com/MrWong99/blink/internal/config"
	"github.com/MrWong99/blink/internal/events"
	"github.com/MrWong99/blink/internal/health"
	"github.com/MrWong99/blink/internal/observe"
	"github.com/MrWong99/blink/internal/resilience"
	"github.com/MrWong99/blink/internal/store"
	"github.com/MrWong99/blink/internal/transcript"
	"github.com/MrWong99/blink/internal/transcript/phonetic"
	"github.com/MrWong99/blink/pkg/provider/stt"
	"github.com/MrWong99/blink/pkg/provider/stt/deepgram"
)

const (
	readHeaderTimeout = 10 * time.Second
	breakerFailures   = 5
	breakerReset      = 30 * time.Second
)

// App owns all subsystem lifetimes and serves the Blink API.
type App struct {
	cfg     *config.Config
	metrics *observe.Metrics

	// Subsystems: initialised in New, torn down in Shutdown.
	store     store.Store
	auth      *auth.Manager
	stt       stt.Provider
	keys      api.KeyMinter
	publisher *events.Publisher
	sessions  *SessionManager
	api       *api.Server
	health    *health.Handler
	breakers  []*resilience.CircuitBreaker
	handler   http.Handler
	server    *http.Server
	listener  net.Listener

	// baseCtx is the parent of every request context. Cancelling it ends
	// hijacked WebSocket connections, which http.Server.Shutdown ignores.
	baseCtx    context.Context
	cancelBase context.CancelFunc

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a store instead of connecting to PostgreSQL.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithSTT injects a speech recogniser instead of creating a Deepgram client.
func WithSTT(p stt.Provider) Option {
	return func(a *App) { a.stt = p }
}

// WithKeyMinter injects the browser key minter.
func WithKeyMinter(k api.KeyMinter) Option {
	return func(a *App) { a.keys = k }
}

// WithPublisher injects the event publisher instead of creating Kafka writers.
func WithPublisher(p *events.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithMetrics injects the metrics instruments instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: database connection and
// migration, auth setup, recogniser clients, event publisher and HTTP
// routing.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	a.baseCtx, a.cancelBase = context.WithCancel(context.Background())

	// ── 1. Store ─────────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Auth ──────────────────────────────────────────────────────────
	am, err := auth.New(auth.Config{
		Secret:       []byte(cfg.Auth.JWTSecret),
		TTL:          cfg.Auth.SessionTTL,
		BcryptCost:   cfg.Auth.BcryptCost,
		CookieName:   cfg.Auth.CookieName,
		SecureCookie: cfg.Auth.SecureCookie,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init auth: %w", err)
	}
	a.auth = am

	// ── 3. Deepgram ──────────────────────────────────────────────────────
	a.initDeepgram()

	// ── 4. Events ────────────────────────────────────────────────────────
	if a.publisher == nil {
		a.publisher = events.New(events.Config{
			Enabled:         cfg.Events.Enabled,
			Brokers:         cfg.Events.Brokers,
			TopicSegments:   cfg.Events.TopicSegments,
			TopicDictations: cfg.Events.TopicDictations,
			Principal:       cfg.Events.Principal,
		}, a.metrics)
	}
	a.closers = append(a.closers, a.publisher.Close)

	// ── 5. API ───────────────────────────────────────────────────────────
	a.sessions = NewSessionManager()
	a.api = api.New(api.Config{
		Store:              a.store,
		Auth:               a.auth,
		STT:                a.stt,
		Keys:               a.keys,
		Publisher:          a.publisher,
		Corrector:          transcript.NewCorrector(phonetic.New()),
		Tracker:            a.sessions,
		MaxKeyterms:        cfg.Dictation.MaxKeyterms,
		TypingIdle:         cfg.Dictation.TypingIdle,
		EventBuffer:        cfg.Dictation.EventBuffer,
		PhoneticCorrection: cfg.Dictation.PhoneticCorrection,
		Metrics:            a.metrics,
	})

	// ── 6. Routing ───────────────────────────────────────────────────────
	checkers := []health.Checker{{Name: "database", Check: a.store.Ping}}
	for _, cb := range a.breakers {
		checkers = append(checkers, breakerCheck(cb))
	}
	a.health = health.New(checkers...).WithFacts(map[string]any{
		"hasDatabaseUrl":     cfg.Database.PostgresDSN != "",
		"hasDeepgramKey":     cfg.Deepgram.APIKey != "",
		"hasDeepgramProject": cfg.Deepgram.ProjectID != "",
		"eventsEnabled":      a.publisher.Enabled(),
	})
	mux := http.NewServeMux()
	a.health.Register(mux)
	a.api.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return a.baseCtx },
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore connects to PostgreSQL or falls back to the in-memory store.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		slog.Warn("no database configured, using the in-memory store; data is lost on restart")
		a.store = store.NewMemStore()
		return nil
	}

	pool, err := store.OpenPool(ctx, dsn)
	if err != nil {
		return err
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return err
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	slog.Info("connected to postgres")
	return nil
}

// initDeepgram creates the streaming client and the browser key minter, each
// guarded by its own circuit breaker.
func (a *App) initDeepgram() {
	dg := a.cfg.Deepgram

	if a.stt == nil {
		p, err := deepgram.New(dg.APIKey,
			deepgram.WithModel(string(dg.DefaultModel)),
			deepgram.WithLanguage(dg.Language),
			deepgram.WithListenURL(dg.ListenURL),
			deepgram.WithCircuitBreaker(a.newBreaker("deepgram-stream")),
		)
		if err != nil {
			slog.Warn("live dictation disabled", "err", err)
		} else {
			a.stt = p
		}
	}

	if a.keys == nil {
		a.keys = deepgram.NewKeyMinter(dg.APIKey, dg.ProjectID,
			deepgram.WithAPIURL(dg.APIURL),
			deepgram.WithKeyTTL(dg.KeyTTL),
			deepgram.WithKeyBreaker(a.newBreaker("deepgram-keys")),
		)
	}
}

func (a *App) newBreaker(name string) *resilience.CircuitBreaker {
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  breakerFailures,
		ResetTimeout: breakerReset,
		IsFailure:    deepgram.IsBreakerFailure,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state changed", "breaker", name, "from", from, "to", to)
			a.metrics.RecordCircuitTransition(context.Background(), name, to.String())
		},
	})
	a.breakers = append(a.breakers, cb)
	return cb
}

// breakerCheck reports an open breaker as a degraded readiness check.
func breakerCheck(cb *resilience.CircuitBreaker) health.Checker {
	return health.Checker{
		Name:     cb.Name(),
		Optional: true,
		Check: func(context.Context) error {
			if st := cb.State(); st != resilience.StateClosed {
				return fmt.Errorf("circuit %s", st)
			}
			return nil
		},
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the fully wired HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the live session registry.
func (a *App) Sessions() *SessionManager { return a.sessions }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// When ctx is done the server is shut down gracefully and Run returns nil.
func (a *App) Run(ctx context.Context) error {
	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", ln.Addr().String())
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", ln.Addr().String())
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.cancelBase()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 10*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// ApplyConfig applies the hot-reloadable part of a config change. Log level
// changes are handled by the caller, which owns the slog.LevelVar.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.TypingIdleChanged {
		a.api.SetTypingIdle(d.NewTypingIdle)
		a.sessions.SetTypingIdle(d.NewTypingIdle)
	}
	if d.PhoneticCorrectionChanged {
		a.api.SetPhoneticCorrection(d.NewPhoneticCorrection)
		slog.Info("phonetic correction toggled", "enabled", d.NewPhoneticCorrection)
	}
	if d.MaxKeytermsChanged {
		a.api.SetMaxKeyterms(d.NewMaxKeyterms)
		slog.Info("keyterm cap updated", "max_keyterms", d.NewMaxKeyterms)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "sections", d.RestartRequired)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "sessions", a.sessions.Count())

		a.cancelBase()
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
