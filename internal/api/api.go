// Package api serves the Blink JSON API and the live dictation WebSocket.
//
// All routes except registration, login and the health summary require a
// session (see [auth.Manager.Require]). Errors are reported as
// {"error": "<message>"} with the messages the web client displays verbatim.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/MrWong99/blink/internal/auth"
	"github.com/MrWong99/blink/internal/dictation"
	"github.com/MrWong99/blink/internal/observe"
	"github.com/MrWong99/blink/internal/store"
	"github.com/MrWong99/blink/internal/transcript"
	"github.com/MrWong99/blink/pkg/provider/stt"
	"github.com/MrWong99/blink/pkg/provider/stt/deepgram"
)

// KeyMinter mints short-lived recogniser keys for the browser.
// [deepgram.KeyMinter] implements it.
type KeyMinter interface {
	Mint(ctx context.Context, userID string) (deepgram.EphemeralKey, error)
}

// SessionTracker is told about every live dictation session so that runtime
// settings can be pushed to it. Optional.
type SessionTracker interface {
	Add(s *dictation.Session, userID string)
	Remove(id string)
}

// Config holds the dependencies of a [Server].
type Config struct {
	Store store.Store
	Auth  *auth.Manager

	// STT opens recogniser streams for the dictation WebSocket.
	STT stt.Provider

	// Keys mints browser keys for GET /api/deepgram/token.
	Keys KeyMinter

	// Publisher receives final segments and saved dictations. Optional.
	Publisher dictation.Publisher

	// Corrector applies dictionary-based phonetic correction to final
	// segments. Nil disables correction.
	Corrector *transcript.Corrector

	// Tracker is optional.
	Tracker SessionTracker

	// MaxKeyterms caps the keyterms sent per stream.
	MaxKeyterms int

	// TypingIdle is the typing suppression window of new sessions.
	TypingIdle time.Duration

	// EventBuffer sizes each session's command and event queues.
	EventBuffer int

	// PhoneticCorrection enables the corrector for new sessions.
	PhoneticCorrection bool

	// OriginPatterns lists extra hosts allowed to open the WebSocket.
	OriginPatterns []string

	Metrics *observe.Metrics
}

// Server implements the HTTP API.
type Server struct {
	store     store.Store
	auth      *auth.Manager
	stt       stt.Provider
	keys      KeyMinter
	publisher dictation.Publisher
	corrector *transcript.Corrector
	tracker   SessionTracker
	origins   []string
	buffer    int
	metrics   *observe.Metrics

	typingIdle  atomic.Int64
	phonetic    atomic.Bool
	maxKeyterms atomic.Int64
}

// New creates a Server from cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	s := &Server{
		store:     cfg.Store,
		auth:      cfg.Auth,
		stt:       cfg.STT,
		keys:      cfg.Keys,
		publisher: cfg.Publisher,
		corrector: cfg.Corrector,
		tracker:   cfg.Tracker,
		origins:   cfg.OriginPatterns,
		buffer:    cfg.EventBuffer,
		metrics:   cfg.Metrics,
	}
	s.SetTypingIdle(cfg.TypingIdle)
	s.SetPhoneticCorrection(cfg.PhoneticCorrection)
	s.SetMaxKeyterms(cfg.MaxKeyterms)
	return s
}

// SetTypingIdle changes the typing window used by sessions opened later.
func (s *Server) SetTypingIdle(d time.Duration) { s.typingIdle.Store(int64(d)) }

// SetPhoneticCorrection toggles correction for sessions opened later.
func (s *Server) SetPhoneticCorrection(on bool) { s.phonetic.Store(on) }

// SetMaxKeyterms changes the keyterm cap for streams started later.
func (s *Server) SetMaxKeyterms(n int) { s.maxKeyterms.Store(int64(n)) }

// Register adds all API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	authed := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.auth.Require(logUser(h)))
	}
	authed("GET /api/auth/me", s.handleMe)

	authed("GET /api/dictations", s.handleListDictations)
	authed("POST /api/dictations", s.handleCreateDictation)
	authed("PATCH /api/dictations/{id}", s.handlePatchDictation)
	authed("DELETE /api/dictations/{id}", s.handleDeleteDictation)

	authed("GET /api/dictionary", s.handleListDictionary)
	authed("POST /api/dictionary", s.handleCreateDictionaryEntry)
	authed("PUT /api/dictionary/{id}", s.handleUpdateDictionaryEntry)
	authed("DELETE /api/dictionary/{id}", s.handleDeleteDictionaryEntry)

	authed("GET /api/settings/deepgram", s.handleGetSettings)
	authed("PATCH /api/settings/deepgram", s.handlePatchSettings)
	authed("GET /api/deepgram/token", s.handleToken)

	authed("GET /api/dictation/stream", s.handleStream)
}

// Handler returns a mux serving only the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// userID returns the authenticated user of r. Routes are registered behind
// Require, so a missing id is a wiring bug.
func userID(r *http.Request) string {
	uid, _ := auth.UserID(r.Context())
	return uid
}

// logUser tags every log line of an authenticated request with its user.
func logUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := observe.WithAttrs(r.Context(), slog.String("user_id", userID(r)))
		next(w, r.WithContext(ctx))
	}
}
