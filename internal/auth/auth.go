// Package auth hashes passwords and issues the signed session tokens that
// identify Blink users on every API request.
//
// Sessions are HS256 JWTs carrying the user id in the "uid" claim. The
// browser receives the token as an HttpOnly cookie; API clients may send it
// as a Bearer token instead.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned when an email/password pair does
	// not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")

	// ErrInvalidToken is returned for missing, malformed, expired or
	// foreign session tokens.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrPasswordTooLong is returned by [Manager.HashPassword] for
	// passwords longer than [MaxPasswordBytes].
	ErrPasswordTooLong = errors.New("auth: password too long")
)

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

const (
	defaultTTL        = 30 * 24 * time.Hour
	defaultCookieName = "blink_session"
)

// Config configures a [Manager].
type Config struct {
	// Secret signs session tokens. When empty a random secret is generated.
	Secret []byte

	// TTL is the session lifetime. Defaults to 30 days.
	TTL time.Duration

	// BcryptCost defaults to [bcrypt.DefaultCost].
	BcryptCost int

	// CookieName defaults to "blink_session".
	CookieName string

	// SecureCookie marks the session cookie Secure (HTTPS only).
	SecureCookie bool

	// Now is the clock. Defaults to [time.Now].
	Now func() time.Time
}

// Manager issues and verifies sessions. It is safe for concurrent use.
type Manager struct {
	secret     []byte
	ttl        time.Duration
	cost       int
	cookieName string
	secure     bool
	now        func() time.Time
}

// New creates a Manager from cfg.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Secret) == 0 {
		cfg.Secret = make([]byte, 32)
		if _, err := rand.Read(cfg.Secret); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
		slog.Warn("auth: no jwt secret configured; sessions end on restart")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		secret:     cfg.Secret,
		ttl:        cfg.TTL,
		cost:       cfg.BcryptCost,
		cookieName: cfg.CookieName,
		secure:     cfg.SecureCookie,
		now:        cfg.Now,
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func (m *Manager) HashPassword(password string) (string, error) {
	if len(password) > MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(h), nil
}

// CheckPassword compares password with a stored hash. A mismatch or an
// empty hash yields [ErrInvalidCredentials].
func (m *Manager) CheckPassword(hash, password string) error {
	if hash == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Issue signs a session token for userID and returns it with its expiry.
func (m *Manager) Issue(userID string) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	})
	signed, err := tok.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks a token's signature and expiry and returns its user id.
func (m *Manager) Verify(token string) (string, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.UserID == "" {
		return "", ErrInvalidToken
	}
	return c.UserID, nil
}

// SetCookie stores token in the session cookie.
func (m *Manager) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// tokenFrom extracts a session token from the cookie or a Bearer header.
func (m *Manager) tokenFrom(r *http.Request) string {
	if c, err := r.Cookie(m.cookieName); err == nil && c.Value != "" {
		return c.Value
	}
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	return ""
}

// Authenticate returns the user id of the session attached to r.
func (m *Manager) Authenticate(r *http.Request) (string, error) {
	tok := m.tokenFrom(r)
	if tok == "" {
		return "", ErrInvalidToken
	}
	return m.Verify(tok)
}

// Require wraps next so that it only runs for authenticated requests. The
// user id is available through [UserID]. Other requests receive 401 with
// {"error":"Unauthorized"}.
func (m *Manager) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, err := m.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), uid)))
	})
}

type ctxKey struct{}

// WithUserID returns a copy of ctx carrying uid.
func WithUserID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, ctxKey{}, uid)
}

// UserID returns the authenticated user id stored in ctx.
func UserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(ctxKey{}).(string)
	return uid, ok && uid != ""
}
