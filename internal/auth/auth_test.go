package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T, now func() time.Time) *Manager {
	t.Helper()
	m, err := New(Config{
		Secret:     []byte("test-secret-0123456789"),
		TTL:        time.Hour,
		BcryptCost: 4,
		Now:        now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestPasswordRoundTrip(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	hash, err := m.HashPassword("hunter22")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "hunter22" {
		t.Fatal("password stored in clear text")
	}
	if err := m.CheckPassword(hash, "hunter22"); err != nil {
		t.Errorf("CheckPassword(correct) = %v", err)
	}
	if err := m.CheckPassword(hash, "hunter23"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrInvalidCredentials", err)
	}
	if err := m.CheckPassword("", "anything"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("CheckPassword(empty hash) = %v, want ErrInvalidCredentials", err)
	}
}

func TestHashPassword_Length(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)

	if _, err := m.HashPassword(strings.Repeat("a", MaxPasswordBytes)); err != nil {
		t.Errorf("HashPassword(%d bytes) = %v", MaxPasswordBytes, err)
	}
	// 37 two-byte runes: short in characters, too long for bcrypt.
	if _, err := m.HashPassword(strings.Repeat("ü", 37)); !errors.Is(err, ErrPasswordTooLong) {
		t.Errorf("HashPassword(74 bytes) = %v, want ErrPasswordTooLong", err)
	}
}

func TestIssueVerify(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := newTestManager(t, clock)

	tok, exp, err := m.Issue("user-42")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Errorf("expiry = %v, want %v", exp, now.Add(time.Hour))
	}
	uid, err := m.Verify(tok)
	if err != nil || uid != "user-42" {
		t.Fatalf("Verify = %q, %v", uid, err)
	}
}

func TestVerify_Rejects(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	m := newTestManager(t, func() time.Time { return now })
	tok, _, err := m.Issue("user-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	later := newTestManager(t, func() time.Time { return now.Add(2 * time.Hour) })
	other, err := New(Config{Secret: []byte("a-completely-different-secret"), Now: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	tests := []struct {
		name  string
		m     *Manager
		token string
	}{
		{name: "expired", m: later, token: tok},
		{name: "wrong secret", m: other, token: tok},
		{name: "garbage", m: m, token: "not-a-jwt"},
		{name: "tampered", m: m, token: tok[:len(tok)-2] + "xx"},
		{name: "alg none", m: m, token: "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1aWQiOiJ4In0."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := tt.m.Verify(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestNew_GeneratesSecret(t *testing.T) {
	t.Parallel()
	a, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tok, _, err := a.Issue("u")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(tok); err == nil {
		t.Error("two generated secrets accepted each other's tokens")
	}
}

func TestRequire(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	tok, exp, err := m.Issue("user-7")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	h := m.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid, ok := UserID(r.Context())
		if !ok {
			http.Error(w, "no user in context", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(uid))
	}))

	// Cookie set by SetCookie is accepted.
	rec := httptest.NewRecorder()
	m.SetCookie(rec, tok, exp)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly {
		t.Fatalf("cookies = %+v", cookies)
	}

	tests := []struct {
		name     string
		prepare  func(*http.Request)
		wantCode int
		wantBody string
	}{
		{name: "cookie", prepare: func(r *http.Request) { r.AddCookie(cookies[0]) }, wantCode: 200, wantBody: "user-7"},
		{name: "bearer", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }, wantCode: 200, wantBody: "user-7"},
		{name: "none", prepare: func(*http.Request) {}, wantCode: 401, wantBody: `{"error":"Unauthorized"}`},
		{name: "bad bearer", prepare: func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, wantCode: 401},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest(http.MethodGet, "/api/dictations", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && strings.TrimSpace(rec.Body.String()) != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestClearCookie(t *testing.T) {
	t.Parallel()
	m := newTestManager(t, nil)
	rec := httptest.NewRecorder()
	m.ClearCookie(rec)
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge >= 0 || cookies[0].Value != "" {
		t.Errorf("cookies = %+v", cookies)
	}
}
