package app

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/blink/internal/dictation"
)

// SessionInfo holds metadata about a live dictation session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// UserID owns the session.
	UserID string

	// StartedAt is when the WebSocket was opened.
	StartedAt time.Time
}

type trackedSession struct {
	info    SessionInfo
	session *dictation.Session
}

// SessionManager keeps track of every live dictation session so that
// hot-reloaded settings reach sessions that are already running.
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]trackedSession
	now      func() time.Time
}

// NewSessionManager creates an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		sessions: make(map[string]trackedSession),
		now:      time.Now,
	}
}

// Add registers s as owned by userID.
func (sm *SessionManager) Add(s *dictation.Session, userID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	info := SessionInfo{SessionID: s.ID(), UserID: userID, StartedAt: sm.now().UTC()}
	sm.sessions[s.ID()] = trackedSession{info: info, session: s}
	slog.Info("session registered", "session_id", info.SessionID, "user_id", userID, "active", len(sm.sessions))
}

// Remove forgets the session with the given id. Unknown ids are ignored.
func (sm *SessionManager) Remove(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	ts, ok := sm.sessions[id]
	if !ok {
		return
	}
	delete(sm.sessions, id)
	slog.Info("session removed",
		"session_id", id,
		"user_id", ts.info.UserID,
		"duration", sm.now().Sub(ts.info.StartedAt).Round(time.Second),
		"active", len(sm.sessions),
	)
}

// Count returns the number of live sessions.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Sessions returns metadata about all live sessions, oldest first.
func (sm *SessionManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, ts := range sm.sessions {
		out = append(out, ts.info)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// SetTypingIdle pushes a new typing window to every live session.
func (sm *SessionManager) SetTypingIdle(d time.Duration) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	for _, ts := range sm.sessions {
		ts.session.SetTypingIdle(d)
	}
	slog.Info("typing idle window updated", "window", d, "sessions", len(sm.sessions))
}
