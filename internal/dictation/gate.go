package dictation

import (
	"sync"
	"time"
)

// DefaultTypingIdle is the idle window after the last keystroke before
// recogniser output may overwrite the visible buffer again.
const DefaultTypingIdle = 400 * time.Millisecond

// TypingGate is a debounce timer that reports whether the user typed within
// the idle window. Every [TypingGate.Touch] restarts the window; when it
// elapses the gate stops reporting typing and signals [TypingGate.Idle].
//
// All methods are safe for concurrent use.
type TypingGate struct {
	mu     sync.Mutex
	window time.Duration
	typing bool
	gen    uint64
	timer  *time.Timer
	idle   chan struct{}
}

// NewTypingGate returns a gate with the given idle window. A non-positive
// window selects [DefaultTypingIdle].
func NewTypingGate(window time.Duration) *TypingGate {
	if window <= 0 {
		window = DefaultTypingIdle
	}
	return &TypingGate{
		window: window,
		idle:   make(chan struct{}, 1),
	}
}

// Touch records a keystroke and restarts the idle window.
func (g *TypingGate) Touch() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.typing = true
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
	}
	gen := g.gen
	g.timer = time.AfterFunc(g.window, func() { g.expire(gen) })
}

// expire ends the typing window started by generation gen. Timers from
// superseded generations are ignored.
func (g *TypingGate) expire(gen uint64) {
	g.mu.Lock()
	if gen != g.gen || !g.typing {
		g.mu.Unlock()
		return
	}
	g.typing = false
	g.mu.Unlock()

	select {
	case g.idle <- struct{}{}:
	default:
	}
}

// Typing reports whether the last keystroke is younger than the idle window.
func (g *TypingGate) Typing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.typing
}

// Idle returns a channel that receives a value each time a typing window
// elapses. Notifications coalesce; at most one is pending.
func (g *TypingGate) Idle() <-chan struct{} { return g.idle }

// SetWindow changes the idle window for subsequent keystrokes.
func (g *TypingGate) SetWindow(d time.Duration) {
	if d <= 0 {
		return
	}
	g.mu.Lock()
	g.window = d
	g.mu.Unlock()
}

// Window returns the current idle window.
func (g *TypingGate) Window() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.window
}

// Stop cancels a pending window without signalling Idle.
func (g *TypingGate) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gen++
	g.typing = false
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}
