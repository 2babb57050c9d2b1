package dictation

import (
	"testing"
	"time"
)

func TestTypingGate_DefaultWindow(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(0)
	if got := g.Window(); got != DefaultTypingIdle {
		t.Errorf("Window() = %v, want %v", got, DefaultTypingIdle)
	}
}

func TestTypingGate_TouchThenIdle(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(20 * time.Millisecond)
	t.Cleanup(g.Stop)

	if g.Typing() {
		t.Fatal("fresh gate reports typing")
	}
	g.Touch()
	if !g.Typing() {
		t.Fatal("Typing() = false right after Touch")
	}

	select {
	case <-g.Idle():
	case <-time.After(2 * time.Second):
		t.Fatal("Idle not signalled")
	}
	if g.Typing() {
		t.Error("Typing() = true after idle signal")
	}
}

func TestTypingGate_TouchRestartsWindow(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(time.Hour)
	t.Cleanup(g.Stop)

	g.Touch()
	g.mu.Lock()
	stale := g.gen
	g.mu.Unlock()
	g.Touch()

	// A timer from the superseded keystroke must not end the window.
	g.expire(stale)
	if !g.Typing() {
		t.Fatal("stale timer ended the typing window")
	}
	select {
	case <-g.Idle():
		t.Fatal("stale timer signalled Idle")
	default:
	}
}

func TestTypingGate_IdleCoalesces(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(time.Hour)
	t.Cleanup(g.Stop)

	for range 3 {
		g.Touch()
		g.mu.Lock()
		gen := g.gen
		g.mu.Unlock()
		g.expire(gen)
	}

	<-g.Idle()
	select {
	case <-g.Idle():
		t.Fatal("more than one pending idle notification")
	default:
	}
}

func TestTypingGate_StopDoesNotSignal(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(10 * time.Millisecond)
	g.Touch()
	g.Stop()

	if g.Typing() {
		t.Error("Typing() = true after Stop")
	}
	select {
	case <-g.Idle():
		t.Error("Stop signalled Idle")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestTypingGate_SetWindow(t *testing.T) {
	t.Parallel()
	g := NewTypingGate(time.Second)
	g.SetWindow(-1)
	if g.Window() != time.Second {
		t.Errorf("negative window accepted: %v", g.Window())
	}
	g.SetWindow(250 * time.Millisecond)
	if g.Window() != 250*time.Millisecond {
		t.Errorf("Window() = %v, want 250ms", g.Window())
	}
}
