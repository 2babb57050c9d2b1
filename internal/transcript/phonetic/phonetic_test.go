package phonetic_test

import (
	"testing"

	"github.com/MrWong99/blink/internal/transcript/phonetic"
)

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	d := phonetic.NewDictionary([]string{"Blink", "Deepgram", "Kubernetes cluster"})

	tests := []struct {
		window string
		want   string
	}{
		{"blink", "Blink"},
		{"BLINK", "Blink"},
		{"deepgram", "Deepgram"},
		{"kubernetes cluster", "Kubernetes cluster"},
		{"Kubernetes Cluster", "Kubernetes cluster"},
	}
	for _, tc := range tests {
		got, score, ok := m.Match(tc.window, d)
		if !ok {
			t.Errorf("Match(%q): matched=false, want true", tc.window)
			continue
		}
		if got != tc.want {
			t.Errorf("Match(%q) = %q, want %q", tc.window, got, tc.want)
		}
		if score != 1 {
			t.Errorf("Match(%q) score = %f, want 1", tc.window, score)
		}
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	d := phonetic.NewDictionary([]string{"Eldrinax", "Grimjaw"})

	got, score, ok := m.Match("hello", d)
	if ok {
		t.Fatalf("Match(%q): matched=true (%q), want false", "hello", got)
	}
	if got != "" || score != 0 {
		t.Errorf("Match(%q) = (%q, %f), want empty result", "hello", got, score)
	}
}

func TestMatcher_LengthGuard(t *testing.T) {
	t.Parallel()

	m := phonetic.New(phonetic.WithFuzzyThreshold(0.5), phonetic.WithPhoneticThreshold(0.5))
	d := phonetic.NewDictionary([]string{"Blink"})

	if got, _, ok := m.Match("blink is great", d); ok {
		t.Errorf("long window matched %q, want no match", got)
	}
}

func TestMatcher_EmptyInputs(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	if _, _, ok := m.Match("blink", phonetic.NewDictionary(nil)); ok {
		t.Error("empty dictionary matched")
	}
	if _, _, ok := m.Match("blink", nil); ok {
		t.Error("nil dictionary matched")
	}
	d := phonetic.NewDictionary([]string{"Blink"})
	for _, w := range []string{"", "   ", "!!", "ab"} {
		if _, _, ok := m.Match(w, d); ok {
			t.Errorf("Match(%q) matched, want no match", w)
		}
	}
}

func TestNewDictionary(t *testing.T) {
	t.Parallel()

	d := phonetic.NewDictionary([]string{"  Blink ", "blink", "", "   ", "Tower of Whispers"})
	if d.Len() != 2 {
		t.Errorf("Len() = %d, want 2", d.Len())
	}
	if d.MaxWords() != 3 {
		t.Errorf("MaxWords() = %d, want 3", d.MaxWords())
	}

	m := phonetic.New()
	if got, _, _ := m.Match("BLINK", d); got != "Blink" {
		t.Errorf("first spelling should win, got %q", got)
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"Hello, World!": "helloworld",
		"  nova-3 ":     "nova3",
		"Ünïcode":       "ünïcode",
		"...":           "",
	}
	for in, want := range tests {
		if got := phonetic.Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}
