package transcript

import (
	"slices"
	"testing"
)

type step struct {
	final bool
	text  string
}

func apply(m *Merger, steps []step) {
	for _, s := range steps {
		if s.final {
			m.CommitFinalSegment(s.text)
		} else {
			m.UpdatePartial(s.text)
		}
	}
}

func TestMerger_Text(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		steps []step
		want  string
	}{
		{name: "fresh merger", want: ""},
		{
			name:  "last partial wins",
			steps: []step{{text: "Hello"}, {text: "Hello wo"}, {text: "Hello world"}},
			want:  "Hello world",
		},
		{
			name: "reference dictation",
			steps: []step{
				{text: "Hello wo"},
				{final: true, text: "Hello world"},
				{text: "from"},
				{final: true, text: "from Blink"},
			},
			want: "Hello world from Blink",
		},
		{
			name:  "final tokenisation collapses spaces",
			steps: []step{{final: true, text: "  Hello   world \t"}},
			want:  "Hello world",
		},
		{
			name:  "partial appended after committed",
			steps: []step{{final: true, text: "A B"}, {text: "C"}},
			want:  "A B C",
		},
		{
			name:  "empty partial drops stale partial only",
			steps: []step{{final: true, text: "keep this"}, {text: "stale"}, {text: ""}},
			want:  "keep this",
		},
		{
			name:  "final without preceding partial",
			steps: []step{{final: true, text: "one"}, {final: true, text: "two"}},
			want:  "one two",
		},
		{
			name:  "duplicate final is not deduplicated",
			steps: []step{{final: true, text: "again"}, {final: true, text: "again"}},
			want:  "again again",
		},
		{
			name:  "whitespace-only final",
			steps: []step{{final: true, text: "   "}},
			want:  "",
		},
		{
			name:  "whitespace-only partial",
			steps: []step{{text: "   "}},
			want:  "",
		},
		{
			name:  "whitespace-only partial after committed",
			steps: []step{{final: true, text: "done"}, {text: "  "}},
			want:  "done",
		},
		{
			name:  "partial interior spacing preserved",
			steps: []step{{final: true, text: "A"}, {text: " b   c "}},
			want:  "A  b   c",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m := NewMerger()
			apply(m, tc.steps)
			if got := m.Text(); got != tc.want {
				t.Errorf("Text() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestMerger_FinalClearsPartial(t *testing.T) {
	t.Parallel()
	m := NewMerger()
	m.UpdatePartial("Hello wo")
	m.CommitFinalSegment("Hello world")
	if m.Partial() != "" {
		t.Errorf("Partial() = %q, want empty after final", m.Partial())
	}

	m.CommitFinalSegment("")
	if got, want := m.Words(), []string{"Hello", "world"}; !slices.Equal(got, want) {
		t.Errorf("Words() = %v, want %v", got, want)
	}
}

func TestMerger_CommittedIsAppendOnly(t *testing.T) {
	t.Parallel()
	m := NewMerger()
	m.CommitFinalSegment("first second")
	before := m.Words()
	m.UpdatePartial("noise")
	m.CommitFinalSegment("third")

	after := m.Words()
	if !slices.Equal(after[:len(before)], before) {
		t.Errorf("committed prefix changed: before %v, after %v", before, after)
	}
	if got, want := after, []string{"first", "second", "third"}; !slices.Equal(got, want) {
		t.Errorf("Words() = %v, want %v", got, want)
	}
}

func TestMerger_WordsReturnsCopy(t *testing.T) {
	t.Parallel()
	m := NewMerger()
	m.CommitFinalSegment("a b")
	w := m.Words()
	w[0] = "changed"
	if m.Text() != "a b" {
		t.Errorf("Text() = %q, mutation of Words() leaked", m.Text())
	}
}

func TestMerger_TextIsPure(t *testing.T) {
	t.Parallel()
	m := NewMerger()
	m.CommitFinalSegment("x")
	m.UpdatePartial("y")
	if a, b := m.Text(), m.Text(); a != b {
		t.Errorf("Text() not stable: %q then %q", a, b)
	}
}
