package transcript

import "strings"

// Merger folds an ordered stream of recogniser segments into one display
// string. Final segments are committed word by word and never revised;
// the latest partial segment is shown after them until the next final
// arrives.
//
// A Merger is owned by exactly one goroutine and is not safe for concurrent
// use. Create a fresh Merger per recording session.
type Merger struct {
	committed []string
	partial   string
}

// NewMerger returns an empty Merger.
func NewMerger() *Merger {
	return &Merger{}
}

// CommitFinalSegment appends the whitespace-separated words of segment to
// the committed text and clears the partial. Empty and whitespace-only
// segments only clear the partial. A segment committed twice appears twice.
func (m *Merger) CommitFinalSegment(segment string) {
	m.committed = append(m.committed, strings.Fields(segment)...)
	m.partial = ""
}

// UpdatePartial replaces the current partial verbatim. Passing "" drops it.
func (m *Merger) UpdatePartial(segment string) {
	m.partial = segment
}

// Text returns the committed words joined by single spaces followed by the
// partial, trimmed of leading and trailing whitespace.
func (m *Merger) Text() string {
	base := strings.Join(m.committed, " ")
	if m.partial == "" {
		return strings.TrimSpace(base)
	}
	if base == "" {
		return strings.TrimSpace(m.partial)
	}
	return strings.TrimSpace(base + " " + m.partial)
}

// Words returns a copy of the committed words.
func (m *Merger) Words() []string {
	out := make([]string, len(m.committed))
	copy(out, m.committed)
	return out
}

// Partial returns the current partial.
func (m *Merger) Partial() string { return m.partial }
