// Package transcript turns recogniser segments into dictation text.
//
// [Merger] folds partial and final segments into the visible text of one
// recording session. [Corrector] optionally rewrites final segments so that
// phrases from the user's dictionary are spelled the way the user stored
// them.
package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/blink/internal/transcript/phonetic"
)

// Correction captures a single substitution made by a [Corrector].
type Correction struct {
	// Original is the span as produced by the recogniser, without
	// surrounding punctuation.
	Original string

	// Corrected is the dictionary phrase that replaced it.
	Corrected string

	// Confidence is the match score (0.0–1.0). 1 means an exact match that
	// only changed casing or punctuation.
	Confidence float64
}

// Corrector rewrites segment text using a phrase dictionary. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher *phonetic.Matcher
}

// NewCorrector returns a Corrector backed by m. A nil m uses
// phonetic.New() defaults.
func NewCorrector(m *phonetic.Matcher) *Corrector {
	if m == nil {
		m = phonetic.New()
	}
	return &Corrector{matcher: m}
}

type token struct {
	lead, core, trail string
}

func splitToken(s string) token {
	start := strings.IndexFunc(s, isWordRune)
	if start < 0 {
		return token{lead: s}
	}
	end := strings.LastIndexFunc(s, isWordRune)
	_, size := utf8.DecodeRuneInString(s[end:])
	end += size
	return token{lead: s[:start], core: s[start:end], trail: s[end:]}
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Correct returns text with dictionary phrases substituted, and the list of
// substitutions made. At each position the longest exact window wins,
// otherwise the shortest approximate one. A window never spans punctuation
// between its words, and the punctuation around a window is kept.
// Whitespace between tokens is normalised to single spaces.
func (c *Corrector) Correct(text string, d *phonetic.Dictionary) (string, []Correction) {
	fields := strings.Fields(text)
	if len(fields) == 0 || d == nil || d.MaxWords() == 0 {
		return text, nil
	}
	tokens := make([]token, len(fields))
	for i, f := range fields {
		tokens[i] = splitToken(f)
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, phrase, score := c.longestMatch(tokens[i:], d)
		if n == 0 {
			out = append(out, fields[i])
			i++
			continue
		}
		cores := make([]string, n)
		for j := range n {
			cores[j] = tokens[i+j].core
		}
		original := strings.Join(cores, " ")
		out = append(out, tokens[i].lead+phrase+tokens[i+n-1].trail)
		if original != phrase {
			corrections = append(corrections, Correction{
				Original:   original,
				Corrected:  phrase,
				Confidence: score,
			})
		}
		i += n
	}
	return strings.Join(out, " "), corrections
}

// longestMatch finds the window starting at tokens[0] to replace. Exact
// matches are tried longest first; approximate matches shortest first so
// that a fuzzy phrase never absorbs a trailing word.
func (c *Corrector) longestMatch(tokens []token, d *phonetic.Dictionary) (n int, phrase string, score float64) {
	maxN := min(d.MaxWords()+1, len(tokens))
	windows := make([]string, maxN+1)
	for n := 1; n <= maxN; n++ {
		if !cleanWindow(tokens[:n]) {
			break
		}
		cores := make([]string, n)
		for j := range n {
			cores[j] = tokens[j].core
		}
		windows[n] = strings.Join(cores, " ")
	}

	for n := maxN; n >= 1; n-- {
		if windows[n] == "" {
			continue
		}
		if p, s, ok := c.matcher.Match(windows[n], d); ok && s == 1 {
			return n, p, s
		}
	}
	for n := 1; n <= maxN; n++ {
		if windows[n] == "" {
			break
		}
		if p, s, ok := c.matcher.Match(windows[n], d); ok {
			return n, p, s
		}
	}
	return 0, "", 0
}

// cleanWindow reports whether tokens form one uninterrupted run of words.
func cleanWindow(tokens []token) bool {
	for j, t := range tokens {
		if t.core == "" {
			return false
		}
		if j > 0 && t.lead != "" {
			return false
		}
		if j < len(tokens)-1 && t.trail != "" {
			return false
		}
	}
	return true
}
