// Package phonetic matches misheard words against a user's phrase
// dictionary using Double Metaphone codes and Jaro-Winkler similarity.
//
// A [Dictionary] precomputes the normalised key and phonetic codes of every
// phrase once. A [Matcher] then scores a spoken window (one or more words)
// against it:
//
//  1. An exact key match (case and punctuation ignored) always wins.
//  2. A phrase whose Double Metaphone codes overlap the window's codes is a
//     phonetic candidate and is accepted above the phonetic threshold.
//  3. Otherwise a phrase that starts with the same letter is accepted on
//     Jaro-Winkler similarity alone above the stricter fuzzy threshold.
//
// Windows whose key length differs too much from a phrase's key never match
// it, so a correction cannot swallow neighbouring words.
package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
	defaultMinKeyLength      = 3
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetic
// candidate. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a candidate
// without phonetic overlap. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// WithMinKeyLength sets the shortest normalised window considered for a
// match. Default: 3.
func WithMinKeyLength(n int) Option {
	return func(m *Matcher) {
		m.minKeyLength = n
	}
}

// Matcher scores spoken windows against a [Dictionary]. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
	minKeyLength      int
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		minKeyLength:      defaultMinKeyLength,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

type entry struct {
	phrase    string
	key       string
	primary   string
	secondary string
}

// Dictionary is a precomputed set of phrases.
type Dictionary struct {
	entries  []entry
	maxWords int
}

// NewDictionary prepares phrases for matching. Blank phrases and phrases
// whose key is already present are skipped; the first spelling wins.
func NewDictionary(phrases []string) *Dictionary {
	d := &Dictionary{}
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		p = strings.TrimSpace(p)
		k := Key(p)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		pc, sc := matchr.DoubleMetaphone(k)
		d.entries = append(d.entries, entry{phrase: p, key: k, primary: pc, secondary: sc})
		if n := len(strings.Fields(p)); n > d.maxWords {
			d.maxWords = n
		}
	}
	return d
}

// Len returns the number of usable phrases.
func (d *Dictionary) Len() int { return len(d.entries) }

// MaxWords returns the word count of the longest phrase, or 0 for an empty
// dictionary.
func (d *Dictionary) MaxWords() int { return d.maxWords }

// Match returns the dictionary phrase that best matches window, the
// Jaro-Winkler score of that match and whether a match was found. When no
// match is found the phrase is "" and the score is 0.
func (m *Matcher) Match(window string, d *Dictionary) (phrase string, score float64, ok bool) {
	if d == nil || len(d.entries) == 0 {
		return "", 0, false
	}
	key := Key(window)
	if len(key) < m.minKeyLength {
		return "", 0, false
	}
	pc, sc := matchr.DoubleMetaphone(key)

	var (
		best         entry
		bestScore    float64
		bestPhonetic bool
	)
	for _, e := range d.entries {
		if e.key == key {
			return e.phrase, 1, true
		}
		if !comparableLength(key, e.key) {
			continue
		}
		jw := matchr.JaroWinkler(key, e.key, false)
		phonetic := codesOverlap(pc, sc, e.primary, e.secondary)
		switch {
		case phonetic && jw >= m.phoneticThreshold:
			if !bestPhonetic || jw > bestScore {
				best, bestScore, bestPhonetic = e, jw, true
			}
		case !phonetic && !bestPhonetic && sameFirstRune(key, e.key) && jw >= m.fuzzyThreshold && jw > bestScore:
			best, bestScore = e, jw
		}
	}
	if best.phrase == "" {
		return "", 0, false
	}
	return best.phrase, bestScore, true
}

// Key normalises s for comparison: lower case, letters and digits only.
func Key(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

func comparableLength(a, b string) bool {
	la, lb := len([]rune(a)), len([]rune(b))
	diff := la - lb
	if diff < 0 {
		diff = -diff
	}
	return diff <= max(1, lb/4)
}

func sameFirstRune(a, b string) bool {
	ra, _ := utf8.DecodeRuneInString(a)
	rb, _ := utf8.DecodeRuneInString(b)
	return ra == rb
}

func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, a := range []string{p1, s1} {
		if a == "" {
			continue
		}
		if a == p2 || a == s2 {
			return true
		}
	}
	return false
}
