package dictation

import (
	"cmp"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/blink/internal/store"
)

const (
	// DefaultMaxKeyterms is the most keyterms Deepgram accepts per stream.
	DefaultMaxKeyterms = 100

	maxKeytermLen = 64
)

// MergeKeyterms builds the keyterm list for a recording session. The user's
// configured keyterms come first, followed by dictionary phrases ordered by
// weight (heaviest first). Phrases are trimmed and dropped when empty or
// longer than 64 characters. Duplicates keep their first position and the
// result is capped at limit (a non-positive limit selects
// [DefaultMaxKeyterms]).
func MergeKeyterms(user []string, entries []store.DictionaryEntry, limit int) []string {
	if limit <= 0 {
		limit = DefaultMaxKeyterms
	}

	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b store.DictionaryEntry) int {
		return cmp.Compare(b.Weight, a.Weight)
	})

	out := make([]string, 0, min(limit, len(user)+len(sorted)))
	seen := make(map[string]struct{}, cap(out))
	add := func(term string) {
		if len(out) >= limit {
			return
		}
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}

	for _, term := range user {
		add(term)
	}
	for _, e := range sorted {
		phrase := strings.TrimSpace(e.Phrase)
		if n := utf8.RuneCountInString(phrase); n == 0 || n > maxKeytermLen {
			continue
		}
		add(phrase)
	}
	return out
}
