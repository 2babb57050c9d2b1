package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/blink/internal/store"
)

// Listing limits.
const (
	defaultPageLimit = 10
	maxPageLimit     = 50
	maxEmojiRunes    = 4
)

type dictationList struct {
	Items   []store.Dictation `json:"items"`
	HasMore bool              `json:"hasMore"`
}

// pageParams reads page and limit. Missing or malformed values fall back to
// page 0 and limit 10; limit is clamped to [1, 50].
func pageParams(r *http.Request) (page, limit int) {
	q := r.URL.Query()
	page, _ = strconv.Atoi(q.Get("page"))
	page = max(0, page)

	limit, _ = strconv.Atoi(q.Get("limit"))
	if limit == 0 {
		limit = defaultPageLimit
	}
	return page, min(max(limit, 1), maxPageLimit)
}

func (s *Server) handleListDictations(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	items, total, err := s.store.ListDictations(r.Context(), userID(r), store.Page{Offset: page * limit, Limit: limit})
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	if items == nil {
		items = []store.Dictation{}
	}
	writeJSON(w, http.StatusOK, dictationList{
		Items:   items,
		HasMore: (page+1)*limit < total,
	})
}

func (s *Server) handleCreateDictation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Text        string `json:"text"`
		DurationSec *int   `json:"durationSec"`
	}
	if err := decodeJSON(w, r, &in); err != nil || in.Text == "" || in.DurationSec == nil || *in.DurationSec < 0 {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	d, err := s.store.CreateDictation(r.Context(), userID(r), in.Text, *in.DurationSec)
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	s.metrics.RecordDictationSaved(r.Context())
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeleteDictation(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteDictation(r.Context(), userID(r), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		serverError(w, r, msgServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// appendEmoji adds emoji after text, collapsing whitespace runs.
func appendEmoji(text, emoji string) string {
	return strings.Join(strings.Fields(text+" "+emoji), " ")
}

func (s *Server) handlePatchDictation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Action string `json:"action"`
		Emoji  string `json:"emoji"`
	}
	if err := decodeJSON(w, r, &in); err != nil || in.Action != "append_emoji" {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	if n := utf8.RuneCountInString(in.Emoji); n < 1 || n > maxEmojiRunes {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	uid, id := userID(r), r.PathValue("id")
	d, err := s.store.GetDictation(r.Context(), uid, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, msgNotFound)
		return
	}
	if err != nil {
		serverError(w, r, "Update failed", err)
		return
	}

	d, err = s.store.UpdateDictationText(r.Context(), uid, id, appendEmoji(d.Text, in.Emoji))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		serverError(w, r, "Update failed", err)
	default:
		writeJSON(w, http.StatusOK, d)
	}
}
