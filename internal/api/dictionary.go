package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MrWong99/blink/internal/store"
)

const (
	defaultWeight = 1
	maxWeight     = 10
)

func validWeight(w float64) bool { return w >= 0 && w <= maxWeight }

func (s *Server) handleListDictionary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListDictionary(r.Context(), userID(r))
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	if entries == nil {
		entries = []store.DictionaryEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCreateDictionaryEntry(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phrase string   `json:"phrase"`
		Weight *float64 `json:"weight"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	weight := float64(defaultWeight)
	if in.Weight != nil {
		weight = *in.Weight
	}
	phrase := strings.TrimSpace(in.Phrase)
	if phrase == "" || !validWeight(weight) {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	e, err := s.store.CreateDictionaryEntry(r.Context(), userID(r), phrase, weight)
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleUpdateDictionaryEntry(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Phrase *string  `json:"phrase"`
		Weight *float64 `json:"weight"`
	}
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	if in.Phrase != nil {
		p := strings.TrimSpace(*in.Phrase)
		if p == "" {
			writeError(w, http.StatusBadRequest, msgInvalidInput)
			return
		}
		in.Phrase = &p
	}
	if in.Weight != nil && !validWeight(*in.Weight) {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}

	e, err := s.store.UpdateDictionaryEntry(r.Context(), userID(r), r.PathValue("id"), store.DictionaryPatch{
		Phrase: in.Phrase,
		Weight: in.Weight,
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		serverError(w, r, msgServerError, err)
	default:
		writeJSON(w, http.StatusOK, e)
	}
}

func (s *Server) handleDeleteDictionaryEntry(w http.ResponseWriter, r *http.Request) {
	err := s.store.DeleteDictionaryEntry(r.Context(), userID(r), r.PathValue("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case err != nil:
		serverError(w, r, msgServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
