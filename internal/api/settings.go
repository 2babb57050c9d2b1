package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MrWong99/blink/internal/observe"
	"github.com/MrWong99/blink/internal/settings"
	"github.com/MrWong99/blink/pkg/provider/stt/deepgram"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	raw, err := s.store.DeepgramOptions(r.Context(), userID(r))
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	d, err := settings.Load(raw)
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handlePatchSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	d, err := settings.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidInput)
		return
	}
	raw, err := d.Marshal()
	if err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	if err := s.store.SetDeepgramOptions(r.Context(), userID(r), raw); err != nil {
		serverError(w, r, msgServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, json.RawMessage(raw))
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	key, err := s.keys.Mint(r.Context(), userID(r))
	s.metrics.RecordProviderRequest(r.Context(), "deepgram", "key", time.Since(start).Seconds(), err)

	var upstream *deepgram.UpstreamError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, key)
	case errors.Is(err, deepgram.ErrNotConfigured):
		writeError(w, http.StatusInternalServerError, "Deepgram not configured")
	case errors.As(err, &upstream):
		writeError(w, http.StatusInternalServerError, "Failed: "+upstream.Body)
	default:
		observe.Logger(r.Context()).Warn("minting deepgram key failed", "err", err)
		writeError(w, http.StatusBadGateway, "Deepgram error")
	}
}
