// Package http exposes the signaling-store capability over HTTP and
// WebSocket so call endpoints on different machines can negotiate through
// one server.
package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/domain"
	"github.com/ibrkljacic/webrtc-video-call-app/internal/core/port"
)

type Handler struct {
	Store port.SignalingStore
}

func NewHandler(store port.SignalingStore) *Handler {
	return &Handler{Store: store}
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/calls", h.createCall)
	r.Get("/calls/{id}", h.readCall)
	r.Patch("/calls/{id}", h.writeCall)
	r.Post("/calls/{id}/candidates/{sub}", h.appendCandidate)

	r.Get("/ws/calls/{id}", h.watchCall)
	r.Get("/ws/calls/{id}/candidates/{sub}", h.watchCandidates)

	return r
}

func (h *Handler) createCall(w http.ResponseWriter, r *http.Request) {
	id, err := h.Store.CreateRecord(r.Context(), domain.CallsCollection)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (h *Handler) readCall(w http.ResponseWriter, r *http.Request) {
	fields, err := h.Store.ReadRecord(r.Context(), domain.CallsCollection, chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fields)
}

func (h *Handler) writeCall(w http.ResponseWriter, r *http.Request) {
	var fields port.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := h.Store.WriteRecord(r.Context(), domain.CallsCollection, chi.URLParam(r, "id"), fields); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) appendCandidate(w http.ResponseWriter, r *http.Request) {
	sub := chi.URLParam(r, "sub")
	if sub != domain.OffererCandidates && sub != domain.AnswererCandidates {
		writeError(w, http.StatusBadRequest, errors.New("unknown candidate subcollection"))
		return
	}

	var fields port.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	childID, err := h.Store.AppendChild(r.Context(), domain.CallsCollection, chi.URLParam(r, "id"), sub, fields)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": childID})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, domain.ErrOfferImmutable), errors.Is(err, domain.ErrRecordEnded):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Encoding response")
	}
}
