package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/md-rashed-zaman/chairbook/libs/httpx"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/chairbook/services/booking-service/internal/storage"
)

// writeServiceError maps guard and store errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		conflict *booking.ConflictError
		state    *booking.StateError
	)
	switch {
	case errors.As(err, &conflict) && conflict.HeldByCompleted:
		httpx.WriteError(w, r, http.StatusConflict, "slot_taken", "the requested slot belongs to a completed booking, pick another time")
	case errors.As(err, &conflict):
		httpx.WriteError(w, r, http.StatusConflict, "slot_taken", "the requested slot has just been booked, pick another time")
	case errors.As(err, &state):
		httpx.WriteError(w, r, http.StatusConflict, "invalid_state", state.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		httpx.WriteError(w, r, http.StatusUnprocessableEntity, "slot_unavailable", "the requested time is not a bookable slot")
	case errors.Is(err, booking.ErrInvalidRequest):
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, "not_found", "not found")
	case storage.IsTransient(err):
		logger.WarnContext(r.Context(), "store unavailable", "err", err)
		w.Header().Set("Retry-After", "1")
		httpx.WriteError(w, r, http.StatusServiceUnavailable, "unavailable", "storage temporarily unavailable, retry shortly")
	default:
		logger.ErrorContext(r.Context(), "request failed", "err", err)
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
