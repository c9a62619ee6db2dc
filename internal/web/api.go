package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
)

func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *bookings.ValidationError
	var derr *clock.InvalidDateError
	var serr *bookings.StorageError
	switch {
	case errors.As(err, &verr), errors.As(err, &derr):
		return http.StatusBadRequest
	case errors.Is(err, bookings.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bookings.ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &serr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error()}
	var verr *bookings.ValidationError
	if errors.As(err, &verr) {
		body.Field = verr.Field
	}
	var derr *clock.InvalidDateError
	if errors.As(err, &derr) {
		body.Field = "requested_date"
	}
	if status >= http.StatusInternalServerError {
		s.Log.WithError(err).WithField("component", "web").Error("api request failed")
		if status == http.StatusServiceUnavailable {
			body.Error = "storage unavailable"
		} else {
			body.Error = "internal error"
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) apiCreate(w http.ResponseWriter, r *http.Request) {
	var sub bookings.Submission
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&sub); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body"})
		return
	}
	created, err := s.Bookings.Submit(r.Context(), sub)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) apiList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Bookings.Store.ListAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if list == nil {
		list = []bookings.BookingRequest{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) apiGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	req, err := s.Bookings.Store.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) apiCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.Bookings.Store.Cancel(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": bookings.StatusCancelled})
}

func (s *Server) apiHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	hist, err := s.Bookings.Store.History(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []bookings.AttemptRecord{}
	}
	writeJSON(w, http.StatusOK, hist)
}
