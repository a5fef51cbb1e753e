package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/cityweather/internal/models"
	"github.com/lox/cityweather/internal/widget"
)

const defaultLookupLimit = 20

type cityRequest struct {
	City string `json:"city"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type unitResponse struct {
	UseCelsius bool   `json:"use_celsius"`
	Unit       string `json:"unit"`
}

type HealthStatus struct {
	Status    string     `json:"status"`
	City      string     `json:"city"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	v := s.widget.View()
	health := HealthStatus{
		Status:    "ok",
		City:      v.City,
		UpdatedAt: v.UpdatedAt,
	}
	if v.Error != "" {
		health.Status = "degraded"
		health.Error = v.Error
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleWeather(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.widget.View())
}

func (s *Server) handlePreferences(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.widget.Preferences())
}

func (s *Server) handleLookups(w http.ResponseWriter, r *http.Request) {
	if s.lookups == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "lookup history not enabled"})
		return
	}

	limit := defaultLookupLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid limit"})
			return
		}
		limit = n
	}

	lookups, err := s.lookups.RecentLookups(limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if lookups == nil {
		lookups = []models.Lookup{}
	}
	writeJSON(w, http.StatusOK, lookups)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req cityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if _, err := s.widget.Submit(r.Context(), req.City); err != nil {
		s.writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.widget.View())
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req cityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	if err := s.widget.Select(req.City); err != nil {
		if errors.Is(err, widget.ErrEmptyInput) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: widget.EmptyInputMessage})
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.widget.View())
}

func (s *Server) handleUnit(w http.ResponseWriter, r *http.Request) {
	useCelsius, err := s.widget.ToggleUnit()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, unitResponse{UseCelsius: useCelsius, Unit: models.UnitSymbol(useCelsius)})
}

func (s *Server) handleFocus(w http.ResponseWriter, r *http.Request) {
	s.widget.Focus()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeSubmitError(w http.ResponseWriter, err error) {
	if errors.Is(err, widget.ErrEmptyInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: widget.EmptyInputMessage})
		return
	}

	var f *models.Failure
	if errors.As(err, &f) {
		status := http.StatusBadGateway
		if f.Kind == models.FailureNotFound {
			status = http.StatusNotFound
		}
		writeJSON(w, status, errorResponse{Error: s.widget.Error()})
		return
	}

	log.Printf("api: search: %v", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}
