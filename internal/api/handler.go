package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"stockhero/config"
	"stockhero/internal/app"
	"stockhero/models"
	"stockhero/repository"

	"github.com/go-chi/chi/v5"
)

var stockIDPattern = regexp.MustCompile(`^[0-9A-Za-z]+$`)

// Handler handles HTTP API requests
type Handler struct {
	app *app.App
	cfg *config.Config
}

// NewHandler creates a new Handler
func NewHandler(application *app.App, cfg *config.Config) *Handler {
	return &Handler{app: application, cfg: cfg}
}

// UpdateResponse is the result of a triggered pipeline run
type UpdateResponse struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Verdict string `json:"verdict"`
	Message string `json:"message"`
}

// HandleUpdateStock runs the daily update for ?date=YYYY-MM-DD, or today
func (h *Handler) HandleUpdateStock(w http.ResponseWriter, r *http.Request) {
	var date *time.Time
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(models.DateLayout, raw)
		if err != nil {
			h.jsonError(w, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw), http.StatusBadRequest)
			return
		}
		date = &d
	}

	run, err := h.app.RunPipeline(r.Context(), date)
	if err != nil {
		if errors.Is(err, app.ErrRunInProgress) {
			h.jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set(VerdictHeader, string(run.Verdict))
	h.jsonResponse(w, UpdateResponse{
		Status:  "done",
		Success: run.Succeeded(),
		Verdict: string(run.Verdict),
		Message: run.Summary,
	})
}

// HandleHealth returns the health status of the application
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status": "ok",
	}
	services := map[string]string{}

	switch err := h.app.Health(r.Context()); {
	case err == nil:
		services["database"] = "connected"
	case errors.Is(err, repository.ErrNotConnected):
		services["database"] = "not_configured"
		status["status"] = "degraded"
	default:
		services["database"] = "disconnected"
		status["status"] = "degraded"
	}
	status["services"] = services

	cbStatus := h.app.BreakerStatus()
	status["circuit_breakers"] = cbStatus
	for _, cb := range cbStatus {
		if cb.State == "open" {
			status["status"] = "degraded"
			break
		}
	}

	h.jsonResponse(w, status)
}

// HandleGetRuns returns recent pipeline runs
func (h *Handler) HandleGetRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.app.RecentRuns(r.Context(), h.ParseLimitParam(r, 20))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	h.jsonResponse(w, runs)
}

// HandleFollow adds a stock to the watch list
func (h *Handler) HandleFollow(w http.ResponseWriter, r *http.Request) {
	h.setFollowed(w, r, true)
}

// HandleUnfollow removes a stock from the watch list
func (h *Handler) HandleUnfollow(w http.ResponseWriter, r *http.Request) {
	h.setFollowed(w, r, false)
}

func (h *Handler) setFollowed(w http.ResponseWriter, r *http.Request, followed bool) {
	id := chi.URLParam(r, "id")
	if err := ValidateStockID(id); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.app.SetFollowed(r.Context(), id, followed); err != nil {
		if errors.Is(err, repository.ErrStockNotFound) {
			h.jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.jsonResponse(w, map[string]interface{}{"stock_id": id, "follow": followed})
}

// ValidateStockID validates an exchange stock identifier
func ValidateStockID(id string) error {
	if id == "" {
		return fmt.Errorf("stock id is required")
	}
	if len(id) > 10 {
		return fmt.Errorf("stock id too long (max 10 characters)")
	}
	if !stockIDPattern.MatchString(id) {
		return fmt.Errorf("invalid stock id format (letters and digits only)")
	}
	return nil
}

// ParseLimitParam parses the limit query parameter
func (h *Handler) ParseLimitParam(r *http.Request, defaultLimit int) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return defaultLimit
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
