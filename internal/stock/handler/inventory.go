package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// InventoryHandler handles stock query endpoints
type InventoryHandler struct {
	service *service.InventoryService
	logger  *logger.Logger
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(svc *service.InventoryService, log *logger.Logger) *InventoryHandler {
	return &InventoryHandler{
		service: svc,
		logger:  log,
	}
}

func facilityParam(r *http.Request) (string, error) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		return "", errors.BadRequest("facility_code is required")
	}
	return facility, nil
}

// Summary lists every active medicine with its total on hand
func (h *InventoryHandler) Summary(w http.ResponseWriter, r *http.Request) {
	facility, err := facilityParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	summary, err := h.service.Summary(r.Context(), facility)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// Lots lists a medicine's available lots in dispensing order
func (h *InventoryHandler) Lots(w http.ResponseWriter, r *http.Request) {
	facility, err := facilityParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	medicineID := chi.URLParam(r, "id")

	lots, err := h.service.Lots(r.Context(), facility, medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// ExpiringLots lists lots expiring within the given window
func (h *InventoryHandler) ExpiringLots(w http.ResponseWriter, r *http.Request) {
	facility, err := facilityParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	days, _ := strconv.Atoi(r.URL.Query().Get("within_days"))
	if days < 1 {
		days = 90
	}

	lots, err := h.service.ExpiringLots(r.Context(), facility, days)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lots)
}

// History replays a medicine's ledger over a date range
func (h *InventoryHandler) History(w http.ResponseWriter, r *http.Request) {
	facility, err := facilityParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	medicineID := chi.URLParam(r, "id")

	from, err := time.Parse("2006-01-02", r.URL.Query().Get("date_from"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("date_from must be YYYY-MM-DD"))
		return
	}
	to, err := time.Parse("2006-01-02", r.URL.Query().Get("date_to"))
	if err != nil {
		httputil.Error(w, errors.BadRequest("date_to must be YYYY-MM-DD"))
		return
	}

	history, err := h.service.History(r.Context(), facility, medicineID, from, to.Add(24*time.Hour))
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, history)
}

// Dashboard returns the facility stock overview
func (h *InventoryHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	facility, err := facilityParam(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	summary, err := h.service.Dashboard(r.Context(), facility)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}
