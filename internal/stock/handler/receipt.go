package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// ReceiptHandler handles goods received voucher endpoints
type ReceiptHandler struct {
	service *service.ReceiptService
	logger  *logger.Logger
}

// NewReceiptHandler creates a new receipt handler
func NewReceiptHandler(svc *service.ReceiptService, log *logger.Logger) *ReceiptHandler {
	return &ReceiptHandler{
		service: svc,
		logger:  log,
	}
}

// Create records a goods received voucher and credits stock
func (h *ReceiptHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateReceiptRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.UserID = httputil.GetUserID(r.Context())

	result, err := h.service.Create(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, result)
}

// List lists goods received vouchers
func (h *ReceiptHandler) List(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		httputil.Error(w, errors.BadRequest("facility_code is required"))
		return
	}

	p := httputil.ParsePagination(r)
	filter := repository.ReceiptFilter{
		FacilityCode: facility,
		Limit:        p.PerPage,
		Offset:       p.Offset(),
	}
	if from, err := time.Parse("2006-01-02", r.URL.Query().Get("date_from")); err == nil {
		filter.DateFrom = &from
	}
	if to, err := time.Parse("2006-01-02", r.URL.Query().Get("date_to")); err == nil {
		filter.DateTo = &to
	}

	vouchers, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, vouchers, p.Meta(total))
}

// Get gets a voucher with its lines
func (h *ReceiptHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// UpdateHeader edits a voucher header
func (h *ReceiptHandler) UpdateHeader(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.UpdateReceiptHeaderRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	voucher, err := h.service.UpdateHeader(r.Context(), id, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, voucher)
}

// Delete removes a voucher, withdrawing the stock it credited
func (h *ReceiptHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	userID := httputil.GetUserID(r.Context())
	if err := h.service.Delete(r.Context(), id, userID); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}
