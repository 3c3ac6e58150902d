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

const maxUploadSize = 10 << 20

// DispenseHandler handles dispense document endpoints
type DispenseHandler struct {
	service *service.DispenseService
	logger  *logger.Logger
}

// NewDispenseHandler creates a new dispense handler
func NewDispenseHandler(svc *service.DispenseService, log *logger.Logger) *DispenseHandler {
	return &DispenseHandler{
		service: svc,
		logger:  log,
	}
}

// Create creates a dispense document and draws down stock
func (h *DispenseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateDispenseRequest
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

// List lists dispense documents
func (h *DispenseHandler) List(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		httputil.Error(w, errors.BadRequest("facility_code is required"))
		return
	}

	p := httputil.ParsePagination(r)
	filter := repository.DispenseFilter{
		FacilityCode: facility,
		Status:       r.URL.Query().Get("status"),
		Limit:        p.PerPage,
		Offset:       p.Offset(),
	}
	if from, err := time.Parse("2006-01-02", r.URL.Query().Get("date_from")); err == nil {
		filter.DateFrom = &from
	}
	if to, err := time.Parse("2006-01-02", r.URL.Query().Get("date_to")); err == nil {
		filter.DateTo = &to
	}

	records, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, records, p.Meta(total))
}

// Get gets a dispense document with its lines
func (h *DispenseHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// UpdateHeader edits the header of an open dispense document
func (h *DispenseHandler) UpdateHeader(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.UpdateDispenseHeaderRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.service.UpdateHeader(r.Context(), id, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, record)
}

// Cancel reverses a dispense document and restores stock
func (h *DispenseHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Reason *string `json:"reason,omitempty"`
	}
	if r.ContentLength > 0 {
		if err := httputil.DecodeJSON(r, &req); err != nil {
			httputil.Error(w, err)
			return
		}
	}

	userID := httputil.GetUserID(r.Context())
	if err := h.service.Cancel(r.Context(), id, userID, req.Reason); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// Delete removes a dispense document, reversing stock unless it was
// already cancelled
func (h *DispenseHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Delete(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// ImportBulk imports dispense lines from an external system
func (h *DispenseHandler) ImportBulk(w http.ResponseWriter, r *http.Request) {
	var req service.BulkImportRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.UserID = httputil.GetUserID(r.Context())

	result, err := h.service.ImportBulk(r.Context(), req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// PreviewUpload parses an uploaded workbook and reports what importing
// it would do, without changing stock
func (h *DispenseHandler) PreviewUpload(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		httputil.Error(w, errors.BadRequest("facility_code is required"))
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		httputil.Error(w, errors.BadRequest("could not parse upload"))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.Error(w, errors.BadRequest("file is required"))
		return
	}
	defer file.Close()

	result, err := h.service.PreviewImport(r.Context(), facility, file)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}
