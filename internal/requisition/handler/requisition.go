package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/service"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/httputil"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// RequisitionHandler handles requisition workflow endpoints
type RequisitionHandler struct {
	service *service.RequisitionService
	logger  *logger.Logger
}

// NewRequisitionHandler creates a new requisition handler
func NewRequisitionHandler(svc *service.RequisitionService, log *logger.Logger) *RequisitionHandler {
	return &RequisitionHandler{
		service: svc,
		logger:  log,
	}
}

// Create submits a stock request
func (h *RequisitionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRequisitionRequest
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

// List lists requisitions for a facility
func (h *RequisitionHandler) List(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		httputil.Error(w, errors.BadRequest("facility_code is required"))
		return
	}

	p := httputil.ParsePagination(r)
	filter := repository.RequisitionFilter{
		RequesterFacility: facility,
		Status:            r.URL.Query().Get("status"),
		Limit:             p.PerPage,
		Offset:            p.Offset(),
	}

	requisitions, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, requisitions, p.Meta(total))
}

// PendingApprovals lists requisitions awaiting review
func (h *RequisitionHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	p := httputil.ParsePagination(r)

	requisitions, total, err := h.service.PendingApprovals(r.Context(), p.PerPage, p.Offset())
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, requisitions, p.Meta(total))
}

// Get returns a requisition with its lines
func (h *RequisitionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// ProcessApproval records the review of a pending requisition
func (h *RequisitionHandler) ProcessApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req service.ProcessApprovalRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}

	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	req.UserID = httputil.GetUserID(r.Context())

	result, err := h.service.ProcessApproval(r.Context(), id, req)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, result)
}

// Cancel withdraws a pending requisition
func (h *RequisitionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.service.Cancel(r.Context(), id); err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.NoContent(w)
}

// SuggestReorder proposes lines for medicines running low
func (h *RequisitionHandler) SuggestReorder(w http.ResponseWriter, r *http.Request) {
	facility := r.URL.Query().Get("facility_code")
	if facility == "" {
		httputil.Error(w, errors.BadRequest("facility_code is required"))
		return
	}

	suggestions, err := h.service.SuggestReorder(r.Context(), facility)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, suggestions)
}
