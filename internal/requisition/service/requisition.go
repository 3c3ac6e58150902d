package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/events"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	stockrepo "github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	stockservice "github.com/pharmstock/pharmstock-backend/internal/stock/service"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// Requisition numbers are facility-independent, so their daily counter
// lives under a single scope key.
const sequenceScope = "global"

const PrefixRequisition = "REQ"

// RequisitionLine is one requested medicine
type RequisitionLine struct {
	MedicineID        string `json:"medicine_id" validate:"required,uuid"`
	QuantityRequested int    `json:"quantity_requested" validate:"required,gt=0"`
}

// CreateRequisitionRequest describes a new stock request
type CreateRequisitionRequest struct {
	RequesterFacility string            `json:"requester_facility" validate:"required"`
	RequisitionDate   time.Time         `json:"requisition_date" validate:"required"`
	RequesterID       string            `json:"requester_id" validate:"required"`
	Remarks           *string           `json:"remarks,omitempty"`
	UserID            string            `json:"-"`
	Lines             []RequisitionLine `json:"lines" validate:"required,min=1,dive"`
}

// ItemReview is the approver's verdict on one requested line
type ItemReview struct {
	ItemID             string     `json:"item_id" validate:"required,uuid"`
	Status             string     `json:"status" validate:"required,oneof=approved adjusted rejected"`
	QuantityApproved   *int       `json:"quantity_approved,omitempty" validate:"omitempty,gte=0"`
	ApprovedLotNumber  *string    `json:"approved_lot_number,omitempty"`
	ApprovedExpiryDate *time.Time `json:"approved_expiry_date,omitempty"`
	Reason             *string    `json:"reason,omitempty"`
}

// ProcessApprovalRequest carries the full review of a pending requisition
type ProcessApprovalRequest struct {
	ApproverFacility string       `json:"approver_facility" validate:"required"`
	UserID           string       `json:"-"`
	Items            []ItemReview `json:"items" validate:"required,min=1,dive"`
}

// RequisitionResult is a requisition with its lines
type RequisitionResult struct {
	Requisition *repository.Requisition             `json:"requisition"`
	Items       []*repository.RequisitionItemDetail `json:"items"`
}

// ReorderSuggestion proposes a requisition line for a medicine running low
type ReorderSuggestion struct {
	MedicineID        string `json:"medicine_id"`
	MedicineCode      string `json:"medicine_code"`
	GenericName       string `json:"generic_name"`
	CurrentStock      int    `json:"current_stock"`
	TargetStock       int    `json:"target_stock"`
	SuggestedQuantity int    `json:"suggested_quantity"`
}

// RequisitionService manages the stock request workflow
type RequisitionService struct {
	db           *database.DB
	medicines    *catalogrepo.MedicineRepository
	requisitions *repository.RequisitionRepository
	sequences    *stockrepo.SequenceRepository
	events       *events.RequisitionEventPublisher
	logger       *logger.Logger
}

// NewRequisitionService creates a new requisition service
func NewRequisitionService(
	db *database.DB,
	medicines *catalogrepo.MedicineRepository,
	requisitions *repository.RequisitionRepository,
	sequences *stockrepo.SequenceRepository,
	eventPub *events.RequisitionEventPublisher,
	log *logger.Logger,
) *RequisitionService {
	return &RequisitionService{
		db:           db,
		medicines:    medicines,
		requisitions: requisitions,
		sequences:    sequences,
		events:       eventPub,
		logger:       log.WithComponent("requisition"),
	}
}

// Create submits a stock request. Numbering and all lines commit in one
// transaction.
func (s *RequisitionService) Create(ctx context.Context, req CreateRequisitionRequest) (*RequisitionResult, error) {
	var result RequisitionResult

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		seq, err := s.sequences.WithTx(tx).Next(ctx, sequenceScope, PrefixRequisition, req.RequisitionDate)
		if err != nil {
			return err
		}

		requisition := &repository.Requisition{
			RequisitionNumber: stockservice.FormatRequisitionNumber(req.RequisitionDate, seq),
			RequisitionDate:   req.RequisitionDate,
			RequesterID:       req.RequesterID,
			RequesterFacility: req.RequesterFacility,
			Remarks:           req.Remarks,
		}
		if err := s.requisitions.WithTx(tx).Create(ctx, requisition); err != nil {
			return err
		}
		result.Requisition = requisition

		for _, line := range req.Lines {
			if _, err := s.medicines.WithTx(tx).GetByID(ctx, line.MedicineID); err != nil {
				return err
			}

			item := &repository.RequisitionItem{
				RequisitionID:     requisition.ID,
				MedicineID:        line.MedicineID,
				QuantityRequested: line.QuantityRequested,
			}
			if err := s.requisitions.WithTx(tx).InsertItem(ctx, item); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("requisition_number", result.Requisition.RequisitionNumber).
		Str("requester_facility", req.RequesterFacility).
		Int("lines", len(req.Lines)).
		Msg("requisition submitted")

	s.events.PublishSubmitted(ctx, messaging.RequisitionSubmittedEvent{
		RequisitionID:  result.Requisition.ID,
		DocumentNumber: result.Requisition.RequisitionNumber,
		LineCount:      len(req.Lines),
		RequestedBy:    req.UserID,
	})

	items, err := s.requisitions.ItemsByRequisition(ctx, result.Requisition.ID, req.RequesterFacility)
	if err != nil {
		return nil, err
	}
	result.Items = items

	return &result, nil
}

// Get returns a requisition with its lines and the requester's current
// stock per medicine
func (s *RequisitionService) Get(ctx context.Context, id string) (*RequisitionResult, error) {
	requisition, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	items, err := s.requisitions.ItemsByRequisition(ctx, id, requisition.RequesterFacility)
	if err != nil {
		return nil, err
	}

	return &RequisitionResult{Requisition: requisition, Items: items}, nil
}

// List lists requisitions
func (s *RequisitionService) List(ctx context.Context, f repository.RequisitionFilter) ([]*repository.Requisition, int64, error) {
	return s.requisitions.List(ctx, f)
}

// PendingApprovals lists requisitions awaiting review
func (s *RequisitionService) PendingApprovals(ctx context.Context, limit, offset int) ([]*repository.Requisition, int64, error) {
	return s.requisitions.List(ctx, repository.RequisitionFilter{
		Status: repository.StatusPending,
		Limit:  limit,
		Offset: offset,
	})
}

// ProcessApproval records the approver's per-line verdicts and derives
// the header status: all approved is approved, all rejected is
// rejected, any mix is partially-approved.
func (s *RequisitionService) ProcessApproval(ctx context.Context, id string, req ProcessApprovalRequest) (*RequisitionResult, error) {
	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		requisition, err := s.requisitions.WithTx(tx).GetByID(ctx, id)
		if err != nil {
			return err
		}
		if requisition.Status != repository.StatusPending {
			return errors.Conflict("requisition is " + requisition.Status + " and cannot be reviewed")
		}

		approved, rejected := 0, 0
		for _, review := range req.Items {
			status := review.Status
			item := &repository.RequisitionItem{
				ID:                 review.ItemID,
				RequisitionID:      id,
				QuantityApproved:   review.QuantityApproved,
				ApprovedLotNumber:  review.ApprovedLotNumber,
				ApprovedExpiryDate: review.ApprovedExpiryDate,
				ItemApprovalStatus: &status,
				Reason:             review.Reason,
			}
			switch status {
			case repository.ItemApproved:
				approved++
			case repository.ItemRejected:
				rejected++
				zero := 0
				item.QuantityApproved = &zero
			}
			if err := s.requisitions.WithTx(tx).ReviewItem(ctx, item); err != nil {
				return err
			}
		}

		headerStatus := repository.StatusPartiallyApproved
		switch {
		case rejected == len(req.Items):
			headerStatus = repository.StatusRejected
		case approved == len(req.Items):
			headerStatus = repository.StatusApproved
		}

		return s.requisitions.WithTx(tx).SetStatus(ctx, id, headerStatus, &req.UserID, &req.ApproverFacility)
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("requisition_number", result.Requisition.RequisitionNumber).
		Str("status", result.Requisition.Status).
		Msg("requisition reviewed")

	s.events.PublishReviewed(ctx, messaging.RequisitionReviewedEvent{
		RequisitionID:  id,
		DocumentNumber: result.Requisition.RequisitionNumber,
		Status:         result.Requisition.Status,
		ReviewedBy:     req.UserID,
	})

	return result, nil
}

// Cancel hard-deletes a requisition. Only pending requests can go;
// anything reviewed stays on record.
func (s *RequisitionService) Cancel(ctx context.Context, id string) error {
	requisition, err := s.requisitions.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if requisition.Status != repository.StatusPending {
		return errors.Conflict("only pending requisitions can be cancelled")
	}

	return s.requisitions.Delete(ctx, id)
}

// SuggestReorder proposes lines for medicines below their minimum,
// topping each up to max_stock, or min_stock when no maximum is set.
func (s *RequisitionService) SuggestReorder(ctx context.Context, facilityCode string) ([]*ReorderSuggestion, error) {
	medicines, err := s.medicines.ListBelowMinStock(ctx, facilityCode)
	if err != nil {
		return nil, err
	}

	suggestions := []*ReorderSuggestion{}
	for _, m := range medicines {
		if m.MinStock == nil {
			continue
		}

		target := *m.MinStock
		if m.MaxStock != nil {
			target = *m.MaxStock
		}

		qty := target - m.TotalOnHand
		if qty <= 0 {
			continue
		}

		suggestions = append(suggestions, &ReorderSuggestion{
			MedicineID:        m.ID,
			MedicineCode:      m.MedicineCode,
			GenericName:       m.GenericName,
			CurrentStock:      m.TotalOnHand,
			TargetStock:       target,
			SuggestedQuantity: qty,
		})
	}

	return suggestions, nil
}
