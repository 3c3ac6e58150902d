package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	reqevents "github.com/pharmstock/pharmstock-backend/internal/requisition/events"
	reqrepo "github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// ReceiptLine is one received medicine lot
type ReceiptLine struct {
	MedicineCode string           `json:"medicine_code" validate:"required"`
	LotNumber    string           `json:"lot_number" validate:"required"`
	ExpiryDate   time.Time        `json:"expiry_date" validate:"required"`
	Quantity     int              `json:"quantity" validate:"required,gt=0"`
	UnitPrice    *decimal.Decimal `json:"unit_price,omitempty"`
	Notes        *string          `json:"notes,omitempty"`
}

// CreateReceiptRequest describes a goods received voucher
type CreateReceiptRequest struct {
	FacilityCode  string        `json:"facility_code" validate:"required"`
	ReceivedDate  time.Time     `json:"received_date" validate:"required"`
	ReceiverID    string        `json:"receiver_id" validate:"required"`
	SupplierName  *string       `json:"supplier_name,omitempty"`
	InvoiceNumber *string       `json:"invoice_number,omitempty"`
	Remarks       *string       `json:"remarks,omitempty"`
	RequisitionID *string       `json:"requisition_id,omitempty"`
	UserID        string        `json:"-"`
	Items         []ReceiptLine `json:"items" validate:"required,min=1,dive"`
}

// UpdateReceiptHeaderRequest carries the editable voucher header fields
type UpdateReceiptHeaderRequest struct {
	ReceivedDate  time.Time `json:"received_date" validate:"required"`
	ReceiverID    string    `json:"receiver_id" validate:"required"`
	SupplierName  *string   `json:"supplier_name,omitempty"`
	InvoiceNumber *string   `json:"invoice_number,omitempty"`
	Remarks       *string   `json:"remarks,omitempty"`
}

// ReceiptResult is a committed voucher with its lines
type ReceiptResult struct {
	Voucher *repository.ReceivedVoucher `json:"voucher"`
	Items   []*repository.ReceivedItem  `json:"items"`
}

// ReceiptService orchestrates goods received vouchers
type ReceiptService struct {
	db           *database.DB
	medicines    *catalogrepo.MedicineRepository
	lots         *repository.LotRepository
	ledger       *repository.LedgerRepository
	receipts     *repository.ReceiptRepository
	sequences    *repository.SequenceRepository
	requisitions *reqrepo.RequisitionRepository
	events       *events.StockEventPublisher
	reqEvents    *reqevents.RequisitionEventPublisher
	logger       *logger.Logger
}

// NewReceiptService creates a new receipt service
func NewReceiptService(
	db *database.DB,
	medicines *catalogrepo.MedicineRepository,
	lots *repository.LotRepository,
	ledger *repository.LedgerRepository,
	receipts *repository.ReceiptRepository,
	sequences *repository.SequenceRepository,
	requisitions *reqrepo.RequisitionRepository,
	eventPub *events.StockEventPublisher,
	reqEventPub *reqevents.RequisitionEventPublisher,
	log *logger.Logger,
) *ReceiptService {
	return &ReceiptService{
		db:           db,
		medicines:    medicines,
		lots:         lots,
		ledger:       ledger,
		receipts:     receipts,
		sequences:    sequences,
		requisitions: requisitions,
		events:       eventPub,
		reqEvents:    reqEventPub,
		logger:       log.WithComponent("receipt"),
	}
}

// Create commits a goods received voucher. One transaction covers the
// voucher, every lot upsert, every ledger entry, and the requisition
// status flip for linked receipts.
func (s *ReceiptService) Create(ctx context.Context, req CreateReceiptRequest) (*ReceiptResult, error) {
	if len(req.Items) == 0 {
		return nil, errors.BadRequest("receipt requires at least one item")
	}
	for _, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, errors.BadRequest("quantity must be greater than zero")
		}
		if line.LotNumber == "" || line.ExpiryDate.IsZero() {
			return nil, errors.BadRequest("each item needs a lot number and expiry date")
		}
	}

	var result ReceiptResult
	var adjusted []messaging.StockAdjustedEvent
	var linkedNumber string
	txType := MapReceiptType(req.RequisitionID != nil)

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		voucherNumber := ""

		if req.RequisitionID != nil {
			requisition, err := s.requisitions.WithTx(tx).GetByID(ctx, *req.RequisitionID)
			if err != nil {
				return err
			}
			if requisition.Status != reqrepo.StatusApproved && requisition.Status != reqrepo.StatusPartiallyApproved {
				return errors.Conflict("requisition is " + requisition.Status + " and cannot be received")
			}
			voucherNumber = FormatLinkedReceiptNumber(requisition.RequisitionNumber)
			linkedNumber = requisition.RequisitionNumber

			if err := s.requisitions.WithTx(tx).SetStatus(ctx, requisition.ID, reqrepo.StatusReceived, nil, nil); err != nil {
				return err
			}
		} else {
			seq, err := s.sequences.WithTx(tx).Next(ctx, req.FacilityCode, PrefixReceipt, req.ReceivedDate)
			if err != nil {
				return err
			}
			voucherNumber = FormatDocumentNumber(PrefixReceipt, req.FacilityCode, req.ReceivedDate, seq)
		}

		voucher := &repository.ReceivedVoucher{
			FacilityCode:  req.FacilityCode,
			VoucherNumber: voucherNumber,
			RequisitionID: req.RequisitionID,
			ReceivedDate:  req.ReceivedDate,
			ReceiverID:    req.ReceiverID,
			SupplierName:  req.SupplierName,
			InvoiceNumber: req.InvoiceNumber,
			Remarks:       req.Remarks,
		}
		if err := s.receipts.WithTx(tx).CreateVoucher(ctx, voucher); err != nil {
			return err
		}
		result.Voucher = voucher

		for _, line := range req.Items {
			med, err := s.medicines.WithTx(tx).GetByCode(ctx, req.FacilityCode, line.MedicineCode)
			if err != nil {
				return err
			}

			before, err := s.lots.WithTx(tx).TotalOnHand(ctx, req.FacilityCode, med.ID)
			if err != nil {
				return err
			}

			receivedDate := req.ReceivedDate
			lot := &repository.StockLot{
				FacilityCode:   req.FacilityCode,
				MedicineID:     med.ID,
				LotNumber:      line.LotNumber,
				ExpiryDate:     line.ExpiryDate,
				QuantityOnHand: line.Quantity,
				ReceivedDate:   &receivedDate,
			}
			if err := s.lots.WithTx(tx).Upsert(ctx, lot); err != nil {
				return err
			}

			entry := &repository.StockTransaction{
				FacilityCode:      req.FacilityCode,
				MedicineID:        med.ID,
				LotNumber:         &lot.LotNumber,
				ExpiryDate:        &lot.ExpiryDate,
				TransactionType:   txType,
				QuantityChange:    line.Quantity,
				QuantityBefore:    before,
				QuantityAfter:     before + line.Quantity,
				ReferenceDocument: &voucher.VoucherNumber,
				UserID:            &req.UserID,
				Remarks:           line.Notes,
			}
			if err := s.ledger.WithTx(tx).Insert(ctx, entry); err != nil {
				return err
			}

			item := &repository.ReceivedItem{
				VoucherID:     voucher.ID,
				MedicineID:    med.ID,
				LotNumber:     line.LotNumber,
				ExpiryDate:    line.ExpiryDate,
				Quantity:      line.Quantity,
				UnitPrice:     line.UnitPrice,
				Notes:         line.Notes,
				LedgerEntryID: &entry.ID,
			}
			if err := s.receipts.WithTx(tx).InsertItem(ctx, item); err != nil {
				return err
			}
			result.Items = append(result.Items, item)

			adjusted = append(adjusted, messaging.StockAdjustedEvent{
				MedicineID:      med.ID,
				MedicineCode:    med.MedicineCode,
				LotID:           lot.ID,
				TransactionType: txType,
				QuantityChange:  line.Quantity,
				QuantityAfter:   before + line.Quantity,
				DocumentNumber:  voucher.VoucherNumber,
				PerformedBy:     req.UserID,
			})
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("voucher_number", result.Voucher.VoucherNumber).
		Int("items", len(result.Items)).
		Msg("goods receipt committed")

	for _, evt := range adjusted {
		s.events.PublishStockAdjusted(ctx, evt)
	}
	s.events.PublishReceiptCreated(ctx, messaging.ReceiptCreatedEvent{
		VoucherID:      result.Voucher.ID,
		DocumentNumber: result.Voucher.VoucherNumber,
		ReceiptType:    txType,
		LineCount:      len(result.Items),
		PerformedBy:    req.UserID,
	})
	if req.RequisitionID != nil {
		s.reqEvents.PublishReceived(ctx, messaging.RequisitionReceivedEvent{
			RequisitionID:  *req.RequisitionID,
			DocumentNumber: linkedNumber,
			VoucherID:      result.Voucher.ID,
			ReceivedBy:     req.UserID,
		})
	}

	return &result, nil
}

// Get returns a voucher with its items
func (s *ReceiptService) Get(ctx context.Context, id string) (*ReceiptResult, error) {
	voucher, err := s.receipts.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.receipts.ItemsByVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ReceiptResult{Voucher: voucher, Items: items}, nil
}

// List returns vouchers matching the filter
func (s *ReceiptService) List(ctx context.Context, f repository.ReceiptFilter) ([]*repository.ReceivedVoucher, int64, error) {
	return s.receipts.ListVouchers(ctx, f)
}

// UpdateHeader edits a manual voucher's header. Requisition-linked
// vouchers are frozen to keep them consistent with their requisition.
func (s *ReceiptService) UpdateHeader(ctx context.Context, id string, req UpdateReceiptHeaderRequest) (*repository.ReceivedVoucher, error) {
	voucher, err := s.receipts.GetVoucher(ctx, id)
	if err != nil {
		return nil, err
	}
	if voucher.RequisitionID != nil {
		return nil, errors.Conflict("requisition-linked vouchers cannot be edited")
	}

	voucher.ReceivedDate = req.ReceivedDate
	voucher.ReceiverID = req.ReceiverID
	voucher.SupplierName = req.SupplierName
	voucher.InvoiceNumber = req.InvoiceNumber
	voucher.Remarks = req.Remarks

	if err := s.receipts.UpdateVoucherHeader(ctx, voucher); err != nil {
		return nil, err
	}
	return voucher, nil
}

// Delete reverses a manual voucher item by item and removes it. Each
// reversal deducts the booked quantity from the lot and deletes the
// ledger row the item points at; stock already dispensed from those
// lots makes the deduction fail and the whole delete abort.
func (s *ReceiptService) Delete(ctx context.Context, id, userID string) error {
	voucher, err := s.receipts.GetVoucher(ctx, id)
	if err != nil {
		return err
	}
	if voucher.RequisitionID != nil {
		return errors.Conflict("requisition-linked vouchers cannot be deleted")
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		items, err := s.receipts.WithTx(tx).ItemsByVoucher(ctx, id)
		if err != nil {
			return err
		}

		for _, item := range items {
			if item.LedgerEntryID == nil {
				return errors.Conflict("received item has no ledger reference")
			}

			lot, err := s.lots.WithTx(tx).GetByKey(ctx, voucher.FacilityCode, item.MedicineID, item.LotNumber, item.ExpiryDate)
			if err != nil {
				return err
			}
			if err := s.lots.WithTx(tx).Deduct(ctx, lot.ID, item.Quantity); err != nil {
				if errors.Is(err, errors.ErrConflict) {
					return errors.Conflict("received stock was already dispensed")
				}
				return err
			}

			if err := s.ledger.WithTx(tx).Delete(ctx, *item.LedgerEntryID); err != nil {
				return err
			}
		}

		return s.receipts.WithTx(tx).DeleteVoucher(ctx, id)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("voucher_number", voucher.VoucherNumber).Msg("goods receipt deleted")

	s.events.PublishReceiptCancelled(ctx, messaging.ReceiptCancelledEvent{
		VoucherID:      voucher.ID,
		DocumentNumber: voucher.VoucherNumber,
		PerformedBy:    userID,
	})

	return nil
}
