package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// DispenseLine is one requested medicine draw
type DispenseLine struct {
	MedicineCode string `json:"medicine_code" validate:"required"`
	Quantity     int    `json:"quantity" validate:"required,gt=0"`
}

// CreateDispenseRequest describes a manual dispense document
type CreateDispenseRequest struct {
	FacilityCode string         `json:"facility_code" validate:"required"`
	DispenseDate time.Time      `json:"dispense_date" validate:"required"`
	DispenserID  string         `json:"dispenser_id" validate:"required"`
	DispenseType string         `json:"dispense_type" validate:"required"`
	Remarks      *string        `json:"remarks,omitempty"`
	UserID       string         `json:"-"`
	Lines        []DispenseLine `json:"lines" validate:"required,min=1,dive"`
}

// UpdateDispenseHeaderRequest carries the editable header fields
type UpdateDispenseHeaderRequest struct {
	DispenseDate time.Time `json:"dispense_date" validate:"required"`
	DispenserID  string    `json:"dispenser_id" validate:"required"`
	DispenseType string    `json:"dispense_type" validate:"required"`
	Remarks      *string   `json:"remarks,omitempty"`
}

// DispenseResult is a committed dispense document with its lines
type DispenseResult struct {
	Record *repository.DispenseRecord `json:"record"`
	Items  []*repository.DispenseItem `json:"items"`
}

// DispenseService orchestrates dispense documents over the allocator
type DispenseService struct {
	db        *database.DB
	medicines *catalogrepo.MedicineRepository
	lots      *repository.LotRepository
	ledger    *repository.LedgerRepository
	dispense  *repository.DispenseRepository
	sequences *repository.SequenceRepository
	allocator *Allocator
	events    *events.StockEventPublisher
	logger    *logger.Logger
}

// NewDispenseService creates a new dispense service
func NewDispenseService(
	db *database.DB,
	medicines *catalogrepo.MedicineRepository,
	lots *repository.LotRepository,
	ledger *repository.LedgerRepository,
	dispense *repository.DispenseRepository,
	sequences *repository.SequenceRepository,
	eventPub *events.StockEventPublisher,
	log *logger.Logger,
) *DispenseService {
	return &DispenseService{
		db:        db,
		medicines: medicines,
		lots:      lots,
		ledger:    ledger,
		dispense:  dispense,
		sequences: sequences,
		allocator: NewAllocator(lots, ledger),
		events:    eventPub,
		logger:    log.WithComponent("dispense"),
	}
}

// Create commits a manual dispense document. The whole document is one
// transaction: any line failing aborts everything.
func (s *DispenseService) Create(ctx context.Context, req CreateDispenseRequest) (*DispenseResult, error) {
	if len(req.Lines) == 0 {
		return nil, errors.BadRequest("dispense requires at least one line")
	}
	for _, line := range req.Lines {
		if line.Quantity <= 0 {
			return nil, errors.BadRequest("quantity must be greater than zero")
		}
	}

	var result DispenseResult
	var adjusted []messaging.StockAdjustedEvent

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		seq, err := s.sequences.WithTx(tx).Next(ctx, req.FacilityCode, PrefixDispense, req.DispenseDate)
		if err != nil {
			return err
		}

		record := &repository.DispenseRecord{
			FacilityCode: req.FacilityCode,
			RecordNumber: FormatDocumentNumber(PrefixDispense, req.FacilityCode, req.DispenseDate, seq),
			DispenseDate: req.DispenseDate,
			DispenserID:  req.DispenserID,
			DispenseType: req.DispenseType,
			Remarks:      req.Remarks,
		}
		if err := s.dispense.WithTx(tx).CreateRecord(ctx, record); err != nil {
			return err
		}
		result.Record = record

		txType := MapDispenseType(req.DispenseType)
		for _, line := range req.Lines {
			med, err := s.medicines.WithTx(tx).GetByCode(ctx, req.FacilityCode, line.MedicineCode)
			if err != nil {
				return err
			}

			allocations, err := s.allocator.Allocate(ctx, tx, AllocationRequest{
				FacilityCode:      req.FacilityCode,
				MedicineID:        med.ID,
				MedicineCode:      med.MedicineCode,
				Quantity:          line.Quantity,
				TransactionType:   txType,
				ReferenceDocument: record.RecordNumber,
				UserID:            req.UserID,
				Remarks:           req.Remarks,
			})
			if err != nil {
				return err
			}

			for _, alloc := range allocations {
				item := &repository.DispenseItem{
					DispenseRecordID: record.ID,
					MedicineID:       med.ID,
					LotNumber:        alloc.Lot.LotNumber,
					ExpiryDate:       alloc.Lot.ExpiryDate,
					Quantity:         alloc.Quantity,
					DispenseDate:     req.DispenseDate,
					LedgerEntryID:    &alloc.LedgerEntryID,
				}
				if err := s.dispense.WithTx(tx).InsertItem(ctx, item); err != nil {
					return err
				}
				result.Items = append(result.Items, item)

				adjusted = append(adjusted, messaging.StockAdjustedEvent{
					MedicineID:      med.ID,
					MedicineCode:    med.MedicineCode,
					LotID:           alloc.Lot.ID,
					TransactionType: txType,
					QuantityChange:  -alloc.Quantity,
					DocumentNumber:  record.RecordNumber,
					PerformedBy:     req.UserID,
				})
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_number", result.Record.RecordNumber).
		Int("lines", len(result.Items)).
		Msg("dispense committed")

	for _, evt := range adjusted {
		s.events.PublishStockAdjusted(ctx, evt)
	}
	s.events.PublishDispenseCreated(ctx, messaging.DispenseCreatedEvent{
		DispenseID:     result.Record.ID,
		DocumentNumber: result.Record.RecordNumber,
		DispenseType:   req.DispenseType,
		LineCount:      len(result.Items),
		PerformedBy:    req.UserID,
	})
	s.checkStockLow(ctx, req.FacilityCode, adjusted)

	return &result, nil
}

// Get returns a record with its items
func (s *DispenseService) Get(ctx context.Context, id string) (*DispenseResult, error) {
	record, err := s.dispense.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.dispense.ItemsByRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DispenseResult{Record: record, Items: items}, nil
}

// List returns records matching the filter
func (s *DispenseService) List(ctx context.Context, f repository.DispenseFilter) ([]*repository.DispenseRecord, int64, error) {
	return s.dispense.ListRecords(ctx, f)
}

// UpdateHeader edits a record's header fields. Cancelled and superseded
// records are frozen.
func (s *DispenseService) UpdateHeader(ctx context.Context, id string, req UpdateDispenseHeaderRequest) (*repository.DispenseRecord, error) {
	record, err := s.dispense.GetRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != repository.RecordStatusNormal {
		return nil, errors.Conflict("record is " + record.Status + " and cannot be edited")
	}

	record.DispenseDate = req.DispenseDate
	record.DispenserID = req.DispenserID
	record.DispenseType = req.DispenseType
	record.Remarks = req.Remarks

	if err := s.dispense.UpdateHeader(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Cancel reverses a record's stock movements and flips it to cancelled.
// Item rows stay as history under the cancelled header.
func (s *DispenseService) Cancel(ctx context.Context, id, userID string, reason *string) error {
	record, err := s.dispense.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if record.Status == repository.RecordStatusCancelled {
		return errors.Conflict("record is already cancelled")
	}

	err = s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		items, err := s.dispense.WithTx(tx).ItemsByRecord(ctx, id)
		if err != nil {
			return err
		}

		for _, item := range items {
			if item.ItemStatus != repository.ItemStatusNormal {
				continue
			}
			if err := s.reverseItem(ctx, tx, record.FacilityCode, item, reverseKeep); err != nil {
				return err
			}
		}

		return s.dispense.WithTx(tx).SetRecordStatus(ctx, id, repository.RecordStatusCancelled)
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("record_number", record.RecordNumber).Msg("dispense cancelled")

	reasonStr := ""
	if reason != nil {
		reasonStr = *reason
	}
	s.events.PublishDispenseCancelled(ctx, messaging.DispenseCancelledEvent{
		DispenseID:     record.ID,
		DocumentNumber: record.RecordNumber,
		PerformedBy:    userID,
		Reason:         reasonStr,
	})

	return nil
}

// Delete reverses any still-active stock movements and removes the
// record with its items.
func (s *DispenseService) Delete(ctx context.Context, id string) error {
	record, err := s.dispense.GetRecord(ctx, id)
	if err != nil {
		return err
	}

	return s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		items, err := s.dispense.WithTx(tx).ItemsByRecord(ctx, id)
		if err != nil {
			return err
		}

		for _, item := range items {
			// items under a cancelled header were reversed already
			if item.ItemStatus != repository.ItemStatusNormal || record.Status == repository.RecordStatusCancelled {
				continue
			}
			if err := s.reverseItem(ctx, tx, record.FacilityCode, item, reverseKeep); err != nil {
				return err
			}
		}

		return s.dispense.WithTx(tx).DeleteRecord(ctx, id)
	})
}

type reverseMode int

const (
	// reverseKeep leaves the item row untouched
	reverseKeep reverseMode = iota
	// reverseSupersede marks the item superseded
	reverseSupersede
)

// reverseItem credits the consumed lot back and deletes the ledger row
// the item points at. A missing ledger reference or a vanished ledger
// row fails the reversal outright rather than guessing.
func (s *DispenseService) reverseItem(ctx context.Context, tx *sqlx.Tx, facilityCode string, item *repository.DispenseItem, mode reverseMode) error {
	if item.LedgerEntryID == nil {
		return errors.Conflict("dispense item has no ledger reference")
	}

	lotRepo := s.lots.WithTx(tx)
	lot, err := lotRepo.GetByKey(ctx, facilityCode, item.MedicineID, item.LotNumber, item.ExpiryDate)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// lot row was never created or purged out of band, recreate it
			lot = &repository.StockLot{
				FacilityCode:   facilityCode,
				MedicineID:     item.MedicineID,
				LotNumber:      item.LotNumber,
				ExpiryDate:     item.ExpiryDate,
				QuantityOnHand: item.Quantity,
			}
			if err := lotRepo.Upsert(ctx, lot); err != nil {
				return err
			}
		} else {
			return err
		}
	} else {
		if err := lotRepo.Credit(ctx, lot.ID, item.Quantity); err != nil {
			return err
		}
	}

	if err := s.ledger.WithTx(tx).Delete(ctx, *item.LedgerEntryID); err != nil {
		return err
	}

	if mode == reverseSupersede {
		return s.dispense.WithTx(tx).MarkItemSuperseded(ctx, item.ID)
	}
	return nil
}

// checkStockLow publishes stock.low for every medicine whose total
// on-hand fell to or below its reorder point.
func (s *DispenseService) checkStockLow(ctx context.Context, facilityCode string, adjusted []messaging.StockAdjustedEvent) {
	seen := make(map[string]bool)
	for _, evt := range adjusted {
		if seen[evt.MedicineID] {
			continue
		}
		seen[evt.MedicineID] = true

		med, err := s.medicines.GetByID(ctx, evt.MedicineID)
		if err != nil {
			continue
		}
		total, err := s.lots.TotalOnHand(ctx, facilityCode, evt.MedicineID)
		if err != nil {
			continue
		}
		if total <= med.ReorderPoint {
			s.events.PublishStockLow(ctx, messaging.StockLowEvent{
				MedicineID:   med.ID,
				MedicineCode: med.MedicineCode,
				MedicineName: med.GenericName,
				TotalOnHand:  total,
				ReorderPoint: med.ReorderPoint,
			})
		}
	}
}
