package service

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
)

// BulkLine is one line of a bulk dispense import. Row is the source
// workbook row when the line came from an upload, zero otherwise.
type BulkLine struct {
	Row          int       `json:"-"`
	ExternalGUID string    `json:"external_guid"`
	MedicineCode string    `json:"medicine_code"`
	Quantity     int       `json:"quantity"`
	DispenseDate time.Time `json:"dispense_date"`
}

// BulkImportRequest describes an idempotent bulk import batch
type BulkImportRequest struct {
	FacilityCode string     `json:"facility_code" validate:"required"`
	DispenserID  string     `json:"dispenser_id" validate:"required"`
	DispenseType string     `json:"dispense_type" validate:"required"`
	ImportDate   time.Time  `json:"import_date" validate:"required"`
	UserID       string     `json:"-"`
	Lines        []BulkLine `json:"lines" validate:"required,min=1"`
}

// BulkLineFailure records why one line was not imported
type BulkLineFailure struct {
	ExternalGUID string `json:"external_guid"`
	MedicineCode string `json:"medicine_code"`
	Error        string `json:"error"`
}

// BulkImportResult summarizes a committed import batch
type BulkImportResult struct {
	RecordID       string            `json:"record_id,omitempty"`
	RecordNumber   string            `json:"record_number,omitempty"`
	ProcessedCount int               `json:"processed_count"`
	UpdatedGUIDs   []string          `json:"updated_guids"`
	SkippedGUIDs   []string          `json:"skipped_guids"`
	Failed         []BulkLineFailure `json:"failed"`
}

// ImportBulk reconciles a batch of externally-sourced dispense lines
// against the ledger. Lines carrying a GUID already on file are skipped
// when the quantity matches and superseded-then-reallocated when it
// differs, so re-running the same file is a no-op. Line failures are
// collected and the rest of the batch still commits.
func (s *DispenseService) ImportBulk(ctx context.Context, req BulkImportRequest) (*BulkImportResult, error) {
	if len(req.Lines) == 0 {
		return nil, errors.BadRequest("import requires at least one line")
	}

	lines := make([]BulkLine, len(req.Lines))
	copy(lines, req.Lines)
	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].DispenseDate.Before(lines[j].DispenseDate)
	})

	result := &BulkImportResult{
		UpdatedGUIDs: []string{},
		SkippedGUIDs: []string{},
		Failed:       []BulkLineFailure{},
	}
	var adjusted []messaging.StockAdjustedEvent

	err := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		dispenseRepo := s.dispense.WithTx(tx)

		seq, err := s.sequences.WithTx(tx).Next(ctx, req.FacilityCode, PrefixExcelDispense, req.ImportDate)
		if err != nil {
			return err
		}

		record := &repository.DispenseRecord{
			FacilityCode: req.FacilityCode,
			RecordNumber: FormatDocumentNumber(PrefixExcelDispense, req.FacilityCode, req.ImportDate, seq),
			DispenseDate: req.ImportDate,
			DispenserID:  req.DispenserID,
			DispenseType: req.DispenseType + " (excel)",
		}
		if err := dispenseRepo.CreateRecord(ctx, record); err != nil {
			return err
		}

		for _, line := range lines {
			if failure := s.importLine(ctx, tx, record, req, line, result, &adjusted); failure != nil {
				result.Failed = append(result.Failed, *failure)
			}
		}

		// a batch that changed nothing leaves no document behind
		if result.ProcessedCount == 0 && len(result.UpdatedGUIDs) == 0 && len(result.SkippedGUIDs) == 0 {
			return dispenseRepo.DeleteRecord(ctx, record.ID)
		}

		result.RecordID = record.ID
		result.RecordNumber = record.RecordNumber
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("record_number", result.RecordNumber).
		Int("processed", result.ProcessedCount).
		Int("updated", len(result.UpdatedGUIDs)).
		Int("skipped", len(result.SkippedGUIDs)).
		Int("failed", len(result.Failed)).
		Msg("bulk import committed")

	for _, evt := range adjusted {
		s.events.PublishStockAdjusted(ctx, evt)
	}
	if result.RecordID != "" {
		s.events.PublishDispenseCreated(ctx, messaging.DispenseCreatedEvent{
			DispenseID:     result.RecordID,
			DocumentNumber: result.RecordNumber,
			DispenseType:   req.DispenseType + " (excel)",
			LineCount:      result.ProcessedCount + len(result.UpdatedGUIDs),
			PerformedBy:    req.UserID,
		})
	}
	s.checkStockLow(ctx, req.FacilityCode, adjusted)

	return result, nil
}

// importLine reconciles one line. A returned failure means the line was
// rejected; nil means it was processed, updated, or skipped.
func (s *DispenseService) importLine(
	ctx context.Context,
	tx *sqlx.Tx,
	record *repository.DispenseRecord,
	req BulkImportRequest,
	line BulkLine,
	result *BulkImportResult,
	adjusted *[]messaging.StockAdjustedEvent,
) *BulkLineFailure {
	fail := func(msg string) *BulkLineFailure {
		return &BulkLineFailure{
			ExternalGUID: line.ExternalGUID,
			MedicineCode: line.MedicineCode,
			Error:        msg,
		}
	}

	if line.Quantity <= 0 {
		return fail("quantity must be greater than zero")
	}
	if line.DispenseDate.IsZero() {
		return fail("invalid dispense date")
	}

	med, err := s.medicines.WithTx(tx).GetByCode(ctx, req.FacilityCode, line.MedicineCode)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return fail("unknown medicine code")
		}
		return fail(err.Error())
	}

	updated := false
	if line.ExternalGUID != "" {
		existing, err := s.dispense.WithTx(tx).NormalItemsByGUID(ctx, req.FacilityCode, line.ExternalGUID)
		if err != nil {
			return fail(err.Error())
		}

		if len(existing) > 0 {
			existingTotal := 0
			for _, item := range existing {
				existingTotal += item.Quantity
			}
			if existingTotal == line.Quantity {
				result.SkippedGUIDs = append(result.SkippedGUIDs, line.ExternalGUID)
				return nil
			}

			// quantity changed upstream: retire the old lines, then
			// allocate fresh against current stock
			for _, item := range existing {
				itemRecord, err := s.dispense.WithTx(tx).GetRecord(ctx, item.DispenseRecordID)
				if err != nil {
					return fail(err.Error())
				}
				if err := s.reverseItem(ctx, tx, itemRecord.FacilityCode, item, reverseSupersede); err != nil {
					return fail(err.Error())
				}
				if itemRecord.ID != record.ID {
					remaining, err := s.dispense.WithTx(tx).CountNormalItems(ctx, itemRecord.ID)
					if err != nil {
						return fail(err.Error())
					}
					if remaining == 0 && itemRecord.Status == repository.RecordStatusNormal {
						if err := s.dispense.WithTx(tx).SetRecordStatus(ctx, itemRecord.ID, repository.RecordStatusSuperseded); err != nil {
							return fail(err.Error())
						}
					}
				}
			}
			updated = true
		}
	}

	var guid *string
	if line.ExternalGUID != "" {
		guid = &line.ExternalGUID
	}

	allocations, err := s.allocator.Allocate(ctx, tx, AllocationRequest{
		FacilityCode:      req.FacilityCode,
		MedicineID:        med.ID,
		MedicineCode:      med.MedicineCode,
		Quantity:          line.Quantity,
		TransactionType:   TxExcelDispense,
		ReferenceDocument: record.RecordNumber,
		ExternalGUID:      guid,
		UserID:            req.UserID,
	})
	if err != nil {
		msg := err.Error()
		var appErr *errors.AppError
		if errors.As(err, &appErr) {
			msg = appErr.Message
		}
		if updated {
			// the old lines were reversed above and stay reversed, so
			// the guid must still surface in the updated set
			result.UpdatedGUIDs = append(result.UpdatedGUIDs, line.ExternalGUID)
			return fail("previous quantity reversed, reallocation failed: " + msg)
		}
		return fail(msg)
	}

	for _, alloc := range allocations {
		item := &repository.DispenseItem{
			DispenseRecordID: record.ID,
			MedicineID:       med.ID,
			LotNumber:        alloc.Lot.LotNumber,
			ExpiryDate:       alloc.Lot.ExpiryDate,
			Quantity:         alloc.Quantity,
			DispenseDate:     line.DispenseDate,
			ExternalGUID:     guid,
			LedgerEntryID:    &alloc.LedgerEntryID,
		}
		if err := s.dispense.WithTx(tx).InsertItem(ctx, item); err != nil {
			return fail(err.Error())
		}

		*adjusted = append(*adjusted, messaging.StockAdjustedEvent{
			MedicineID:      med.ID,
			MedicineCode:    med.MedicineCode,
			LotID:           alloc.Lot.ID,
			TransactionType: TxExcelDispense,
			QuantityChange:  -alloc.Quantity,
			DocumentNumber:  record.RecordNumber,
			PerformedBy:     req.UserID,
		})
	}

	if updated {
		result.UpdatedGUIDs = append(result.UpdatedGUIDs, line.ExternalGUID)
	} else {
		result.ProcessedCount++
	}
	return nil
}
