package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// Dispense record statuses
const (
	RecordStatusNormal     = "normal"
	RecordStatusCancelled  = "cancelled"
	RecordStatusSuperseded = "superseded-by-import"

	ItemStatusNormal     = "normal"
	ItemStatusSuperseded = "superseded"
)

// DispenseRecord is a dispense document header
type DispenseRecord struct {
	ID           string    `db:"id" json:"id"`
	FacilityCode string    `db:"facility_code" json:"facility_code"`
	RecordNumber string    `db:"record_number" json:"record_number"`
	DispenseDate time.Time `db:"dispense_date" json:"dispense_date"`
	DispenserID  string    `db:"dispenser_id" json:"dispenser_id"`
	DispenseType string    `db:"dispense_type" json:"dispense_type"`
	Remarks      *string   `db:"remarks" json:"remarks,omitempty"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// DispenseItem is one (lot, quantity) line produced by an allocation.
// LedgerEntryID points at the exact stock_transactions row the line
// produced; reversals delete that row and nothing else.
type DispenseItem struct {
	ID               string    `db:"id" json:"id"`
	DispenseRecordID string    `db:"dispense_record_id" json:"dispense_record_id"`
	MedicineID       string    `db:"medicine_id" json:"medicine_id"`
	LotNumber        string    `db:"lot_number" json:"lot_number"`
	ExpiryDate       time.Time `db:"expiry_date" json:"expiry_date"`
	Quantity         int       `db:"quantity" json:"quantity"`
	DispenseDate     time.Time `db:"dispense_date" json:"dispense_date"`
	ExternalGUID     *string   `db:"external_guid" json:"external_guid,omitempty"`
	LedgerEntryID    *string   `db:"ledger_entry_id" json:"ledger_entry_id,omitempty"`
	ItemStatus       string    `db:"item_status" json:"item_status"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// DispenseFilter narrows record listings
type DispenseFilter struct {
	FacilityCode string
	DateFrom     *time.Time
	DateTo       *time.Time
	Status       string
	Limit        int
	Offset       int
}

// DispenseRepository handles dispense document persistence
type DispenseRepository struct {
	q database.Queryer
}

// NewDispenseRepository creates a new dispense repository
func NewDispenseRepository(db *database.DB) *DispenseRepository {
	return &DispenseRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *DispenseRepository) WithTx(tx *sqlx.Tx) *DispenseRepository {
	return &DispenseRepository{q: tx}
}

// CreateRecord inserts a dispense header
func (r *DispenseRepository) CreateRecord(ctx context.Context, rec *DispenseRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = RecordStatusNormal
	}

	query := `
		INSERT INTO dispense_records (
			id, facility_code, record_number, dispense_date, dispenser_id,
			dispense_type, remarks, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		rec.ID, rec.FacilityCode, rec.RecordNumber, rec.DispenseDate, rec.DispenserID,
		rec.DispenseType, rec.Remarks, rec.Status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
}

// GetRecord gets a dispense record by ID
func (r *DispenseRepository) GetRecord(ctx context.Context, id string) (*DispenseRecord, error) {
	var rec DispenseRecord
	query := `SELECT * FROM dispense_records WHERE id = $1`
	if err := r.q.GetContext(ctx, &rec, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("dispense record")
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecords lists dispense records matching the filter, newest first
func (r *DispenseRepository) ListRecords(ctx context.Context, f DispenseFilter) ([]*DispenseRecord, int64, error) {
	where := "WHERE facility_code = $1"
	args := []interface{}{f.FacilityCode}

	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		where += fmt.Sprintf(" AND dispense_date >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		where += fmt.Sprintf(" AND dispense_date <= $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM dispense_records " + where
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	listQuery := fmt.Sprintf(
		"SELECT * FROM dispense_records %s ORDER BY dispense_date DESC, created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args),
	)

	var records []*DispenseRecord
	if err := r.q.SelectContext(ctx, &records, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// UpdateHeader updates the mutable header fields of a record
func (r *DispenseRepository) UpdateHeader(ctx context.Context, rec *DispenseRecord) error {
	query := `
		UPDATE dispense_records
		SET dispense_date = $2, dispenser_id = $3, dispense_type = $4,
		    remarks = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		rec.ID, rec.DispenseDate, rec.DispenserID, rec.DispenseType, rec.Remarks,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispense record")
	}

	return nil
}

// SetRecordStatus flips a record's status
func (r *DispenseRepository) SetRecordStatus(ctx context.Context, id, status string) error {
	query := `UPDATE dispense_records SET status = $2, updated_at = NOW() WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id, status)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispense record")
	}

	return nil
}

// DeleteRecord removes a record header. Items cascade.
func (r *DispenseRepository) DeleteRecord(ctx context.Context, id string) error {
	query := `DELETE FROM dispense_records WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispense record")
	}

	return nil
}

// InsertItem inserts a dispense item line
func (r *DispenseRepository) InsertItem(ctx context.Context, item *DispenseItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	if item.ItemStatus == "" {
		item.ItemStatus = ItemStatusNormal
	}

	query := `
		INSERT INTO dispense_items (
			id, dispense_record_id, medicine_id, lot_number, expiry_date,
			quantity, dispense_date, external_guid, ledger_entry_id, item_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		item.ID, item.DispenseRecordID, item.MedicineID, item.LotNumber, item.ExpiryDate,
		item.Quantity, item.DispenseDate, item.ExternalGUID, item.LedgerEntryID, item.ItemStatus,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

// ItemsByRecord returns all items of a record
func (r *DispenseRepository) ItemsByRecord(ctx context.Context, recordID string) ([]*DispenseItem, error) {
	var items []*DispenseItem
	query := `
		SELECT * FROM dispense_items
		WHERE dispense_record_id = $1
		ORDER BY created_at, id
	`
	if err := r.q.SelectContext(ctx, &items, query, recordID); err != nil {
		return nil, err
	}
	return items, nil
}

// NormalItemsByGUID returns the facility's still-active items carrying
// the given external GUID, ignoring items on cancelled headers. The
// idempotency check of the bulk import runs on this set; the facility
// filter keeps one facility's import from touching another's items.
func (r *DispenseRepository) NormalItemsByGUID(ctx context.Context, facilityCode, externalGUID string) ([]*DispenseItem, error) {
	var items []*DispenseItem
	query := `
		SELECT di.* FROM dispense_items di
		JOIN dispense_records dr ON dr.id = di.dispense_record_id
		WHERE dr.facility_code = $1
		AND di.external_guid = $2
		AND di.item_status = 'normal'
		AND dr.status != 'cancelled'
		ORDER BY di.created_at, di.id
	`
	if err := r.q.SelectContext(ctx, &items, query, facilityCode, externalGUID); err != nil {
		return nil, err
	}
	return items, nil
}

// MarkItemSuperseded flips one item to superseded
func (r *DispenseRepository) MarkItemSuperseded(ctx context.Context, itemID string) error {
	query := `
		UPDATE dispense_items
		SET item_status = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, itemID, ItemStatusSuperseded)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispense item")
	}

	return nil
}

// DeleteItem removes one item line
func (r *DispenseRepository) DeleteItem(ctx context.Context, itemID string) error {
	query := `DELETE FROM dispense_items WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, itemID)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("dispense item")
	}

	return nil
}

// CountNormalItems counts a record's items still in normal status
func (r *DispenseRepository) CountNormalItems(ctx context.Context, recordID string) (int, error) {
	var count int
	query := `
		SELECT COUNT(*) FROM dispense_items
		WHERE dispense_record_id = $1 AND item_status = 'normal'
	`
	if err := r.q.GetContext(ctx, &count, query, recordID); err != nil {
		return 0, err
	}
	return count, nil
}
