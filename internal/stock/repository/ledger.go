package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/pkg/database"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// StockTransaction is one immutable ledger entry. QuantityBefore and
// QuantityAfter snapshot the medicine's TOTAL stock across all lots
// around this entry, not the touched lot's own quantity.
type StockTransaction struct {
	ID                string     `db:"id" json:"id"`
	FacilityCode      string     `db:"facility_code" json:"facility_code"`
	MedicineID        string     `db:"medicine_id" json:"medicine_id"`
	LotNumber         *string    `db:"lot_number" json:"lot_number,omitempty"`
	ExpiryDate        *time.Time `db:"expiry_date" json:"expiry_date,omitempty"`
	TransactionType   string     `db:"transaction_type" json:"transaction_type"`
	QuantityChange    int        `db:"quantity_change" json:"quantity_change"`
	QuantityBefore    int        `db:"quantity_before" json:"quantity_before"`
	QuantityAfter     int        `db:"quantity_after" json:"quantity_after"`
	ReferenceDocument *string    `db:"reference_document" json:"reference_document,omitempty"`
	ExternalGUID      *string    `db:"external_guid" json:"external_guid,omitempty"`
	UserID            *string    `db:"user_id" json:"user_id,omitempty"`
	Remarks           *string    `db:"remarks" json:"remarks,omitempty"`
	TransactionAt     time.Time  `db:"transaction_at" json:"transaction_at"`
}

// LedgerRepository handles the stock transaction ledger
type LedgerRepository struct {
	q database.Queryer
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *database.DB) *LedgerRepository {
	return &LedgerRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *LedgerRepository) WithTx(tx *sqlx.Tx) *LedgerRepository {
	return &LedgerRepository{q: tx}
}

// Insert appends a ledger entry
func (r *LedgerRepository) Insert(ctx context.Context, entry *StockTransaction) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_transactions (
			id, facility_code, medicine_id, lot_number, expiry_date,
			transaction_type, quantity_change, quantity_before, quantity_after,
			reference_document, external_guid, user_id, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING transaction_at
	`

	return r.q.QueryRowxContext(ctx, query,
		entry.ID, entry.FacilityCode, entry.MedicineID, entry.LotNumber, entry.ExpiryDate,
		entry.TransactionType, entry.QuantityChange, entry.QuantityBefore, entry.QuantityAfter,
		entry.ReferenceDocument, entry.ExternalGUID, entry.UserID, entry.Remarks,
	).Scan(&entry.TransactionAt)
}

// GetByID gets a ledger entry by ID
func (r *LedgerRepository) GetByID(ctx context.Context, id string) (*StockTransaction, error) {
	var entry StockTransaction
	query := `SELECT * FROM stock_transactions WHERE id = $1`
	if err := r.q.GetContext(ctx, &entry, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("ledger entry")
		}
		return nil, err
	}
	return &entry, nil
}

// Delete removes a ledger entry as the compensating half of a reversal.
// A reversal whose referenced entry is already gone must fail, not
// silently double-credit, so a missing row is a conflict.
func (r *LedgerRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM stock_transactions WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("ledger entry no longer exists")
	}

	return nil
}

// History returns a medicine's ledger entries within the date range in
// replay order.
func (r *LedgerRepository) History(ctx context.Context, facilityCode, medicineID string, from, to time.Time) ([]*StockTransaction, error) {
	var entries []*StockTransaction
	query := `
		SELECT * FROM stock_transactions
		WHERE facility_code = $1 AND medicine_id = $2
		AND transaction_at >= $3 AND transaction_at < $4
		ORDER BY transaction_at, id
	`
	if err := r.q.SelectContext(ctx, &entries, query, facilityCode, medicineID, from, to); err != nil {
		return nil, err
	}
	return entries, nil
}

// SumChangeBefore returns the net quantity change strictly before the
// given instant, i.e. the opening balance for a history replay.
func (r *LedgerRepository) SumChangeBefore(ctx context.Context, facilityCode, medicineID string, before time.Time) (int, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(quantity_change) FROM stock_transactions
		WHERE facility_code = $1 AND medicine_id = $2 AND transaction_at < $3
	`
	if err := r.q.GetContext(ctx, &total, query, facilityCode, medicineID, before); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// ListByReference returns the ledger entries behind one document
func (r *LedgerRepository) ListByReference(ctx context.Context, referenceDocument string) ([]*StockTransaction, error) {
	var entries []*StockTransaction
	query := `
		SELECT * FROM stock_transactions
		WHERE reference_document = $1
		ORDER BY transaction_at, id
	`
	if err := r.q.SelectContext(ctx, &entries, query, referenceDocument); err != nil {
		return nil, err
	}
	return entries, nil
}
