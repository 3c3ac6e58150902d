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

// StockLot represents one physical lot of a medicine. Lots are never
// deleted; a lot drawn to zero keeps its row so reversals can credit it.
type StockLot struct {
	ID             string     `db:"id" json:"id"`
	FacilityCode   string     `db:"facility_code" json:"facility_code"`
	MedicineID     string     `db:"medicine_id" json:"medicine_id"`
	LotNumber      string     `db:"lot_number" json:"lot_number"`
	ExpiryDate     time.Time  `db:"expiry_date" json:"expiry_date"`
	QuantityOnHand int        `db:"quantity_on_hand" json:"quantity_on_hand"`
	ReceivedDate   *time.Time `db:"received_date" json:"received_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// LotRepository handles stock lot persistence
type LotRepository struct {
	q database.Queryer
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *database.DB) *LotRepository {
	return &LotRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *LotRepository) WithTx(tx *sqlx.Tx) *LotRepository {
	return &LotRepository{q: tx}
}

// AvailableForAllocation returns the lots an allocation may draw from,
// in first-expired-first-out order, locked for the duration of the
// caller's transaction. Lots sharing an expiry date are drawn in the
// order they were received.
func (r *LotRepository) AvailableForAllocation(ctx context.Context, facilityCode, medicineID string) ([]*StockLot, error) {
	var lots []*StockLot
	query := `
		SELECT * FROM stock_lots
		WHERE facility_code = $1 AND medicine_id = $2 AND quantity_on_hand > 0
		ORDER BY expiry_date, created_at, id
		FOR UPDATE
	`
	if err := r.q.SelectContext(ctx, &lots, query, facilityCode, medicineID); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListAvailable returns available lots in FEFO order without locking.
// Used by read-only queries and the import preview.
func (r *LotRepository) ListAvailable(ctx context.Context, facilityCode, medicineID string) ([]*StockLot, error) {
	var lots []*StockLot
	query := `
		SELECT * FROM stock_lots
		WHERE facility_code = $1 AND medicine_id = $2 AND quantity_on_hand > 0
		ORDER BY expiry_date, created_at, id
	`
	if err := r.q.SelectContext(ctx, &lots, query, facilityCode, medicineID); err != nil {
		return nil, err
	}
	return lots, nil
}

// ListByMedicine returns every lot for a medicine, empty ones included
func (r *LotRepository) ListByMedicine(ctx context.Context, facilityCode, medicineID string) ([]*StockLot, error) {
	var lots []*StockLot
	query := `
		SELECT * FROM stock_lots
		WHERE facility_code = $1 AND medicine_id = $2
		ORDER BY expiry_date, created_at, id
	`
	if err := r.q.SelectContext(ctx, &lots, query, facilityCode, medicineID); err != nil {
		return nil, err
	}
	return lots, nil
}

// GetByKey gets a lot by its natural key
func (r *LotRepository) GetByKey(ctx context.Context, facilityCode, medicineID, lotNumber string, expiryDate time.Time) (*StockLot, error) {
	var lot StockLot
	query := `
		SELECT * FROM stock_lots
		WHERE facility_code = $1 AND medicine_id = $2 AND lot_number = $3 AND expiry_date = $4
	`
	if err := r.q.GetContext(ctx, &lot, query, facilityCode, medicineID, lotNumber, expiryDate); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("stock lot")
		}
		return nil, err
	}
	return &lot, nil
}

// Deduct decrements a lot's on-hand quantity. The guard clause refuses
// to take the lot below zero even if the caller's snapshot is stale.
func (r *LotRepository) Deduct(ctx context.Context, lotID string, qty int) error {
	query := `
		UPDATE stock_lots
		SET quantity_on_hand = quantity_on_hand - $2, updated_at = NOW()
		WHERE id = $1 AND quantity_on_hand >= $2
	`
	result, err := r.q.ExecContext(ctx, query, lotID, qty)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.Conflict("stock level changed concurrently")
	}

	return nil
}

// Credit increments a lot's on-hand quantity
func (r *LotRepository) Credit(ctx context.Context, lotID string, qty int) error {
	query := `
		UPDATE stock_lots
		SET quantity_on_hand = quantity_on_hand + $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, lotID, qty)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("stock lot")
	}

	return nil
}

// Upsert adds quantity to an existing lot or creates it. The returned
// lot carries the post-upsert quantity.
func (r *LotRepository) Upsert(ctx context.Context, lot *StockLot) error {
	if lot.ID == "" {
		lot.ID = uuid.New().String()
	}

	query := `
		INSERT INTO stock_lots (
			id, facility_code, medicine_id, lot_number, expiry_date,
			quantity_on_hand, received_date
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (facility_code, medicine_id, lot_number, expiry_date)
		DO UPDATE SET
			quantity_on_hand = stock_lots.quantity_on_hand + EXCLUDED.quantity_on_hand,
			updated_at = NOW()
		RETURNING id, quantity_on_hand
	`

	return r.q.QueryRowxContext(ctx, query,
		lot.ID, lot.FacilityCode, lot.MedicineID, lot.LotNumber, lot.ExpiryDate,
		lot.QuantityOnHand, lot.ReceivedDate,
	).Scan(&lot.ID, &lot.QuantityOnHand)
}

// TotalOnHand returns the medicine's total stock across all lots
func (r *LotRepository) TotalOnHand(ctx context.Context, facilityCode, medicineID string) (int, error) {
	var total sql.NullInt64
	query := `
		SELECT SUM(quantity_on_hand) FROM stock_lots
		WHERE facility_code = $1 AND medicine_id = $2
	`
	if err := r.q.GetContext(ctx, &total, query, facilityCode, medicineID); err != nil {
		return 0, err
	}
	if !total.Valid {
		return 0, nil
	}
	return int(total.Int64), nil
}

// GetExpiringLots returns non-empty lots expiring within the given days
func (r *LotRepository) GetExpiringLots(ctx context.Context, facilityCode string, withinDays int) ([]*StockLot, error) {
	var lots []*StockLot
	query := `
		SELECT * FROM stock_lots
		WHERE facility_code = $1 AND quantity_on_hand > 0
		AND expiry_date <= CURRENT_DATE + $2 * INTERVAL '1 day'
		ORDER BY expiry_date, created_at, id
	`
	if err := r.q.SelectContext(ctx, &lots, query, facilityCode, withinDays); err != nil {
		return nil, err
	}
	return lots, nil
}
