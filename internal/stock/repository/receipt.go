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
	"github.com/shopspring/decimal"
)

// ReceivedVoucher is a goods received document header. RequisitionID is
// set only for vouchers booking in approved requisition stock.
type ReceivedVoucher struct {
	ID            string    `db:"id" json:"id"`
	FacilityCode  string    `db:"facility_code" json:"facility_code"`
	VoucherNumber string    `db:"voucher_number" json:"voucher_number"`
	RequisitionID *string   `db:"requisition_id" json:"requisition_id,omitempty"`
	ReceivedDate  time.Time `db:"received_date" json:"received_date"`
	ReceiverID    string    `db:"receiver_id" json:"receiver_id"`
	SupplierName  *string   `db:"supplier_name" json:"supplier_name,omitempty"`
	InvoiceNumber *string   `db:"invoice_number" json:"invoice_number,omitempty"`
	Remarks       *string   `db:"remarks" json:"remarks,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// ReceivedItem is one received (lot, quantity) line
type ReceivedItem struct {
	ID            string           `db:"id" json:"id"`
	VoucherID     string           `db:"voucher_id" json:"voucher_id"`
	MedicineID    string           `db:"medicine_id" json:"medicine_id"`
	LotNumber     string           `db:"lot_number" json:"lot_number"`
	ExpiryDate    time.Time        `db:"expiry_date" json:"expiry_date"`
	Quantity      int              `db:"quantity" json:"quantity"`
	UnitPrice     *decimal.Decimal `db:"unit_price" json:"unit_price,omitempty"`
	Notes         *string          `db:"notes" json:"notes,omitempty"`
	LedgerEntryID *string          `db:"ledger_entry_id" json:"ledger_entry_id,omitempty"`
}

// ReceiptFilter narrows voucher listings
type ReceiptFilter struct {
	FacilityCode string
	DateFrom     *time.Time
	DateTo       *time.Time
	Limit        int
	Offset       int
}

// ReceiptRepository handles goods received persistence
type ReceiptRepository struct {
	q database.Queryer
}

// NewReceiptRepository creates a new receipt repository
func NewReceiptRepository(db *database.DB) *ReceiptRepository {
	return &ReceiptRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *ReceiptRepository) WithTx(tx *sqlx.Tx) *ReceiptRepository {
	return &ReceiptRepository{q: tx}
}

// CreateVoucher inserts a voucher header
func (r *ReceiptRepository) CreateVoucher(ctx context.Context, v *ReceivedVoucher) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}

	query := `
		INSERT INTO received_vouchers (
			id, facility_code, voucher_number, requisition_id, received_date,
			receiver_id, supplier_name, invoice_number, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at
	`

	return r.q.QueryRowxContext(ctx, query,
		v.ID, v.FacilityCode, v.VoucherNumber, v.RequisitionID, v.ReceivedDate,
		v.ReceiverID, v.SupplierName, v.InvoiceNumber, v.Remarks,
	).Scan(&v.CreatedAt)
}

// GetVoucher gets a voucher by ID
func (r *ReceiptRepository) GetVoucher(ctx context.Context, id string) (*ReceivedVoucher, error) {
	var v ReceivedVoucher
	query := `SELECT * FROM received_vouchers WHERE id = $1`
	if err := r.q.GetContext(ctx, &v, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("received voucher")
		}
		return nil, err
	}
	return &v, nil
}

// ListVouchers lists vouchers matching the filter, newest first
func (r *ReceiptRepository) ListVouchers(ctx context.Context, f ReceiptFilter) ([]*ReceivedVoucher, int64, error) {
	where := "WHERE facility_code = $1"
	args := []interface{}{f.FacilityCode}

	if f.DateFrom != nil {
		args = append(args, *f.DateFrom)
		where += fmt.Sprintf(" AND received_date >= $%d", len(args))
	}
	if f.DateTo != nil {
		args = append(args, *f.DateTo)
		where += fmt.Sprintf(" AND received_date <= $%d", len(args))
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM received_vouchers " + where
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	listQuery := fmt.Sprintf(
		"SELECT * FROM received_vouchers %s ORDER BY received_date DESC, created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args),
	)

	var vouchers []*ReceivedVoucher
	if err := r.q.SelectContext(ctx, &vouchers, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return vouchers, total, nil
}

// UpdateVoucherHeader updates the mutable header fields of a voucher
func (r *ReceiptRepository) UpdateVoucherHeader(ctx context.Context, v *ReceivedVoucher) error {
	query := `
		UPDATE received_vouchers
		SET received_date = $2, receiver_id = $3, supplier_name = $4,
		    invoice_number = $5, remarks = $6
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		v.ID, v.ReceivedDate, v.ReceiverID, v.SupplierName, v.InvoiceNumber, v.Remarks,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("received voucher")
	}

	return nil
}

// DeleteVoucher removes a voucher header. Items cascade.
func (r *ReceiptRepository) DeleteVoucher(ctx context.Context, id string) error {
	query := `DELETE FROM received_vouchers WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("received voucher")
	}

	return nil
}

// InsertItem inserts a received item line
func (r *ReceiptRepository) InsertItem(ctx context.Context, item *ReceivedItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO received_items (
			id, voucher_id, medicine_id, lot_number, expiry_date,
			quantity, unit_price, notes, ledger_entry_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.q.ExecContext(ctx, query,
		item.ID, item.VoucherID, item.MedicineID, item.LotNumber, item.ExpiryDate,
		item.Quantity, item.UnitPrice, item.Notes, item.LedgerEntryID,
	)
	return err
}

// ItemsByVoucher returns all items of a voucher
func (r *ReceiptRepository) ItemsByVoucher(ctx context.Context, voucherID string) ([]*ReceivedItem, error) {
	var items []*ReceivedItem
	query := `
		SELECT * FROM received_items
		WHERE voucher_id = $1
		ORDER BY id
	`
	if err := r.q.SelectContext(ctx, &items, query, voucherID); err != nil {
		return nil, err
	}
	return items, nil
}
