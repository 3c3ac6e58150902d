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

// Requisition statuses
const (
	StatusPending           = "pending"
	StatusApproved          = "approved"
	StatusPartiallyApproved = "partially-approved"
	StatusRejected          = "rejected"
	StatusReceived          = "received"

	ItemApproved = "approved"
	ItemAdjusted = "adjusted"
	ItemRejected = "rejected"
)

// Requisition is a stock request from one facility to its supplier
type Requisition struct {
	ID                string     `db:"id" json:"id"`
	RequisitionNumber string     `db:"requisition_number" json:"requisition_number"`
	RequisitionDate   time.Time  `db:"requisition_date" json:"requisition_date"`
	RequesterID       string     `db:"requester_id" json:"requester_id"`
	RequesterFacility string     `db:"requester_facility" json:"requester_facility"`
	Status            string     `db:"status" json:"status"`
	Remarks           *string    `db:"remarks" json:"remarks,omitempty"`
	ApprovedBy        *string    `db:"approved_by" json:"approved_by,omitempty"`
	ApproverFacility  *string    `db:"approver_facility" json:"approver_facility,omitempty"`
	ApprovalDate      *time.Time `db:"approval_date" json:"approval_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// RequisitionItem is one requested medicine line
type RequisitionItem struct {
	ID                 string     `db:"id" json:"id"`
	RequisitionID      string     `db:"requisition_id" json:"requisition_id"`
	MedicineID         string     `db:"medicine_id" json:"medicine_id"`
	QuantityRequested  int        `db:"quantity_requested" json:"quantity_requested"`
	QuantityApproved   *int       `db:"quantity_approved" json:"quantity_approved,omitempty"`
	ApprovedLotNumber  *string    `db:"approved_lot_number" json:"approved_lot_number,omitempty"`
	ApprovedExpiryDate *time.Time `db:"approved_expiry_date" json:"approved_expiry_date,omitempty"`
	ItemApprovalStatus *string    `db:"item_approval_status" json:"item_approval_status,omitempty"`
	Reason             *string    `db:"reason" json:"reason,omitempty"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
}

// RequisitionItemDetail joins an item with catalog data and the
// requester's current stock, for the approval screen.
type RequisitionItemDetail struct {
	RequisitionItem
	MedicineCode string `db:"medicine_code" json:"medicine_code"`
	GenericName  string `db:"generic_name" json:"generic_name"`
	CurrentStock int    `db:"current_stock" json:"current_stock"`
}

// RequisitionFilter narrows requisition listings
type RequisitionFilter struct {
	RequesterFacility string
	Status            string
	Limit             int
	Offset            int
}

// RequisitionRepository handles requisition persistence
type RequisitionRepository struct {
	q database.Queryer
}

// NewRequisitionRepository creates a new requisition repository
func NewRequisitionRepository(db *database.DB) *RequisitionRepository {
	return &RequisitionRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *RequisitionRepository) WithTx(tx *sqlx.Tx) *RequisitionRepository {
	return &RequisitionRepository{q: tx}
}

// Create inserts a requisition header
func (r *RequisitionRepository) Create(ctx context.Context, req *Requisition) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if req.Status == "" {
		req.Status = StatusPending
	}

	query := `
		INSERT INTO requisitions (
			id, requisition_number, requisition_date, requester_id,
			requester_facility, status, remarks
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		req.ID, req.RequisitionNumber, req.RequisitionDate, req.RequesterID,
		req.RequesterFacility, req.Status, req.Remarks,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
}

// GetByID gets a requisition by ID
func (r *RequisitionRepository) GetByID(ctx context.Context, id string) (*Requisition, error) {
	var req Requisition
	query := `SELECT * FROM requisitions WHERE id = $1`
	if err := r.q.GetContext(ctx, &req, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("requisition")
		}
		return nil, err
	}
	return &req, nil
}

// List lists requisitions matching the filter, newest first
func (r *RequisitionRepository) List(ctx context.Context, f RequisitionFilter) ([]*Requisition, int64, error) {
	where := "WHERE 1=1"
	args := []interface{}{}

	if f.RequesterFacility != "" {
		args = append(args, f.RequesterFacility)
		where += fmt.Sprintf(" AND requester_facility = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM requisitions " + where
	if err := r.q.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	listQuery := fmt.Sprintf(
		"SELECT * FROM requisitions %s ORDER BY requisition_date DESC, created_at DESC LIMIT $%d OFFSET $%d",
		where, len(args)-1, len(args),
	)

	var reqs []*Requisition
	if err := r.q.SelectContext(ctx, &reqs, listQuery, args...); err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// SetStatus flips a requisition's status, stamping approval fields when given
func (r *RequisitionRepository) SetStatus(ctx context.Context, id, status string, approvedBy, approverFacility *string) error {
	query := `
		UPDATE requisitions
		SET status = $2, approved_by = COALESCE($3, approved_by),
		    approver_facility = COALESCE($4, approver_facility),
		    approval_date = CASE WHEN $3 IS NOT NULL THEN NOW() ELSE approval_date END,
		    updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query, id, status, approvedBy, approverFacility)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("requisition")
	}

	return nil
}

// Delete removes a requisition. Items cascade. Only pending
// requisitions may be deleted; the service enforces that.
func (r *RequisitionRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM requisitions WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("requisition")
	}

	return nil
}

// InsertItem inserts a requisition item line
func (r *RequisitionRepository) InsertItem(ctx context.Context, item *RequisitionItem) error {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	query := `
		INSERT INTO requisition_items (
			id, requisition_id, medicine_id, quantity_requested
		) VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`

	return r.q.QueryRowxContext(ctx, query,
		item.ID, item.RequisitionID, item.MedicineID, item.QuantityRequested,
	).Scan(&item.CreatedAt)
}

// ItemsByRequisition returns item details with catalog data and the
// approver facility's current stock per medicine.
func (r *RequisitionRepository) ItemsByRequisition(ctx context.Context, requisitionID, stockFacility string) ([]*RequisitionItemDetail, error) {
	var items []*RequisitionItemDetail
	query := `
		SELECT ri.*, m.medicine_code, m.generic_name,
		       COALESCE((
		           SELECT SUM(sl.quantity_on_hand) FROM stock_lots sl
		           WHERE sl.medicine_id = m.id AND sl.facility_code = $2
		       ), 0) AS current_stock
		FROM requisition_items ri
		JOIN medicines m ON m.id = ri.medicine_id
		WHERE ri.requisition_id = $1
		ORDER BY m.medicine_code
	`
	if err := r.q.SelectContext(ctx, &items, query, requisitionID, stockFacility); err != nil {
		return nil, err
	}
	return items, nil
}

// ReviewItem records the approval decision for one item
func (r *RequisitionRepository) ReviewItem(ctx context.Context, item *RequisitionItem) error {
	query := `
		UPDATE requisition_items
		SET quantity_approved = $2, approved_lot_number = $3,
		    approved_expiry_date = $4, item_approval_status = $5, reason = $6
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		item.ID, item.QuantityApproved, item.ApprovedLotNumber,
		item.ApprovedExpiryDate, item.ItemApprovalStatus, item.Reason,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("requisition item")
	}

	return nil
}

// CountPending counts pending requisitions for a facility's dashboard
func (r *RequisitionRepository) CountPending(ctx context.Context, requesterFacility string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM requisitions WHERE requester_facility = $1 AND status = 'pending'`
	if err := r.q.GetContext(ctx, &count, query, requesterFacility); err != nil {
		return 0, err
	}
	return count, nil
}
