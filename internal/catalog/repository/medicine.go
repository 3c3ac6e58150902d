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

// Medicine represents a medicine in the facility catalog
type Medicine struct {
	ID               string    `db:"id" json:"id"`
	FacilityCode     string    `db:"facility_code" json:"facility_code"`
	MedicineCode     string    `db:"medicine_code" json:"medicine_code"`
	GenericName      string    `db:"generic_name" json:"generic_name"`
	Strength         *string   `db:"strength" json:"strength,omitempty"`
	Unit             *string   `db:"unit" json:"unit,omitempty"`
	ReorderPoint     int       `db:"reorder_point" json:"reorder_point"`
	MinStock         *int      `db:"min_stock" json:"min_stock,omitempty"`
	MaxStock         *int      `db:"max_stock" json:"max_stock,omitempty"`
	LeadTimeDays     *int      `db:"lead_time_days" json:"lead_time_days,omitempty"`
	ReviewPeriodDays *int      `db:"review_period_days" json:"review_period_days,omitempty"`
	IsActive         bool      `db:"is_active" json:"is_active"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// MedicineWithStock is a catalog row with its computed total stock
type MedicineWithStock struct {
	Medicine
	TotalOnHand int `db:"total_on_hand" json:"total_on_hand"`
}

// MedicineRepository handles medicine catalog persistence
type MedicineRepository struct {
	q database.Queryer
}

// NewMedicineRepository creates a new medicine repository
func NewMedicineRepository(db *database.DB) *MedicineRepository {
	return &MedicineRepository{q: db}
}

// WithTx returns a copy of the repository bound to the given transaction
func (r *MedicineRepository) WithTx(tx *sqlx.Tx) *MedicineRepository {
	return &MedicineRepository{q: tx}
}

// Create creates a new medicine
func (r *MedicineRepository) Create(ctx context.Context, m *Medicine) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}

	query := `
		INSERT INTO medicines (
			id, facility_code, medicine_code, generic_name, strength, unit,
			reorder_point, min_stock, max_stock, lead_time_days,
			review_period_days, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`

	return r.q.QueryRowxContext(ctx, query,
		m.ID, m.FacilityCode, m.MedicineCode, m.GenericName, m.Strength, m.Unit,
		m.ReorderPoint, m.MinStock, m.MaxStock, m.LeadTimeDays,
		m.ReviewPeriodDays, m.IsActive,
	).Scan(&m.CreatedAt, &m.UpdatedAt)
}

// GetByID gets a medicine by ID
func (r *MedicineRepository) GetByID(ctx context.Context, id string) (*Medicine, error) {
	var m Medicine
	query := `SELECT * FROM medicines WHERE id = $1`
	if err := r.q.GetContext(ctx, &m, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}

// GetByCode gets a medicine by its facility-scoped code
func (r *MedicineRepository) GetByCode(ctx context.Context, facilityCode, medicineCode string) (*Medicine, error) {
	var m Medicine
	query := `SELECT * FROM medicines WHERE facility_code = $1 AND medicine_code = $2`
	if err := r.q.GetContext(ctx, &m, query, facilityCode, medicineCode); err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.NotFound("medicine")
		}
		return nil, err
	}
	return &m, nil
}

// List lists a facility's active medicines with computed total stock
func (r *MedicineRepository) List(ctx context.Context, facilityCode string) ([]*MedicineWithStock, error) {
	var medicines []*MedicineWithStock
	query := `
		SELECT m.*, COALESCE(SUM(sl.quantity_on_hand), 0) AS total_on_hand
		FROM medicines m
		LEFT JOIN stock_lots sl ON sl.medicine_id = m.id
		WHERE m.facility_code = $1 AND m.is_active = true
		GROUP BY m.id
		ORDER BY m.medicine_code
	`
	if err := r.q.SelectContext(ctx, &medicines, query, facilityCode); err != nil {
		return nil, err
	}
	return medicines, nil
}

// Search finds active medicines whose code or name matches the term
func (r *MedicineRepository) Search(ctx context.Context, facilityCode, term string) ([]*Medicine, error) {
	var medicines []*Medicine
	query := `
		SELECT * FROM medicines
		WHERE facility_code = $1 AND is_active = true
		AND (medicine_code ILIKE $2 OR generic_name ILIKE $2)
		ORDER BY medicine_code
		LIMIT 10
	`
	if err := r.q.SelectContext(ctx, &medicines, query, facilityCode, "%"+term+"%"); err != nil {
		return nil, err
	}
	return medicines, nil
}

// Update updates a medicine's catalog fields
func (r *MedicineRepository) Update(ctx context.Context, m *Medicine) error {
	query := `
		UPDATE medicines SET
			generic_name = $2, strength = $3, unit = $4, reorder_point = $5,
			min_stock = $6, max_stock = $7, lead_time_days = $8,
			review_period_days = $9, updated_at = NOW()
		WHERE id = $1
	`
	result, err := r.q.ExecContext(ctx, query,
		m.ID, m.GenericName, m.Strength, m.Unit, m.ReorderPoint,
		m.MinStock, m.MaxStock, m.LeadTimeDays, m.ReviewPeriodDays,
	)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}

	return nil
}

// Deactivate marks a medicine inactive. History and lots stay intact.
func (r *MedicineRepository) Deactivate(ctx context.Context, id string) error {
	query := `UPDATE medicines SET is_active = false, updated_at = NOW() WHERE id = $1`
	result, err := r.q.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return errors.NotFound("medicine")
	}

	return nil
}

// ListBelowMinStock returns active medicines whose total stock is below
// their min_stock, used for reorder suggestions.
func (r *MedicineRepository) ListBelowMinStock(ctx context.Context, facilityCode string) ([]*MedicineWithStock, error) {
	var medicines []*MedicineWithStock
	query := `
		SELECT m.*, COALESCE(SUM(sl.quantity_on_hand), 0) AS total_on_hand
		FROM medicines m
		LEFT JOIN stock_lots sl ON sl.medicine_id = m.id
		WHERE m.facility_code = $1 AND m.is_active = true AND m.min_stock IS NOT NULL
		GROUP BY m.id
		HAVING COALESCE(SUM(sl.quantity_on_hand), 0) < m.min_stock
		ORDER BY m.medicine_code
	`
	if err := r.q.SelectContext(ctx, &medicines, query, facilityCode); err != nil {
		return nil, err
	}
	return medicines, nil
}
