package service

import (
	"context"
	"strings"

	"github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// CreateMedicineRequest carries a new catalog entry
type CreateMedicineRequest struct {
	FacilityCode     string  `json:"facility_code" validate:"required"`
	MedicineCode     string  `json:"medicine_code" validate:"required,max=50"`
	GenericName      string  `json:"generic_name" validate:"required,max=255"`
	Strength         *string `json:"strength,omitempty"`
	Unit             *string `json:"unit,omitempty"`
	ReorderPoint     int     `json:"reorder_point" validate:"gte=0"`
	MinStock         *int    `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock         *int    `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	LeadTimeDays     *int    `json:"lead_time_days,omitempty" validate:"omitempty,gte=0"`
	ReviewPeriodDays *int    `json:"review_period_days,omitempty" validate:"omitempty,gte=0"`
}

// UpdateMedicineRequest carries the editable catalog fields
type UpdateMedicineRequest struct {
	GenericName      string  `json:"generic_name" validate:"required,max=255"`
	Strength         *string `json:"strength,omitempty"`
	Unit             *string `json:"unit,omitempty"`
	ReorderPoint     int     `json:"reorder_point" validate:"gte=0"`
	MinStock         *int    `json:"min_stock,omitempty" validate:"omitempty,gte=0"`
	MaxStock         *int    `json:"max_stock,omitempty" validate:"omitempty,gte=0"`
	LeadTimeDays     *int    `json:"lead_time_days,omitempty" validate:"omitempty,gte=0"`
	ReviewPeriodDays *int    `json:"review_period_days,omitempty" validate:"omitempty,gte=0"`
}

// MedicineService manages the medicine catalog
type MedicineService struct {
	medicines *repository.MedicineRepository
	logger    *logger.Logger
}

// NewMedicineService creates a new medicine service
func NewMedicineService(medicines *repository.MedicineRepository, log *logger.Logger) *MedicineService {
	return &MedicineService{
		medicines: medicines,
		logger:    log,
	}
}

// Create adds a medicine to the facility catalog
func (s *MedicineService) Create(ctx context.Context, req CreateMedicineRequest) (*repository.Medicine, error) {
	if req.MinStock != nil && req.MaxStock != nil && *req.MaxStock < *req.MinStock {
		return nil, errors.Validation(map[string]string{"max_stock": "cannot be below min_stock"})
	}

	m := &repository.Medicine{
		FacilityCode:     req.FacilityCode,
		MedicineCode:     strings.TrimSpace(req.MedicineCode),
		GenericName:      strings.TrimSpace(req.GenericName),
		Strength:         req.Strength,
		Unit:             req.Unit,
		ReorderPoint:     req.ReorderPoint,
		MinStock:         req.MinStock,
		MaxStock:         req.MaxStock,
		LeadTimeDays:     req.LeadTimeDays,
		ReviewPeriodDays: req.ReviewPeriodDays,
		IsActive:         true,
	}

	if err := s.medicines.Create(ctx, m); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("medicine_id", m.ID).
		Str("medicine_code", m.MedicineCode).
		Str("facility_code", m.FacilityCode).
		Msg("Medicine created")

	return m, nil
}

// Get gets a medicine by ID
func (s *MedicineService) Get(ctx context.Context, id string) (*repository.Medicine, error) {
	return s.medicines.GetByID(ctx, id)
}

// GetByCode looks a medicine up by its facility-scoped code
func (s *MedicineService) GetByCode(ctx context.Context, facilityCode, code string) (*repository.Medicine, error) {
	return s.medicines.GetByCode(ctx, facilityCode, code)
}

// List lists the facility catalog with total stock on hand
func (s *MedicineService) List(ctx context.Context, facilityCode string) ([]*repository.MedicineWithStock, error) {
	return s.medicines.List(ctx, facilityCode)
}

// Search finds active medicines by code or name prefix
func (s *MedicineService) Search(ctx context.Context, facilityCode, term string) ([]*repository.Medicine, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return []*repository.Medicine{}, nil
	}
	return s.medicines.Search(ctx, facilityCode, term)
}

// Update edits a catalog entry. The medicine code and facility are
// immutable once created.
func (s *MedicineService) Update(ctx context.Context, id string, req UpdateMedicineRequest) (*repository.Medicine, error) {
	if req.MinStock != nil && req.MaxStock != nil && *req.MaxStock < *req.MinStock {
		return nil, errors.Validation(map[string]string{"max_stock": "cannot be below min_stock"})
	}

	m, err := s.medicines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	m.GenericName = strings.TrimSpace(req.GenericName)
	m.Strength = req.Strength
	m.Unit = req.Unit
	m.ReorderPoint = req.ReorderPoint
	m.MinStock = req.MinStock
	m.MaxStock = req.MaxStock
	m.LeadTimeDays = req.LeadTimeDays
	m.ReviewPeriodDays = req.ReviewPeriodDays

	if err := s.medicines.Update(ctx, m); err != nil {
		return nil, err
	}

	return m, nil
}

// Deactivate retires a medicine from the catalog. Historical documents
// keep referencing it; it just stops appearing in searches.
func (s *MedicineService) Deactivate(ctx context.Context, id string) error {
	if err := s.medicines.Deactivate(ctx, id); err != nil {
		return err
	}

	s.logger.Info().Str("medicine_id", id).Msg("Medicine deactivated")
	return nil
}
