package testutil

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MedicineFixture represents test medicine catalog data
type MedicineFixture struct {
	ID           string
	Code         string
	Name         string
	GenericName  string
	Unit         string
	UnitPrice    decimal.Decimal
	ReorderPoint int
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// LotFixture represents test stock lot data
type LotFixture struct {
	ID             string
	MedicineID     string
	LotNumber      string
	ExpiryDate     time.Time
	QuantityOnHand int
	CreatedAt      time.Time
}

// FixtureFactory creates test fixtures with sensible defaults
type FixtureFactory struct {
	sequence int
}

// NewFixtureFactory creates a new fixture factory
func NewFixtureFactory() *FixtureFactory {
	return &FixtureFactory{sequence: 0}
}

// nextSeq returns the next sequence number for unique values
func (f *FixtureFactory) nextSeq() int {
	f.sequence++
	return f.sequence
}

// Medicine creates a medicine fixture with defaults
func (f *FixtureFactory) Medicine(opts ...func(*MedicineFixture)) MedicineFixture {
	seq := f.nextSeq()

	med := MedicineFixture{
		ID:           uuid.New().String(),
		Code:         fmt.Sprintf("MED%04d", seq),
		Name:         fmt.Sprintf("Test Medicine %d", seq),
		GenericName:  fmt.Sprintf("testdrug-%d", seq),
		Unit:         "tablet",
		UnitPrice:    decimal.NewFromFloat(1.50),
		ReorderPoint: 20,
		IsActive:     true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}

	for _, opt := range opts {
		opt(&med)
	}

	return med
}

// WithCode sets the medicine code
func WithCode(code string) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.Code = code
	}
}

// WithMedicineName sets the medicine name
func WithMedicineName(name string) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.Name = name
	}
}

// WithReorderPoint sets the medicine reorder point
func WithReorderPoint(point int) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.ReorderPoint = point
	}
}

// WithUnitPrice sets the medicine unit price
func WithUnitPrice(price decimal.Decimal) func(*MedicineFixture) {
	return func(m *MedicineFixture) {
		m.UnitPrice = price
	}
}

// Lot creates a stock lot fixture with defaults. The lot expires a year
// out so tests exercising expiry must set it explicitly.
func (f *FixtureFactory) Lot(medicineID string, opts ...func(*LotFixture)) LotFixture {
	seq := f.nextSeq()

	lot := LotFixture{
		ID:             uuid.New().String(),
		MedicineID:     medicineID,
		LotNumber:      fmt.Sprintf("LOT-%04d", seq),
		ExpiryDate:     time.Now().AddDate(1, 0, 0),
		QuantityOnHand: 100,
		CreatedAt:      time.Now(),
	}

	for _, opt := range opts {
		opt(&lot)
	}

	return lot
}

// WithExpiry sets the lot expiry date
func WithExpiry(expiry time.Time) func(*LotFixture) {
	return func(l *LotFixture) {
		l.ExpiryDate = expiry
	}
}

// WithQuantity sets the lot on-hand quantity
func WithQuantity(qty int) func(*LotFixture) {
	return func(l *LotFixture) {
		l.QuantityOnHand = qty
	}
}

// WithLotNumber sets the lot number
func WithLotNumber(lotNumber string) func(*LotFixture) {
	return func(l *LotFixture) {
		l.LotNumber = lotNumber
	}
}
