package service

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
)

// LotTake is one planned draw from a lot
type LotTake struct {
	Lot      *repository.StockLot `json:"lot"`
	Quantity int                  `json:"quantity"`
}

// Allocation is one executed draw: the lot, the quantity taken, and the
// ledger entry the draw produced.
type Allocation struct {
	Lot           *repository.StockLot
	Quantity      int
	LedgerEntryID string
}

// AllocationRequest describes one medicine draw
type AllocationRequest struct {
	FacilityCode      string
	MedicineID        string
	MedicineCode      string
	Quantity          int
	TransactionType   string
	ReferenceDocument string
	ExternalGUID      *string
	UserID            string
	Remarks           *string
}

// planAllocation plans a first-expired-first-out draw over lots that
// arrive pre-sorted by (expiry_date, created_at, id). The sufficiency
// check runs
// before anything else: a draw either comes entirely from stock or not
// at all.
func planAllocation(medicineCode string, lots []*repository.StockLot, qty int) ([]LotTake, error) {
	if qty <= 0 {
		return nil, errors.BadRequest("quantity must be greater than zero")
	}

	available := 0
	for _, lot := range lots {
		available += lot.QuantityOnHand
	}
	if available < qty {
		return nil, errors.InsufficientStock(medicineCode, available, qty)
	}

	var takes []LotTake
	remaining := qty
	for _, lot := range lots {
		if remaining == 0 {
			break
		}
		take := lot.QuantityOnHand
		if take > remaining {
			take = remaining
		}
		takes = append(takes, LotTake{Lot: lot, Quantity: take})
		remaining -= take
	}

	return takes, nil
}

// Allocator draws stock lot-by-lot in expiry order and writes the
// matching ledger entries.
type Allocator struct {
	lots   *repository.LotRepository
	ledger *repository.LedgerRepository
}

// NewAllocator creates a new allocator
func NewAllocator(lots *repository.LotRepository, ledger *repository.LedgerRepository) *Allocator {
	return &Allocator{lots: lots, ledger: ledger}
}

// Allocate executes a FEFO draw inside the caller's transaction. Each
// consumed lot gets its own ledger entry whose before/after snapshots
// are the medicine's total stock, shrinking lot-by-lot within the call.
// Any failure leaves the transaction for the caller to roll back.
func (a *Allocator) Allocate(ctx context.Context, tx *sqlx.Tx, req AllocationRequest) ([]Allocation, error) {
	lotRepo := a.lots.WithTx(tx)
	ledgerRepo := a.ledger.WithTx(tx)

	lots, err := lotRepo.AvailableForAllocation(ctx, req.FacilityCode, req.MedicineID)
	if err != nil {
		return nil, err
	}

	takes, err := planAllocation(req.MedicineCode, lots, req.Quantity)
	if err != nil {
		return nil, err
	}

	running := 0
	for _, lot := range lots {
		running += lot.QuantityOnHand
	}

	var allocations []Allocation
	for _, take := range takes {
		if err := lotRepo.Deduct(ctx, take.Lot.ID, take.Quantity); err != nil {
			return nil, err
		}

		entry := &repository.StockTransaction{
			FacilityCode:      req.FacilityCode,
			MedicineID:        req.MedicineID,
			LotNumber:         &take.Lot.LotNumber,
			ExpiryDate:        &take.Lot.ExpiryDate,
			TransactionType:   req.TransactionType,
			QuantityChange:    -take.Quantity,
			QuantityBefore:    running,
			QuantityAfter:     running - take.Quantity,
			ReferenceDocument: &req.ReferenceDocument,
			ExternalGUID:      req.ExternalGUID,
			UserID:            &req.UserID,
			Remarks:           req.Remarks,
		}
		if err := ledgerRepo.Insert(ctx, entry); err != nil {
			return nil, err
		}

		running -= take.Quantity
		allocations = append(allocations, Allocation{
			Lot:           take.Lot,
			Quantity:      take.Quantity,
			LedgerEntryID: entry.ID,
		})
	}

	return allocations, nil
}

// Plan computes the FEFO draw a quantity would take without touching
// anything. The import preview runs on this.
func (a *Allocator) Plan(ctx context.Context, facilityCode, medicineID, medicineCode string, qty int) ([]LotTake, error) {
	lots, err := a.lots.ListAvailable(ctx, facilityCode, medicineID)
	if err != nil {
		return nil, err
	}
	return planAllocation(medicineCode, lots, qty)
}
