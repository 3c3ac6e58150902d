package service

import (
	"context"
	"time"

	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	reqrepo "github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
)

// Stock status labels
const (
	StockStatusOut    = "out-of-stock"
	StockStatusLow    = "low"
	StockStatusNormal = "normal"
)

// StockSummary is one medicine's inventory position
type StockSummary struct {
	MedicineID   string `json:"medicine_id"`
	MedicineCode string `json:"medicine_code"`
	GenericName  string `json:"generic_name"`
	TotalOnHand  int    `json:"total_on_hand"`
	ReorderPoint int    `json:"reorder_point"`
	Status       string `json:"status"`
}

// HistoryEntry is one ledger row with its replayed running balance
type HistoryEntry struct {
	*repository.StockTransaction
	RunningBefore int `json:"running_before"`
	RunningAfter  int `json:"running_after"`
}

// HistoryResult is a medicine's ledger over a date range
type HistoryResult struct {
	OpeningBalance int             `json:"opening_balance"`
	ClosingBalance int             `json:"closing_balance"`
	Entries        []*HistoryEntry `json:"entries"`
}

// DashboardSummary is the facility overview
type DashboardSummary struct {
	MedicinesInStock    int `json:"medicines_in_stock"`
	LowStockCount       int `json:"low_stock_count"`
	OutOfStockCount     int `json:"out_of_stock_count"`
	PendingRequisitions int `json:"pending_requisitions"`
}

// InventoryService answers read-only stock questions
type InventoryService struct {
	medicines    *catalogrepo.MedicineRepository
	lots         *repository.LotRepository
	ledger       *repository.LedgerRepository
	requisitions *reqrepo.RequisitionRepository
	logger       *logger.Logger
}

// NewInventoryService creates a new inventory query service
func NewInventoryService(
	medicines *catalogrepo.MedicineRepository,
	lots *repository.LotRepository,
	ledger *repository.LedgerRepository,
	requisitions *reqrepo.RequisitionRepository,
	log *logger.Logger,
) *InventoryService {
	return &InventoryService{
		medicines:    medicines,
		lots:         lots,
		ledger:       ledger,
		requisitions: requisitions,
		logger:       log.WithComponent("inventory"),
	}
}

// stockStatus classifies a total against a reorder point
func stockStatus(total, reorderPoint int) string {
	switch {
	case total == 0:
		return StockStatusOut
	case total <= reorderPoint:
		return StockStatusLow
	default:
		return StockStatusNormal
	}
}

// Summary returns every active medicine's inventory position
func (s *InventoryService) Summary(ctx context.Context, facilityCode string) ([]*StockSummary, error) {
	medicines, err := s.medicines.List(ctx, facilityCode)
	if err != nil {
		return nil, err
	}

	summaries := make([]*StockSummary, 0, len(medicines))
	for _, med := range medicines {
		summaries = append(summaries, &StockSummary{
			MedicineID:   med.ID,
			MedicineCode: med.MedicineCode,
			GenericName:  med.GenericName,
			TotalOnHand:  med.TotalOnHand,
			ReorderPoint: med.ReorderPoint,
			Status:       stockStatus(med.TotalOnHand, med.ReorderPoint),
		})
	}
	return summaries, nil
}

// Lots returns a medicine's available lots in dispensing order
func (s *InventoryService) Lots(ctx context.Context, facilityCode, medicineID string) ([]*repository.StockLot, error) {
	if _, err := s.medicines.GetByID(ctx, medicineID); err != nil {
		return nil, err
	}
	return s.lots.ListAvailable(ctx, facilityCode, medicineID)
}

// ExpiringLots returns lots expiring within the given days
func (s *InventoryService) ExpiringLots(ctx context.Context, facilityCode string, withinDays int) ([]*repository.StockLot, error) {
	return s.lots.GetExpiringLots(ctx, facilityCode, withinDays)
}

// History replays a medicine's ledger over the range. The running
// balance is recomputed from the opening balance rather than read from
// the stored snapshots, so the replay is internally consistent even
// across reversals.
func (s *InventoryService) History(ctx context.Context, facilityCode, medicineID string, from, to time.Time) (*HistoryResult, error) {
	if _, err := s.medicines.GetByID(ctx, medicineID); err != nil {
		return nil, err
	}

	opening, err := s.ledger.SumChangeBefore(ctx, facilityCode, medicineID, from)
	if err != nil {
		return nil, err
	}

	entries, err := s.ledger.History(ctx, facilityCode, medicineID, from, to)
	if err != nil {
		return nil, err
	}

	result := &HistoryResult{
		OpeningBalance: opening,
		Entries:        make([]*HistoryEntry, 0, len(entries)),
	}

	running := opening
	for _, entry := range entries {
		he := &HistoryEntry{
			StockTransaction: entry,
			RunningBefore:    running,
			RunningAfter:     running + entry.QuantityChange,
		}
		running = he.RunningAfter
		result.Entries = append(result.Entries, he)
	}
	result.ClosingBalance = running

	return result, nil
}

// Dashboard returns the facility overview counters
func (s *InventoryService) Dashboard(ctx context.Context, facilityCode string) (*DashboardSummary, error) {
	summaries, err := s.Summary(ctx, facilityCode)
	if err != nil {
		return nil, err
	}

	dashboard := &DashboardSummary{}
	for _, sum := range summaries {
		switch sum.Status {
		case StockStatusOut:
			dashboard.OutOfStockCount++
		case StockStatusLow:
			dashboard.MedicinesInStock++
			dashboard.LowStockCount++
		default:
			dashboard.MedicinesInStock++
		}
	}

	pending, err := s.requisitions.CountPending(ctx, facilityCode)
	if err != nil {
		return nil, err
	}
	dashboard.PendingRequisitions = pending

	return dashboard, nil
}
