package service

import (
	"context"
	"testing"
	"time"

	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	reqrepo "github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newInventoryService(mockDB *testutil.MockDB) *InventoryService {
	return NewInventoryService(
		catalogrepo.NewMedicineRepository(mockDB.DB),
		repository.NewLotRepository(mockDB.DB),
		repository.NewLedgerRepository(mockDB.DB),
		reqrepo.NewRequisitionRepository(mockDB.DB),
		logger.Nop(),
	)
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, StockStatusOut, stockStatus(0, 5))
	assert.Equal(t, StockStatusLow, stockStatus(3, 5))
	assert.Equal(t, StockStatusLow, stockStatus(5, 5))
	assert.Equal(t, StockStatusNormal, stockStatus(6, 5))
}

func TestInventorySummary(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	cols := append(medicineColumns(), "total_on_hand")
	mockDB.Mock.ExpectQuery(`SELECT m\.\*, COALESCE`).
		WithArgs("HQ").
		WillReturnRows(testutil.MockRows(cols...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now, 20).
			AddRow("med-2", "HQ", "PARA500", "paracetamol", nil, nil, 10, nil, nil, nil, nil, true, now, now, 0).
			AddRow("med-3", "HQ", "IBU400", "ibuprofen", nil, nil, 8, nil, nil, nil, nil, true, now, now, 8))

	svc := newInventoryService(mockDB)
	summaries, err := svc.Summary(context.Background(), "HQ")
	require.NoError(t, err)

	require.Len(t, summaries, 3)
	assert.Equal(t, StockStatusNormal, summaries[0].Status)
	assert.Equal(t, StockStatusOut, summaries[1].Status)
	assert.Equal(t, StockStatusLow, summaries[2].Status)
	mockDB.ExpectationsWereMet(t)
}

func TestInventoryHistoryReplay(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	ledgerCols := []string{
		"id", "facility_code", "medicine_id", "lot_number", "expiry_date",
		"transaction_type", "quantity_change", "quantity_before", "quantity_after",
		"reference_document", "external_guid", "user_id", "remarks", "transaction_at",
	}

	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("med-1").
		WillReturnRows(medRow("med-1", "AMOX500", 5, now))
	mockDB.Mock.ExpectQuery(`SELECT SUM\(quantity_change\)`).
		WithArgs("HQ", "med-1", from).
		WillReturnRows(testutil.MockRows("sum").AddRow(30))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_transactions`).
		WithArgs("HQ", "med-1", from, to).
		WillReturnRows(testutil.MockRows(ledgerCols...).
			AddRow("le-1", "HQ", "med-1", "L1", nil, TxPatientDispense, -4, 30, 26,
				"DSP-HQ-250601-001", nil, "user-1", nil, from.Add(2*time.Hour)).
			AddRow("le-2", "HQ", "med-1", "B200", nil, TxDirectReceipt, 50, 26, 76,
				"GRN-HQ-250602-001", nil, "user-1", nil, from.Add(26*time.Hour)).
			AddRow("le-3", "HQ", "med-1", "L1", nil, TxPatientDispense, -6, 76, 70,
				"DSP-HQ-250603-001", nil, "user-1", nil, from.Add(50*time.Hour)))

	svc := newInventoryService(mockDB)
	result, err := svc.History(context.Background(), "HQ", "med-1", from, to)
	require.NoError(t, err)

	assert.Equal(t, 30, result.OpeningBalance)
	assert.Equal(t, 70, result.ClosingBalance)
	require.Len(t, result.Entries, 3)
	assert.Equal(t, 30, result.Entries[0].RunningBefore)
	assert.Equal(t, 26, result.Entries[0].RunningAfter)
	assert.Equal(t, 26, result.Entries[1].RunningBefore)
	assert.Equal(t, 76, result.Entries[1].RunningAfter)
	assert.Equal(t, 76, result.Entries[2].RunningBefore)
	assert.Equal(t, 70, result.Entries[2].RunningAfter)
	mockDB.ExpectationsWereMet(t)
}

func TestInventoryHistoryEmptyLedger(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	from := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WillReturnRows(medRow("med-1", "AMOX500", 5, now))
	mockDB.Mock.ExpectQuery(`SELECT SUM\(quantity_change\)`).
		WillReturnRows(testutil.MockRows("sum").AddRow(nil))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_transactions`).
		WillReturnRows(testutil.MockRows(
			"id", "facility_code", "medicine_id", "lot_number", "expiry_date",
			"transaction_type", "quantity_change", "quantity_before", "quantity_after",
			"reference_document", "external_guid", "user_id", "remarks", "transaction_at"))

	svc := newInventoryService(mockDB)
	result, err := svc.History(context.Background(), "HQ", "med-1", from, to)
	require.NoError(t, err)

	assert.Zero(t, result.OpeningBalance)
	assert.Zero(t, result.ClosingBalance)
	assert.Empty(t, result.Entries)
}

func TestInventoryDashboard(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	cols := append(medicineColumns(), "total_on_hand")
	mockDB.Mock.ExpectQuery(`SELECT m\.\*, COALESCE`).
		WillReturnRows(testutil.MockRows(cols...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now, 20).
			AddRow("med-2", "HQ", "PARA500", "paracetamol", nil, nil, 10, nil, nil, nil, nil, true, now, now, 0).
			AddRow("med-3", "HQ", "IBU400", "ibuprofen", nil, nil, 8, nil, nil, nil, nil, true, now, now, 3))
	mockDB.Mock.ExpectQuery(`SELECT COUNT\(\*\) FROM requisitions`).
		WithArgs("HQ").
		WillReturnRows(testutil.MockRows("count").AddRow(2))

	svc := newInventoryService(mockDB)
	dashboard, err := svc.Dashboard(context.Background(), "HQ")
	require.NoError(t, err)

	assert.Equal(t, 2, dashboard.MedicinesInStock)
	assert.Equal(t, 1, dashboard.LowStockCount)
	assert.Equal(t, 1, dashboard.OutOfStockCount)
	assert.Equal(t, 2, dashboard.PendingRequisitions)
	mockDB.ExpectationsWereMet(t)
}
