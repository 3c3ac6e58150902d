package repository_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLotDeductGuard(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	// the WHERE clause refuses when on-hand < qty, surfacing as 0 rows
	mockDB.Mock.ExpectExec(`UPDATE stock_lots`).
		WithArgs("lot-1", 10).
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewLotRepository(mockDB.DB)
	err := repo.Deduct(context.Background(), "lot-1", 10)

	assert.True(t, errors.Is(err, errors.ErrConflict))
	mockDB.ExpectationsWereMet(t)
}

func TestLotDeduct(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectExec(`UPDATE stock_lots`).
		WithArgs("lot-1", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := repository.NewLotRepository(mockDB.DB)
	require.NoError(t, repo.Deduct(context.Background(), "lot-1", 4))
	mockDB.ExpectationsWereMet(t)
}

func TestLotUpsertAccumulates(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	expiry := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	// conflict path: the existing row absorbs the new quantity and
	// returns its own id
	mockDB.Mock.ExpectQuery(`INSERT INTO stock_lots`).
		WillReturnRows(testutil.MockRows("id", "quantity_on_hand").AddRow("existing-lot", 30))

	repo := repository.NewLotRepository(mockDB.DB)
	lot := &repository.StockLot{
		FacilityCode:   "HQ",
		MedicineID:     "med-1",
		LotNumber:      "B100",
		ExpiryDate:     expiry,
		QuantityOnHand: 10,
	}
	require.NoError(t, repo.Upsert(context.Background(), lot))

	assert.Equal(t, "existing-lot", lot.ID)
	assert.Equal(t, 30, lot.QuantityOnHand)
	mockDB.ExpectationsWereMet(t)
}

func TestLotGetByKeyNotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	expiry := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_lots`).
		WithArgs("HQ", "med-1", "B100", expiry).
		WillReturnRows(testutil.MockRows(
			"id", "facility_code", "medicine_id", "lot_number", "expiry_date",
			"quantity_on_hand", "received_date", "created_at", "updated_at"))

	repo := repository.NewLotRepository(mockDB.DB)
	_, err := repo.GetByKey(context.Background(), "HQ", "med-1", "B100", expiry)

	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestLotFEFOTieBreaksOnReceiptOrder(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	expiry := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	first := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	second := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

	// lots sharing an expiry date fall back to created_at, so the lot
	// received first drains first
	mockDB.Mock.ExpectQuery(`ORDER BY expiry_date, created_at, id FOR UPDATE`).
		WithArgs("HQ", "med-1").
		WillReturnRows(testutil.MockRows(
			"id", "facility_code", "medicine_id", "lot_number", "expiry_date",
			"quantity_on_hand", "received_date", "created_at", "updated_at").
			AddRow("lot-first", "HQ", "med-1", "B100", expiry, 5, nil, first, first).
			AddRow("lot-second", "HQ", "med-1", "B101", expiry, 5, nil, second, second))

	repo := repository.NewLotRepository(mockDB.DB)
	lots, err := repo.AvailableForAllocation(context.Background(), "HQ", "med-1")
	require.NoError(t, err)

	require.Len(t, lots, 2)
	assert.Equal(t, "lot-first", lots[0].ID)
	assert.Equal(t, "lot-second", lots[1].ID)
	mockDB.ExpectationsWereMet(t)
}

func TestLedgerDeleteConflictWhenGone(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectExec(`DELETE FROM stock_transactions`).
		WithArgs("le-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := repository.NewLedgerRepository(mockDB.DB)
	err := repo.Delete(context.Background(), "le-1")

	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestNormalItemsByGUIDScopedToFacility(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectQuery(`WHERE dr\.facility_code = \$1 AND di\.external_guid = \$2`).
		WithArgs("HQ", "guid-1").
		WillReturnRows(testutil.MockRows(
			"id", "dispense_record_id", "medicine_id", "lot_number", "expiry_date",
			"quantity", "dispense_date", "external_guid", "ledger_entry_id",
			"item_status", "created_at", "updated_at"))

	repo := repository.NewDispenseRepository(mockDB.DB)
	items, err := repo.NormalItemsByGUID(context.Background(), "HQ", "guid-1")
	require.NoError(t, err)
	assert.Empty(t, items)
	mockDB.ExpectationsWereMet(t)
}

func TestSequenceNext(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`INSERT INTO document_sequences`).
		WithArgs("HQ", "DSP", date).
		WillReturnRows(testutil.MockRows("last_seq").AddRow(3))

	repo := repository.NewSequenceRepository(mockDB.DB)
	seq, err := repo.Next(context.Background(), "HQ", "DSP", date)
	require.NoError(t, err)
	assert.Equal(t, 3, seq)
	mockDB.ExpectationsWereMet(t)
}
