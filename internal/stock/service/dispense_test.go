package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/stock/events"
	"github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispenseService(mockDB *testutil.MockDB, pub *testutil.MockPublisher) *DispenseService {
	log := logger.Nop()
	return NewDispenseService(
		mockDB.DB,
		catalogrepo.NewMedicineRepository(mockDB.DB),
		repository.NewLotRepository(mockDB.DB),
		repository.NewLedgerRepository(mockDB.DB),
		repository.NewDispenseRepository(mockDB.DB),
		repository.NewSequenceRepository(mockDB.DB),
		events.NewStockEventPublisherWith(pub, log),
		log,
	)
}

func medicineColumns() []string {
	return []string{
		"id", "facility_code", "medicine_code", "generic_name", "strength", "unit",
		"reorder_point", "min_stock", "max_stock", "lead_time_days",
		"review_period_days", "is_active", "created_at", "updated_at",
	}
}

func medicineRow(now time.Time) *sqlmock.Rows {
	return testutil.MockRows(medicineColumns()...).
		AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now)
}

func recordColumns() []string {
	return []string{
		"id", "facility_code", "record_number", "dispense_date", "dispenser_id",
		"dispense_type", "remarks", "status", "created_at", "updated_at",
	}
}

func itemColumns() []string {
	return []string{
		"id", "dispense_record_id", "medicine_id", "lot_number", "expiry_date",
		"quantity", "dispense_date", "external_guid", "ledger_entry_id",
		"item_status", "created_at", "updated_at",
	}
}

func TestDispenseCreate(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO document_sequences`).
		WithArgs("HQ", PrefixDispense, date).
		WillReturnRows(testutil.MockRows("last_seq").AddRow(1))
	mockDB.Mock.ExpectQuery(`INSERT INTO dispense_records`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("HQ", "AMOX500").
		WillReturnRows(medicineRow(now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_lots`).
		WithArgs("HQ", "med-1").
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow("l1", "HQ", "med-1", "L1", june, 20, nil, now, now))
	mockDB.Mock.ExpectExec(`UPDATE stock_lots`).
		WithArgs("l1", 6).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectQuery(`INSERT INTO stock_transactions`).
		WillReturnRows(testutil.MockRows("transaction_at").AddRow(now))
	mockDB.Mock.ExpectQuery(`INSERT INTO dispense_items`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectCommit()

	// low-stock check after commit: 14 left, reorder point 5
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("med-1").
		WillReturnRows(medicineRow(now))
	mockDB.Mock.ExpectQuery(`SELECT SUM\(quantity_on_hand\)`).
		WithArgs("HQ", "med-1").
		WillReturnRows(testutil.MockRows("sum").AddRow(14))

	svc := newDispenseService(mockDB, pub)
	result, err := svc.Create(context.Background(), CreateDispenseRequest{
		FacilityCode: "HQ",
		DispenseDate: date,
		DispenserID:  "pharm-1",
		DispenseType: DispenseOutpatient,
		UserID:       "user-1",
		Lines:        []DispenseLine{{MedicineCode: "AMOX500", Quantity: 6}},
	})
	require.NoError(t, err)

	assert.Equal(t, "DSP-HQ-250601-001", result.Record.RecordNumber)
	require.Len(t, result.Items, 1)
	assert.Equal(t, 6, result.Items[0].Quantity)
	assert.NotNil(t, result.Items[0].LedgerEntryID)

	pub.AssertEventPublished(t, messaging.EventStockAdjusted)
	pub.AssertEventPublished(t, messaging.EventDispenseCreated)
	for _, e := range pub.PublishedEvents {
		assert.NotEqual(t, messaging.EventStockLow, e.Type)
	}
	mockDB.ExpectationsWereMet(t)
}

func TestDispenseCreateInsufficientStockRollsBack(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO document_sequences`).
		WillReturnRows(testutil.MockRows("last_seq").AddRow(1))
	mockDB.Mock.ExpectQuery(`INSERT INTO dispense_records`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WillReturnRows(medicineRow(now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_lots`).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow("l1", "HQ", "med-1", "L1", june, 2, nil, now, now))
	mockDB.Mock.ExpectRollback()

	svc := newDispenseService(mockDB, pub)
	_, err := svc.Create(context.Background(), CreateDispenseRequest{
		FacilityCode: "HQ",
		DispenseDate: date,
		DispenserID:  "pharm-1",
		DispenseType: DispenseOutpatient,
		UserID:       "user-1",
		Lines:        []DispenseLine{{MedicineCode: "AMOX500", Quantity: 6}},
	})

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "INSUFFICIENT_STOCK", appErr.Code)

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestDispenseCancel(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_records`).
		WithArgs("rec-1").
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow("rec-1", "HQ", "DSP-HQ-250601-001", date, "pharm-1",
				DispenseOutpatient, nil, repository.RecordStatusNormal, now, now))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_items`).
		WithArgs("rec-1").
		WillReturnRows(testutil.MockRows(itemColumns()...).
			AddRow("item-1", "rec-1", "med-1", "L1", june, 6, date, nil, "le-1",
				repository.ItemStatusNormal, now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_lots`).
		WithArgs("HQ", "med-1", "L1", june).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow("l1", "HQ", "med-1", "L1", june, 14, nil, now, now))
	mockDB.Mock.ExpectExec(`UPDATE stock_lots`).
		WithArgs("l1", 6).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec(`DELETE FROM stock_transactions`).
		WithArgs("le-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectExec(`UPDATE dispense_records`).
		WithArgs("rec-1", repository.RecordStatusCancelled).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mockDB.Mock.ExpectCommit()

	svc := newDispenseService(mockDB, pub)
	err := svc.Cancel(context.Background(), "rec-1", "user-1", nil)
	require.NoError(t, err)

	pub.AssertEventPublished(t, messaging.EventDispenseCancelled)
	mockDB.ExpectationsWereMet(t)
}

func TestDispenseCancelFailsWhenLedgerRowGone(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	june := time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_records`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow("rec-1", "HQ", "DSP-HQ-250601-001", date, "pharm-1",
				DispenseOutpatient, nil, repository.RecordStatusNormal, now, now))

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_items`).
		WillReturnRows(testutil.MockRows(itemColumns()...).
			AddRow("item-1", "rec-1", "med-1", "L1", june, 6, date, nil, "le-1",
				repository.ItemStatusNormal, now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM stock_lots`).
		WillReturnRows(testutil.MockRows(lotColumns()...).
			AddRow("l1", "HQ", "med-1", "L1", june, 14, nil, now, now))
	mockDB.Mock.ExpectExec(`UPDATE stock_lots`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// the compensating delete finds nothing to delete
	mockDB.Mock.ExpectExec(`DELETE FROM stock_transactions`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mockDB.Mock.ExpectRollback()

	svc := newDispenseService(mockDB, pub)
	err := svc.Cancel(context.Background(), "rec-1", "user-1", nil)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestDispenseCancelAlreadyCancelled(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_records`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow("rec-1", "HQ", "DSP-HQ-250601-001", date, "pharm-1",
				DispenseOutpatient, nil, repository.RecordStatusCancelled, now, now))

	svc := newDispenseService(mockDB, pub)
	err := svc.Cancel(context.Background(), "rec-1", "user-1", nil)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestDispenseUpdateHeaderRefusedAfterCancel(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_records`).
		WillReturnRows(testutil.MockRows(recordColumns()...).
			AddRow("rec-1", "HQ", "DSP-HQ-250601-001", date, "pharm-1",
				DispenseOutpatient, nil, repository.RecordStatusSuperseded, now, now))

	svc := newDispenseService(mockDB, pub)
	_, err := svc.UpdateHeader(context.Background(), "rec-1", UpdateDispenseHeaderRequest{
		DispenseDate: date,
		DispenserID:  "pharm-1",
		DispenseType: DispenseOutpatient,
	})

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestDispenseGetNotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	mockDB.Mock.ExpectQuery(`SELECT \* FROM dispense_records`).
		WillReturnError(sql.ErrNoRows)

	svc := newDispenseService(mockDB, pub)
	_, err := svc.Get(context.Background(), "nope")

	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
