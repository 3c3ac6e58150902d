package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	catalogrepo "github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/events"
	"github.com/pharmstock/pharmstock-backend/internal/requisition/repository"
	stockrepo "github.com/pharmstock/pharmstock-backend/internal/stock/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/messaging"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequisitionService(mockDB *testutil.MockDB, pub *testutil.MockPublisher) *RequisitionService {
	log := logger.Nop()
	return NewRequisitionService(
		mockDB.DB,
		catalogrepo.NewMedicineRepository(mockDB.DB),
		repository.NewRequisitionRepository(mockDB.DB),
		stockrepo.NewSequenceRepository(mockDB.DB),
		events.NewRequisitionEventPublisherWith(pub, log),
		log,
	)
}

func requisitionColumns() []string {
	return []string{
		"id", "requisition_number", "requisition_date", "requester_id",
		"requester_facility", "status", "remarks", "approved_by",
		"approver_facility", "approval_date", "created_at", "updated_at",
	}
}

func itemDetailColumns() []string {
	return []string{
		"id", "requisition_id", "medicine_id", "quantity_requested",
		"quantity_approved", "approved_lot_number", "approved_expiry_date",
		"item_approval_status", "reason", "created_at",
		"medicine_code", "generic_name", "current_stock",
	}
}

func medicineColumns() []string {
	return []string{
		"id", "facility_code", "medicine_code", "generic_name", "strength", "unit",
		"reorder_point", "min_stock", "max_stock", "lead_time_days",
		"review_period_days", "is_active", "created_at", "updated_at",
	}
}

func TestRequisitionCreate(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO document_sequences`).
		WithArgs("global", PrefixRequisition, date).
		WillReturnRows(testutil.MockRows("last_seq").AddRow(7))
	mockDB.Mock.ExpectQuery(`INSERT INTO requisitions`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("med-1").
		WillReturnRows(testutil.MockRows(medicineColumns()...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now))
	mockDB.Mock.ExpectQuery(`INSERT INTO requisition_items`).
		WillReturnRows(testutil.MockRows("created_at").AddRow(now))
	mockDB.Mock.ExpectCommit()

	mockDB.Mock.ExpectQuery(`SELECT ri\.\*`).
		WillReturnRows(testutil.MockRows(itemDetailColumns()...).
			AddRow("item-1", "req-1", "med-1", 30, nil, nil, nil, nil, nil, now,
				"AMOX500", "amoxicillin", 4))

	svc := newRequisitionService(mockDB, pub)
	result, err := svc.Create(context.Background(), CreateRequisitionRequest{
		RequesterFacility: "WARD2",
		RequisitionDate:   date,
		RequesterID:       "nurse-1",
		UserID:            "user-1",
		Lines:             []RequisitionLine{{MedicineID: "med-1", QuantityRequested: 30}},
	})
	require.NoError(t, err)

	assert.Equal(t, "REQ-20250601-0007", result.Requisition.RequisitionNumber)
	assert.Equal(t, repository.StatusPending, result.Requisition.Status)
	require.Len(t, result.Items, 1)

	pub.AssertEventPublished(t, messaging.EventRequisitionSubmitted)
	mockDB.ExpectationsWereMet(t)
}

func TestRequisitionCreateUnknownMedicine(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`INSERT INTO document_sequences`).
		WillReturnRows(testutil.MockRows("last_seq").AddRow(1))
	mockDB.Mock.ExpectQuery(`INSERT INTO requisitions`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WillReturnError(errors.NotFound("medicine"))
	mockDB.Mock.ExpectRollback()

	svc := newRequisitionService(mockDB, pub)
	_, err := svc.Create(context.Background(), CreateRequisitionRequest{
		RequesterFacility: "WARD2",
		RequisitionDate:   date,
		RequesterID:       "nurse-1",
		Lines:             []RequisitionLine{{MedicineID: "med-x", QuantityRequested: 30}},
	})

	require.Error(t, err)
	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func pendingRequisitionRow(now, date time.Time) *sqlmock.Rows {
	return testutil.MockRows(requisitionColumns()...).
		AddRow("req-1", "REQ-20250601-0007", date, "nurse-1", "WARD2",
			repository.StatusPending, nil, nil, nil, nil, now, now)
}

func TestProcessApprovalDerivesHeaderStatus(t *testing.T) {
	cases := []struct {
		name     string
		statuses []string
		want     string
	}{
		{"all approved", []string{"approved", "approved"}, repository.StatusApproved},
		{"all rejected", []string{"rejected", "rejected"}, repository.StatusRejected},
		{"mixed", []string{"approved", "rejected"}, repository.StatusPartiallyApproved},
		{"adjusted counts as partial", []string{"approved", "adjusted"}, repository.StatusPartiallyApproved},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mockDB := testutil.NewMockDB(t)
			defer mockDB.Close()
			pub := testutil.NewMockPublisher()

			now := time.Now()
			date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

			mockDB.Mock.ExpectBegin()
			mockDB.Mock.ExpectQuery(`SELECT \* FROM requisitions`).
				WillReturnRows(pendingRequisitionRow(now, date))
			for range tc.statuses {
				mockDB.Mock.ExpectExec(`UPDATE requisition_items`).
					WillReturnResult(sqlmock.NewResult(0, 1))
			}
			mockDB.Mock.ExpectExec(`UPDATE requisitions`).
				WithArgs("req-1", tc.want, "user-1", "HQ").
				WillReturnResult(sqlmock.NewResult(0, 1))
			mockDB.Mock.ExpectCommit()

			// reload for the response and the event payload
			mockDB.Mock.ExpectQuery(`SELECT \* FROM requisitions`).
				WillReturnRows(testutil.MockRows(requisitionColumns()...).
					AddRow("req-1", "REQ-20250601-0007", date, "nurse-1", "WARD2",
						tc.want, nil, "user-1", "HQ", now, now, now))
			mockDB.Mock.ExpectQuery(`SELECT ri\.\*`).
				WillReturnRows(testutil.MockRows(itemDetailColumns()...))

			reviews := make([]ItemReview, 0, len(tc.statuses))
			qty := 10
			for i, status := range tc.statuses {
				reviews = append(reviews, ItemReview{
					ItemID:           "item-" + string(rune('1'+i)),
					Status:           status,
					QuantityApproved: &qty,
				})
			}

			svc := newRequisitionService(mockDB, pub)
			result, err := svc.ProcessApproval(context.Background(), "req-1", ProcessApprovalRequest{
				ApproverFacility: "HQ",
				UserID:           "user-1",
				Items:            reviews,
			})
			require.NoError(t, err)

			assert.Equal(t, tc.want, result.Requisition.Status)
			pub.AssertEventPublished(t, messaging.EventRequisitionReviewed)
			mockDB.ExpectationsWereMet(t)
		})
	}
}

func TestProcessApprovalRejectsReviewedRequisition(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectBegin()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM requisitions`).
		WillReturnRows(testutil.MockRows(requisitionColumns()...).
			AddRow("req-1", "REQ-20250601-0007", date, "nurse-1", "WARD2",
				repository.StatusApproved, nil, "user-2", "HQ", now, now, now))
	mockDB.Mock.ExpectRollback()

	svc := newRequisitionService(mockDB, pub)
	_, err := svc.ProcessApproval(context.Background(), "req-1", ProcessApprovalRequest{
		ApproverFacility: "HQ",
		UserID:           "user-1",
		Items:            []ItemReview{{ItemID: "item-1", Status: "approved"}},
	})

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)

	pub.AssertNoEventsPublished(t)
	mockDB.ExpectationsWereMet(t)
}

func TestRequisitionCancelOnlyPending(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM requisitions`).
		WillReturnRows(testutil.MockRows(requisitionColumns()...).
			AddRow("req-1", "REQ-20250601-0007", date, "nurse-1", "WARD2",
				repository.StatusReceived, nil, "user-2", "HQ", now, now, now))

	svc := newRequisitionService(mockDB, pub)
	err := svc.Cancel(context.Background(), "req-1")

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)
}

func TestRequisitionCancelPendingDeletes(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	date := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	mockDB.Mock.ExpectQuery(`SELECT \* FROM requisitions`).
		WillReturnRows(pendingRequisitionRow(now, date))
	mockDB.Mock.ExpectExec(`DELETE FROM requisitions`).
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := newRequisitionService(mockDB, pub)
	require.NoError(t, svc.Cancel(context.Background(), "req-1"))
	mockDB.ExpectationsWereMet(t)
}

func TestSuggestReorder(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()
	pub := testutil.NewMockPublisher()

	now := time.Now()
	cols := append(medicineColumns(), "total_on_hand")
	// amoxicillin tops up to max_stock, paracetamol falls back to
	// min_stock, ibuprofen misses its floor and is skipped
	mockDB.Mock.ExpectQuery(`SELECT m\.\*, COALESCE`).
		WithArgs("HQ").
		WillReturnRows(testutil.MockRows(cols...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, 20, 100, nil, nil, true, now, now, 8).
			AddRow("med-2", "HQ", "PARA500", "paracetamol", nil, nil, 5, 40, nil, nil, nil, true, now, now, 15).
			AddRow("med-3", "HQ", "IBU400", "ibuprofen", nil, nil, 5, nil, nil, nil, nil, true, now, now, 2))

	svc := newRequisitionService(mockDB, pub)
	suggestions, err := svc.SuggestReorder(context.Background(), "HQ")
	require.NoError(t, err)

	require.Len(t, suggestions, 2)
	assert.Equal(t, "AMOX500", suggestions[0].MedicineCode)
	assert.Equal(t, 100, suggestions[0].TargetStock)
	assert.Equal(t, 92, suggestions[0].SuggestedQuantity)
	assert.Equal(t, "PARA500", suggestions[1].MedicineCode)
	assert.Equal(t, 40, suggestions[1].TargetStock)
	assert.Equal(t, 25, suggestions[1].SuggestedQuantity)
	mockDB.ExpectationsWereMet(t)
}
