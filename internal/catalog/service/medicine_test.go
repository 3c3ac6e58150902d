package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pharmstock/pharmstock-backend/internal/catalog/repository"
	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/pharmstock/pharmstock-backend/pkg/logger"
	"github.com/pharmstock/pharmstock-backend/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMedicineService(mockDB *testutil.MockDB) *MedicineService {
	return NewMedicineService(repository.NewMedicineRepository(mockDB.DB), logger.Nop())
}

func medicineColumns() []string {
	return []string{
		"id", "facility_code", "medicine_code", "generic_name", "strength", "unit",
		"reorder_point", "min_stock", "max_stock", "lead_time_days",
		"review_period_days", "is_active", "created_at", "updated_at",
	}
}

func TestMedicineCreate(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.Mock.ExpectQuery(`INSERT INTO medicines`).
		WillReturnRows(testutil.MockRows("created_at", "updated_at").AddRow(now, now))

	svc := newMedicineService(mockDB)
	m, err := svc.Create(context.Background(), CreateMedicineRequest{
		FacilityCode: "HQ",
		MedicineCode: "  AMOX500 ",
		GenericName:  " amoxicillin ",
		ReorderPoint: 5,
	})
	require.NoError(t, err)

	assert.Equal(t, "AMOX500", m.MedicineCode)
	assert.Equal(t, "amoxicillin", m.GenericName)
	assert.True(t, m.IsActive)
	assert.NotEmpty(t, m.ID)
	mockDB.ExpectationsWereMet(t)
}

func TestMedicineCreateMaxBelowMin(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	minStock, maxStock := 50, 10

	svc := newMedicineService(mockDB)
	_, err := svc.Create(context.Background(), CreateMedicineRequest{
		FacilityCode: "HQ",
		MedicineCode: "AMOX500",
		GenericName:  "amoxicillin",
		MinStock:     &minStock,
		MaxStock:     &maxStock,
	})

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestMedicineUpdateKeepsCodeImmutable(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("med-1").
		WillReturnRows(testutil.MockRows(medicineColumns()...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now))
	mockDB.Mock.ExpectExec(`UPDATE medicines`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	svc := newMedicineService(mockDB)
	m, err := svc.Update(context.Background(), "med-1", UpdateMedicineRequest{
		GenericName:  "amoxicillin trihydrate",
		ReorderPoint: 10,
	})
	require.NoError(t, err)

	assert.Equal(t, "AMOX500", m.MedicineCode)
	assert.Equal(t, "HQ", m.FacilityCode)
	assert.Equal(t, "amoxicillin trihydrate", m.GenericName)
	assert.Equal(t, 10, m.ReorderPoint)
	mockDB.ExpectationsWereMet(t)
}

func TestMedicineSearchBlankTerm(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	svc := newMedicineService(mockDB)
	results, err := svc.Search(context.Background(), "HQ", "   ")
	require.NoError(t, err)
	assert.Empty(t, results)
	mockDB.ExpectationsWereMet(t)
}

func TestMedicineSearchMatchesCodeOrName(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	now := time.Now()
	mockDB.Mock.ExpectQuery(`SELECT \* FROM medicines`).
		WithArgs("HQ", "%amox%").
		WillReturnRows(testutil.MockRows(medicineColumns()...).
			AddRow("med-1", "HQ", "AMOX500", "amoxicillin", nil, nil, 5, nil, nil, nil, nil, true, now, now))

	svc := newMedicineService(mockDB)
	results, err := svc.Search(context.Background(), "HQ", "amox")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "AMOX500", results[0].MedicineCode)
	mockDB.ExpectationsWereMet(t)
}

func TestMedicineDeactivateNotFound(t *testing.T) {
	mockDB := testutil.NewMockDB(t)
	defer mockDB.Close()

	mockDB.Mock.ExpectExec(`UPDATE medicines`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	svc := newMedicineService(mockDB)
	err := svc.Deactivate(context.Background(), "nope")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
