package service

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/pharmstock/pharmstock-backend/pkg/errors"
	"github.com/xuri/excelize/v2"
)

// Preview actions
const (
	PreviewDispense = "dispense"
	PreviewSkip     = "skip"
	PreviewUpdate   = "update"
	PreviewError    = "error"
)

// PreviewLine is one workbook row with its validation verdict and the
// FEFO draw it would take.
type PreviewLine struct {
	Row          int       `json:"row"`
	ExternalGUID string    `json:"external_guid,omitempty"`
	MedicineCode string    `json:"medicine_code"`
	Quantity     int       `json:"quantity"`
	DispenseDate time.Time `json:"dispense_date"`
	Action       string    `json:"action"`
	Error        string    `json:"error,omitempty"`
	Plan         []LotTake `json:"plan,omitempty"`
}

// PreviewResult summarizes a parsed workbook before anything runs
type PreviewResult struct {
	Lines       []*PreviewLine `json:"lines"`
	TotalRows   int            `json:"total_rows"`
	ReadyCount  int            `json:"ready_count"`
	SkipCount   int            `json:"skip_count"`
	UpdateCount int            `json:"update_count"`
	ErrorCount  int            `json:"error_count"`
}

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2/1/2006", "01-02-06"}

func parseCellDate(cell string) (time.Time, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t, nil
		}
	}

	// excel serial date
	if serial, err := strconv.ParseFloat(cell, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized date %q", cell)
}

// ParseWorkbook reads the dispense import sheet into bulk lines. The
// sheet layout is fixed: date, medicine code, quantity, optional
// external GUID, with a header in row 1.
func ParseWorkbook(r io.Reader) ([]BulkLine, []*PreviewLine, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, errors.BadRequest("file is not a readable workbook")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, errors.BadRequest("workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, errors.BadRequest("could not read workbook rows")
	}
	if len(rows) < 2 {
		return nil, nil, errors.BadRequest("workbook has no data rows")
	}

	var lines []BulkLine
	var bad []*PreviewLine
	for i, row := range rows[1:] {
		rowNum := i + 2

		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		if cell(0) == "" && cell(1) == "" && cell(2) == "" {
			continue
		}

		line := BulkLine{
			Row:          rowNum,
			MedicineCode: cell(1),
			ExternalGUID: cell(3),
		}

		date, err := parseCellDate(cell(0))
		if err != nil {
			bad = append(bad, &PreviewLine{
				Row: rowNum, MedicineCode: line.MedicineCode, ExternalGUID: line.ExternalGUID,
				Action: PreviewError, Error: "invalid date",
			})
			continue
		}
		line.DispenseDate = date

		qty, err := strconv.Atoi(cell(2))
		if err != nil || qty <= 0 {
			bad = append(bad, &PreviewLine{
				Row: rowNum, MedicineCode: line.MedicineCode, ExternalGUID: line.ExternalGUID,
				DispenseDate: date, Action: PreviewError, Error: "quantity must be a positive integer",
			})
			continue
		}
		line.Quantity = qty

		if line.MedicineCode == "" {
			bad = append(bad, &PreviewLine{
				Row: rowNum, DispenseDate: date, Quantity: qty,
				Action: PreviewError, Error: "missing medicine code",
			})
			continue
		}

		lines = append(lines, line)
	}

	return lines, bad, nil
}

// PreviewImport parses a workbook and reports, without touching stock,
// what an import of it would do: which rows allocate, which are
// duplicates of lines already on file, which update changed quantities,
// and which fail validation.
func (s *DispenseService) PreviewImport(ctx context.Context, facilityCode string, r io.Reader) (*PreviewResult, error) {
	lines, bad, err := ParseWorkbook(r)
	if err != nil {
		return nil, err
	}

	result := &PreviewResult{Lines: []*PreviewLine{}}
	result.Lines = append(result.Lines, bad...)
	result.ErrorCount = len(bad)

	for _, line := range lines {
		pl := &PreviewLine{
			Row:          line.Row,
			ExternalGUID: line.ExternalGUID,
			MedicineCode: line.MedicineCode,
			Quantity:     line.Quantity,
			DispenseDate: line.DispenseDate,
		}
		result.Lines = append(result.Lines, pl)

		med, err := s.medicines.GetByCode(ctx, facilityCode, line.MedicineCode)
		if err != nil {
			pl.Action = PreviewError
			pl.Error = "unknown medicine code"
			result.ErrorCount++
			continue
		}

		if line.ExternalGUID != "" {
			existing, err := s.dispense.NormalItemsByGUID(ctx, facilityCode, line.ExternalGUID)
			if err != nil {
				return nil, err
			}
			if len(existing) > 0 {
				existingTotal := 0
				for _, item := range existing {
					existingTotal += item.Quantity
				}
				if existingTotal == line.Quantity {
					pl.Action = PreviewSkip
					result.SkipCount++
					continue
				}
				pl.Action = PreviewUpdate
				result.UpdateCount++
			}
		}

		plan, err := s.allocator.Plan(ctx, facilityCode, med.ID, med.MedicineCode, line.Quantity)
		if err != nil {
			if pl.Action == PreviewUpdate {
				result.UpdateCount--
			}
			pl.Action = PreviewError
			var appErr *errors.AppError
			if errors.As(err, &appErr) {
				pl.Error = appErr.Message
			} else {
				pl.Error = err.Error()
			}
			result.ErrorCount++
			continue
		}

		pl.Plan = plan
		if pl.Action == "" {
			pl.Action = PreviewDispense
			result.ReadyCount++
		}
	}

	result.TotalRows = len(result.Lines)
	return result, nil
}
