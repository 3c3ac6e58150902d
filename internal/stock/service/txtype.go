package service

import "strings"

// Ledger transaction types
const (
	TxPatientDispense    = "patient-dispense"
	TxExcelDispense      = "excel-dispense"
	TxOther              = "other"
	TxDirectReceipt      = "direct-receipt"
	TxRequisitionReceipt = "requisition-receipt"
)

// Dispense types accepted on record headers
const (
	DispenseOutpatient   = "outpatient"
	DispenseInpatient    = "inpatient"
	DispenseInternalUnit = "internal-unit"
	DispenseExpired      = "expired"
)

// MapDispenseType maps a record's dispense type to its ledger
// transaction type. The same mapping runs at creation and reversal so
// the compensating entry always targets the type the original wrote.
func MapDispenseType(dispenseType string) string {
	if strings.HasSuffix(dispenseType, "(excel)") {
		return TxExcelDispense
	}

	switch dispenseType {
	case DispenseOutpatient, DispenseInpatient, DispenseInternalUnit, DispenseExpired:
		return TxPatientDispense
	default:
		return TxOther
	}
}

// MapReceiptType maps a voucher to its ledger transaction type based on
// whether it books in requisition stock.
func MapReceiptType(linkedToRequisition bool) string {
	if linkedToRequisition {
		return TxRequisitionReceipt
	}
	return TxDirectReceipt
}
