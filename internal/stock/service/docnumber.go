package service

import (
	"fmt"
	"time"
)

// Document number prefixes
const (
	PrefixDispense      = "DSP"
	PrefixExcelDispense = "DSPEXC"
	PrefixReceipt       = "GRN"
)

// FormatDocumentNumber builds a {PREFIX}-{facility}-{YYMMDD}-{seq:03d}
// document number.
func FormatDocumentNumber(prefix, facilityCode string, date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%s-%03d", prefix, facilityCode, date.Format("060102"), seq)
}

// FormatRequisitionNumber builds a REQ-{YYYYMMDD}-{seq:04d} number.
// Requisition numbers are facility-independent.
func FormatRequisitionNumber(date time.Time, seq int) string {
	return fmt.Sprintf("REQ-%s-%04d", date.Format("20060102"), seq)
}

// FormatLinkedReceiptNumber builds the voucher number for a receipt
// booking in an approved requisition.
func FormatLinkedReceiptNumber(requisitionNumber string) string {
	return fmt.Sprintf("%s-%s", PrefixReceipt, requisitionNumber)
}
