package messaging

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	// Stock events
	EventStockAdjusted  = "stock.adjusted"
	EventStockLow       = "stock.low"
	EventLotExpiring    = "stock.lot.expiring"
	EventLotDepleted    = "stock.lot.depleted"

	// Dispense events
	EventDispenseCreated   = "dispense.created"
	EventDispenseCancelled = "dispense.cancelled"

	// Receipt events
	EventReceiptCreated   = "receipt.created"
	EventReceiptCancelled = "receipt.cancelled"

	// Requisition events
	EventRequisitionSubmitted = "requisition.submitted"
	EventRequisitionReviewed  = "requisition.reviewed"
	EventRequisitionReceived  = "requisition.received"
)

// Exchange names
const (
	ExchangeStockEvents       = "stock.events"
	ExchangeRequisitionEvents = "requisition.events"
)

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            GenerateEventID(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// Stock Events

// StockAdjustedEvent is published whenever a ledger entry changes a
// medicine's on-hand quantity.
type StockAdjustedEvent struct {
	MedicineID      string `json:"medicine_id"`
	MedicineCode    string `json:"medicine_code"`
	LotID           string `json:"lot_id,omitempty"`
	TransactionType string `json:"transaction_type"`
	QuantityChange  int    `json:"quantity_change"`
	QuantityAfter   int    `json:"quantity_after"`
	DocumentNumber  string `json:"document_number,omitempty"`
	PerformedBy     string `json:"performed_by"`
}

// StockLowEvent is published when a medicine's total stock falls to or
// below its reorder point.
type StockLowEvent struct {
	MedicineID   string `json:"medicine_id"`
	MedicineCode string `json:"medicine_code"`
	MedicineName string `json:"medicine_name"`
	TotalOnHand  int    `json:"total_on_hand"`
	ReorderPoint int    `json:"reorder_point"`
}

// LotExpiringEvent is published when a lot is nearing its expiry date.
type LotExpiringEvent struct {
	MedicineID   string    `json:"medicine_id"`
	LotID        string    `json:"lot_id"`
	MedicineName string    `json:"medicine_name"`
	LotNumber    string    `json:"lot_number"`
	ExpiryDate   time.Time `json:"expiry_date"`
	DaysUntil    int       `json:"days_until"`
	Quantity     int       `json:"quantity"`
}

// LotDepletedEvent is published when a dispense empties a lot.
type LotDepletedEvent struct {
	MedicineID string `json:"medicine_id"`
	LotID      string `json:"lot_id"`
	LotNumber  string `json:"lot_number"`
}

// Dispense Events

// DispenseCreatedEvent is published when a dispense record is committed.
type DispenseCreatedEvent struct {
	DispenseID     string `json:"dispense_id"`
	DocumentNumber string `json:"document_number"`
	DispenseType   string `json:"dispense_type"`
	LineCount      int    `json:"line_count"`
	PerformedBy    string `json:"performed_by"`
}

// DispenseCancelledEvent is published when a dispense record is cancelled
// and its stock returned.
type DispenseCancelledEvent struct {
	DispenseID     string `json:"dispense_id"`
	DocumentNumber string `json:"document_number"`
	PerformedBy    string `json:"performed_by"`
	Reason         string `json:"reason,omitempty"`
}

// Receipt Events

// ReceiptCreatedEvent is published when a goods received voucher is committed.
type ReceiptCreatedEvent struct {
	VoucherID      string `json:"voucher_id"`
	DocumentNumber string `json:"document_number"`
	ReceiptType    string `json:"receipt_type"`
	LineCount      int    `json:"line_count"`
	PerformedBy    string `json:"performed_by"`
}

// ReceiptCancelledEvent is published when a received voucher is cancelled.
type ReceiptCancelledEvent struct {
	VoucherID      string `json:"voucher_id"`
	DocumentNumber string `json:"document_number"`
	PerformedBy    string `json:"performed_by"`
}

// Requisition Events

// RequisitionSubmittedEvent is published when a requisition is submitted.
type RequisitionSubmittedEvent struct {
	RequisitionID  string `json:"requisition_id"`
	DocumentNumber string `json:"document_number"`
	LineCount      int    `json:"line_count"`
	RequestedBy    string `json:"requested_by"`
}

// RequisitionReviewedEvent is published when a requisition is approved,
// partially approved, or rejected.
type RequisitionReviewedEvent struct {
	RequisitionID  string `json:"requisition_id"`
	DocumentNumber string `json:"document_number"`
	Status         string `json:"status"`
	ReviewedBy     string `json:"reviewed_by"`
}

// RequisitionReceivedEvent is published when approved requisition stock
// arrives and is booked in.
type RequisitionReceivedEvent struct {
	RequisitionID  string `json:"requisition_id"`
	DocumentNumber string `json:"document_number"`
	VoucherID      string `json:"voucher_id"`
	ReceivedBy     string `json:"received_by"`
}

// GenerateEventID generates a unique event ID
func GenerateEventID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), time.Now().Nanosecond()%10000)
}
