// Package conversion models provider conversion events and the batch upload
// client that submits them.
package conversion

// Outcome status values.
const (
	StatusSuccess = "SUCCESS"
	StatusFail    = "FAIL"
)

// Outcome codes produced locally, outside the provider's own error codes.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeTransport  = "TRANSPORT_ERROR"
	CodeDecode     = "DECODE_ERROR"
)

// Columns is the fixed field order of input and shard artifact rows.
var Columns = []string{
	"customer_id", "conversion_action_id", "gclid", "gbraid", "wbraid",
	"conversion_date_time", "conversion_value", "currency",
}

// EventRecord is one click conversion ready for upload. Exactly one of the
// click identifiers is set; records are immutable once built.
type EventRecord struct {
	CustomerID         string
	ConversionActionID string
	GCLID              string
	GBRAID             string
	WBRAID             string
	ConversionDateTime string
	ConversionValue    float64
	CurrencyCode       string
}

// Outcome is the per-record result of one upload call. Outcomes are produced
// in the same order as the submitted batch, one per record, in every response
// branch.
type Outcome struct {
	Status  string
	Code    string
	Message string
}

// FailAll returns one FAIL outcome per batch record, all carrying the same
// code and message. Used when an upload call fails before any per-item
// response was available.
func FailAll(n int, code, message string) []Outcome {
	outcomes := make([]Outcome, n)
	for i := range outcomes {
		outcomes[i] = Outcome{Status: StatusFail, Code: code, Message: message}
	}
	return outcomes
}
