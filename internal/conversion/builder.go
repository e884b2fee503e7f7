package conversion

import (
	"fmt"
	"math"
	"strconv"
)

// ValidationError describes a row that cannot become an EventRecord.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// Builder converts a raw column-name → value row into an EventRecord.
// It is a pure transform: a row either becomes a valid record or is rejected
// with a ValidationError, never silently defaulted.
type Builder struct{}

// Build validates row and returns the corresponding EventRecord.
// Click identifier precedence is gclid > wbraid > gbraid: the first non-empty
// in that order is kept and the others are dropped from the record.
func (Builder) Build(row map[string]string) (EventRecord, error) {
	for _, field := range []string{"customer_id", "conversion_action_id", "conversion_date_time"} {
		if row[field] == "" {
			return EventRecord{}, &ValidationError{Field: field, Reason: "required"}
		}
	}

	rec := EventRecord{
		CustomerID:         row["customer_id"],
		ConversionActionID: row["conversion_action_id"],
		ConversionDateTime: row["conversion_date_time"],
		CurrencyCode:       row["currency"],
	}

	switch {
	case row["gclid"] != "":
		rec.GCLID = row["gclid"]
	case row["wbraid"] != "":
		rec.WBRAID = row["wbraid"]
	case row["gbraid"] != "":
		rec.GBRAID = row["gbraid"]
	default:
		return EventRecord{}, &ValidationError{Field: "gclid", Reason: "no click identifier present"}
	}

	value, err := strconv.ParseFloat(row["conversion_value"], 64)
	if err != nil {
		return EventRecord{}, &ValidationError{Field: "conversion_value", Reason: "not a number"}
	}
	// ParseFloat accepts NaN and Inf spellings, but neither survives JSON
	// encoding; they must fail here as one bad row, not later as a whole batch.
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return EventRecord{}, &ValidationError{Field: "conversion_value", Reason: "not finite"}
	}
	if value < 0 {
		return EventRecord{}, &ValidationError{Field: "conversion_value", Reason: "negative"}
	}
	rec.ConversionValue = value

	return rec, nil
}
