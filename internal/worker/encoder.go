package worker

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/adtelic/conversion-loader/internal/conversion"
)

// processTimeLayout is the second-precision timestamp format of the outcome
// log, matched by the downstream analytics schema.
const processTimeLayout = "2006-01-02 15:04:05"

// LogRecord is one line of the worker outcome log: the event's identifying
// fields, the upload outcome and the job provenance.
type LogRecord struct {
	CustomerID         string  `json:"customer_id"`
	ConversionActionID string  `json:"conversion_action_id"`
	GCLID              string  `json:"gclid"`
	GBRAID             string  `json:"gbraid"`
	WBRAID             string  `json:"wbraid"`
	ConversionDateTime string  `json:"conversion_date_time"`
	Currency           string  `json:"currency"`
	ConversionValue    float64 `json:"conversion_value"`
	Status             string  `json:"status"`
	Code               string  `json:"code"`
	Message            string  `json:"message"`
	JobID              string  `json:"job_id"`
	Src                string  `json:"src"`
	ProcessTime        string  `json:"process_time"`
}

// newLogRecord combines a built event with its upload outcome.
func newLogRecord(rec conversion.EventRecord, outcome conversion.Outcome, jobID, src string, now time.Time) LogRecord {
	return LogRecord{
		CustomerID:         rec.CustomerID,
		ConversionActionID: rec.ConversionActionID,
		GCLID:              rec.GCLID,
		GBRAID:             rec.GBRAID,
		WBRAID:             rec.WBRAID,
		ConversionDateTime: rec.ConversionDateTime,
		Currency:           rec.CurrencyCode,
		ConversionValue:    rec.ConversionValue,
		Status:             outcome.Status,
		Code:               outcome.Code,
		Message:            outcome.Message,
		JobID:              jobID,
		Src:                src,
		ProcessTime:        now.Format(processTimeLayout),
	}
}

// newRejectedLogRecord logs a row that never became an event. The raw field
// values are carried through; the conversion value stays zero because the row
// had no parseable value and was never submitted.
func newRejectedLogRecord(row map[string]string, verr *conversion.ValidationError, jobID, src string, now time.Time) LogRecord {
	return LogRecord{
		CustomerID:         row["customer_id"],
		ConversionActionID: row["conversion_action_id"],
		GCLID:              row["gclid"],
		GBRAID:             row["gbraid"],
		WBRAID:             row["wbraid"],
		ConversionDateTime: row["conversion_date_time"],
		Currency:           row["currency"],
		Status:             conversion.StatusFail,
		Code:               conversion.CodeValidation,
		Message:            verr.Error(),
		JobID:              jobID,
		Src:                src,
		ProcessTime:        now.Format(processTimeLayout),
	}
}

// Encoder writes outcome records as JSON lines, optionally gzip-compressed.
// Records are never rewritten once emitted; the log is append-only.
type Encoder struct {
	sink io.WriteCloser
	gz   *gzip.Writer
	out  io.Writer
}

// NewEncoder wraps sink. With compress set, lines pass through a gzip writer
// that is flushed and closed before the sink.
func NewEncoder(sink io.WriteCloser, compress bool) *Encoder {
	e := &Encoder{sink: sink, out: sink}
	if compress {
		e.gz = gzip.NewWriter(sink)
		e.out = e.gz
	}
	return e
}

// Write appends one record as a JSON line.
func (e *Encoder) Write(rec LogRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome record: %w", err)
	}
	line = append(line, '\n')
	if _, err := e.out.Write(line); err != nil {
		return fmt.Errorf("append outcome record: %w", err)
	}
	return nil
}

// Close flushes any compression state and closes the underlying sink.
func (e *Encoder) Close() error {
	if e.gz != nil {
		if err := e.gz.Close(); err != nil {
			e.sink.Close()
			return fmt.Errorf("close gzip stream: %w", err)
		}
	}
	return e.sink.Close()
}
