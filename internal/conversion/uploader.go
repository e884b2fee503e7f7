package conversion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Uploader submits one ordered batch of conversion events scoped to a single
// customer id. The returned outcomes match the batch order exactly; errors
// are *TransportError (no per-item response was available) or
// *StructuralDecodeError (the per-item response was unusable).
type Uploader interface {
	Upload(ctx context.Context, customerID string, batch []EventRecord) ([]Outcome, error)
}

// TransportError means the upload call failed before the provider returned a
// structured per-item response. The caller must treat the whole batch as
// failed; no retry happens inside the client.
type TransportError struct {
	Code    string
	Message string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("upload transport error %s: %s", e.Code, e.Message)
}

// StructuralDecodeError means the partial-failure payload referenced a
// position outside the submitted batch, or could not be decoded at all.
// It is fatal for the batch and must not be silently dropped.
type StructuralDecodeError struct {
	Position  int
	BatchSize int
	Reason    string
}

func (e *StructuralDecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("partial failure decode: %s", e.Reason)
	}
	return fmt.Sprintf("partial failure detail position %d out of range for batch of %d", e.Position, e.BatchSize)
}

// Config configures the API client.
type Config struct {
	Endpoint     string
	Timeout      time.Duration
	ValidateOnly bool
}

// APIUploader is the HTTP client for the provider's conversion upload API.
type APIUploader struct {
	cfg    Config
	client *http.Client
	log    *slog.Logger
}

// NewAPIUploader creates an uploader against the configured endpoint.
func NewAPIUploader(cfg Config) *APIUploader {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &APIUploader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    slog.With("component", "uploader"),
	}
}

// Wire types for the upload request.
type uploadRequest struct {
	CustomerID     string              `json:"customer_id"`
	Conversions    []conversionPayload `json:"conversions"`
	ValidateOnly   bool                `json:"validate_only"`
	PartialFailure bool                `json:"partial_failure"`
}

type conversionPayload struct {
	ConversionActionID string  `json:"conversion_action_id"`
	GCLID              string  `json:"gclid,omitempty"`
	GBRAID             string  `json:"gbraid,omitempty"`
	WBRAID             string  `json:"wbraid,omitempty"`
	ConversionDateTime string  `json:"conversion_date_time"`
	ConversionValue    float64 `json:"conversion_value"`
	CurrencyCode       string  `json:"currency_code,omitempty"`
}

// Wire types for the upload response.
type uploadResponse struct {
	PartialFailureError *partialFailure `json:"partial_failure_error,omitempty"`
}

type partialFailure struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Errors  []failureDetail `json:"errors"`
}

type failureDetail struct {
	Index   int    `json:"index"`
	Code    string `json:"error_code"`
	Message string `json:"message"`
}

type apiError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Upload submits batch as one request scoped to customerID and decodes the
// response into per-record outcomes. All records in a batch must share the
// customer scope; the caller guarantees batches never mix customers.
func (u *APIUploader) Upload(ctx context.Context, customerID string, batch []EventRecord) ([]Outcome, error) {
	payload := uploadRequest{
		CustomerID:     customerID,
		Conversions:    make([]conversionPayload, len(batch)),
		ValidateOnly:   u.cfg.ValidateOnly,
		PartialFailure: true,
	}
	for i, rec := range batch {
		payload.Conversions[i] = conversionPayload{
			ConversionActionID: rec.ConversionActionID,
			GCLID:              rec.GCLID,
			GBRAID:             rec.GBRAID,
			WBRAID:             rec.WBRAID,
			ConversionDateTime: rec.ConversionDateTime,
			ConversionValue:    rec.ConversionValue,
			CurrencyCode:       rec.CurrencyCode,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &TransportError{Code: "ENCODE_ERROR", Message: err.Error()}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TransportError{Code: "REQUEST_ERROR", Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, &TransportError{Code: "UNAVAILABLE", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Code: "READ_ERROR", Message: err.Error()}
	}

	// Partial-failure detail only rides 2xx responses. A non-2xx body never
	// carries usable per-record outcomes, so the whole call is a transport
	// failure regardless of what the body contains.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		code := fmt.Sprintf("HTTP_%d", resp.StatusCode)
		message := string(respBody)
		var apiErr apiError
		if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Error.Code != "" {
			code = apiErr.Error.Code
			message = apiErr.Error.Message
		}
		return nil, &TransportError{Code: code, Message: message}
	}

	var decoded uploadResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &StructuralDecodeError{Reason: fmt.Sprintf("unmarshal response: %v", err)}
	}

	return decodeOutcomes(len(batch), decoded.PartialFailureError)
}

// decodeOutcomes turns a partial-failure payload into the ordered outcome
// list for a batch of n records. Positions not referenced by any detail
// default to SUCCESS; a detail with an out-of-range position fails the whole
// batch loudly.
func decodeOutcomes(n int, pf *partialFailure) ([]Outcome, error) {
	outcomes := make([]Outcome, n)
	for i := range outcomes {
		outcomes[i] = Outcome{Status: StatusSuccess}
	}

	if pf == nil {
		return outcomes, nil
	}

	for _, detail := range pf.Errors {
		if detail.Index < 0 || detail.Index >= n {
			return nil, &StructuralDecodeError{Position: detail.Index, BatchSize: n}
		}
		outcomes[detail.Index] = Outcome{
			Status:  StatusFail,
			Code:    detail.Code,
			Message: detail.Message,
		}
	}

	return outcomes, nil
}

// Verify APIUploader implements Uploader.
var _ Uploader = (*APIUploader)(nil)
