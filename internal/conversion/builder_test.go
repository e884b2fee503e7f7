package conversion

import (
	"errors"
	"testing"
)

func validRow() map[string]string {
	return map[string]string{
		"customer_id":          "123-456-7890",
		"conversion_action_id": "987654321",
		"gclid":                "Cj0KCQjw",
		"gbraid":               "",
		"wbraid":               "",
		"conversion_date_time": "2026-08-01 12:00:00+00:00",
		"conversion_value":     "19.99",
		"currency":             "USD",
	}
}

func TestBuildValidRow(t *testing.T) {
	var b Builder
	rec, err := b.Build(validRow())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if rec.CustomerID != "123-456-7890" {
		t.Errorf("CustomerID = %q", rec.CustomerID)
	}
	if rec.ConversionValue != 19.99 {
		t.Errorf("ConversionValue = %v, want 19.99", rec.ConversionValue)
	}
	if rec.CurrencyCode != "USD" {
		t.Errorf("CurrencyCode = %q", rec.CurrencyCode)
	}
}

func TestBuildClickIDPrecedence(t *testing.T) {
	tests := []struct {
		name                 string
		gclid, wbraid, gbraid string
		wantGCLID, wantWBRAID, wantGBRAID string
	}{
		{"gclid wins over all", "g1", "w1", "b1", "g1", "", ""},
		{"gclid wins over wbraid", "g1", "w1", "", "g1", "", ""},
		{"wbraid wins over gbraid", "", "w1", "b1", "", "w1", ""},
		{"gbraid alone", "", "", "b1", "", "", "b1"},
	}
	var b Builder
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			row["gclid"] = tt.gclid
			row["wbraid"] = tt.wbraid
			row["gbraid"] = tt.gbraid
			rec, err := b.Build(row)
			if err != nil {
				t.Fatalf("Build failed: %v", err)
			}
			if rec.GCLID != tt.wantGCLID || rec.WBRAID != tt.wantWBRAID || rec.GBRAID != tt.wantGBRAID {
				t.Errorf("got gclid=%q wbraid=%q gbraid=%q, want %q %q %q",
					rec.GCLID, rec.WBRAID, rec.GBRAID, tt.wantGCLID, tt.wantWBRAID, tt.wantGBRAID)
			}
		})
	}
}

func TestBuildNoClickID(t *testing.T) {
	row := validRow()
	row["gclid"] = ""
	row["wbraid"] = ""
	row["gbraid"] = ""

	var b Builder
	_, err := b.Build(row)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("want ValidationError, got %v", err)
	}
}

func TestBuildMissingRequiredFields(t *testing.T) {
	for _, field := range []string{"customer_id", "conversion_action_id", "conversion_date_time"} {
		t.Run(field, func(t *testing.T) {
			row := validRow()
			row[field] = ""

			var b Builder
			_, err := b.Build(row)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if verr.Field != field {
				t.Errorf("Field = %q, want %q", verr.Field, field)
			}
		})
	}
}

func TestBuildRejectsBadValue(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"empty", ""},
		{"not a number", "abc"},
		{"negative", "-5.00"},
		{"nan", "NaN"},
		{"inf", "Inf"},
		{"positive inf", "+Inf"},
		{"negative inf", "-Inf"},
	}
	var b Builder
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := validRow()
			row["conversion_value"] = tt.value
			_, err := b.Build(row)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("want ValidationError, got %v", err)
			}
			if verr.Field != "conversion_value" {
				t.Errorf("Field = %q, want conversion_value", verr.Field)
			}
		})
	}
}

func TestBuildZeroValueAccepted(t *testing.T) {
	row := validRow()
	row["conversion_value"] = "0"

	var b Builder
	rec, err := b.Build(row)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if rec.ConversionValue != 0 {
		t.Errorf("ConversionValue = %v, want 0", rec.ConversionValue)
	}
}
