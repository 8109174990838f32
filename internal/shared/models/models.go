package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// PredictionArtifact is the prediction published by the batch job.
// The gateway only ever reads it.
type PredictionArtifact struct {
	PredictionDate    string    `json:"prediction_date"`
	PredictedPriceUSD float64   `json:"predicted_price_usd_per_ton"`
	Currency          string    `json:"currency"`
	Unit              string    `json:"unit"`
	Confidence        float64   `json:"model_confidence"`
	GeneratedAt       Timestamp `json:"generated_at"`

	// Extended fields, absent in older artifacts
	PredictedPriceMXN *float64 `json:"predicted_price_mxn_per_ton,omitempty"`
	FXRate            *float64 `json:"fx_rate,omitempty"`
	BasePrice         *float64 `json:"lme_base_price,omitempty"`
	PremiumFactor     *float64 `json:"mexico_premium,omitempty"`
	WholesalePrice    *float64 `json:"wholesale_price_usd,omitempty"`
}

// Timestamp accepts RFC 3339 as well as the zone-less ISO 8601 the batch
// job writes ("2025-09-29T17:04:52.123456"), which is read as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON implements json.Unmarshaler
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: unrecognized format %q", s)
}

// MarshalJSON implements json.Marshaler
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

// PredictionLog represents a served-prediction log entry
type PredictionLog struct {
	ID         string
	KeyHash    string
	Endpoint   string
	Source     string // "cache" or "cascade"
	TierUsed   int
	Confidence float64
	Price      float64
	CacheHit   bool
	LatencyMs  int
	StatusCode int
	CreatedAt  time.Time
}
