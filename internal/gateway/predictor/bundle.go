package predictor

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Well-known feature names produced by the feature pipeline
const (
	FeatureReferencePrice = "lme_sr_m01_lag1"
	FeatureFXRate         = "usdmxn_lag1"
	FeaturePremium        = "mexico_premium"
)

// Bundle is the serialized model bundle published by the training pipeline.
type Bundle struct {
	Version      string             `json:"version"`
	Architecture string             `json:"architecture"`
	TrainedDate  string             `json:"trained_date"`
	DataQuality  string             `json:"data_quality"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`

	// Features is the declared feature list used for the completeness ratio
	Features []string `json:"features"`

	CompletenessThreshold float64 `json:"completeness_threshold,omitempty"`

	FullModel *LinearModel `json:"full_model"`

	CriticalFeatures []string     `json:"critical_features,omitempty"`
	CriticalModel    *LinearModel `json:"critical_model"`

	ReferenceFeature   string  `json:"reference_feature,omitempty"`
	TransferMultiplier float64 `json:"transfer_multiplier,omitempty"`
	FallbackPrice      float64 `json:"fallback_price,omitempty"`
}

// ParseBundle decodes and validates a bundle
func ParseBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode model bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks the bundle is usable by the cascade
func (b *Bundle) Validate() error {
	if b.Version == "" {
		return fmt.Errorf("model bundle: version is required")
	}
	if b.FullModel == nil {
		return fmt.Errorf("model bundle %s: full_model is required", b.Version)
	}
	if b.CriticalModel == nil {
		return fmt.Errorf("model bundle %s: critical_model is required", b.Version)
	}
	if b.CompletenessThreshold < 0 || b.CompletenessThreshold > 1 {
		return fmt.Errorf("model bundle %s: completeness_threshold %v out of range", b.Version, b.CompletenessThreshold)
	}
	if b.TransferMultiplier < 0 || b.FallbackPrice < 0 {
		return fmt.Errorf("model bundle %s: negative multiplier or fallback price", b.Version)
	}
	return nil
}

// LinearModel is intercept + sum(coefficient * term).
// A term is a feature name or a product of names joined by "*".
type LinearModel struct {
	Intercept    float64            `json:"intercept"`
	Coefficients map[string]float64 `json:"coefficients"`

	// Means imputes missing features; a missing feature without a mean is an error
	Means map[string]float64 `json:"means,omitempty"`
}

// Predict evaluates the model. Terms are summed in sorted order so the
// result is bit-for-bit stable across calls.
func (m *LinearModel) Predict(fv FeatureVector) (float64, error) {
	terms := make([]string, 0, len(m.Coefficients))
	for term := range m.Coefficients {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	sum := m.Intercept
	for _, term := range terms {
		v := 1.0
		for _, factor := range strings.Split(term, "*") {
			factor = strings.TrimSpace(factor)
			x, ok := fv.Get(factor)
			if !ok {
				mean, hasMean := m.Means[factor]
				if !hasMean {
					return 0, fmt.Errorf("%w: %s", ErrMissingFeature, factor)
				}
				x = mean
			}
			v *= x
		}
		sum += m.Coefficients[term] * v
	}

	if math.IsNaN(sum) || math.IsInf(sum, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrice, sum)
	}
	return sum, nil
}
