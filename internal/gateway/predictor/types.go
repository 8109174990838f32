package predictor

import (
	"context"
	"errors"
	"math"
)

var (
	// ErrModelNotLoaded is returned by model-backed tiers when no bundle is loaded
	ErrModelNotLoaded = errors.New("model bundle not loaded")

	// ErrMissingFeature is returned when a required feature is null and cannot be imputed
	ErrMissingFeature = errors.New("missing feature")

	// ErrInvalidPrice is returned when a tier produces a non-finite or non-positive price
	ErrInvalidPrice = errors.New("invalid price")
)

// FeatureVector maps feature names to nullable values.
// A nil or NaN value means the feature is declared but unavailable.
type FeatureVector map[string]*float64

// Float returns a pointer to v, for building feature vectors
func Float(v float64) *float64 {
	return &v
}

// Get returns the value of a feature if it is present and finite
func (fv FeatureVector) Get(name string) (float64, bool) {
	p, ok := fv[name]
	if !ok || p == nil || math.IsNaN(*p) || math.IsInf(*p, 0) {
		return 0, false
	}
	return *p, true
}

// Has reports whether every named feature is present
func (fv FeatureVector) Has(names ...string) bool {
	for _, name := range names {
		if _, ok := fv.Get(name); !ok {
			return false
		}
	}
	return true
}

// Completeness returns the fraction of declared features that are present.
// With no declared list the vector's own keys are the declared set.
func (fv FeatureVector) Completeness(declared []string) float64 {
	if len(declared) == 0 {
		if len(fv) == 0 {
			return 0
		}
		present := 0
		for name := range fv {
			if _, ok := fv.Get(name); ok {
				present++
			}
		}
		return float64(present) / float64(len(fv))
	}

	present := 0
	for _, name := range declared {
		if _, ok := fv.Get(name); ok {
			present++
		}
	}
	return float64(present) / float64(len(declared))
}

// Strategy is one tier of the cascade
type Strategy interface {
	// Name identifies the tier in responses, logs and metrics
	Name() string

	// Confidence is the fixed confidence reported when this tier answers
	Confidence() float64

	// Precondition reports whether the tier may be attempted for fv
	Precondition(fv FeatureVector) bool

	// Apply produces a price. Errors and panics demote to the next tier.
	Apply(fv FeatureVector) (float64, error)
}

// PredictionResult is the outcome of one cascade evaluation
type PredictionResult struct {
	Price                  float64 `json:"price"`
	Confidence             float64 `json:"confidence"`
	TierUsed               int     `json:"tier_used"`
	TierName               string  `json:"tier_name"`
	FeaturesAvailableRatio float64 `json:"features_available_ratio"`
}

// BatchResult is the outcome of Predict over several rows
type BatchResult struct {
	Results []PredictionResult `json:"results"`

	// TierDistribution maps tier name to the fraction of rows it served
	TierDistribution map[string]float64 `json:"tier_distribution"`
}

// ObjectStore reads published objects by path
type ObjectStore interface {
	ReadObject(ctx context.Context, path string) ([]byte, error)
}
