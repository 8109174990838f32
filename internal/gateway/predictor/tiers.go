package predictor

import "fmt"

// Tier names, most capable first
const (
	TierFullModel        = "full_model"
	TierCriticalSubset   = "critical_subset"
	TierMinimalTransfer  = "minimal_transfer"
	TierConstantFallback = "constant_fallback"
)

// Fixed confidence per tier
const (
	ConfidenceFullModel        = 0.85
	ConfidenceCriticalSubset   = 0.75
	ConfidenceMinimalTransfer  = 0.65
	ConfidenceConstantFallback = 0.50
)

// FullModelStrategy applies the full trained model when enough of the
// declared features are present. Missing ones are imputed from the model means.
type FullModelStrategy struct {
	model     *LinearModel
	declared  []string
	threshold float64
}

// NewFullModelStrategy creates the first tier. model may be nil when the
// bundle failed to load; Apply then always demotes.
func NewFullModelStrategy(model *LinearModel, declared []string, threshold float64) *FullModelStrategy {
	return &FullModelStrategy{model: model, declared: declared, threshold: threshold}
}

func (s *FullModelStrategy) Name() string        { return TierFullModel }
func (s *FullModelStrategy) Confidence() float64 { return ConfidenceFullModel }

func (s *FullModelStrategy) Precondition(fv FeatureVector) bool {
	return fv.Completeness(s.declared) >= s.threshold
}

func (s *FullModelStrategy) Apply(fv FeatureVector) (float64, error) {
	if s.model == nil {
		return 0, ErrModelNotLoaded
	}
	return s.model.Predict(fv)
}

// CriticalSubsetStrategy applies a simpler calibrated model over the
// highest-importance features only.
type CriticalSubsetStrategy struct {
	model    *LinearModel
	features []string
}

// NewCriticalSubsetStrategy creates the second tier
func NewCriticalSubsetStrategy(model *LinearModel, features []string) *CriticalSubsetStrategy {
	return &CriticalSubsetStrategy{model: model, features: features}
}

func (s *CriticalSubsetStrategy) Name() string        { return TierCriticalSubset }
func (s *CriticalSubsetStrategy) Confidence() float64 { return ConfidenceCriticalSubset }

func (s *CriticalSubsetStrategy) Precondition(fv FeatureVector) bool {
	return len(s.features) > 0 && fv.Has(s.features...)
}

func (s *CriticalSubsetStrategy) Apply(fv FeatureVector) (float64, error) {
	if s.model == nil {
		return 0, ErrModelNotLoaded
	}
	return s.model.Predict(fv)
}

// TransferStrategy prices off the single most critical feature:
// price = reference * multiplier.
type TransferStrategy struct {
	reference  string
	multiplier float64
}

// NewTransferStrategy creates the third tier
func NewTransferStrategy(reference string, multiplier float64) *TransferStrategy {
	return &TransferStrategy{reference: reference, multiplier: multiplier}
}

func (s *TransferStrategy) Name() string        { return TierMinimalTransfer }
func (s *TransferStrategy) Confidence() float64 { return ConfidenceMinimalTransfer }

func (s *TransferStrategy) Precondition(fv FeatureVector) bool {
	return s.reference != "" && fv.Has(s.reference)
}

func (s *TransferStrategy) Apply(fv FeatureVector) (float64, error) {
	ref, ok := fv.Get(s.reference)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrMissingFeature, s.reference)
	}
	return ref * s.multiplier, nil
}

// ConstantStrategy returns the last-known-safe price. It reads no
// features and cannot fail.
type ConstantStrategy struct {
	price float64
}

// NewConstantStrategy creates the terminal tier
func NewConstantStrategy(price float64) (*ConstantStrategy, error) {
	if !validPrice(price) {
		return nil, fmt.Errorf("%w: fallback price %v", ErrInvalidPrice, price)
	}
	return &ConstantStrategy{price: price}, nil
}

func (s *ConstantStrategy) Name() string                         { return TierConstantFallback }
func (s *ConstantStrategy) Confidence() float64                  { return ConfidenceConstantFallback }
func (s *ConstantStrategy) Precondition(FeatureVector) bool      { return true }
func (s *ConstantStrategy) Apply(FeatureVector) (float64, error) { return s.price, nil }
func (s *ConstantStrategy) Price() float64                       { return s.price }
