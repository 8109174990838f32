package predictor

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"
)

// Defaults fills in cascade parameters the bundle leaves unset
type Defaults struct {
	CompletenessThreshold float64
	CriticalFeatures      []string
	ReferenceFeature      string
	TransferMultiplier    float64
	FallbackPrice         float64
}

// DefaultCriticalFeatures are the highest-importance inputs of the subset model
var DefaultCriticalFeatures = []string{FeatureReferencePrice, FeaturePremium}

// Cascade evaluates tiers in order and returns the first usable price.
// The last tier is always a ConstantStrategy.
type Cascade struct {
	tiers    []Strategy
	declared []string
	log      zerolog.Logger
}

// NewCascade creates a cascade from explicit tiers. fallback is appended
// as the terminal tier.
func NewCascade(tiers []Strategy, fallback *ConstantStrategy, declared []string, log zerolog.Logger) *Cascade {
	all := make([]Strategy, 0, len(tiers)+1)
	all = append(all, tiers...)
	all = append(all, fallback)
	return &Cascade{tiers: all, declared: declared, log: log}
}

// Build assembles the four-tier ladder. bundle may be nil, in which case
// the model tiers stay in place and demote on every call.
func Build(bundle *Bundle, d Defaults, log zerolog.Logger) (*Cascade, error) {
	threshold := d.CompletenessThreshold
	critical := d.CriticalFeatures
	if len(critical) == 0 {
		critical = DefaultCriticalFeatures
	}
	reference := d.ReferenceFeature
	if reference == "" {
		reference = FeatureReferencePrice
	}
	multiplier := d.TransferMultiplier
	fallbackPrice := d.FallbackPrice

	var (
		full, subset *LinearModel
		declared     []string
	)
	if bundle != nil {
		full, subset = bundle.FullModel, bundle.CriticalModel
		declared = bundle.Features
		if bundle.CompletenessThreshold > 0 {
			threshold = bundle.CompletenessThreshold
		}
		if len(bundle.CriticalFeatures) > 0 {
			critical = bundle.CriticalFeatures
		}
		if bundle.ReferenceFeature != "" {
			reference = bundle.ReferenceFeature
		}
		if bundle.TransferMultiplier > 0 {
			multiplier = bundle.TransferMultiplier
		}
		if bundle.FallbackPrice > 0 {
			fallbackPrice = bundle.FallbackPrice
		}
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("completeness threshold %v out of range", threshold)
	}

	fallback, err := NewConstantStrategy(fallbackPrice)
	if err != nil {
		return nil, err
	}

	tiers := []Strategy{
		NewFullModelStrategy(full, declared, threshold),
		NewCriticalSubsetStrategy(subset, critical),
		NewTransferStrategy(reference, multiplier),
	}
	return NewCascade(tiers, fallback, declared, log), nil
}

// Tiers returns the ordered tier list
func (c *Cascade) Tiers() []Strategy {
	out := make([]Strategy, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// PredictSingle returns a price for fv. It never fails: every tier error,
// invalid price or panic moves on to the next tier, and the last tier is a
// constant.
func (c *Cascade) PredictSingle(fv FeatureVector) PredictionResult {
	ratio := fv.Completeness(c.declared)

	for i, tier := range c.tiers {
		if !c.safePrecondition(tier, fv) {
			continue
		}

		price, err := c.safeApply(tier, fv)
		if err == nil && !validPrice(price) {
			err = fmt.Errorf("%w: %v", ErrInvalidPrice, price)
		}
		if err != nil {
			c.log.Warn().
				Err(err).
				Str("tier", tier.Name()).
				Int("tier_used", i+1).
				Msg("prediction tier failed, demoting")
			continue
		}

		return PredictionResult{
			Price:                  round2(price),
			Confidence:             tier.Confidence(),
			TierUsed:               i + 1,
			TierName:               tier.Name(),
			FeaturesAvailableRatio: ratio,
		}
	}

	// Only reachable when the terminal tier is nil
	return PredictionResult{
		TierUsed:               len(c.tiers),
		TierName:               TierConstantFallback,
		FeaturesAvailableRatio: ratio,
	}
}

// Predict runs PredictSingle over every row and reports which share of
// rows each tier served
func (c *Cascade) Predict(rows []FeatureVector) BatchResult {
	results := make([]PredictionResult, 0, len(rows))
	counts := make(map[string]int)
	for _, fv := range rows {
		r := c.PredictSingle(fv)
		results = append(results, r)
		counts[r.TierName]++
	}

	dist := make(map[string]float64, len(counts))
	for name, n := range counts {
		dist[name] = float64(n) / float64(len(rows))
	}
	return BatchResult{Results: results, TierDistribution: dist}
}

func (c *Cascade) safePrecondition(tier Strategy, fv FeatureVector) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().
				Interface("panic", r).
				Str("tier", tier.Name()).
				Msg("prediction tier precondition panicked")
			ok = false
		}
	}()
	return tier.Precondition(fv)
}

func (c *Cascade) safeApply(tier Strategy, fv FeatureVector) (price float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			price, err = 0, fmt.Errorf("tier %s panicked: %v", tier.Name(), r)
		}
	}()
	return tier.Apply(fv)
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsNaN(p) && !math.IsInf(p, 0)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
