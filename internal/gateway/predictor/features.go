package predictor

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
)

// FeatureSource reads the latest feature snapshot published by the
// ingestion job
type FeatureSource struct {
	store ObjectStore
	path  string
	log   zerolog.Logger
}

type featureSnapshot struct {
	Features FeatureVector `json:"features"`
}

// NewFeatureSource creates a feature source reading path from store
func NewFeatureSource(store ObjectStore, path string, log zerolog.Logger) *FeatureSource {
	return &FeatureSource{store: store, path: path, log: log}
}

// Latest returns the current feature vector. An unreadable or undecodable
// snapshot yields an empty vector, which the cascade serves from its last tier.
func (s *FeatureSource) Latest(ctx context.Context) FeatureVector {
	data, err := s.store.ReadObject(ctx, s.path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("feature snapshot unavailable")
		return FeatureVector{}
	}

	var snap featureSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn().Err(err).Str("path", s.path).Msg("feature snapshot undecodable")
		return FeatureVector{}
	}
	if snap.Features == nil {
		return FeatureVector{}
	}
	return snap.Features
}
