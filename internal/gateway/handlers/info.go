package handlers

import (
	"net/http"
	"strconv"
	"time"
)

// ServiceInfoResponse is the body of GET /
type ServiceInfoResponse struct {
	Service          string   `json:"service"`
	Version          string   `json:"version"`
	DocumentationURL string   `json:"documentation_url"`
	DataSources      []string `json:"data_sources"`
	LastModelUpdate  string   `json:"last_model_update"`
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	CacheFresh  bool   `json:"cache_fresh"`
	Timestamp   string `json:"timestamp"`
}

// TierInfo describes one cascade tier
type TierInfo struct {
	Tier       int     `json:"tier"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// ModelInfoResponse is the body of GET /model/info
type ModelInfoResponse struct {
	ModelVersion string             `json:"model_version"`
	Architecture string             `json:"architecture,omitempty"`
	TrainedDate  string             `json:"trained_date,omitempty"`
	DataQuality  string             `json:"data_quality,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
	Features     []string           `json:"features,omitempty"`
	ModelLoaded  bool               `json:"model_loaded"`
	Tiers        []TierInfo         `json:"tiers"`

	// TierUsage counts live cascade predictions per tier over the last 24h
	TierUsage map[string]int64 `json:"tier_usage_24h,omitempty"`
}

// HandleRoot handles GET /
func (h *PredictHandler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	lastUpdate := h.settings.LastModelUpdate
	if b := h.model.Bundle(); b != nil && b.TrainedDate != "" {
		lastUpdate = b.TrainedDate
	}

	writeJSON(w, http.StatusOK, ServiceInfoResponse{
		Service:          h.settings.AppName,
		Version:          h.settings.AppVersion,
		DocumentationURL: "/docs",
		DataSources:      h.settings.DataSources,
		LastModelUpdate:  lastUpdate,
	})
}

// HandleHealth handles GET /health. Always 200; the status field carries
// degradation.
func (h *PredictHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	loaded := h.model.ModelLoaded()
	_, fresh := h.cache.Get(r.Context())

	status := "healthy"
	if !loaded {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      status,
		ModelLoaded: loaded,
		CacheFresh:  fresh,
		Timestamp:   timestamp(h.now()),
	})
}

// HandleModelInfo handles GET /model/info
func (h *PredictHandler) HandleModelInfo(w http.ResponseWriter, r *http.Request) {
	resp := ModelInfoResponse{
		ModelVersion: h.settings.AppVersion,
		ModelLoaded:  h.model.ModelLoaded(),
	}
	if b := h.model.Bundle(); b != nil {
		resp.ModelVersion = b.Version
		resp.Architecture = b.Architecture
		resp.TrainedDate = b.TrainedDate
		resp.DataQuality = b.DataQuality
		resp.Metrics = b.Metrics
		resp.Features = b.Features
	}

	for i, tier := range h.model.Cascade().Tiers() {
		resp.Tiers = append(resp.Tiers, TierInfo{
			Tier:       i + 1,
			Name:       tier.Name(),
			Confidence: tier.Confidence(),
		})
	}

	if h.stats != nil {
		counts, err := h.stats.TierDistribution(r.Context(), h.now().Add(-24*time.Hour))
		if err != nil {
			h.log.Warn().Err(err).Msg("tier usage unavailable")
		} else {
			resp.TierUsage = make(map[string]int64, len(counts))
			for _, c := range counts {
				resp.TierUsage[strconv.Itoa(c.TierUsed)] = c.Count
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
