package handlers

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/predictor"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/database"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/metrics"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/models"
	"github.com/rs/zerolog"
)

const (
	sourceCache   = "cache"
	sourceCascade = "cascade"

	maxBatchRows  = 1000
	maxBatchBytes = 1 << 20
)

// ArtifactCache returns the published prediction while it is fresh
type ArtifactCache interface {
	Get(ctx context.Context) (*models.PredictionArtifact, bool)
}

// ModelState exposes the currently loaded model
type ModelState interface {
	Cascade() *predictor.Cascade
	Bundle() *predictor.Bundle
	ModelLoaded() bool
}

// FeatureProvider returns the latest feature vector
type FeatureProvider interface {
	Latest(ctx context.Context) predictor.FeatureVector
}

// PredictionLogger records served predictions
type PredictionLogger interface {
	LogPrediction(ctx context.Context, log *models.PredictionLog) error
	LogPredictions(ctx context.Context, logs []*models.PredictionLog) error
}

// TierStats reports how often each tier served recently
type TierStats interface {
	TierDistribution(ctx context.Context, since time.Time) ([]database.TierCount, error)
}

// Settings are the service-level values rendered into responses
type Settings struct {
	AppName           string
	AppVersion        string
	DataSources       []string
	LastModelUpdate   string
	WholesaleDiscount float64
	DefaultConfidence float64
	StoreTimeout      time.Duration
}

// PredictionResponse is the body of GET /predict/steel-rebar-price
type PredictionResponse struct {
	PredictionDate    string  `json:"prediction_date"`
	PredictedPriceUSD float64 `json:"predicted_price_usd_per_ton"`
	Currency          string  `json:"currency"`
	Unit              string  `json:"unit"`
	ModelConfidence   float64 `json:"model_confidence"`
	Timestamp         string  `json:"timestamp"`
}

// ExtendedPredictionResponse adds price levels, calibration inputs and
// cascade metadata
type ExtendedPredictionResponse struct {
	PredictionResponse

	PriceLevel           string   `json:"price_level"`
	PredictedPriceMXN    *float64 `json:"predicted_price_mxn_per_ton"`
	FXRate               *float64 `json:"fx_rate"`
	LMEBasePrice         *float64 `json:"lme_base_price"`
	MexicoPremium        *float64 `json:"mexico_premium"`
	WholesalePriceUSD    float64  `json:"wholesale_price_usd"`
	RetailPriceUSD       float64  `json:"retail_price_usd"`
	ModelVersion         string   `json:"model_version"`
	DataQualityValidated bool     `json:"data_quality_validated"`

	Source                 string   `json:"source"`
	TierUsed               int      `json:"tier_used,omitempty"`
	TierName               string   `json:"tier_name,omitempty"`
	FeaturesAvailableRatio *float64 `json:"features_available_ratio,omitempty"`
}

// BatchRequest is the body of POST /predict/steel-rebar-price/batch
type BatchRequest struct {
	Rows []predictor.FeatureVector `json:"rows"`
}

type PredictHandler struct {
	cache    ArtifactCache
	model    ModelState
	features FeatureProvider
	logs     PredictionLogger
	stats    TierStats
	metrics  *metrics.Collector
	settings Settings
	log      zerolog.Logger
	now      func() time.Time
}

// NewPredictHandler creates the prediction handler. logs and stats may be nil.
func NewPredictHandler(c ArtifactCache, model ModelState, features FeatureProvider, logs PredictionLogger, stats TierStats, m *metrics.Collector, settings Settings, log zerolog.Logger) *PredictHandler {
	return &PredictHandler{
		cache:    c,
		model:    model,
		features: features,
		logs:     logs,
		stats:    stats,
		metrics:  m,
		settings: settings,
		log:      log,
		now:      time.Now,
	}
}

// prediction is the result of the cache-then-cascade path
type prediction struct {
	source   string
	artifact *models.PredictionArtifact
	result   predictor.PredictionResult
	features predictor.FeatureVector
}

func (p prediction) price() float64 {
	if p.source == sourceCache {
		return p.artifact.PredictedPriceUSD
	}
	return p.result.Price
}

// predict serves the cached artifact when fresh and runs the cascade
// otherwise. It cannot fail.
func (h *PredictHandler) predict(ctx context.Context) prediction {
	if artifact, ok := h.cache.Get(ctx); ok {
		h.metrics.CacheLookups.WithLabelValues("hit").Inc()
		return prediction{source: sourceCache, artifact: artifact}
	}
	h.metrics.CacheLookups.WithLabelValues("miss").Inc()

	fctx := ctx
	if h.settings.StoreTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, h.settings.StoreTimeout)
		defer cancel()
	}
	fv := h.features.Latest(fctx)

	result := h.model.Cascade().PredictSingle(fv)
	h.metrics.PredictionTiers.WithLabelValues(result.TierName).Inc()
	if result.TierUsed > 1 {
		h.log.Warn().
			Int("tier_used", result.TierUsed).
			Str("tier", result.TierName).
			Float64("features_available_ratio", result.FeaturesAvailableRatio).
			Msg("prediction served from a fallback tier")
	}
	return prediction{source: sourceCascade, result: result, features: fv}
}

func (h *PredictHandler) basic(p prediction, now time.Time) PredictionResponse {
	resp := PredictionResponse{
		PredictionDate:    nextBusinessDay(now).Format("2006-01-02"),
		PredictedPriceUSD: p.price(),
		Currency:          "USD",
		Unit:              "metric_ton",
		Timestamp:         timestamp(now),
	}

	if p.source == sourceCache {
		if p.artifact.PredictionDate != "" {
			resp.PredictionDate = p.artifact.PredictionDate
		}
		if p.artifact.Currency != "" {
			resp.Currency = p.artifact.Currency
		}
		if p.artifact.Unit != "" {
			resp.Unit = p.artifact.Unit
		}
		resp.ModelConfidence = p.artifact.Confidence
		if resp.ModelConfidence == 0 {
			resp.ModelConfidence = h.settings.DefaultConfidence
		}
		return resp
	}

	resp.ModelConfidence = p.result.Confidence
	return resp
}

// HandlePredict handles GET /predict/steel-rebar-price
func (h *PredictHandler) HandlePredict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p := h.predict(r.Context())

	setPredictionHeaders(w, p)
	writeJSON(w, http.StatusOK, h.basic(p, h.now()))

	h.logPrediction(r, p, start)
}

// HandlePredictExtended handles GET /predict/steel-rebar-price/extended
func (h *PredictHandler) HandlePredictExtended(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	p := h.predict(r.Context())
	price := p.price()

	resp := ExtendedPredictionResponse{
		PredictionResponse:   h.basic(p, h.now()),
		PriceLevel:           "retail",
		WholesalePriceUSD:    round2(price * h.settings.WholesaleDiscount),
		RetailPriceUSD:       price,
		ModelVersion:         h.modelVersion(),
		DataQualityValidated: h.model.ModelLoaded(),
		Source:               p.source,
	}

	if p.source == sourceCache {
		resp.PredictedPriceMXN = p.artifact.PredictedPriceMXN
		resp.FXRate = p.artifact.FXRate
		resp.LMEBasePrice = p.artifact.BasePrice
		resp.MexicoPremium = p.artifact.PremiumFactor
		if p.artifact.WholesalePrice != nil {
			resp.WholesalePriceUSD = *p.artifact.WholesalePrice
		}
		resp.DataQualityValidated = true
	} else {
		resp.FXRate = feature(p.features, predictor.FeatureFXRate)
		resp.LMEBasePrice = feature(p.features, predictor.FeatureReferencePrice)
		resp.MexicoPremium = feature(p.features, predictor.FeaturePremium)
		if resp.FXRate != nil {
			mxn := round2(price * *resp.FXRate)
			resp.PredictedPriceMXN = &mxn
		}
		resp.TierUsed = p.result.TierUsed
		resp.TierName = p.result.TierName
		ratio := p.result.FeaturesAvailableRatio
		resp.FeaturesAvailableRatio = &ratio
	}

	setPredictionHeaders(w, p)
	writeJSON(w, http.StatusOK, resp)

	h.logPrediction(r, p, start)
}

// HandleBatch handles POST /predict/steel-rebar-price/batch
func (h *PredictHandler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req BatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request", "invalid request body")
		return
	}
	if len(req.Rows) == 0 {
		writeError(w, http.StatusBadRequest, "Bad Request", "rows must not be empty")
		return
	}
	if len(req.Rows) > maxBatchRows {
		writeError(w, http.StatusBadRequest, "Bad Request", "at most "+strconv.Itoa(maxBatchRows)+" rows per request")
		return
	}

	result := h.model.Cascade().Predict(req.Rows)
	for _, res := range result.Results {
		h.metrics.PredictionTiers.WithLabelValues(res.TierName).Inc()
	}

	writeJSON(w, http.StatusOK, result)

	h.logBatch(r, result, start)
}

func (h *PredictHandler) modelVersion() string {
	if b := h.model.Bundle(); b != nil {
		return b.Version
	}
	return h.settings.AppVersion
}

// logPrediction records the served prediction without blocking the response
func (h *PredictHandler) logPrediction(r *http.Request, p prediction, start time.Time) {
	if h.logs == nil {
		return
	}

	entry := &models.PredictionLog{
		Endpoint:   r.URL.Path,
		Source:     p.source,
		Price:      p.price(),
		CacheHit:   p.source == sourceCache,
		LatencyMs:  int(time.Since(start).Milliseconds()),
		StatusCode: http.StatusOK,
	}
	if principal, ok := PrincipalFrom(r.Context()); ok {
		entry.KeyHash = principal.KeyHash
	}
	if p.source == sourceCascade {
		entry.TierUsed = p.result.TierUsed
		entry.Confidence = p.result.Confidence
	} else {
		entry.Confidence = p.artifact.Confidence
	}

	// Log asynchronously to avoid blocking
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.logs.LogPrediction(ctx, entry); err != nil {
			h.log.Error().Err(err).Msg("failed to log prediction")
		}
	}()
}

// logBatch records one entry per batch row so tier usage covers batch traffic
func (h *PredictHandler) logBatch(r *http.Request, result predictor.BatchResult, start time.Time) {
	if h.logs == nil || len(result.Results) == 0 {
		return
	}

	var keyHash string
	if principal, ok := PrincipalFrom(r.Context()); ok {
		keyHash = principal.KeyHash
	}
	latency := int(time.Since(start).Milliseconds())

	entries := make([]*models.PredictionLog, len(result.Results))
	for i, res := range result.Results {
		entries[i] = &models.PredictionLog{
			KeyHash:    keyHash,
			Endpoint:   r.URL.Path,
			Source:     sourceCascade,
			TierUsed:   res.TierUsed,
			Confidence: res.Confidence,
			Price:      res.Price,
			LatencyMs:  latency,
			StatusCode: http.StatusOK,
		}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.logs.LogPredictions(ctx, entries); err != nil {
			h.log.Error().Err(err).Int("rows", len(entries)).Msg("failed to log batch predictions")
		}
	}()
}

func setPredictionHeaders(w http.ResponseWriter, p prediction) {
	w.Header().Set("X-Prediction-Source", p.source)
	if p.source == sourceCascade {
		w.Header().Set("X-Prediction-Tier", strconv.Itoa(p.result.TierUsed))
	}
}

func feature(fv predictor.FeatureVector, name string) *float64 {
	if v, ok := fv.Get(name); ok {
		return &v
	}
	return nil
}

// nextBusinessDay is the day after t, moved past weekends
func nextBusinessDay(t time.Time) time.Time {
	d := t.UTC().AddDate(0, 0, 1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
