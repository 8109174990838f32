package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/auth"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/cache"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/handlers"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/memstore"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/predictor"
	"github.com/mrmushfiq/rebar-price-gateway/internal/gateway/ratelimit"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/config"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/database"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/filestore"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/metrics"
	"github.com/mrmushfiq/rebar-price-gateway/internal/shared/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// objectStore is what the cache, model holder and feature source read from
type objectStore interface {
	ReadObject(ctx context.Context, path string) ([]byte, error)
}

// localFeatures seeds the in-memory object store in local mode
const localFeatures = `{"features": {"lme_sr_m01_lag1": 540.5, "usdmxn_lag1": 18.8, "mexico_premium": 1.705}}`

// app is the wired gateway. Stores that are down at startup leave it
// serving in degraded mode rather than failing to start.
type app struct {
	cfg *config.Config
	log zerolog.Logger

	router   http.Handler
	verifier *auth.Verifier
	holder   *predictor.Holder
	limiter  *ratelimit.Limiter
	cache    *cache.Cache
	dir      *filestore.Store

	db       *database.DB
	migrated bool
	closers  []func() error
}

// newApp wires stores, auth, the model cascade and the router. It only
// fails on configuration that can never work, such as a malformed Redis URL.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, reg prometheus.Registerer, metricsHandler http.Handler) (*app, error) {
	a := &app{cfg: cfg, log: log}

	var (
		secrets  auth.SecretSource
		counters ratelimit.CounterStore
		objects  objectStore
		logs     handlers.PredictionLogger
		stats    handlers.TierStats
		opts     []auth.Option
	)

	if cfg.LocalMode {
		log.Warn().Msg("local mode: in-memory stores, test-/dev-/local- keys accepted")
		opts = append(opts, auth.WithAcceptFunc(auth.DevKeyPrefixes("test-", "dev-", "local-")))
		counters = memstore.NewCounters()

		mem := memstore.NewObjects()
		mem.Put(cfg.FeaturesPath, []byte(localFeatures))
		objects = mem
	} else {
		// Initialize database
		db, err := database.New(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		a.checkStore(ctx, "PostgreSQL", db.Ping)
		a.migrate(ctx)
		secrets, logs, stats = db, db, db

		// Initialize Redis
		redisClient, err := redis.New(cfg.RedisURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisClient.Close)
		a.checkStore(ctx, "Redis", redisClient.Ping)
		counters, objects = redisClient, redisClient
	}

	if cfg.ObjectStoreDir != "" {
		dir, err := filestore.New(cfg.ObjectStoreDir)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("object store directory: %w", err)
		}
		a.dir = dir
		objects = dir
		log.Info().Str("dir", cfg.ObjectStoreDir).Msg("reading objects from directory")
	}

	// Auth: an unreachable secret store leaves the key set empty
	a.verifier = auth.NewVerifier(secrets, cfg.APIKeysSecret, log.With().Str("component", "auth").Logger(), opts...)
	a.loadKeys(ctx)

	// Model cascade
	holder, err := predictor.NewHolder(objects, cfg.ModelPath, predictor.Defaults{
		CompletenessThreshold: cfg.CompletenessThreshold,
		TransferMultiplier:    cfg.MexicoPremium,
		FallbackPrice:         cfg.FallbackPrice,
	}, log.With().Str("component", "predictor").Logger())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("invalid prediction defaults: %w", err)
	}
	a.holder = holder
	a.loadModel(ctx)

	collector := metrics.NewWithRegistry(reg)
	a.limiter = ratelimit.New(counters, int64(cfg.RateLimitRequests), cfg.StoreTimeout, log.With().Str("component", "ratelimit").Logger())
	a.cache = cache.New(objects, cfg.PredictionCachePath, cfg.CacheTTL(), cfg.StoreTimeout, log.With().Str("component", "cache").Logger())
	features := predictor.NewFeatureSource(objects, cfg.FeaturesPath, log.With().Str("component", "features").Logger())

	// Initialize handlers
	predictHandler := handlers.NewPredictHandler(a.cache, holder, features, logs, stats, collector, handlers.Settings{
		AppName:           cfg.AppName,
		AppVersion:        cfg.AppVersion,
		DataSources:       cfg.DataSources,
		LastModelUpdate:   cfg.LastModelUpdate,
		WholesaleDiscount: cfg.WholesaleDiscount,
		DefaultConfidence: cfg.DefaultConfidence,
		StoreTimeout:      cfg.StoreTimeout,
	}, log)
	middleware := handlers.NewMiddleware(a.verifier, a.limiter, collector, log, cfg.CORSOrigins)

	a.router = handlers.NewRouter(middleware, predictHandler, metricsHandler, cfg.RequestTimeout)
	return a, nil
}

// checkStore logs whether a store answered at startup
func (a *app) checkStore(ctx context.Context, name string, ping func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		a.log.Warn().Err(err).Str("store", name).Msg("store unreachable, serving degraded")
		return
	}
	a.log.Info().Str("store", name).Msg("connected")
}

// migrate applies the schema once; a failure is retried on the next reload
func (a *app) migrate(ctx context.Context) {
	if a.db == nil || a.migrated {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.db.Migrate(ctx); err != nil {
		a.log.Warn().Err(err).Msg("database migration failed, will retry on reload")
		return
	}
	a.migrated = true
}

// loadKeys refreshes the key snapshot; errors are logged by the verifier
func (a *app) loadKeys(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	_ = a.verifier.Load(ctx)
}

func (a *app) loadModel(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.StoreTimeout)
	defer cancel()
	if err := a.holder.Reload(ctx); err != nil {
		a.log.Warn().Err(err).Msg("model bundle unavailable, serving from fallback tiers")
	}
}

// reload refreshes keys and model, and retries a pending migration
func (a *app) reload(ctx context.Context) {
	a.migrate(ctx)
	a.loadKeys(ctx)
	a.loadModel(ctx)
}

// watchModel reloads the bundle whenever it changes in the object directory
func (a *app) watchModel(ctx context.Context) {
	if a.dir == nil || !a.cfg.WatchModel {
		return
	}
	err := a.dir.Watch(ctx, a.cfg.ModelPath, a.log, func() {
		a.loadModel(ctx)
	})
	if err != nil {
		a.log.Warn().Err(err).Msg("model bundle watch disabled")
	}
}

// Close releases store connections
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn().Err(err).Msg("closing store")
		}
	}
	a.closers = nil
}
