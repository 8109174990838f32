package predictor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

type state struct {
	bundle  *Bundle
	cascade *Cascade
}

// Holder owns the current model bundle and the cascade built from it.
// Readers never block; Reload swaps the whole state at once.
type Holder struct {
	store    ObjectStore
	path     string
	defaults Defaults
	log      zerolog.Logger

	current atomic.Pointer[state]
}

// NewHolder creates a holder with a bundle-less cascade, so predictions
// are served from the transfer and constant tiers until Reload succeeds.
func NewHolder(store ObjectStore, path string, d Defaults, log zerolog.Logger) (*Holder, error) {
	cascade, err := Build(nil, d, log)
	if err != nil {
		return nil, err
	}

	h := &Holder{store: store, path: path, defaults: d, log: log}
	h.current.Store(&state{cascade: cascade})
	return h, nil
}

// Reload fetches and validates the bundle and swaps in a new cascade.
// On failure the previous state stays in place.
func (h *Holder) Reload(ctx context.Context) error {
	data, err := h.store.ReadObject(ctx, h.path)
	if err != nil {
		return fmt.Errorf("read model bundle %s: %w", h.path, err)
	}

	bundle, err := ParseBundle(data)
	if err != nil {
		return err
	}

	cascade, err := Build(bundle, h.defaults, h.log)
	if err != nil {
		return fmt.Errorf("build cascade for bundle %s: %w", bundle.Version, err)
	}

	h.current.Store(&state{bundle: bundle, cascade: cascade})
	h.log.Info().
		Str("version", bundle.Version).
		Int("features", len(bundle.Features)).
		Msg("model bundle loaded")
	return nil
}

// Cascade returns the cascade for the current state
func (h *Holder) Cascade() *Cascade {
	return h.current.Load().cascade
}

// Bundle returns the loaded bundle, or nil
func (h *Holder) Bundle() *Bundle {
	return h.current.Load().bundle
}

// ModelLoaded reports whether a bundle has been loaded
func (h *Holder) ModelLoaded() bool {
	return h.current.Load().bundle != nil
}
