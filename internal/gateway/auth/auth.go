package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// SecretSource fetches the latest version of a named secret
type SecretSource interface {
	FetchLatestSecret(ctx context.Context, name string) ([]byte, error)
}

// AcceptFunc accepts keys outside the loaded snapshot. Used in local mode.
type AcceptFunc func(key string) bool

// DevKeyPrefixes accepts any key starting with one of prefixes
func DevKeyPrefixes(prefixes ...string) AcceptFunc {
	return func(key string) bool {
		for _, p := range prefixes {
			if strings.HasPrefix(key, p) && len(key) > len(p) {
				return true
			}
		}
		return false
	}
}

// secretPayload is the JSON shape of the API-key secret
type secretPayload struct {
	Keys map[string]string `json:"keys"`
}

// snapshot maps sha256(key) to the client name. Never mutated after creation.
type snapshot struct {
	clients map[[sha256.Size]byte]string
}

// Verifier checks API keys against an immutable in-memory snapshot
type Verifier struct {
	source SecretSource
	secret string
	accept AcceptFunc
	log    zerolog.Logger

	current atomic.Pointer[snapshot]
}

// Option configures a Verifier
type Option func(*Verifier)

// WithAcceptFunc accepts keys matching f in addition to the snapshot
func WithAcceptFunc(f AcceptFunc) Option {
	return func(v *Verifier) {
		v.accept = f
	}
}

// NewVerifier creates a verifier with an empty snapshot. Nothing is
// accepted until Load succeeds, unless an AcceptFunc is configured.
func NewVerifier(source SecretSource, secretName string, log zerolog.Logger, opts ...Option) *Verifier {
	v := &Verifier{source: source, secret: secretName, log: log}
	for _, opt := range opts {
		opt(v)
	}
	v.current.Store(&snapshot{clients: map[[sha256.Size]byte]string{}})
	return v
}

// Load fetches the latest secret version and swaps in a new snapshot.
// On failure the current snapshot is kept, which at startup is empty.
func (v *Verifier) Load(ctx context.Context) error {
	if v.source == nil {
		return nil
	}

	data, err := v.source.FetchLatestSecret(ctx, v.secret)
	if err != nil {
		v.log.Error().Err(err).Str("secret", v.secret).Msg("failed to load API keys")
		return fmt.Errorf("load API keys: %w", err)
	}

	var payload secretPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		v.log.Error().Err(err).Str("secret", v.secret).Msg("API key secret is not valid JSON")
		return fmt.Errorf("decode API key secret: %w", err)
	}

	clients := make(map[[sha256.Size]byte]string, len(payload.Keys))
	for client, key := range payload.Keys {
		if key == "" {
			continue
		}
		clients[sha256.Sum256([]byte(key))] = client
	}

	v.current.Store(&snapshot{clients: clients})
	v.log.Info().Int("keys", len(clients)).Msg("loaded API keys")
	return nil
}

// Verify reports whether key is authorized
func (v *Verifier) Verify(key string) bool {
	_, ok := v.Client(key)
	return ok
}

// Client returns the client name owning key
func (v *Verifier) Client(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	if client, ok := v.current.Load().clients[sha256.Sum256([]byte(key))]; ok {
		return client, true
	}
	if v.accept != nil && v.accept(key) {
		return "local", true
	}
	return "", false
}

// Size returns the number of keys in the current snapshot
func (v *Verifier) Size() int {
	return len(v.current.Load().clients)
}

// KeyHash returns the short hex digest used to identify a key in
// counters and logs without storing the key itself
func KeyHash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
