package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

type fakeSource struct {
	payload []byte
	err     error
	calls   int
}

func (f *fakeSource) FetchLatestSecret(_ context.Context, name string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

func TestVerifier_Load(t *testing.T) {
	src := &fakeSource{payload: []byte(`{"keys": {"acme": "k-acme-123", "globex": "k-globex-456", "empty": ""}}`)}
	v := NewVerifier(src, "steel-predictor-api-keys", zerolog.Nop())

	if v.Verify("k-acme-123") {
		t.Fatal("expected no keys before Load")
	}
	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Size() != 2 {
		t.Errorf("expected 2 keys, got %d", v.Size())
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"k-acme-123", true},
		{"k-globex-456", true},
		{"", false},
		{"k-acme-1234", false},
		{"acme", false},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.key); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}

	if client, ok := v.Client("k-globex-456"); !ok || client != "globex" {
		t.Errorf("Client = %q, %v; want globex", client, ok)
	}
}

func TestVerifier_FailsClosed(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	v := NewVerifier(src, "steel-predictor-api-keys", zerolog.Nop())

	if err := v.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	for _, key := range []string{"k-acme-123", "test-key", "debug-key"} {
		if v.Verify(key) {
			t.Errorf("Verify(%q) should fail with no snapshot", key)
		}
	}
}

func TestVerifier_BadPayload(t *testing.T) {
	v := NewVerifier(&fakeSource{payload: []byte(`not json`)}, "s", zerolog.Nop())
	if err := v.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
	if v.Size() != 0 {
		t.Errorf("expected empty snapshot, got %d keys", v.Size())
	}
}

func TestVerifier_RefreshSwapsSnapshot(t *testing.T) {
	src := &fakeSource{payload: []byte(`{"keys": {"acme": "old-key"}}`)}
	v := NewVerifier(src, "s", zerolog.Nop())
	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	src.payload = []byte(`{"keys": {"acme": "new-key"}}`)
	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if v.Verify("old-key") {
		t.Error("rotated key should be rejected")
	}
	if !v.Verify("new-key") {
		t.Error("new key should be accepted")
	}

	// A failed refresh keeps the keys already loaded
	src.err = errors.New("timeout")
	if err := v.Load(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if !v.Verify("new-key") {
		t.Error("failed refresh should keep the previous snapshot")
	}
	if src.calls != 3 {
		t.Errorf("expected 3 fetches, got %d", src.calls)
	}
}

func TestVerifier_LocalMode(t *testing.T) {
	v := NewVerifier(nil, "", zerolog.Nop(), WithAcceptFunc(DevKeyPrefixes("test-", "dev-", "local-")))
	if err := v.Load(context.Background()); err != nil {
		t.Fatalf("Load without a source: %v", err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"test-123", true},
		{"dev-alice", true},
		{"local-x", true},
		{"test-", false},
		{"prod-123", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.key); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestKeyHash(t *testing.T) {
	h := KeyHash("k-acme-123")
	if len(h) != 16 {
		t.Fatalf("expected 16 hex chars, got %q", h)
	}
	if h != KeyHash("k-acme-123") {
		t.Error("KeyHash should be stable")
	}
	if h == KeyHash("k-acme-124") {
		t.Error("different keys should hash differently")
	}
}
