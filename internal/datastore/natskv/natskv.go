// Package natskv persists the running configuration in a NATS JetStream
// key-value bucket, one entry per leaf.
package natskv

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"gearboxd/internal/datastore"
)

// Options configures the backend
type Options struct {
	Bucket  string
	Timeout time.Duration
}

// DefaultOptions returns sensible defaults
func DefaultOptions() Options {
	return Options{
		Bucket:  "gearbox-running",
		Timeout: 5 * time.Second,
	}
}

// Backend implements datastore.Backend over a KV bucket
type Backend struct {
	kv      jetstream.KeyValue
	options Options
	logger  *slog.Logger

	mu    sync.Mutex
	known datastore.Tree
}

// New opens or creates the bucket
func New(ctx context.Context, nc *nats.Conn, opts Options, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      opts.Bucket,
		Description: "gearbox running configuration",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", opts.Bucket, err)
	}
	return &Backend{
		kv:      kv,
		options: opts,
		logger:  logger.With("component", "natskv", "bucket", opts.Bucket),
		known:   make(datastore.Tree),
	}, nil
}

// EncodeKey maps a configuration path to a valid KV key
func EncodeKey(path string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(path))
}

// DecodeKey reverses EncodeKey
func DecodeKey(key string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", key, err)
	}
	return string(b), nil
}

func (b *Backend) applyTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.options.Timeout > 0 {
		return context.WithTimeout(ctx, b.options.Timeout)
	}
	return ctx, func() {}
}

// Load implements datastore.Backend
func (b *Backend) Load(ctx context.Context) (datastore.Tree, error) {
	ctx, cancel := b.applyTimeout(ctx)
	defer cancel()

	lister, err := b.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("kv list keys: %w", err)
	}
	defer lister.Stop()

	tree := make(datastore.Tree)
	for key := range lister.Keys() {
		path, err := DecodeKey(key)
		if err != nil {
			b.logger.Warn("Skipping foreign key", "key", key, "error", err)
			continue
		}
		entry, err := b.kv.Get(ctx, key)
		if err != nil {
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("kv get %s: %w", path, err)
		}
		tree[path] = string(entry.Value())
	}

	b.mu.Lock()
	b.known = tree.Clone()
	b.mu.Unlock()
	return tree, nil
}

// Store implements datastore.Backend. KV writes are not atomic across
// keys; a failure part-way leaves earlier keys written.
func (b *Backend) Store(ctx context.Context, changes []datastore.Change) error {
	ctx, cancel := b.applyTimeout(ctx)
	defer cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	next := b.known.Clone()
	next.Apply(changes)

	for path := range b.known {
		if _, ok := next[path]; ok {
			continue
		}
		if err := b.kv.Delete(ctx, EncodeKey(path)); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
			return fmt.Errorf("kv delete %s: %w", path, err)
		}
		delete(b.known, path)
	}
	for path, value := range next {
		if old, ok := b.known[path]; ok && old == value {
			continue
		}
		if _, err := b.kv.Put(ctx, EncodeKey(path), []byte(value)); err != nil {
			return fmt.Errorf("kv put %s: %w", path, err)
		}
		b.known[path] = value
	}
	return nil
}

// Close implements datastore.Backend. The NATS connection is owned by the
// caller.
func (b *Backend) Close() error { return nil }
