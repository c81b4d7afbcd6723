// Package datastore is the running configuration store. It delivers each
// commit as a batch of changes to its subscribers, which validate and apply
// them to hardware before the batch is persisted by a backend.
//
// Commit protocol:
//
//	Validate (all subscribers) -> Apply (all subscribers) -> persist
//
// A validation failure rejects the commit with nothing applied. An apply or
// persist failure aborts every subscriber that validated. An apply error
// made only of resolution failures is partial: the commit is persisted and
// the error is still returned.
package datastore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gearboxd/internal/errors"
	"gearboxd/internal/xpath"
)

// Transaction is the per-commit state a subscriber returns from Validate
type Transaction interface {
	ID() string
}

// Subscriber receives commits
type Subscriber interface {
	// Validate checks a batch of changes against the running configuration
	// and stages hardware values without side effects
	Validate(ctx context.Context, changes []Change, running Tree) (Transaction, error)
	// Apply pushes staged values to hardware
	Apply(ctx context.Context, tx Transaction) error
	// Abort undoes what Apply did, best effort
	Abort(ctx context.Context, tx Transaction)
}

// Reader serves path-scoped reads of the running configuration
type Reader interface {
	Running(ctx context.Context, prefix string) (Tree, error)
}

// Backend persists the running configuration
type Backend interface {
	Load(ctx context.Context) (Tree, error)
	Store(ctx context.Context, changes []Change) error
	Close() error
}

// Datastore holds the running configuration in memory over a backend
type Datastore struct {
	backend Backend
	logger  *slog.Logger

	mu          sync.RWMutex
	commitMu    sync.Mutex
	running     Tree
	subscribers []Subscriber
}

// Open loads the running configuration from a backend
func Open(ctx context.Context, backend Backend, logger *slog.Logger) (*Datastore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	running, err := backend.Load(ctx)
	if err != nil {
		return nil, errors.WrapFatal(err, "datastore", "Open", "load running configuration")
	}
	logger.Info("Running configuration loaded", "leaves", len(running))
	return &Datastore{
		backend: backend,
		logger:  logger.With("component", "datastore"),
		running: running,
	}, nil
}

// Subscribe registers a subscriber for subsequent commits
func (d *Datastore) Subscribe(sub Subscriber) {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	d.subscribers = append(d.subscribers, sub)
}

// Running implements Reader
func (d *Datastore) Running(ctx context.Context, prefix string) (Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running.Subtree(prefix), nil
}

// Commit runs one transaction. Commits are serialized.
func (d *Datastore) Commit(ctx context.Context, changes []Change) error {
	if len(changes) == 0 {
		return nil
	}
	normalized, err := Normalize(changes)
	if err != nil {
		return err
	}

	d.commitMu.Lock()
	defer d.commitMu.Unlock()

	d.mu.RLock()
	running := d.running.Clone()
	d.mu.RUnlock()

	txs := make([]Transaction, 0, len(d.subscribers))
	abort := func() {
		for i := len(txs) - 1; i >= 0; i-- {
			d.subscribers[i].Abort(ctx, txs[i])
		}
	}

	for _, sub := range d.subscribers {
		tx, err := sub.Validate(ctx, normalized, running)
		if err != nil {
			abort()
			return err
		}
		txs = append(txs, tx)
	}

	var partial []error
	for i, sub := range d.subscribers {
		if err := sub.Apply(ctx, txs[i]); err != nil {
			if errors.IsPartial(err) {
				partial = append(partial, err)
				continue
			}
			abort()
			return err
		}
	}

	if err := d.backend.Store(ctx, normalized); err != nil {
		abort()
		return errors.WrapFatal(err, "datastore", "Commit", "persist changes")
	}

	d.mu.Lock()
	d.running.Apply(normalized)
	d.mu.Unlock()

	if len(partial) > 0 {
		err := errors.Join(partial...)
		d.logger.Warn("Commit applied partially", "changes", len(normalized), "error", err)
		return err
	}
	d.logger.Info("Commit applied", "changes", len(normalized))
	return nil
}

// Exclusive runs fn with commits held off, so fn sees a running
// configuration no commit is changing underneath it
func (d *Datastore) Exclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	d.commitMu.Lock()
	defer d.commitMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}

// Close closes the backend
func (d *Datastore) Close() error {
	return d.backend.Close()
}

// Normalize canonicalizes change paths and rejects malformed changes
func Normalize(changes []Change) ([]Change, error) {
	out := make([]Change, len(changes))
	for i, c := range changes {
		if !c.Kind.Valid() {
			return nil, errors.Invalidf("change %d: unknown kind %q", i, c.Kind)
		}
		p, err := xpath.Parse(c.Path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "datastore", "Normalize", fmt.Sprintf("parse change %d", i))
		}
		c.Path = p.String()
		if c.Kind == Deleted {
			c.Value = ""
		}
		out[i] = c
	}
	return out, nil
}
