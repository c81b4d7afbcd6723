package service

import (
	"context"
	"log/slog"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/gearbox"
	"gearboxd/internal/metric"
)

// Store is the running datastore as seen by the service
type Store interface {
	datastore.Reader
	Commit(ctx context.Context, changes []datastore.Change) error
	Exclusive(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine is the reconciliation engine as seen by the service
type Engine interface {
	Query(ctx context.Context, path string) (*gearbox.Document, error)
	Reconcile(ctx context.Context) error
}

// GearboxService provides the commit, query and resync operations
type GearboxService struct {
	store    Store
	engine   Engine
	eventBus *EventBus
	metrics  *metric.Metrics
	logger   *slog.Logger
}

// NewGearboxService creates a new gearbox service
func NewGearboxService(store Store, engine Engine, eventBus *EventBus, metrics *metric.Metrics, logger *slog.Logger) *GearboxService {
	if metrics == nil {
		metrics = metric.New(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GearboxService{
		store:    store,
		engine:   engine,
		eventBus: eventBus,
		metrics:  metrics,
		logger:   logger.With("component", "service"),
	}
}

// CommitResult summarizes an applied commit
type CommitResult struct {
	Changes int `json:"changes"`
}

// Commit applies a batch of configuration changes as one transaction
func (s *GearboxService) Commit(ctx context.Context, changes []datastore.Change) (*CommitResult, error) {
	if err := s.validateChanges(changes); err != nil {
		s.metrics.Transactions.WithLabelValues("rejected").Inc()
		return nil, err
	}

	if err := s.store.Commit(ctx, changes); err != nil {
		if errors.IsPartial(err) {
			// persisted, but some modules kept their previous mapping
			s.metrics.Transactions.WithLabelValues("partial").Inc()
			s.logger.Warn("Commit applied partially", "changes", len(changes), "error", err)
			s.publish(EventTransactionCommitted, map[string]any{
				"changes": len(changes),
				"class":   errors.ErrorResolution.String(),
				"error":   err.Error(),
			})
			return nil, err
		}
		outcome := "aborted"
		if errors.IsInvalid(err) {
			outcome = "rejected"
		}
		s.metrics.Transactions.WithLabelValues(outcome).Inc()
		s.logger.Warn("Commit failed", "outcome", outcome, "changes", len(changes), "error", err)
		s.publish(EventTransactionAborted, map[string]any{
			"changes": len(changes),
			"class":   errors.Classify(err).String(),
			"error":   err.Error(),
		})
		return nil, err
	}

	s.metrics.Transactions.WithLabelValues("committed").Inc()
	s.publish(EventTransactionCommitted, map[string]any{"changes": len(changes)})
	return &CommitResult{Changes: len(changes)}, nil
}

// Query returns operational state for the modules a path selects
func (s *GearboxService) Query(ctx context.Context, path string) (*gearbox.Document, error) {
	return s.engine.Query(ctx, path)
}

// Running returns the running configuration at or below a path
func (s *GearboxService) Running(ctx context.Context, prefix string) (datastore.Tree, error) {
	return s.store.Running(ctx, prefix)
}

// Resync re-runs reconciliation of every module against the running
// configuration. Commits wait until it finishes.
func (s *GearboxService) Resync(ctx context.Context) error {
	if err := s.store.Exclusive(ctx, s.engine.Reconcile); err != nil {
		return err
	}
	s.publish(EventReconciled, nil)
	return nil
}

func (s *GearboxService) publish(t EventType, payload any) {
	if s.eventBus != nil {
		s.eventBus.Publish(Event{Type: t, Payload: payload})
	}
}

// validateChanges checks the envelope of each change. Path shapes are
// checked later by the engine.
func (s *GearboxService) validateChanges(changes []datastore.Change) error {
	if len(changes) == 0 {
		return errors.Invalidf("commit carries no changes")
	}
	for i, c := range changes {
		if c.Path == "" {
			return errors.Invalidf("change %d: path is required", i)
		}
		if !c.Kind.Valid() {
			return errors.Invalidf("change %d: unknown kind %q", i, c.Kind)
		}
		if c.Kind != datastore.Deleted && c.Value == "" && isLeafChange(c.Path) {
			return errors.Invalidf("change %d: %s needs a value", i, c.Path)
		}
	}
	return nil
}

// isLeafChange reports whether a path ends on a leaf rather than a keyed
// list entry
func isLeafChange(path string) bool {
	n := len(path)
	return n > 0 && path[n-1] != ']'
}
