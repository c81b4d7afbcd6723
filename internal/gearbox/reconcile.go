package gearbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
)

// Reconcile brings every discovered module in line with the running
// configuration. It caches all sub-interface handles first, then
// initializes the modules concurrently. The first module to fail cancels
// the others and its error is returned.
func (s *Server) Reconcile(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	}()

	modules, err := s.ifs.ListModules(ctx)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Reconcile", "list modules")
	}
	for _, loc := range modules {
		if _, err := s.ifs.Populate(ctx, loc); err != nil {
			return errors.WrapFatal(err, "gearbox", "Reconcile", "populate "+loc)
		}
	}

	running, err := s.store.Running(ctx, Root)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "Reconcile", "read running configuration")
	}

	s.logger.Info("Reconciling modules", "modules", len(modules))
	g, gctx := errgroup.WithContext(ctx)
	for _, loc := range modules {
		loc := loc
		g.Go(func() error {
			return s.initModule(gctx, loc, running)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.logger.Info("Reconciliation complete", "modules", len(modules), "duration", time.Since(start))
	return nil
}

// initModule applies the persisted mapping and admin status of one module
// and waits for it to become ready when it is administratively up
func (s *Server) initModule(ctx context.Context, location string, running datastore.Tree) error {
	if err := s.setTributaryMapping(ctx, location, running); err != nil {
		if !errors.IsResolution(err) {
			return err
		}
		s.metrics.MappingFailures.WithLabelValues(location).Inc()
		s.logger.Error("Skipping tributary mapping", "module", location, "error", err)
	}

	m, err := s.platform.GetModule(ctx, location)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "initModule", "get module "+location)
	}

	admin := running.Get(ModulePath(location)+"/config/admin-status", "UP")
	if err := m.Set(ctx, hardware.AttrAdminStatus, strings.ToLower(admin)); err != nil {
		return errors.WrapFatal(err, "gearbox", "initModule", "set "+hardware.AttrAdminStatus+" of "+location)
	}
	s.metrics.HardwareWrites.WithLabelValues(hardware.AttrAdminStatus).Inc()

	if admin != "UP" {
		return nil
	}
	return s.waitReady(ctx, m)
}

// waitReady polls oper-status until the module reports ready or unknown.
// An unknown module is malfunctioning: it is excluded from further
// processing and reconciliation carries on without it.
func (s *Server) waitReady(ctx context.Context, m hardware.Module) error {
	location := m.Location()
	var deadline <-chan time.Time
	if s.opts.ReadyTimeout > 0 {
		deadline = s.after(s.opts.ReadyTimeout)
	}

	for {
		v, err := m.Get(ctx, hardware.AttrOperStatus)
		if err != nil {
			return errors.WrapFatal(err, "gearbox", "waitReady", "read oper-status of "+location)
		}
		s.metrics.ReadinessPolls.WithLabelValues(location).Inc()
		s.logger.Debug("Polled oper-status", "module", location, "oper_status", v)

		switch v {
		case hardware.OperStatusReady:
			s.notify(EventModuleReady, location)
			return nil
		case hardware.OperStatusUnknown:
			s.logger.Warn("Module malfunctioning, ignoring it", "module", location)
			s.ifs.Ignore(location)
			s.metrics.ModulesIgnored.Inc()
			s.notify(EventModuleIgnored, location)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.WrapFatal(
				fmt.Errorf("module %s after %s: %w", location, s.opts.ReadyTimeout, errors.ErrReadyTimeout),
				"gearbox", "waitReady", "wait for oper-status ready")
		case <-s.after(s.opts.PollInterval):
		}
	}
}
