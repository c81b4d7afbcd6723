// Package gearbox is the reconciliation engine for transponder gearbox
// modules. It turns configuration commits into hardware attribute writes,
// brings modules in line with the running configuration at startup and
// assembles operational state from live hardware reads.
package gearbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"gearboxd/internal/datastore"
	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
	"gearboxd/internal/ifname"
	"gearboxd/internal/metric"
	"gearboxd/internal/xpath"
)

// Root is the configuration path of the gearbox list container
const Root = "/" + SchemaModule + ":gearboxes"

// Interfaces is the interface layer the engine depends on
type Interfaces interface {
	ListModules(ctx context.Context) ([]string, error)
	Populate(ctx context.Context, location string) (hardware.Module, error)
	Ignore(location string)
	ObjectByName(name string) (hardware.Object, error)
	NameByOID(m hardware.Module, value string) (string, bool)
	InterfaceName(value string) (string, bool)
	DefaultMapping(m hardware.Module) (string, error)
	ReferenceClock(module, clock string) (ifname.ComponentConnection, bool)
}

// Event types published by the engine
const (
	EventModuleReady   = "module_ready"
	EventModuleIgnored = "module_ignored"
)

// Event is a notification about a module
type Event struct {
	Type    string
	Payload map[string]string
}

// Options tunes the engine
type Options struct {
	// PollInterval is the wait between oper-status reads during
	// reconciliation
	PollInterval time.Duration
	// ReadyTimeout bounds the wait for a module to become ready. Zero
	// waits forever.
	ReadyTimeout time.Duration

	Metrics *metric.Metrics
	Notify  func(Event)
}

// DefaultOptions returns the options used when none are configured
func DefaultOptions() Options {
	return Options{PollInterval: time.Second}
}

// Server applies gearbox configuration to hardware. It implements
// datastore.Subscriber.
type Server struct {
	dispatch *Dispatch
	platform hardware.Platform
	ifs      Interfaces
	store    datastore.Reader
	opts     Options
	metrics  *metric.Metrics
	logger   *slog.Logger

	// after is time.After, replaced in tests
	after func(time.Duration) <-chan time.Time
}

// NewServer creates a server. A nil dispatch uses NewDispatch().
func NewServer(d *Dispatch, platform hardware.Platform, ifs Interfaces, store datastore.Reader, opts Options, logger *slog.Logger) *Server {
	if d == nil {
		d = NewDispatch()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	m := opts.Metrics
	if m == nil {
		m = metric.New(nil)
	}
	return &Server{
		dispatch: d,
		platform: platform,
		ifs:      ifs,
		store:    store,
		opts:     opts,
		metrics:  m,
		logger:   logger.With("component", "gearbox"),
		after:    time.After,
	}
}

func (s *Server) notify(kind, location string) {
	if s.opts.Notify != nil {
		s.opts.Notify(Event{Type: kind, Payload: map[string]string{"module": location}})
	}
}

// Transaction is the validated state of one commit
type Transaction struct {
	cache    *TxCache
	running  datastore.Tree
	handlers []Handler
	applied  int
	posted   bool
}

// ID implements datastore.Transaction
func (t *Transaction) ID() string { return t.cache.ID() }

// Cache returns the transaction cache
func (t *Transaction) Cache() *TxCache { return t.cache }

// Validate builds a handler for every change, in change order, and runs
// Init and Validate on each. Nothing is written to hardware.
func (s *Server) Validate(ctx context.Context, changes []datastore.Change, running datastore.Tree) (datastore.Transaction, error) {
	tx := &Transaction{
		cache:    NewTxCache(),
		running:  running,
		handlers: make([]Handler, 0, len(changes)),
	}
	cfg := running.Clone()
	cfg.Apply(changes)
	tx.cache.Set(keyConfig, cfg)

	for _, c := range changes {
		p, err := xpath.Parse(c.Path)
		if err != nil {
			return nil, s.handlerError("parse", errors.WrapInvalid(err, "gearbox", "Validate", "parse "+c.Path))
		}
		factory, err := s.dispatch.Lookup(p)
		if err != nil {
			return nil, s.handlerError("dispatch", errors.WrapInvalid(err, "gearbox", "Validate", "dispatch "+c.Path))
		}
		h := factory(s, c, p)
		if err := h.Init(ctx, tx.cache); err != nil {
			return nil, s.handlerError("init", err)
		}
		if err := h.Validate(ctx, tx.cache); err != nil {
			return nil, s.handlerError("validate", err)
		}
		tx.handlers = append(tx.handlers, h)
	}

	s.logger.Debug("Transaction validated", "tx", tx.ID(), "changes", len(changes))
	return tx, nil
}

// Apply runs every handler's Apply in change order, then Post. A Post
// error made only of resolution failures is returned as is, and the
// datastore keeps the commit. Anything else aborts the transaction.
func (s *Server) Apply(ctx context.Context, t datastore.Transaction) error {
	tx, ok := t.(*Transaction)
	if !ok {
		return errors.WrapFatal(fmt.Errorf("unexpected transaction %T", t), "gearbox", "Apply", "apply transaction")
	}
	for i, h := range tx.handlers {
		tx.applied = i + 1
		if err := h.Apply(ctx, tx.cache); err != nil {
			return s.handlerError("apply", err)
		}
	}
	tx.posted = true
	if err := s.Post(ctx, tx.cache); err != nil {
		if errors.IsPartial(err) {
			// the failed modules keep their mapping; the rest of the
			// transaction stands
			s.logger.Warn("Transaction applied partially", "tx", tx.ID(), "handlers", len(tx.handlers), "error", err)
			return s.handlerError("post", err)
		}
		if errors.IsResolution(err) {
			err = errors.WrapFatal(err, "gearbox", "Apply", "post transaction")
		}
		return s.handlerError("post", err)
	}
	s.logger.Info("Transaction applied", "tx", tx.ID(), "handlers", len(tx.handlers))
	return nil
}

// Abort reverts applied handlers in reverse order. Recomputed mappings
// are restored from the running configuration the transaction started
// from.
func (s *Server) Abort(ctx context.Context, t datastore.Transaction) {
	tx, ok := t.(*Transaction)
	if !ok {
		return
	}
	for i := tx.applied - 1; i >= 0; i-- {
		if err := tx.handlers[i].Revert(ctx, tx.cache); err != nil {
			s.logger.Warn("Revert failed", "tx", tx.ID(), "error", err)
		}
	}
	if tx.posted {
		for _, loc := range tx.cache.mappingModules() {
			if err := s.setTributaryMapping(ctx, loc, tx.running); err != nil {
				s.logger.Warn("Restoring tributary mapping failed", "tx", tx.ID(), "module", loc, "error", err)
			}
		}
	}
	s.logger.Info("Transaction aborted", "tx", tx.ID(), "reverted", tx.applied)
}

func (s *Server) handlerError(phase string, err error) error {
	s.metrics.HandlerErrors.WithLabelValues(phase, errors.Classify(err).String()).Inc()
	return err
}

// Post recomputes the tributary mapping of every module a handler flagged.
// Each module is written once; a failure on one module does not stop the
// others and all failures are returned joined.
func (s *Server) Post(ctx context.Context, tx *TxCache) error {
	if !tx.Flag(keyUpdateMapping) {
		return nil
	}
	cfg := tx.Config()
	var errs []error
	for _, loc := range tx.mappingModules() {
		if err := s.setTributaryMapping(ctx, loc, cfg); err != nil {
			s.metrics.MappingFailures.WithLabelValues(loc).Inc()
			s.logger.Error("Failed to apply tributary mapping", "module", loc, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ModulePath returns the configuration path of a module's gearbox entry
func ModulePath(location string) string {
	return xpath.Path{
		{Prefix: SchemaModule, Name: "gearboxes"},
		{Name: "gearbox", Keys: []xpath.Key{{Name: "name", Value: location}}},
	}.String()
}

// setTributaryMapping writes the mapping cfg calls for to one module
func (s *Server) setTributaryMapping(ctx context.Context, location string, cfg datastore.Tree) error {
	m, err := s.platform.GetModule(ctx, location)
	if err != nil {
		return errors.WrapFatal(err, "gearbox", "setTributaryMapping", "get module "+location)
	}

	base := ModulePath(location)
	var mapping string
	if !cfg.Bool(base+"/config/enable-flexible-connection", false) {
		mapping, err = s.ifs.DefaultMapping(m)
		if err != nil {
			return errors.WrapResolution(err, "gearbox", "setTributaryMapping", "default mapping of "+location)
		}
		s.logger.Debug("Setting default mapping", "module", location, "mapping", mapping)
	} else {
		mapping, err = s.flexibleMapping(base, cfg)
		if err != nil {
			return errors.WrapResolution(err, "gearbox", "setTributaryMapping", "resolve connections of "+location)
		}
		s.logger.Debug("Setting mapping", "module", location, "mapping", mapping)
	}

	if err := m.Set(ctx, hardware.AttrTributaryMapping, mapping); err != nil {
		return errors.WrapFatal(err, "gearbox", "setTributaryMapping", "set "+hardware.AttrTributaryMapping)
	}
	s.metrics.HardwareWrites.WithLabelValues(hardware.AttrTributaryMapping).Inc()
	return nil
}

// flexibleMapping builds the mapping from configured connections. Entries
// are walked in path order, not commit order. Clients sharing a line are
// grouped under it, lines in order of first use in that walk.
func (s *Server) flexibleMapping(base string, cfg datastore.Tree) (string, error) {
	var lines []string
	clients := make(map[string][]string)
	for _, entry := range cfg.ListEntries(base + "/connections/connection") {
		p, err := xpath.Parse(entry)
		if err != nil {
			return "", err
		}
		keyLine, _ := p[len(p)-1].Key("line-interface")
		keyClient, _ := p[len(p)-1].Key("client-interface")
		lineName := cfg.Get(entry+"/config/line-interface", keyLine)
		clientName := cfg.Get(entry+"/config/client-interface", keyClient)

		line, err := s.ifs.ObjectByName(lineName)
		if err != nil {
			return "", err
		}
		client, err := s.ifs.ObjectByName(clientName)
		if err != nil {
			return "", err
		}
		l := hardware.FormatOID(line.OID())
		if _, seen := clients[l]; !seen {
			lines = append(lines, l)
		}
		clients[l] = append(clients[l], hardware.FormatOID(client.OID()))
	}

	mapping := make([]map[string][]string, 0, len(lines))
	for _, l := range lines {
		mapping = append(mapping, map[string][]string{l: clients[l]})
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
