package gearbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gearboxd/internal/datastore"
	"gearboxd/internal/hardware"
	"gearboxd/internal/hardware/sim"
	"gearboxd/internal/ifname"
)

const (
	oidLine1 = 0x110
	oidLine2 = 0x111
	oidEth1  = 0x120
	oidEth2  = 0x121
	oidLine3 = 0x210
	oidEth3  = 0x220
)

// testInventory has piu1 with two clock slots and piu2 with three
func testInventory() *sim.Inventory {
	return &sim.Inventory{Modules: []sim.ModuleSpec{
		{
			Location:   "piu1",
			OID:        0x100,
			ClockSlots: 2,
			NetIfs:     []sim.InterfaceSpec{{Name: "piu1/line1", OID: oidLine1}, {Name: "piu1/line2", OID: oidLine2}},
			HostIfs:    []sim.InterfaceSpec{{Name: "eth1", OID: oidEth1}, {Name: "eth2", OID: oidEth2}},
		},
		{
			Location:   "piu2",
			OID:        0x200,
			ClockSlots: 3,
			NetIfs:     []sim.InterfaceSpec{{Name: "piu2/line1", OID: oidLine3}},
			HostIfs:    []sim.InterfaceSpec{{Name: "eth3", OID: oidEth3}},
		},
	}}
}

type testEnv struct {
	platform *sim.Platform
	registry *ifname.Registry
	store    *datastore.Datastore
	srv      *Server

	mu     sync.Mutex
	events []Event
}

type envOption func(*sim.Inventory, *Options, datastore.Tree)

func withRunning(path, value string) envOption {
	return func(_ *sim.Inventory, _ *Options, t datastore.Tree) { t[path] = value }
}

func withOperStatus(location string, seq ...string) envOption {
	return func(inv *sim.Inventory, _ *Options, _ datastore.Tree) {
		for i := range inv.Modules {
			if inv.Modules[i].Location == location {
				inv.Modules[i].OperStatus = seq
			}
		}
	}
}

func withReadyTimeout(d time.Duration) envOption {
	return func(_ *sim.Inventory, o *Options, _ datastore.Tree) { o.ReadyTimeout = d }
}

// newTestEnv wires a datastore, interface registry and engine over the
// simulated platform. Module handles are cached up front.
func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	inv := testInventory()
	o := Options{PollInterval: time.Millisecond}
	initial := datastore.Tree{}
	for _, opt := range opts {
		opt(inv, &o, initial)
	}

	platform, err := sim.New(inv)
	require.NoError(t, err)

	env := &testEnv{platform: platform}
	o.Notify = func(e Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, e)
	}

	env.registry = ifname.New(platform, hardware.NewHandleCache(), nil)
	ctx := context.Background()
	for _, loc := range []string{"piu1", "piu2"} {
		_, err := env.registry.Populate(ctx, loc)
		require.NoError(t, err)
	}

	env.store, err = datastore.Open(ctx, datastore.NewMemoryBackend(initial), nil)
	require.NoError(t, err)
	env.srv = NewServer(nil, platform, env.registry, env.store, o, nil)
	env.store.Subscribe(env.srv)
	return env
}

func (e *testEnv) module(t *testing.T, location string) *sim.Module {
	t.Helper()
	m, err := e.platform.Module(location)
	require.NoError(t, err)
	return m
}

func (e *testEnv) commit(changes ...datastore.Change) error {
	return e.store.Commit(context.Background(), changes)
}

func (e *testEnv) eventTypes() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	types := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		types = append(types, ev.Type)
	}
	return types
}

func set(path, value string) datastore.Change {
	return datastore.Change{Path: path, Kind: datastore.Created, Value: value}
}

func del(path string) datastore.Change {
	return datastore.Change{Path: path, Kind: datastore.Deleted}
}

func clockPath(location string, slot string) string {
	return ModulePath(location) + "/synce-reference-clocks/synce-reference-clock[name='" + slot + "']"
}

func connectionPath(location, client, line string) string {
	return ModulePath(location) + "/connections/connection[client-interface='" + client + "'][line-interface='" + line + "']"
}

// connect returns the changes that create one connection entry
func connect(location, client, line string) []datastore.Change {
	entry := connectionPath(location, client, line)
	return []datastore.Change{
		{Path: entry, Kind: datastore.Created},
		set(entry+"/client-interface", client),
		set(entry+"/line-interface", line),
		set(entry+"/config/client-interface", client),
		set(entry+"/config/line-interface", line),
	}
}
