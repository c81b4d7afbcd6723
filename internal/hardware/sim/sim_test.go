package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
)

const inventoryYAML = `
modules:
  - location: piu1
    oid: 0x100
    clock_slots: 2
    oper_status: [initialize, ready]
    netifs:
      - {name: piu1/line1, oid: 0x110}
    hostifs:
      - {name: eth1, oid: 0x120}
      - {name: eth2, oid: 0x121}
  - location: piu2
    oid: 0x200
`

func loadTestPlatform(t *testing.T) *Platform {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inventory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(inventoryYAML), 0644))
	inv, err := LoadInventory(path)
	require.NoError(t, err)
	p, err := New(inv)
	require.NoError(t, err)
	return p
}

func TestLoadInventory(t *testing.T) {
	p := loadTestPlatform(t)
	ctx := context.Background()

	locs, err := p.ListModules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"piu1", "piu2"}, locs)

	m, err := p.GetModule(ctx, "piu1")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100), m.OID())
	require.Len(t, m.NetIfs(), 1)
	require.Len(t, m.HostIfs(), 2)
	assert.Equal(t, uint64(0x121), m.HostIfs()[1].OID())
	assert.Equal(t, "eth2", m.HostIfs()[1].(*Interface).Name())

	_, err = p.GetModule(ctx, "piu9")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestNewRejectsBadInventory(t *testing.T) {
	tests := []struct {
		name string
		inv  Inventory
	}{
		{"missing location", Inventory{Modules: []ModuleSpec{{OID: 1}}}},
		{"zero handle", Inventory{Modules: []ModuleSpec{{Location: "piu1"}}}},
		{"duplicate module", Inventory{Modules: []ModuleSpec{
			{Location: "piu1", OID: 1},
			{Location: "piu1", OID: 2},
		}}},
		{"duplicate handle", Inventory{Modules: []ModuleSpec{
			{Location: "piu1", OID: 1, NetIfs: []InterfaceSpec{{Name: "l1", OID: 5}}},
			{Location: "piu2", OID: 2, HostIfs: []InterfaceSpec{{Name: "c1", OID: 5}}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(&tt.inv)
			assert.Error(t, err)
		})
	}
}

func TestModuleAttributes(t *testing.T) {
	p := loadTestPlatform(t)
	ctx := context.Background()
	m, err := p.Module("piu1")
	require.NoError(t, err)

	v, err := m.Get(ctx, hardware.AttrRefClockAssign)
	require.NoError(t, err)
	assert.Equal(t, "oid:0x0,oid:0x0", v)
	assert.Equal(t, "down", m.Attr(hardware.AttrAdminStatus))
	assert.Equal(t, "[]", m.Attr(hardware.AttrTributaryMapping))

	tests := []struct {
		name  string
		attr  string
		value string
		ok    bool
	}{
		{"admin up", hardware.AttrAdminStatus, "up", true},
		{"admin bogus", hardware.AttrAdminStatus, "UP", false},
		{"mapping", hardware.AttrTributaryMapping, `[{"oid:0x00000110":["oid:0x00000120"]}]`, true},
		{"mapping not an array", hardware.AttrTributaryMapping, `{"a":1}`, false},
		{"assignment", hardware.AttrRefClockAssign, "oid:0x00000120,oid:0x0", true},
		{"assignment wrong length", hardware.AttrRefClockAssign, "oid:0x0", false},
		{"oper-status read-only", hardware.AttrOperStatus, "ready", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.Set(ctx, tt.attr, tt.value)
			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, tt.value, m.Attr(tt.attr))
			} else {
				assert.ErrorIs(t, err, errors.ErrInvalidValue)
			}
		})
	}
}

func TestOperStatusSequence(t *testing.T) {
	p := loadTestPlatform(t)
	ctx := context.Background()
	m, err := p.Module("piu1")
	require.NoError(t, err)

	for _, want := range []string{"initialize", "ready", "ready"} {
		v, err := m.Get(ctx, hardware.AttrOperStatus)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}
	assert.Equal(t, 3, m.OperReads())

	m.SetOperStatus(hardware.OperStatusUnknown)
	v, err := m.Get(ctx, hardware.AttrOperStatus)
	require.NoError(t, err)
	assert.Equal(t, hardware.OperStatusUnknown, v)
	assert.Equal(t, 1, m.OperReads())

	// modules without a sequence are ready
	m2, err := p.Module("piu2")
	require.NoError(t, err)
	v, err = m2.Get(ctx, hardware.AttrOperStatus)
	require.NoError(t, err)
	assert.Equal(t, hardware.OperStatusReady, v)
}

func TestFailureInjection(t *testing.T) {
	p := loadTestPlatform(t)
	ctx := context.Background()
	m, err := p.Module("piu1")
	require.NoError(t, err)
	boom := errors.New("boom")

	m.FailSet(hardware.AttrAdminStatus, boom)
	assert.ErrorIs(t, m.Set(ctx, hardware.AttrAdminStatus, "up"), boom)
	assert.Zero(t, m.Writes(hardware.AttrAdminStatus))

	m.FailSet(hardware.AttrAdminStatus, nil)
	require.NoError(t, m.Set(ctx, hardware.AttrAdminStatus, "up"))
	assert.Equal(t, 1, m.Writes(hardware.AttrAdminStatus))

	m.FailGet(hardware.AttrOperStatus, boom)
	_, err = m.Get(ctx, hardware.AttrOperStatus)
	assert.ErrorIs(t, err, boom)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.Get(cancelled, hardware.AttrAdminStatus)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInsertAddsOnlyNewModules(t *testing.T) {
	p := loadTestPlatform(t)
	ctx := context.Background()

	piu1, err := p.Module("piu1")
	require.NoError(t, err)
	require.NoError(t, piu1.Set(ctx, hardware.AttrAdminStatus, "up"))

	added, err := p.Insert(&Inventory{Modules: []ModuleSpec{
		{Location: "piu1", OID: 0x100},
		{Location: "piu3", OID: 0x300, NetIfs: []InterfaceSpec{{Name: "piu3/line1", OID: 0x310}}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"piu3"}, added)

	locs, err := p.ListModules(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"piu1", "piu2", "piu3"}, locs)

	// the known module keeps its state
	piu1, err = p.Module("piu1")
	require.NoError(t, err)
	assert.Equal(t, "up", piu1.Attr(hardware.AttrAdminStatus))
}

func TestInsertRejectsReusedHandle(t *testing.T) {
	p := loadTestPlatform(t)

	_, err := p.Insert(&Inventory{Modules: []ModuleSpec{
		{Location: "piu3", OID: 0x300},
		{Location: "piu4", OID: 0x400, HostIfs: []InterfaceSpec{{Name: "eth9", OID: 0x120}}},
	}})
	require.Error(t, err)

	// nothing from a rejected inventory is added
	_, err = p.Module("piu3")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
