package gearbox

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearboxd/internal/errors"
	"gearboxd/internal/hardware"
	"gearboxd/internal/ifname"
)

func TestQueryAllModules(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.commit(set(ModulePath("piu1")+"/config/admin-status", "UP")))

	doc, err := env.srv.Query(context.Background(), Root)
	require.NoError(t, err)
	require.Len(t, doc.Gearboxes.Gearbox, 2)

	piu1, piu2 := doc.Gearboxes.Gearbox[0], doc.Gearboxes.Gearbox[1]
	assert.Equal(t, "piu1", piu1.Name)
	assert.Equal(t, "piu1", piu1.Config.Name)
	assert.Equal(t, &GearboxState{AdminStatus: "UP", OperStatus: "UP"}, piu1.State)
	assert.Equal(t, "DOWN", piu2.State.AdminStatus)
	assert.Len(t, piu2.Clocks.Clock, 3)
	assert.Empty(t, piu2.Connections.Connection)
}

func TestQueryShallowReadsNoHardware(t *testing.T) {
	env := newTestEnv(t)
	piu1 := env.module(t, "piu1")
	piu1.FailGet(hardware.AttrAdminStatus, fmt.Errorf("must not be read"))

	doc, err := env.srv.Query(context.Background(), ModulePath("piu1")+"/name")
	require.NoError(t, err)
	require.Len(t, doc.Gearboxes.Gearbox, 1)
	gb := doc.Gearboxes.Gearbox[0]
	assert.Equal(t, "piu1", gb.Name)
	assert.Nil(t, gb.State)
	assert.Nil(t, gb.Connections)
	assert.Zero(t, piu1.OperReads())

	// a deep query reads hardware and surfaces the failure
	_, err = env.srv.Query(context.Background(), ModulePath("piu1"))
	require.Error(t, err)
}

func TestQueryDropsUnknownHandles(t *testing.T) {
	env := newTestEnv(t)
	piu1 := env.module(t, "piu1")

	mapping := fmt.Sprintf(`[{"oid:0x%08x":["oid:0x%08x"]},{"oid:0x00000999":["oid:0x%08x"]},{"oid:0x%08x":["oid:0x%08x"]}]`,
		oidLine1, oidEth1, oidEth2, oidLine2, oidEth3)
	require.NoError(t, piu1.Set(context.Background(), hardware.AttrTributaryMapping, mapping))
	require.NoError(t, piu1.Set(context.Background(), hardware.AttrRefClockAssign, "oid:0x00000777,oid:0x0"))

	doc, err := env.srv.Query(context.Background(), ModulePath("piu1"))
	require.NoError(t, err)
	gb := doc.Gearboxes.Gearbox[0]

	// the unknown line and the client on another module are dropped
	assert.Equal(t, []Connection{{ClientInterface: "eth1", LineInterface: "piu1/line1"}}, gb.Connections.Connection)
	require.Len(t, gb.Clocks.Clock, 2)
	assert.Empty(t, gb.Clocks.Clock[0].State.ReferenceInterface)
}

func TestQueryReferenceInterfaceOfAnotherModule(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.commit(set(clockPath("piu2", "0")+"/config/reference-interface", "eth1")))
	assert.Equal(t, fmt.Sprintf("oid:0x%08x,oid:0x0,oid:0x0", oidEth1), env.module(t, "piu2").Attr(hardware.AttrRefClockAssign))

	doc, err := env.srv.Query(context.Background(), ModulePath("piu2"))
	require.NoError(t, err)
	clocks := doc.Gearboxes.Gearbox[0].Clocks.Clock
	require.Len(t, clocks, 3)
	assert.Equal(t, "eth1", clocks[0].State.ReferenceInterface)
	assert.Empty(t, clocks[1].State.ReferenceInterface)

	// tributary mapping entries stay scoped to their own module
	mapping := fmt.Sprintf(`[{"oid:0x%08x":["oid:0x%08x"]}]`, oidLine3, oidEth1)
	require.NoError(t, env.module(t, "piu2").Set(context.Background(), hardware.AttrTributaryMapping, mapping))
	doc, err = env.srv.Query(context.Background(), ModulePath("piu2"))
	require.NoError(t, err)
	assert.Empty(t, doc.Gearboxes.Gearbox[0].Connections.Connection)
}

func TestQueryComponentConnection(t *testing.T) {
	env := newTestEnv(t)
	env.registry.SetReferenceClock(ifname.ClockKey{Module: "piu1", Clock: "1"},
		ifname.ComponentConnection{InputReference: "ref-1", DPLL: "dpll-0"})

	doc, err := env.srv.Query(context.Background(), ModulePath("piu1"))
	require.NoError(t, err)
	clocks := doc.Gearboxes.Gearbox[0].Clocks.Clock
	require.Len(t, clocks, 2)
	assert.Nil(t, clocks[0].State.ComponentConnection)
	require.NotNil(t, clocks[1].State.ComponentConnection)
	assert.Equal(t, "ref-1", clocks[1].State.ComponentConnection.InputReference)
	assert.Equal(t, "dpll-0", clocks[1].State.ComponentConnection.DPLL)
}

func TestQueryDocumentShape(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.commit(set(clockPath("piu1", "0")+"/config/reference-interface", "eth1")))

	doc, err := env.srv.Query(context.Background(), ModulePath("piu1"))
	require.NoError(t, err)
	data, err := json.Marshal(doc)
	require.NoError(t, err)

	want := `{"gearbox:gearboxes":{"gearbox":[{
		"name":"piu1",
		"config":{"name":"piu1"},
		"state":{"admin-status":"DOWN","oper-status":"UP","enable-flexible-connection":false},
		"connections":{"connection":[]},
		"synce-reference-clocks":{"synce-reference-clock":[
			{"name":"0","config":{"name":"0"},"state":{"name":"0","reference-interface":"eth1"}},
			{"name":"1","config":{"name":"1"},"state":{"name":"1"}}
		]}
	}]}}`
	assert.JSONEq(t, want, string(data))
}

func TestQueryRejectsBadPaths(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.srv.Query(context.Background(), ModulePath("piu9"))
	assert.ErrorIs(t, err, errors.ErrNotFound)

	_, err = env.srv.Query(context.Background(), "/gearbox:gearboxes/gearbox[id='piu1']")
	assert.True(t, errors.IsInvalid(err))

	_, err = env.srv.Query(context.Background(), "/interfaces:interfaces")
	assert.ErrorIs(t, err, errors.ErrUnsupportedPath)

	_, err = env.srv.Query(context.Background(), "gearboxes")
	assert.True(t, errors.IsInvalid(err))
}
