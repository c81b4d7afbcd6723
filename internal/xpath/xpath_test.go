package xpath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gearboxd/internal/errors"
)

func TestParse(t *testing.T) {
	p, err := Parse("/gearbox:gearboxes/gearbox[name='piu1']/synce-reference-clocks/synce-reference-clock[name='0']/config/reference-interface")
	require.NoError(t, err)
	require.Len(t, p, 6)

	assert.Equal(t, "gearbox", p[0].Prefix)
	assert.Equal(t, "gearboxes", p[0].Name)
	name, ok := p[1].Key("name")
	assert.True(t, ok)
	assert.Equal(t, "piu1", name)
	clock, _ := p[3].Key("name")
	assert.Equal(t, "0", clock)
	assert.Equal(t, []string{"gearboxes", "gearbox", "synce-reference-clocks", "synce-reference-clock", "config", "reference-interface"}, p.Names())
}

func TestParseMultipleKeysAndSlashInValue(t *testing.T) {
	p, err := Parse(`/gearbox:gearboxes/gearbox[name='1/0']/connections/connection[client-interface='Ethernet1/1'][line-interface="Line1/1"]/config`)
	require.NoError(t, err)
	require.Len(t, p, 5)

	loc, _ := p[1].Key("name")
	assert.Equal(t, "1/0", loc)
	c, _ := p[3].Key("client-interface")
	l, _ := p[3].Key("line-interface")
	assert.Equal(t, "Ethernet1/1", c)
	assert.Equal(t, "Line1/1", l)
}

func TestParseErrors(t *testing.T) {
	tests := []string{
		"gearboxes/gearbox",
		"/gearboxes/gearbox[name='x'",
		"/gearboxes/gearbox[name=x]",
		"/gearboxes//gearbox",
		"/gearboxes/gearbox[name='x']junk",
	}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrMalformedPath))
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	for _, s := range []string{
		"/gearbox:gearboxes",
		"/gearbox:gearboxes/gearbox[name='piu1']/config/admin-status",
		"/gearbox:gearboxes/gearbox[name='piu1']/connections/connection[client-interface='eth1'][line-interface='line1']/config/line-interface",
	} {
		p, err := Parse(s)
		require.NoError(t, err)
		assert.Equal(t, s, p.String())
	}
}

func TestHasPrefix(t *testing.T) {
	p := MustParse("/gearbox:gearboxes/gearbox[name='piu1']/config/admin-status")

	assert.True(t, p.HasPrefix(MustParse("/gearbox:gearboxes/gearbox")))
	assert.True(t, p.HasPrefix(MustParse("/gearbox:gearboxes/gearbox[name='piu1']")))
	assert.False(t, p.HasPrefix(MustParse("/gearbox:gearboxes/gearbox[name='piu2']")))
	assert.False(t, p.HasPrefix(MustParse("/gearbox:gearboxes/gearbox[name='piu1']/config/admin-status/x")))
}
