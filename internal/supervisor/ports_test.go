package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPortAllocator_ConfiguredPortConflict(t *testing.T) {
	p := newPortAllocator(4200)

	port, err := p.Allocate("a.local", 9999)
	require.NoError(t, err)
	assert.EqualValues(t, 9999, port)

	_, err = p.Allocate("b.local", 9999)
	assert.ErrorContains(t, err, "a.local")
}

func TestPortAllocator_ScansUpwardSkippingConfigured(t *testing.T) {
	p := newPortAllocator(4200)
	p.inUse[4200] = "taken.local"

	port, err := p.Allocate("scanner.local", 0)
	require.NoError(t, err)
	assert.Greater(t, port, uint16(4200))
}

func TestPortAllocator_ReleaseFreesEntry(t *testing.T) {
	p := newPortAllocator(4200)
	_, err := p.Allocate("a.local", 5000)
	require.NoError(t, err)

	p.Release("a.local")

	port, err := p.Allocate("b.local", 5000)
	require.NoError(t, err)
	assert.EqualValues(t, 5000, port)
}
