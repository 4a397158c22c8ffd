package mem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatReadWrite(t *testing.T) {
	m := NewMMU(NewBus(0x10000))

	require.NoError(t, m.Write32(0x100, 0xdeadbeef))
	v, err := m.Read32(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)

	// little-endian byte order
	raw, err := m.Bus.ReadBytes(0x100, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xef, 0xbe, 0xad, 0xde}, raw)
}

func TestA20Masking(t *testing.T) {
	m := NewMMU(NewBus(1 << 21))
	m.A20Enabled = false

	require.NoError(t, m.Write8(0x100|1<<20, 0x42)) // bit 20 set
	v, err := m.Read8(0x100)                        // bit 20 forced to 0, should alias
	require.NoError(t, err)
	assert.Equal(t, uint64(0x42), v)

	m.A20Enabled = true
	require.NoError(t, m.Write8(0x100, 0))
	require.NoError(t, m.Write8(0x100|1<<20, 0x55))
	v, err = m.Read8(0x100)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), v) // no longer aliased
}

func TestPaging2LevelRoundTrip(t *testing.T) {
	bus := NewBus(1 << 20)
	m := NewMMU(bus)

	const (
		pdBase = 0x1000
		ptBase = 0x2000
		phys   = 0x3000
		linear = 0x00401000 // dir=1, table=1, offset=0
	)
	m.PageTableRoot = pdBase

	var pde [4]byte
	pde[0] = byte(ptBase) | pePresent
	pde[1] = byte(ptBase >> 8)
	pde[2] = byte(ptBase >> 16)
	pde[3] = byte(ptBase >> 24)
	require.NoError(t, bus.WriteBytes(pdBase+1*4, pde[:]))

	var pte [4]byte
	pte[0] = byte(phys) | pePresent | peWrite
	pte[1] = byte(phys >> 8)
	pte[2] = byte(phys >> 16)
	pte[3] = byte(phys >> 24)
	require.NoError(t, bus.WriteBytes(ptBase+1*4, pte[:]))

	m.PagingEnabled = true
	require.NoError(t, m.Write32(linear, 0x11223344))

	v, err := m.Read32(linear)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11223344), v)

	raw, err := bus.ReadBytes(phys, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, raw)
}

func TestPageFaultOnNotPresent(t *testing.T) {
	m := NewMMU(NewBus(1 << 16))
	m.PagingEnabled = true
	m.PageTableRoot = 0

	_, err := m.Read32(0x1000)
	require.Error(t, err)
	var pf *PageFault
	assert.ErrorAs(t, err, &pf)
	assert.False(t, pf.Present)
}

func TestLoadMemoryBypassesPaging(t *testing.T) {
	m := NewMMU(NewBus(0x1000))
	m.PagingEnabled = true
	m.PageTableRoot = 0

	require.NoError(t, m.LoadMemory(0x10, []byte{1, 2, 3}))
	raw, err := m.Bus.ReadBytes(0x10, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)
}
