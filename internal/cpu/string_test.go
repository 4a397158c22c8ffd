package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runMovs drives execMovs once with RCX/RSI/RDI/DF preset, returning the
// final register snapshot and the destination bytes written.
func runMovs(t *testing.T, df bool, count uint64) (rsi, rdi, rcx uint64, dst []byte) {
	t.Helper()
	e := newTestEmulator(0x2000)
	const src, dest = 0x100, 0x800
	payload := make([]byte, count)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	require.NoError(t, e.LoadMemory(src, payload))

	first := uint64(0)
	if df {
		first = count - 1 // a backward copy starts at the last element
	}
	e.Regs.WriteGP(RSI, Width32, false, src+first)
	e.Regs.WriteGP(RDI, Width32, false, dest+first)
	e.Regs.WriteGP(RCX, Width32, false, count)
	e.Flg.SetDF(df)
	e.Ctx.ov.repPrefix = 0xF3

	ins := &Instruction{OperandWidth: Width8, AddressWidth: Width32}
	status, err := execMovs(e, ins)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	out := make([]byte, count)
	for i := uint64(0); i < count; i++ {
		v, rerr := e.MMU.Read8(dest + i)
		require.NoError(t, rerr)
		out[i] = byte(v)
	}
	return e.Regs.ReadGP(RSI, Width32, false), e.Regs.ReadGP(RDI, Width32, false), e.Regs.ReadGP(RCX, Width32, false), out
}

func TestMovsBulkPathMatchesForwardCopy(t *testing.T) {
	rsi, rdi, rcx, dst := runMovs(t, false, 64)
	assert.Equal(t, uint64(0x100+64), rsi)
	assert.Equal(t, uint64(0x800+64), rdi)
	assert.Equal(t, uint64(0), rcx)
	for i, b := range dst {
		assert.Equal(t, byte(i+1), b)
	}
}

func TestMovsBackwardPathStepsPerIteration(t *testing.T) {
	rsi, rdi, rcx, dst := runMovs(t, true, 8)
	assert.Equal(t, uint64(0x100-1), rsi)
	assert.Equal(t, uint64(0x800-1), rdi)
	assert.Equal(t, uint64(0), rcx)
	for i, b := range dst {
		assert.Equal(t, byte(i+1), b)
	}
}

func TestStosFillsAccumulatorAcrossRun(t *testing.T) {
	e := newTestEmulator(0x2000)
	const dest = 0x400
	e.Regs.WriteGP(RAX, Width8, false, 0x7a)
	e.Regs.WriteGP(RDI, Width32, false, dest)
	e.Regs.WriteGP(RCX, Width32, false, 4)
	e.Ctx.ov.repPrefix = 0xF3

	ins := &Instruction{OperandWidth: Width8, AddressWidth: Width32}
	_, err := execStos(e, ins)
	require.NoError(t, err)

	for i := uint64(0); i < 4; i++ {
		v, rerr := e.MMU.Read8(dest + i)
		require.NoError(t, rerr)
		assert.Equal(t, uint64(0x7a), v)
	}
	assert.Equal(t, uint64(dest+4), e.Regs.ReadGP(RDI, Width32, false))
}

func TestScasStopsOnRepeConditionMismatch(t *testing.T) {
	e := newTestEmulator(0x2000)
	const dest = 0x400
	require.NoError(t, e.LoadMemory(dest, []byte{5, 5, 9, 5}))
	e.Regs.WriteGP(RAX, Width8, false, 5)
	e.Regs.WriteGP(RDI, Width32, false, dest)
	e.Regs.WriteGP(RCX, Width32, false, 4)
	e.Ctx.ov.repPrefix = 0xF3 // REPE

	ins := &Instruction{OperandWidth: Width8, AddressWidth: Width32}
	_, err := execScas(e, ins)
	require.NoError(t, err)

	assert.Equal(t, uint64(dest+3), e.Regs.ReadGP(RDI, Width32, false), "must stop right after the mismatching byte")
	assert.Equal(t, uint64(1), e.Regs.ReadGP(RCX, Width32, false))
}

func TestCmpsEqualRunsSetsZF(t *testing.T) {
	e := newTestEmulator(0x2000)
	const a, b = 0x100, 0x200
	require.NoError(t, e.LoadMemory(a, []byte{1, 2, 3}))
	require.NoError(t, e.LoadMemory(b, []byte{1, 2, 3}))
	e.Regs.WriteGP(RSI, Width32, false, a)
	e.Regs.WriteGP(RDI, Width32, false, b)
	e.Regs.WriteGP(RCX, Width32, false, 3)
	e.Ctx.ov.repPrefix = 0xF3

	ins := &Instruction{OperandWidth: Width8, AddressWidth: Width32}
	_, err := execCmps(e, ins)
	require.NoError(t, err)
	assert.True(t, e.Flg.ZF())
	assert.Equal(t, uint64(0), e.Regs.ReadGP(RCX, Width32, false))
}
