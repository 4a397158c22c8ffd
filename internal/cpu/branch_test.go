package cpu

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvalCondCoversStandardConditions(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Flg.SetZF(true)
	assert.True(t, e.evalCond(condZ))
	assert.False(t, e.evalCond(condNZ))

	e.Flg.SetSF(true)
	e.Flg.SetOF(false)
	assert.True(t, e.evalCond(condL)) // SF != OF
	assert.False(t, e.evalCond(condGE))
}

func TestExecJccTakenAndNotTaken(t *testing.T) {
	e := newTestEmulator(0x1000)
	ins := &Instruction{Opcode1: 0x74, NextIP: 0x110, BranchDisp: 0x10} // JZ
	e.Flg.SetZF(true)
	_, err := execJcc(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x120), e.Regs.RIP)

	e.Regs.RIP = 0
	e.Flg.SetZF(false)
	_, err = execJcc(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), e.Regs.RIP, "condition false must leave RIP untouched")
}

func TestCallRetRoundTrip(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Ctx.DefaultOperandSize = 32

	ins := &Instruction{NextIP: 0x105, BranchDisp: 0x20}
	_, err := execCallNear(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x125), e.Regs.RIP)

	_, err = execRet(e, &Instruction{})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x105), e.Regs.RIP)
	assert.Equal(t, uint64(0x800), e.Regs.ReadGP(RSP, Width64, false))
}

func TestRetImmAdjustsStackPointer(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Ctx.DefaultOperandSize = 32
	require.NoError(t, e.pushValue(32, 0x999))

	_, err := execRetImm(e, &Instruction{Imm: 8})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x999), e.Regs.RIP)
	assert.Equal(t, uint64(0x800+8), e.Regs.ReadGP(RSP, Width64, false))
}

// writeGDTDescriptor writes an 8-byte flat code-segment descriptor for
// selector into the GDT at the emulator's configured GDTRBase.
func writeGDTDescriptor(t *testing.T, e *Emulator, selector uint16, base uint32, defSize32 bool) {
	t.Helper()
	index := uint64(selector >> 3)
	addr := e.Regs.GDTRBase + index*8

	limit := uint32(0xfffff)
	var lo, hi uint32
	lo = (limit & 0xffff) | (base&0xffff)<<16
	access := uint32(0x9a) // present, DPL0, code, executable, readable
	flags := uint32(0x0)
	if defSize32 {
		flags = 0xc // G=1, D/B=1
	}
	hi = ((base >> 16) & 0xff) | (access << 8) | (limit>>16)<<16 | flags<<20 | ((base >> 24) & 0xff) << 24

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], lo)
	binary.LittleEndian.PutUint32(buf[4:8], hi)
	require.NoError(t, e.MMU.Bus.WriteBytes(addr, buf[:]))
}

func TestExecJmpFarLoadsDescriptorInProtectedMode(t *testing.T) {
	e := newTestEmulator(0x4000)
	e.Ctx.Mode = ModeProtected
	e.Regs.GDTRBase = 0x1000
	const selector = 0x08
	writeGDTDescriptor(t, e, selector, 0, true)

	ins := &Instruction{HasImm: true, Imm: (uint64(selector) << 32) | 0x2000}
	_, err := execJmpFar(e, ins)
	require.NoError(t, err)

	assert.Equal(t, uint64(selector), uint64(e.Regs.ReadSeg(SegCS)))
	assert.Equal(t, uint64(0x2000), e.Regs.RIP)
	assert.True(t, e.Ctx.Seg[SegCS].Present)
	assert.Equal(t, 32, e.Ctx.Seg[SegCS].DefaultSize)
	assert.Equal(t, uint32(0xFFFFFFFF), e.Ctx.Seg[SegCS].Limit, "G=1 must scale the 0xFFFFF limit field to 4KiB pages")
}
