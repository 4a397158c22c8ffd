package cpu

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIDTGateProtected writes an 8-byte protected-mode interrupt/trap gate
// for vector at the emulator's configured IDTRBase, matching loadGate's
// byte layout.
func writeIDTGateProtected(t *testing.T, e *Emulator, vector uint8, selector uint16, offset uint32, dpl int, isInterrupt bool) {
	t.Helper()
	addr := e.Regs.IDTRBase + uint64(vector)*8

	typ := uint32(0xe) // interrupt gate
	if !isInterrupt {
		typ = 0xf // trap gate
	}
	access := uint32(0x80) | uint32(dpl)<<5 | typ

	lo := uint32(selector) | (offset&0xffff)<<16
	hi := (access << 8) | (offset&0xffff0000)

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], lo)
	binary.LittleEndian.PutUint32(buf[4:8], hi)
	require.NoError(t, e.MMU.Bus.WriteBytes(addr, buf[:]))
}

// writeGDTCodeDescriptor writes an 8-byte flat code-segment descriptor for
// selector with the given DPL, matching loadDescriptor's byte layout.
func writeGDTCodeDescriptor(t *testing.T, e *Emulator, selector uint16, dpl int, defSize32 bool) {
	t.Helper()
	index := uint64(selector >> 3)
	addr := e.Regs.GDTRBase + index*8

	limit := uint32(0xfffff)
	lo := (limit & 0xffff)
	access := uint32(0x80) | uint32(dpl)<<5 | 0x1a // present, DPL, code, executable, readable
	flags := uint32(0x0)
	if defSize32 {
		flags = 0xc // G=1, D/B=1
	}
	hi := (access << 8) | (limit>>16)<<16 | flags<<20

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], lo)
	binary.LittleEndian.PutUint32(buf[4:8], hi)
	require.NoError(t, e.MMU.Bus.WriteBytes(addr, buf[:]))
}

// TestIntIretRoundTripRestoresCallerState pins spec.md §8 scenario P6: INT n
// from CPL 3 into a CPL 0 handler, then IRET back. The caller's flags
// (including IF) must come back exactly as they were, and CPL/CS/RIP/RSP
// must unwind to the pre-INT values.
func TestIntIretRoundTripRestoresCallerState(t *testing.T) {
	e := newTestEmulator(0x10000)
	e.Ctx.Mode = ModeProtected
	e.Ctx.DefaultOperandSize = 32
	e.Ctx.DefaultAddressSize = 32
	e.Regs.GDTRBase = 0x1000
	e.Regs.IDTRBase = 0x2000

	const callerCS = 0x1b  // RPL 3
	const handlerCS = 0x08 // DPL 0
	const vector = 0x80

	writeGDTCodeDescriptor(t, e, callerCS, 3, true)
	writeGDTCodeDescriptor(t, e, handlerCS, 0, true)
	writeIDTGateProtected(t, e, vector, handlerCS, 0x5000, 3, true)

	e.Ctx.TSSRSP[0] = 0x900

	e.Ctx.CPL = 3
	e.Regs.WriteSeg(SegCS, callerCS)
	e.Regs.WriteSeg(SegSS, 0x23)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Regs.RIP = 0x100
	e.Flg.SetIF(true)

	_, err := execInt(e, &Instruction{Imm: vector})
	require.NoError(t, err)

	require.Equal(t, 0, e.Ctx.CPL, "handler must run at the gate target's DPL")
	assert.Equal(t, uint64(0x5000), e.Regs.RIP)
	assert.Equal(t, uint64(handlerCS), uint64(e.Regs.ReadSeg(SegCS)))
	assert.False(t, e.Flg.IF(), "an interrupt gate must clear IF on entry")

	_, err = execIret(e, &Instruction{})
	require.NoError(t, err)

	assert.Equal(t, 3, e.Ctx.CPL, "IRET must restore the caller's CPL")
	assert.Equal(t, uint64(0x100), e.Regs.RIP)
	assert.Equal(t, uint64(callerCS), uint64(e.Regs.ReadSeg(SegCS)))
	assert.Equal(t, uint64(0x800), e.Regs.ReadGP(RSP, Width64, false))
	assert.True(t, e.Flg.IF(), "IRET must restore the caller's pre-INT IF, not the handler's")
}

// TestMaskPrivilegedFlagsOnlyMasksWhenExecutingCPLExceedsIOPL pins the gate
// rule directly: masking keys off the CPL IRET executes at (oldCPL), not
// the CPL it's returning to.
func TestMaskPrivilegedFlagsOnlyMasksWhenExecutingCPLExceedsIOPL(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Ctx.IOPL = 0
	e.Flg.SetIF(false) // the handler's current IF, distinct from the popped value

	poppedFlags := uint64(0)
	poppedFlags = setFlagBit(poppedFlags, flagIF)

	// Executing (old) CPL 0 <= IOPL 0: flags pass through untouched.
	got := e.maskPrivilegedFlags(poppedFlags, 0)
	assert.Equal(t, poppedFlags, got, "CPL0 caller must not have its popped flags masked")

	// Executing (old) CPL 3 > IOPL 0: IF is forced to the handler's current IF.
	got = e.maskPrivilegedFlags(poppedFlags, 3)
	assert.NotEqual(t, poppedFlags, got, "CPL3 caller with IOPL 0 must have IF masked")
}

func setFlagBit(flags uint64, bit int) uint64 {
	return flags | (1 << uint(bit))
}
