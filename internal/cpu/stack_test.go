package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopRoundTrip32(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Ctx.DefaultOperandSize = 32

	require.NoError(t, e.pushValue(32, 0xdeadbeef))
	assert.Equal(t, uint64(0x800-4), e.Regs.ReadGP(RSP, Width64, false))

	v, err := e.popValue(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xdeadbeef), v)
	assert.Equal(t, uint64(0x800), e.Regs.ReadGP(RSP, Width64, false))
}

func TestPushRSPPushesPreDecrementValue(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x1000)
	e.Ctx.DefaultOperandSize = 32

	ins := &Instruction{
		RM: EffectiveOperand{IsRegister: true, Reg: RSP},
	}
	ins.RegOperand = EffectiveOperand{Reg: RSP}
	status, err := execPush(e, ins)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)

	v, err := e.popValue(32)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), v, "PUSH RSP must push the value RSP held before decrementing")
}

func TestPopRSPLoadsRSPDirectly(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Ctx.DefaultOperandSize = 32
	require.NoError(t, e.pushValue(32, 0x2000))

	ins := &Instruction{
		RM:         EffectiveOperand{IsRegister: true, Reg: RSP},
		RegOperand: EffectiveOperand{Reg: RSP},
	}
	status, err := execPop(e, ins)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, status)
	assert.Equal(t, uint64(0x2000), e.Regs.ReadGP(RSP, Width64, false))
}

func TestPushaPopaRoundTrip(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x900)
	e.Ctx.DefaultOperandSize = 32
	for i, r := range []Reg{RAX, RCX, RDX, RBX, RBP, RSI, RDI} {
		e.Regs.WriteGP(r, Width32, false, uint64(0x10+i))
	}

	ins := &Instruction{OperandWidth: 32}
	_, err := execPusha(e, ins)
	require.NoError(t, err)

	// clobber the registers so popa has to actually restore them
	for _, r := range []Reg{RAX, RCX, RDX, RBX, RBP, RSI, RDI} {
		e.Regs.WriteGP(r, Width32, false, 0)
	}

	_, err = execPopa(e, ins)
	require.NoError(t, err)
	for i, r := range []Reg{RAX, RCX, RDX, RBX, RBP, RSI, RDI} {
		assert.Equal(t, uint64(0x10+i), e.Regs.ReadGP(r, Width32, false))
	}
	assert.Equal(t, uint64(0x900), e.Regs.ReadGP(RSP, Width64, false))
}

func TestPushfPopfRoundTrip(t *testing.T) {
	e := newTestEmulator(0x1000)
	e.Regs.WriteGP(RSP, Width64, false, 0x800)
	e.Ctx.DefaultOperandSize = 32
	e.Flg.SetCF(true)
	e.Flg.SetZF(true)
	want := e.Flg.Word()

	ins := &Instruction{}
	_, err := execPushf(e, ins)
	require.NoError(t, err)

	e.Flg.SetWord(0)
	_, err = execPopf(e, ins)
	require.NoError(t, err)
	assert.Equal(t, want, e.Flg.Word())
}
