package cpu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hejops/x86emu/internal/hostio"
)

type fakePortIO struct {
	ins  map[uint16]uint32
	outs map[uint16]uint32
}

func newFakePortIO() *fakePortIO {
	return &fakePortIO{ins: map[uint16]uint32{}, outs: map[uint16]uint32{}}
}

func (f *fakePortIO) PortIn(port uint16, width int) (uint32, error) { return f.ins[port], nil }
func (f *fakePortIO) PortOut(port uint16, width int, value uint32) error {
	f.outs[port] = value
	return nil
}

var _ hostio.PortIO = (*fakePortIO)(nil)

func TestExecInReadsThroughPortIO(t *testing.T) {
	e := newTestEmulator(0x1000)
	fake := newFakePortIO()
	fake.ins[0x60] = 0xab
	e.PortIO = fake

	ins := &Instruction{OperandWidth: Width8, Imm: 0x60}
	_, err := execIn(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xab), e.Regs.ReadGP(RAX, Width8, false))
}

func TestExecOutWritesThroughPortIO(t *testing.T) {
	e := newTestEmulator(0x1000)
	fake := newFakePortIO()
	e.PortIO = fake
	e.Regs.WriteGP(RAX, Width8, false, 0x42)

	ins := &Instruction{OperandWidth: Width8, Imm: 0x61}
	_, err := execOut(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x42), fake.outs[0x61])
}

func TestExecInCapsWidth64To32(t *testing.T) {
	e := newTestEmulator(0x1000)
	fake := newFakePortIO()
	fake.ins[0x60] = 0x11223344
	e.PortIO = fake

	ins := &Instruction{OperandWidth: Width64, Imm: 0x60}
	_, err := execIn(e, ins)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11223344), e.Regs.ReadGP(RAX, Width64, false))
}
