package cpu

import "go.uber.org/zap"

// newTestEmulator returns a real-mode Emulator with every segment base
// forced to zero and enough flat RAM that tests can treat RIP/RSP/RSI/RDI
// as plain linear offsets, the way cpu_test.go drives the teacher's 6502
// core directly against its memory array instead of through reset vectors.
func newTestEmulator(memSize int) *Emulator {
	e := New(memSize, zap.NewNop())
	for s := range e.Ctx.Seg {
		e.Ctx.Seg[s] = SegDescriptor{Limit: 0xffffffff, Present: true, DefaultSize: 32}
	}
	e.Regs.RIP = 0
	return e
}

// loadAt writes code/data at linear address addr and points RIP at it.
func loadAt(e *Emulator, addr uint64, code []byte) {
	if err := e.LoadMemory(addr, code); err != nil {
		panic(err)
	}
	e.Regs.RIP = addr
}
