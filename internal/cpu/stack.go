package cpu

import "github.com/hejops/x86emu/internal/bits"

// pushValue pushes val (masked to w bits) onto the stack at stack width
// w, decrementing RSP first (spec.md §4.3: PUSH RSP pushes the
// pre-decrement value, handled by the caller reading RSP before calling
// this).
func (e *Emulator) pushValue(w int, val uint64) error {
	sp := e.Regs.ReadGP(RSP, Width64, false) - uint64(w/8)
	e.Regs.WriteGP(RSP, Width64, false, sp)
	linear := e.stackLinear(sp)
	return e.MMU.WriteWidth(linear, w/8, val&bits.Mask(w))
}

// popValue pops a w-bit value off the stack, incrementing RSP after the
// read.
func (e *Emulator) popValue(w int) (uint64, error) {
	sp := e.Regs.ReadGP(RSP, Width64, false)
	linear := e.stackLinear(sp)
	val, err := e.MMU.ReadWidth(linear, w/8)
	if err != nil {
		return 0, err
	}
	e.Regs.WriteGP(RSP, Width64, false, sp+uint64(w/8))
	return val, nil
}

// stackLinear resolves a stack pointer value to a linear address via the
// SS descriptor (0 base in 64-bit mode, per spec.md §4.2).
func (e *Emulator) stackLinear(sp uint64) uint64 {
	if e.Ctx.Mode == ModeLong64 {
		return sp
	}
	return e.Ctx.Seg[SegSS].Base + sp
}

// execPush implements PUSH reg/mem/imm at the current stack-operand width
// (spec.md §4.3).
func execPush(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := e.Ctx.stackWidth()
	if ins.HasImm {
		if err := e.pushValue(w, bits.SignExtend(ins.Imm, ins.ImmWidth)); err != nil {
			return StatusFault, err
		}
		return StatusSuccess, nil
	}
	var val uint64
	var err error
	if ins.RM.IsRegister && !ins.HasModRM {
		val = e.Regs.ReadGP(ins.RegOperand.Reg, w, false)
	} else {
		val, err = e.readOperand(&ins.RM, w, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
	}
	if err := e.pushValue(w, val); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execPop implements POP reg/mem (spec.md §4.3). POP RSP loads RSP with
// the popped value directly.
func execPop(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := e.Ctx.stackWidth()
	val, err := e.popValue(w)
	if err != nil {
		return StatusFault, err
	}
	if ins.RM.IsRegister && !ins.HasModRM {
		e.Regs.WriteGP(ins.RegOperand.Reg, w, false, val)
		return StatusSuccess, nil
	}
	if err := e.writeOperand(&ins.RM, w, ins.AddressWidth, val); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execPushf implements PUSHF/PUSHFQ.
func execPushf(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := e.Ctx.stackWidth()
	if err := e.pushValue(w, e.Flg.Word()); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execPopf implements POPF/POPFQ.
func execPopf(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	val, err := e.popValue(e.Ctx.stackWidth())
	if err != nil {
		return StatusFault, err
	}
	e.Flg.SetWord(val)
	return StatusSuccess, nil
}

// execPusha implements PUSHA/PUSHAD; in 64-bit mode, where the opcode is
// not valid, it raises #UD.
func execPusha(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if e.Ctx.Mode == ModeLong64 {
		return e.raiseFault(newFault(FaultUD, "pusha in 64-bit mode"))
	}
	w := ins.OperandWidth
	order := []Reg{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI}
	tmpSP := e.Regs.ReadGP(RSP, Width64, false)
	for _, r := range order {
		v := tmpSP
		if r != RSP {
			v = e.Regs.ReadGP(r, w, false)
		}
		if err := e.pushValue(w, v); err != nil {
			return StatusFault, err
		}
	}
	return StatusSuccess, nil
}

// execPopa implements POPA/POPAD; like PUSHA it raises #UD in 64-bit mode.
func execPopa(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if e.Ctx.Mode == ModeLong64 {
		return e.raiseFault(newFault(FaultUD, "popa in 64-bit mode"))
	}
	w := ins.OperandWidth
	order := []Reg{RDI, RSI, RBP, RSP, RBX, RDX, RCX, RAX}
	for _, r := range order {
		v, err := e.popValue(w)
		if err != nil {
			return StatusFault, err
		}
		if r != RSP {
			e.Regs.WriteGP(r, w, false, v)
		}
	}
	return StatusSuccess, nil
}

