package cpu

// IN/OUT (spec.md §6 "PortIn(port, width) -> value", "PortOut(port, width,
// value)") read or write a port through the host's PortIO collaborator.
// Neither form supports a 64-bit operand; REX.W is ignored and the widest
// transfer is 32 bits.

func capPortWidth(w int) int {
	if w == Width64 {
		return Width32
	}
	return w
}

// execIn implements E4/E5 (IN AL/eAX, imm8) and EC/ED (IN AL/eAX, DX).
func execIn(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := capPortWidth(ins.OperandWidth)
	port := uint16(ins.Imm)
	if ins.Opcode1 >= 0xEC {
		port = uint16(e.Regs.ReadGP(RDX, Width16, false)) // current DX, also on TB replay
	}
	v, err := e.PortIO.PortIn(port, w/8)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.WriteGP(RAX, w, false, uint64(v))
	return StatusSuccess, nil
}

// execOut implements E6/E7 (OUT imm8, AL/eAX) and EE/EF (OUT DX, AL/eAX).
func execOut(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := capPortWidth(ins.OperandWidth)
	v := e.Regs.ReadGP(RAX, w, false)
	port := uint16(ins.Imm)
	if ins.Opcode1 >= 0xEC {
		port = uint16(e.Regs.ReadGP(RDX, Width16, false)) // current DX, also on TB replay
	}
	if err := e.PortIO.PortOut(port, w/8, uint32(v)); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}
