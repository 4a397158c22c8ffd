package cpu

import "github.com/hejops/x86emu/internal/bits"

// execMovFromRM is MOV reg, r/m: the reg field is the destination.
func execMovFromRM(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	val, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte, val)
	return StatusSuccess, nil
}

// execMovToRM is MOV r/m, reg: the reg field is the source.
func execMovToRM(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	val := e.Regs.ReadGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte)
	if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, val); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execMovImmToRM is MOV r/m, imm (C6/C7).
func execMovImmToRM(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, ins.Imm); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execMovImmToReg is MOV reg, imm (B0-BF), the opcode-embedded-register
// short form.
func execMovImmToReg(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte, ins.Imm)
	return StatusSuccess, nil
}

// execMovzx zero-extends ins.RM (at ins.ImmWidth bits, reused here to
// carry the source width) into the reg field destination.
func execMovzx(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	srcWidth := ins.ImmWidth
	val, err := e.readOperand(&ins.RM, srcWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, false, val&bits.Mask(srcWidth))
	return StatusSuccess, nil
}

// execMovsx sign-extends ins.RM into the reg field destination.
func execMovsx(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	srcWidth := ins.ImmWidth
	val, err := e.readOperand(&ins.RM, srcWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, false, bits.SignExtend(val, srcWidth)&bits.Mask(ins.OperandWidth))
	return StatusSuccess, nil
}

// execMovOffsetToAcc implements MOV AL/eAX, moffs (A0/A1): load the
// accumulator from a raw offset whose width equals the effective address
// size (spec.md §4.3), honoring a segment override but defaulting to DS.
func execMovOffsetToAcc(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	linear := e.moffsLinear(ins)
	val, err := e.MMU.ReadWidth(linear, ins.OperandWidth/8)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.WriteGP(RAX, ins.OperandWidth, false, val)
	return StatusSuccess, nil
}

// execMovAccToOffset implements MOV moffs, AL/eAX (A2/A3): store the
// accumulator at a raw offset, mirroring execMovOffsetToAcc.
func execMovAccToOffset(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	linear := e.moffsLinear(ins)
	val := e.Regs.ReadGP(RAX, ins.OperandWidth, false)
	if err := e.MMU.WriteWidth(linear, ins.OperandWidth/8, val); err != nil {
		return StatusFault, err
	}
	e.TBCache.InvalidateRange(linear, ins.OperandWidth/8)
	return StatusSuccess, nil
}

// moffsLinear resolves the moffset form's raw offset (decoded into
// ins.Imm at the instruction's effective address size) against the
// segment override or DS default, per spec.md §4.3.
func (e *Emulator) moffsLinear(ins *Instruction) uint64 {
	seg := e.Ctx.segmentFor(SegDS)
	if e.Ctx.Mode == ModeLong64 && seg != SegFS && seg != SegGS {
		return ins.Imm
	}
	return e.Ctx.Seg[seg].Base + ins.Imm
}

// execLea implements LEA reg, m (8D): write the computed effective
// address itself into the reg field destination, without any memory
// access. The decoder routes LEA through the standard ModR/M path, so
// ins.RM carries the (always-memory) EffectiveOperand to recompute the
// address from.
func execLea(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	addr := e.resolveLinearAddressNoSeg(&ins.RM, ins.AddressWidth)
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte, addr)
	return StatusSuccess, nil
}

// execCbwFamily implements CBW/CWDE/CDQE/CWD/CDQ/CQO (spec.md §4.3): sign
// extension of the accumulator, optionally into DX:AX/EDX:EAX/RDX:RAX.
func execCbwFamily(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	switch ins.Mnemonic {
	case "cbw":
		al := e.Regs.ReadGP(RAX, Width8, false)
		e.Regs.WriteGP(RAX, Width16, false, bits.SignExtend(al, Width8)&bits.Mask(Width16))
	case "cwde":
		ax := e.Regs.ReadGP(RAX, Width16, false)
		e.Regs.WriteGP(RAX, Width32, false, bits.SignExtend(ax, Width16)&bits.Mask(Width32))
	case "cdqe":
		eax := e.Regs.ReadGP(RAX, Width32, false)
		e.Regs.WriteGP(RAX, Width64, false, bits.SignExtend(eax, Width32))
	case "cwd":
		ax := e.Regs.ReadGP(RAX, Width16, false)
		ext := bits.SignExtend(ax, Width16)
		e.Regs.WriteGP(RDX, Width16, false, (ext>>16)&0xffff)
	case "cdq":
		eax := e.Regs.ReadGP(RAX, Width32, false)
		ext := bits.SignExtend(eax, Width32)
		e.Regs.WriteGP(RDX, Width32, false, (ext >> 32))
	case "cqo":
		rax := e.Regs.ReadGP(RAX, Width64, false)
		var hi uint64
		if bits.SignBit(rax, Width64) {
			hi = ^uint64(0)
		}
		e.Regs.WriteGP(RDX, Width64, false, hi)
	}
	return StatusSuccess, nil
}
