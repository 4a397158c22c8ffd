package cpu

// opcodeEntry pairs a decode step with its execution handler, the "flat
// array of 256 primary entries x optional 256 secondary" dispatch table
// of spec.md §4.3. A zero-value entry (no decode step and no handler)
// means undefined; an entry with a handler but no decode step has no
// bytes after its opcode.
type opcodeEntry struct {
	name   string
	decode func(e *Emulator, d *decodeCursor, ins *Instruction) error
	exec   OpcodeHandler
}

var primaryTable [256]opcodeEntry
var secondaryTable [256]opcodeEntry

// --- shared decode helpers -------------------------------------------------

// finalizeReg resolves a decoded reg/rm 3-or-4-bit index plus its raw
// pre-REX 3 bits into a Reg and, at width 8, the AH/CH/DH/BH vs
// SPL/BPL/SIL/DIL disambiguation (spec.md §4.1).
func finalizeReg(idx, raw3, width int, rexPresent bool) (Reg, bool) {
	resolved := regByIndex(idx)
	if width != Width8 {
		return resolved, false
	}
	return resolveByteReg(resolved, raw3, rexPresent)
}

// decodeModRMStd decodes a standard ModR/M pair (reg field + r/m operand)
// at the instruction's effective operand width, finalizing byte-register
// disambiguation on both operands.
func decodeModRMStd(e *Emulator, d *decodeCursor, ins *Instruction) error {
	regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
	if err != nil {
		return err
	}
	ins.HasModRM = true
	ins.RegField = regIdx
	ins.RM = rm
	reg, hb := finalizeReg(regIdx, raw3, ins.OperandWidth, e.Ctx.Rex != nil)
	ins.RegOperand = EffectiveOperand{Reg: reg, RegHighByte: hb}
	if rm.IsRegister && ins.OperandWidth == Width8 {
		ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, rm.Raw3, e.Ctx.Rex != nil)
	}
	return nil
}

func decodeImm(d *decodeCursor, width int) (uint64, error) {
	switch width {
	case 8:
		v, err := d.u8()
		return uint64(v), err
	case 16:
		v, err := d.u16()
		return uint64(v), err
	case 32:
		v, err := d.u32()
		return uint64(v), err
	default:
		v, err := d.u64()
		return v, err
	}
}

// aluFamily builds the six primary-table entries of one of the eight ALU
// families: rm8<-r8, rm<-r (00/01-like), r8<-rm8, r<-rm (02/03-like),
// AL,imm8 and eAX,imm. base is the family's 00-aligned opcode (e.g. 0x00
// for ADD).
func aluFamily(base byte, op aluOp, name string) {
	primaryTable[base+0] = opcodeEntry{ // rm8, r8
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			ins.OperandWidth = Width8
			return decodeModRMStd(e, d, ins)
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluToRM(e, ins, op) },
	}
	primaryTable[base+1] = opcodeEntry{ // rm, r (full width)
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			return decodeModRMStd(e, d, ins)
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluToRM(e, ins, op) },
	}
	primaryTable[base+2] = opcodeEntry{ // r8, rm8
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			ins.OperandWidth = Width8
			return decodeModRMStd(e, d, ins)
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluFromRM(e, ins, op) },
	}
	primaryTable[base+3] = opcodeEntry{ // r, rm (full width)
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			return decodeModRMStd(e, d, ins)
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluFromRM(e, ins, op) },
	}
	primaryTable[base+4] = opcodeEntry{ // AL, imm8
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			ins.OperandWidth = Width8
			imm, err := d.u8()
			ins.HasImm, ins.Imm, ins.ImmWidth = true, uint64(imm), 8
			ins.RM = EffectiveOperand{IsRegister: true, Reg: RAX}
			return err
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluImmAcc(e, ins, op) },
	}
	primaryTable[base+5] = opcodeEntry{ // eAX, imm
		name: name,
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			immWidth := ins.OperandWidth
			if immWidth > 32 {
				immWidth = 32
			}
			imm, err := decodeImm(d, immWidth)
			if err != nil {
				return err
			}
			ins.ImmWidth = immWidth
			ins.HasImm = true
			if immWidth != ins.OperandWidth {
				ins.Imm = signExtendTo(imm, immWidth, ins.OperandWidth)
			} else {
				ins.Imm = imm
			}
			ins.RM = EffectiveOperand{IsRegister: true, Reg: RAX}
			return nil
		},
		exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) { return execAluImmAcc(e, ins, op) },
	}
}

func execAluToRM(e *Emulator, ins *Instruction, op aluOp) (ExecutionStatus, error) {
	a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	b := e.Regs.ReadGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte)
	r := e.applyALU(op, ins.OperandWidth, a, b)
	if op == aluCMP || op == aluTEST {
		return StatusSuccess, nil
	}
	if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

func execAluFromRM(e *Emulator, ins *Instruction, op aluOp) (ExecutionStatus, error) {
	b, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	a := e.Regs.ReadGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte)
	r := e.applyALU(op, ins.OperandWidth, a, b)
	if op == aluCMP || op == aluTEST {
		return StatusSuccess, nil
	}
	e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, ins.RegOperand.RegHighByte, r)
	return StatusSuccess, nil
}

func execAluImmAcc(e *Emulator, ins *Instruction, op aluOp) (ExecutionStatus, error) {
	a := e.Regs.ReadGP(RAX, ins.OperandWidth, false)
	r := e.applyALU(op, ins.OperandWidth, a, ins.Imm)
	if op == aluCMP || op == aluTEST {
		return StatusSuccess, nil
	}
	e.Regs.WriteGP(RAX, ins.OperandWidth, false, r)
	return StatusSuccess, nil
}

// group1Ops maps the ModR/M reg field of the Group 1 immediate ALU opcodes
// (80/81/82/83) to its ALU operation, per spec.md §4.1.
var group1Ops = [8]aluOp{aluADD, aluOR, aluADC, aluSBB, aluAND, aluSUB, aluXOR, aluCMP}

// decodeGroup1 builds the Group 1 (80/81/82/83) decode step. operandIsByte
// forces an 8-bit r/m operand (80/82); immIsByte sign-extends an 8-bit
// immediate to the operand width instead of reading a full-width one
// (83), per spec.md §4.1.
func decodeGroup1(operandIsByte, immIsByte bool) func(e *Emulator, d *decodeCursor, ins *Instruction) error {
	return func(e *Emulator, d *decodeCursor, ins *Instruction) error {
		if operandIsByte {
			ins.OperandWidth = Width8
		}
		regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
		if err != nil {
			return err
		}
		ins.HasModRM = true
		ins.RegField = regIdx
		ins.RM = rm
		if rm.IsRegister && ins.OperandWidth == Width8 {
			ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
		}

		immWidth := ins.OperandWidth
		if immWidth > 32 {
			immWidth = 32
		}
		if immIsByte {
			immWidth = 8
		}
		imm, err := decodeImm(d, immWidth)
		if err != nil {
			return err
		}
		if immWidth != ins.OperandWidth {
			ins.Imm = signExtendTo(imm, immWidth, ins.OperandWidth)
		} else {
			ins.Imm = imm
		}
		ins.HasImm, ins.ImmWidth = true, immWidth
		return nil
	}
}

func signExtendTo(v uint64, from, to int) uint64 {
	sign := uint64(1) << (from - 1)
	if v&sign != 0 {
		ext := ^uint64(0) << from
		return v | ext
	}
	return v
}

func execGroup1(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	op := group1Ops[ins.RegField&0x7]
	a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	r := e.applyALU(op, ins.OperandWidth, a, ins.Imm)
	if op == aluCMP {
		return StatusSuccess, nil
	}
	if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// --- shift group (C0/C1/D0-D3) ---------------------------------------------

var shiftGroupOps = [8]shiftOp{shROL, shROR, shRCL, shRCR, shSHL, shSHR, shSHL, shSAR}

func decodeShiftGroup(countSource string) func(e *Emulator, d *decodeCursor, ins *Instruction) error {
	return func(e *Emulator, d *decodeCursor, ins *Instruction) error {
		regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
		if err != nil {
			return err
		}
		ins.HasModRM = true
		ins.RegField = regIdx
		ins.RM = rm
		if rm.IsRegister && ins.OperandWidth == Width8 {
			ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
		}
		switch countSource {
		case "one":
			ins.Imm = 1
		case "imm8":
			v, err := d.u8()
			ins.Imm = uint64(v)
			return err
		case "cl":
			ins.HasImm = false
		}
		return nil
	}
}

func execShiftGroup(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	op := shiftGroupOps[ins.RegField&0x7]
	count := ins.Imm
	if ins.Opcode1 == 0xD2 || ins.Opcode1 == 0xD3 {
		count = e.Regs.ReadGP(RCX, Width8, false)
	}
	a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	r := e.applyShift(op, ins.OperandWidth, a, count)
	if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// --- F6/F7 unary group (TEST/NOT/NEG/MUL/IMUL/DIV/IDIV) --------------------

func decodeF6F7(e *Emulator, d *decodeCursor, ins *Instruction) error {
	regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
	if err != nil {
		return err
	}
	ins.HasModRM = true
	ins.RegField = regIdx
	ins.RM = rm
	if rm.IsRegister && ins.OperandWidth == Width8 {
		ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
	}
	if regIdx&0x7 <= 1 { // TEST
		immWidth := ins.OperandWidth
		if immWidth > 32 {
			immWidth = 32
		}
		imm, err := decodeImm(d, immWidth)
		ins.HasImm, ins.Imm, ins.ImmWidth = true, imm, immWidth
		return err
	}
	return nil
}

func execF6F7(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	switch ins.RegField & 0x7 {
	case 0, 1: // TEST
		a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		e.applyALU(aluTEST, ins.OperandWidth, a, ins.Imm)
		return StatusSuccess, nil
	case 2: // NOT
		a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		r := applyNOT(ins.OperandWidth, a)
		if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
			return StatusFault, err
		}
		return StatusSuccess, nil
	case 3: // NEG
		a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		r := e.applyNEG(ins.OperandWidth, a)
		if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
			return StatusFault, err
		}
		return StatusSuccess, nil
	case 4: // MUL
		v, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		e.applyMul(ins.OperandWidth, v)
		return StatusSuccess, nil
	case 5: // IMUL
		v, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		e.applyImul(ins.OperandWidth, v)
		return StatusSuccess, nil
	case 6: // DIV
		v, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		return e.applyDiv(ins.OperandWidth, v)
	case 7: // IDIV
		v, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		return e.applyIdiv(ins.OperandWidth, v)
	}
	return StatusFault, newFault(FaultEmulatorBug, "unreachable F6/F7 reg field")
}

// --- FE/FF group (INC/DEC/CALL/JMP/PUSH) -----------------------------------

func decodeFEFF(e *Emulator, d *decodeCursor, ins *Instruction) error {
	regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
	if err != nil {
		return err
	}
	ins.HasModRM = true
	ins.RegField = regIdx
	ins.RM = rm
	if rm.IsRegister && ins.OperandWidth == Width8 {
		ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
	}
	return nil
}

func execFEFF(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	switch ins.RegField & 0x7 {
	case 0: // INC
		a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		r := e.applyIncDec(ins.OperandWidth, a, true)
		if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
			return StatusFault, err
		}
		return StatusSuccess, nil
	case 1: // DEC
		a, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		r := e.applyIncDec(ins.OperandWidth, a, false)
		if err := e.writeOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth, r); err != nil {
			return StatusFault, err
		}
		return StatusSuccess, nil
	case 2: // CALL near indirect
		return execCallRM(e, ins)
	case 4: // JMP near indirect
		return execJmpRM(e, ins)
	case 5: // JMP far indirect
		return execJmpFar(e, ins)
	case 6: // PUSH r/m
		return execPush(e, ins)
	}
	return StatusFault, newFault(FaultEmulatorBug, "unreachable FF reg field")
}

func init() {
	aluFamily(0x00, aluADD, "add")
	aluFamily(0x08, aluOR, "or")
	aluFamily(0x10, aluADC, "adc")
	aluFamily(0x18, aluSBB, "sbb")
	aluFamily(0x20, aluAND, "and")
	aluFamily(0x28, aluSUB, "sub")
	aluFamily(0x30, aluXOR, "xor")
	aluFamily(0x38, aluCMP, "cmp")

	primaryTable[0x80] = opcodeEntry{name: "group1", decode: decodeGroup1(true, true), exec: execGroup1}
	primaryTable[0x81] = opcodeEntry{name: "group1", decode: decodeGroup1(false, false), exec: execGroup1}
	primaryTable[0x82] = opcodeEntry{name: "group1", decode: decodeGroup1(true, true), exec: execGroup1}
	primaryTable[0x83] = opcodeEntry{name: "group1", decode: decodeGroup1(false, true), exec: execGroup1}

	primaryTable[0xC0] = opcodeEntry{name: "shiftgrp", decode: withWidth8(decodeShiftGroup("imm8")), exec: execShiftGroup}
	primaryTable[0xC1] = opcodeEntry{name: "shiftgrp", decode: decodeShiftGroup("imm8"), exec: execShiftGroup}
	primaryTable[0xD0] = opcodeEntry{name: "shiftgrp", decode: withWidth8(decodeShiftGroup("one")), exec: execShiftGroup}
	primaryTable[0xD1] = opcodeEntry{name: "shiftgrp", decode: decodeShiftGroup("one"), exec: execShiftGroup}
	primaryTable[0xD2] = opcodeEntry{name: "shiftgrp", decode: withWidth8(decodeShiftGroup("cl")), exec: execShiftGroup}
	primaryTable[0xD3] = opcodeEntry{name: "shiftgrp", decode: decodeShiftGroup("cl"), exec: execShiftGroup}

	primaryTable[0xF6] = opcodeEntry{name: "unarygrp", decode: withWidth8(decodeF6F7), exec: execF6F7}
	primaryTable[0xF7] = opcodeEntry{name: "unarygrp", decode: decodeF6F7, exec: execF6F7}

	primaryTable[0xFE] = opcodeEntry{name: "incdecgrp", decode: withWidth8(decodeFEFF), exec: execFEFF}
	primaryTable[0xFF] = opcodeEntry{name: "incdecgrp", decode: decodeFEFF, exec: execFEFF}

	// MOV rm, r and r, rm (88-8B)
	primaryTable[0x88] = opcodeEntry{name: "mov", decode: withWidth8(decodeModRMStd), exec: execMovToRM}
	primaryTable[0x89] = opcodeEntry{name: "mov", decode: decodeModRMStd, exec: execMovToRM}
	primaryTable[0x8A] = opcodeEntry{name: "mov", decode: withWidth8(decodeModRMStd), exec: execMovFromRM}
	primaryTable[0x8B] = opcodeEntry{name: "mov", decode: decodeModRMStd, exec: execMovFromRM}

	// LEA reg, m (8D)
	primaryTable[0x8D] = opcodeEntry{name: "lea", decode: decodeModRMStd, exec: execLea}

	// MOV moffs <-> AL/eAX (A0-A3): raw offset at the effective address
	// size, not a ModR/M operand (spec.md §4.3).
	primaryTable[0xA0] = opcodeEntry{
		name: "mov", decode: withWidth8(decodeMoffs), exec: execMovOffsetToAcc,
	}
	primaryTable[0xA1] = opcodeEntry{name: "mov", decode: decodeMoffs, exec: execMovOffsetToAcc}
	primaryTable[0xA2] = opcodeEntry{
		name: "mov", decode: withWidth8(decodeMoffs), exec: execMovAccToOffset,
	}
	primaryTable[0xA3] = opcodeEntry{name: "mov", decode: decodeMoffs, exec: execMovAccToOffset}

	// MOV r/m, imm (C6/C7)
	primaryTable[0xC6] = opcodeEntry{name: "mov", decode: withWidth8(decodeMovImmRM(8)), exec: execMovImmToRM}
	primaryTable[0xC7] = opcodeEntry{name: "mov", decode: decodeMovImmRM(32), exec: execMovImmToRM}

	// MOV reg, imm short form (B0-BF)
	for i := byte(0); i < 8; i++ {
		idx := i
		primaryTable[0xB0+idx] = opcodeEntry{
			name: "mov",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				ins.OperandWidth = Width8
				regIdx := int(idx)
				if e.Ctx.Rex != nil && e.Ctx.Rex.B {
					regIdx |= 0b1000
				}
				reg, hb := resolveByteReg(regByIndex(regIdx), int(idx), e.Ctx.Rex != nil)
				ins.RegOperand = EffectiveOperand{Reg: reg, RegHighByte: hb}
				imm, err := d.u8()
				ins.HasImm, ins.Imm, ins.ImmWidth = true, uint64(imm), 8
				return err
			},
			exec: execMovImmToReg,
		}
		primaryTable[0xB8+idx] = opcodeEntry{
			name: "mov",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				regIdx := int(idx)
				if e.Ctx.Rex != nil && e.Ctx.Rex.B {
					regIdx |= 0b1000
				}
				ins.RegOperand = EffectiveOperand{Reg: regByIndex(regIdx)}
				immWidth := ins.OperandWidth
				imm, err := decodeImm(d, immWidth)
				ins.HasImm, ins.Imm, ins.ImmWidth = true, imm, immWidth
				return err
			},
			exec: execMovImmToReg,
		}
	}

	// INC/DEC short form (40-4F) — only valid outside 64-bit mode; in
	// 64-bit mode these bytes are REX and DecodeOne intercepts them first.
	for i := byte(0); i < 8; i++ {
		idx := i
		primaryTable[0x40+idx] = opcodeEntry{
			name: "inc",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				ins.RegOperand = EffectiveOperand{Reg: regByIndex(int(idx))}
				return nil
			},
			exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
				v := e.Regs.ReadGP(ins.RegOperand.Reg, ins.OperandWidth, false)
				e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, false, e.applyIncDec(ins.OperandWidth, v, true))
				return StatusSuccess, nil
			},
		}
		primaryTable[0x48+idx] = opcodeEntry{
			name: "dec",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				ins.RegOperand = EffectiveOperand{Reg: regByIndex(int(idx))}
				return nil
			},
			exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
				v := e.Regs.ReadGP(ins.RegOperand.Reg, ins.OperandWidth, false)
				e.Regs.WriteGP(ins.RegOperand.Reg, ins.OperandWidth, false, e.applyIncDec(ins.OperandWidth, v, false))
				return StatusSuccess, nil
			},
		}
	}

	// PUSH/POP short form (50-5F)
	for i := byte(0); i < 8; i++ {
		idx := i
		primaryTable[0x50+idx] = opcodeEntry{
			name: "push",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				regIdx := int(idx)
				if e.Ctx.Rex != nil && e.Ctx.Rex.B {
					regIdx |= 0b1000
				}
				ins.RM = EffectiveOperand{IsRegister: true}
				ins.RegOperand = EffectiveOperand{Reg: regByIndex(regIdx)}
				return nil
			},
			exec: execPush,
		}
		primaryTable[0x58+idx] = opcodeEntry{
			name: "pop",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				regIdx := int(idx)
				if e.Ctx.Rex != nil && e.Ctx.Rex.B {
					regIdx |= 0b1000
				}
				ins.RM = EffectiveOperand{IsRegister: true}
				ins.RegOperand = EffectiveOperand{Reg: regByIndex(regIdx)}
				return nil
			},
			exec: execPop,
		}
	}

	primaryTable[0x68] = opcodeEntry{ // PUSH imm32 (sign-extended)
		name: "push",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.i32()
			ins.HasImm, ins.Imm, ins.ImmWidth = true, uint64(int64(v))&0xffffffff, 32
			return err
		},
		exec: execPush,
	}
	primaryTable[0x6A] = opcodeEntry{ // PUSH imm8 (sign-extended)
		name: "push",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.i8()
			ins.HasImm, ins.Imm, ins.ImmWidth = true, uint64(int64(v))&0xff, 8
			return err
		},
		exec: execPush,
	}

	primaryTable[0x9C] = opcodeEntry{name: "pushf", exec: execPushf}
	primaryTable[0x9D] = opcodeEntry{name: "popf", exec: execPopf}
	primaryTable[0x60] = opcodeEntry{name: "pusha", exec: execPusha}
	primaryTable[0x61] = opcodeEntry{name: "popa", exec: execPopa}

	// Jcc short (70-7F)
	for i := byte(0); i < 16; i++ {
		idx := i
		primaryTable[0x70+idx] = opcodeEntry{
			name: "jcc",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				v, err := d.i8()
				ins.BranchDisp = int64(v)
				return err
			},
			exec: execJcc,
		}
	}

	primaryTable[0xEB] = opcodeEntry{ // JMP short
		name: "jmp",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.i8()
			ins.BranchDisp = int64(v)
			return err
		},
		exec: execJmpNear,
	}
	primaryTable[0xE9] = opcodeEntry{ // JMP near
		name: "jmp",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.i32()
			ins.BranchDisp = int64(v)
			return err
		},
		exec: execJmpNear,
	}
	primaryTable[0xE8] = opcodeEntry{ // CALL near
		name: "call",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.i32()
			ins.BranchDisp = int64(v)
			return err
		},
		exec: execCallNear,
	}
	primaryTable[0xC3] = opcodeEntry{name: "ret", exec: execRet}
	primaryTable[0xC2] = opcodeEntry{
		name: "ret",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.u16()
			ins.Imm = uint64(v)
			return err
		},
		exec: execRetImm,
	}
	primaryTable[0xEA] = opcodeEntry{ // JMP FAR ptr16:32
		name: "jmpf",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			off, err := d.u32()
			if err != nil {
				return err
			}
			sel, err := d.u16()
			ins.Imm = (uint64(sel) << 32) | uint64(off)
			return err
		},
		exec: execJmpFar,
	}

	primaryTable[0xCC] = opcodeEntry{
		name: "int3",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			ins.Imm = 3
			return nil
		},
		exec: execInt,
	}
	primaryTable[0xCD] = opcodeEntry{
		name: "int",
		decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
			v, err := d.u8()
			ins.Imm = uint64(v)
			return err
		},
		exec: execInt,
	}
	primaryTable[0xCF] = opcodeEntry{name: "iret", exec: execIret}

	primaryTable[0xF4] = opcodeEntry{name: "hlt", exec: execHlt}
	primaryTable[0x90] = opcodeEntry{name: "nop", exec: execNop}
	primaryTable[0xF8] = opcodeEntry{name: "clc", exec: execClc}
	primaryTable[0xF9] = opcodeEntry{name: "stc", exec: execStc}
	primaryTable[0xF5] = opcodeEntry{name: "cmc", exec: execCmc}
	primaryTable[0xFC] = opcodeEntry{name: "cld", exec: execCld}
	primaryTable[0xFD] = opcodeEntry{name: "std", exec: execStd}
	primaryTable[0xFA] = opcodeEntry{name: "cli", exec: execCli}
	primaryTable[0xFB] = opcodeEntry{name: "sti", exec: execSti}

	primaryTable[0x27] = opcodeEntry{name: "daa", exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
		e.applyDAA()
		return StatusSuccess, nil
	}}
	primaryTable[0x2F] = opcodeEntry{name: "das", exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
		e.applyDAS()
		return StatusSuccess, nil
	}}

	primaryTable[0x98] = opcodeEntry{name: "cbw", exec: execCbwFamilyNamed("cbw", "cwde", "cdqe")}
	primaryTable[0x99] = opcodeEntry{name: "cwd", exec: execCbwFamilyNamed("cwd", "cdq", "cqo")}

	// String opcodes (byte/wide forms selected by the low bit).
	primaryTable[0xA4] = opcodeEntry{name: "movsb", decode: withWidth8(noopDecode), exec: execMovs}
	primaryTable[0xA5] = opcodeEntry{name: "movs", decode: noopDecode, exec: execMovs}
	primaryTable[0xAA] = opcodeEntry{name: "stosb", decode: withWidth8(noopDecode), exec: execStos}
	primaryTable[0xAB] = opcodeEntry{name: "stos", decode: noopDecode, exec: execStos}
	primaryTable[0xAC] = opcodeEntry{name: "lodsb", decode: withWidth8(noopDecode), exec: execLods}
	primaryTable[0xAD] = opcodeEntry{name: "lods", decode: noopDecode, exec: execLods}
	primaryTable[0xAE] = opcodeEntry{name: "scasb", decode: withWidth8(noopDecode), exec: execScas}
	primaryTable[0xAF] = opcodeEntry{name: "scas", decode: noopDecode, exec: execScas}
	primaryTable[0xA6] = opcodeEntry{name: "cmpsb", decode: withWidth8(noopDecode), exec: execCmps}
	primaryTable[0xA7] = opcodeEntry{name: "cmps", decode: noopDecode, exec: execCmps}

	// --- two-byte (0F) table ---

	// Jcc near (0F 80-8F)
	for i := byte(0); i < 16; i++ {
		idx := i
		secondaryTable[0x80+idx] = opcodeEntry{
			name: "jcc",
			decode: func(e *Emulator, d *decodeCursor, ins *Instruction) error {
				v, err := d.i32()
				ins.BranchDisp = int64(v)
				return err
			},
			exec: func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
				if e.evalCond(condTable[idx]) {
					e.Regs.RIP = uint64(int64(ins.NextIP) + ins.BranchDisp)
				}
				return StatusSuccess, nil
			},
		}
	}

	secondaryTable[0xB6] = opcodeEntry{name: "movzx", decode: decodeMovxx(8), exec: execMovzx}
	secondaryTable[0xB7] = opcodeEntry{name: "movzx", decode: decodeMovxx(16), exec: execMovzx}
	secondaryTable[0xBE] = opcodeEntry{name: "movsx", decode: decodeMovxx(8), exec: execMovsx}
	secondaryTable[0xBF] = opcodeEntry{name: "movsx", decode: decodeMovxx(16), exec: execMovsx}

	secondaryTable[0x01] = opcodeEntry{ // group: SGDT/SIDT/LGDT/LIDT/SMSW/LMSW/INVLPG — stub, decodes ModR/M and no-ops
		name:   "grp7",
		decode: decodeModRMStd,
		exec:   execNop,
	}

	// IN/OUT (E4-E7 imm8 port form, EC-EF DX port form)
	primaryTable[0xE4] = opcodeEntry{name: "in", decode: withWidth8(decodeImm8Port), exec: execIn}
	primaryTable[0xE5] = opcodeEntry{name: "in", decode: decodeImm8Port, exec: execIn}
	primaryTable[0xE6] = opcodeEntry{name: "out", decode: withWidth8(decodeImm8Port), exec: execOut}
	primaryTable[0xE7] = opcodeEntry{name: "out", decode: decodeImm8Port, exec: execOut}
	primaryTable[0xEC] = opcodeEntry{name: "in", decode: withWidth8(decodeDXPort), exec: execIn}
	primaryTable[0xED] = opcodeEntry{name: "in", decode: decodeDXPort, exec: execIn}
	primaryTable[0xEE] = opcodeEntry{name: "out", decode: withWidth8(decodeDXPort), exec: execOut}
	primaryTable[0xEF] = opcodeEntry{name: "out", decode: decodeDXPort, exec: execOut}
}

// decodeMoffs reads the raw offset for MOV's moffset form (A0-A3): its
// width equals the instruction's effective address size, per spec.md
// §4.3, not ModR/M-derived.
func decodeMoffs(e *Emulator, d *decodeCursor, ins *Instruction) error {
	v, err := decodeImm(d, ins.AddressWidth)
	ins.Imm = v
	return err
}

func decodeImm8Port(e *Emulator, d *decodeCursor, ins *Instruction) error {
	v, err := d.u8()
	ins.Imm = uint64(v)
	return err
}

func decodeDXPort(e *Emulator, d *decodeCursor, ins *Instruction) error {
	ins.Imm = e.Regs.ReadGP(RDX, Width16, false)
	return nil
}

func noopDecode(e *Emulator, d *decodeCursor, ins *Instruction) error { return nil }

func withWidth8(f func(e *Emulator, d *decodeCursor, ins *Instruction) error) func(e *Emulator, d *decodeCursor, ins *Instruction) error {
	return func(e *Emulator, d *decodeCursor, ins *Instruction) error {
		ins.OperandWidth = Width8
		return f(e, d, ins)
	}
}

func decodeMovImmRM(immWidth int) func(e *Emulator, d *decodeCursor, ins *Instruction) error {
	return func(e *Emulator, d *decodeCursor, ins *Instruction) error {
		regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
		if err != nil {
			return err
		}
		ins.HasModRM = true
		ins.RegField = regIdx
		ins.RM = rm
		if rm.IsRegister && ins.OperandWidth == Width8 {
			ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
		}
		w := immWidth
		if ins.OperandWidth == Width8 {
			w = 8
		} else if ins.OperandWidth == Width64 {
			w = 32
		} else {
			w = ins.OperandWidth
		}
		imm, err := decodeImm(d, w)
		if err != nil {
			return err
		}
		ins.HasImm, ins.ImmWidth = true, w
		ins.Imm = signExtendTo(imm, w, ins.OperandWidth)
		return nil
	}
}

func decodeMovxx(srcWidth int) func(e *Emulator, d *decodeCursor, ins *Instruction) error {
	return func(e *Emulator, d *decodeCursor, ins *Instruction) error {
		regIdx, raw3, rm, err := d.decodeModRM(ins.AddressWidth, e.Ctx.Rex)
		if err != nil {
			return err
		}
		ins.HasModRM = true
		ins.RegField = regIdx
		ins.RM = rm
		if rm.IsRegister && srcWidth == Width8 {
			ins.RM.Reg, ins.RM.RegHighByte = resolveByteReg(rm.Reg, raw3, e.Ctx.Rex != nil)
		}
		reg, hb := finalizeReg(regIdx, raw3, ins.OperandWidth, e.Ctx.Rex != nil)
		ins.RegOperand = EffectiveOperand{Reg: reg, RegHighByte: hb}
		ins.ImmWidth = srcWidth // reused to carry the source operand width
		return nil
	}
}

func execCbwFamilyNamed(w8, w16, w32 string) OpcodeHandler {
	return func(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
		switch ins.OperandWidth {
		case Width16:
			ins.Mnemonic = w8
		case Width32:
			ins.Mnemonic = w16
		case Width64:
			ins.Mnemonic = w32
		}
		return execCbwFamily(e, ins)
	}
}
