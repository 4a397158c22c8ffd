package cpu

import "github.com/hejops/x86emu/internal/bits"

// gp32Order is the register encoding order (Intel SDM Table 2-2) used by
// every field that selects a GP register via a 3-bit (or, with REX, 4-bit)
// code: AX/CX/DX/BX/SP/BP/SI/DI, extended by REX.R/X/B to R8-R15.
var gp32Order = [8]Reg{RAX, RCX, RDX, RBX, RSP, RBP, RSI, RDI}

// decodeModRM reads the ModR/M byte (and, if present, a SIB byte and
// displacement) starting at the current fetch cursor, producing the reg
// field selector and the r/m EffectiveOperand. addrSize and rex drive
// 16-bit vs 32/64-bit addressing forms and register-extension bits
// (spec.md §4.1).
func (d *decodeCursor) decodeModRM(addrSize int, rex *RexPrefix) (regField, regField3 int, rm EffectiveOperand, err error) {
	modrm, err := d.u8()
	if err != nil {
		return 0, 0, rm, err
	}

	mod := int(bits.Range(uint64(modrm), 6, 7))
	reg := int(bits.Range(uint64(modrm), 3, 5))
	rmField := int(bits.Range(uint64(modrm), 0, 2))
	regField3 = reg

	if rex != nil && rex.R {
		reg |= 0b1000
	}
	regField = reg

	if mod == 0b11 {
		rm.IsRegister = true
		idx := rmField
		rm.Raw3 = rmField
		if rex != nil && rex.B {
			idx |= 0b1000
		}
		rm.Reg = regByIndex(idx)
		// byte-register high/low selection per spec.md §4.1: with no
		// REX present, indices 4-7 mean AH/CH/DH/BH; with REX present
		// they mean SPL/BPL/SIL/DIL. resolveByteReg applies this once
		// the operand width is known to the caller.
		return regField, regField3, rm, nil
	}

	if addrSize == 16 {
		return regField, regField3, d.decodeModRM16(mod, rmField), nil
	}
	rm, err = d.decodeModRM3264(mod, rmField, rex)
	return regField, regField3, rm, err
}

func regByIndex(idx int) Reg {
	if idx < 8 {
		return gp32Order[idx]
	}
	return Reg(idx) // R8-R15 map directly since Reg iota order matches
}

// decodeModRM16 implements the legacy 16-bit addressing forms (BX+SI,
// BX+DI, BP+SI, BP+DI, SI, DI, disp16-only when mod=0/rm=6, or BP
// otherwise), per the classical 8086 ModR/M table.
func (d *decodeCursor) decodeModRM16(mod, rm int) EffectiveOperand {
	var op EffectiveOperand
	op.DefaultSeg = SegDS
	switch rm {
	case 0:
		op.BaseValid, op.Base = true, RBX
		op.IndexValid, op.Index = true, RSI
	case 1:
		op.BaseValid, op.Base = true, RBX
		op.IndexValid, op.Index = true, RDI
	case 2:
		op.BaseValid, op.Base = true, RBP
		op.IndexValid, op.Index = true, RSI
		op.DefaultSeg = SegSS
	case 3:
		op.BaseValid, op.Base = true, RBP
		op.IndexValid, op.Index = true, RDI
		op.DefaultSeg = SegSS
	case 4:
		op.BaseValid, op.Base = true, RSI
	case 5:
		op.BaseValid, op.Base = true, RDI
	case 6:
		if mod == 0 {
			d16, _ := d.i16()
			op.Disp = int64(d16)
			return op // disp16-only, no base
		}
		op.BaseValid, op.Base = true, RBP
		op.DefaultSeg = SegSS
	case 7:
		op.BaseValid, op.Base = true, RBX
	}
	switch mod {
	case 1:
		d8, _ := d.i8()
		op.Disp = int64(d8)
	case 2:
		d16, _ := d.i16()
		op.Disp = int64(d16)
	}
	return op
}

// decodeModRM3264 implements 32/64-bit addressing: SIB byte on rm==4,
// disp32-only on mod==0/rm==5 (RIP-relative in 64-bit mode, absolute
// disp32 otherwise), per spec.md §4.1.
func (d *decodeCursor) decodeModRM3264(mod, rm int, rex *RexPrefix) (EffectiveOperand, error) {
	var op EffectiveOperand
	op.DefaultSeg = SegDS

	if rm == 4 {
		sib, err := d.u8()
		if err != nil {
			return op, err
		}
		scaleBits := int(bits.Range(uint64(sib), 6, 7))
		indexField := int(bits.Range(uint64(sib), 3, 5))
		baseField := int(bits.Range(uint64(sib), 0, 2))
		op.Scale = 1 << scaleBits

		if rex != nil && rex.X {
			indexField |= 0b1000
		}
		if indexField != 0b100 { // index==4 (no REX.X) means no index
			op.IndexValid = true
			op.Index = regByIndex(indexField)
		}

		baseIdx := baseField
		if rex != nil && rex.B {
			baseIdx |= 0b1000
		}
		if baseField == 0b101 && mod == 0 {
			d32, err := d.i32()
			if err != nil {
				return op, err
			}
			op.Disp = int64(d32) // base=5, mod=0: disp32-only, no base
		} else {
			op.BaseValid = true
			op.Base = regByIndex(baseIdx)
			if baseIdx == int(RBP) {
				op.DefaultSeg = SegSS
			}
		}
	} else if mod == 0 && rm == 5 {
		d32, err := d.i32()
		if err != nil {
			return op, err
		}
		op.RIPRelative = d.e.Ctx.Mode == ModeLong64
		op.Disp = int64(d32)
		return op, nil
	} else {
		idx := rm
		if rex != nil && rex.B {
			idx |= 0b1000
		}
		op.BaseValid = true
		op.Base = regByIndex(idx)
		if idx == int(RBP) {
			op.DefaultSeg = SegSS
		}
	}

	switch mod {
	case 1:
		d8, err := d.i8()
		if err != nil {
			return op, err
		}
		op.Disp += int64(d8)
	case 2:
		d32, err := d.i32()
		if err != nil {
			return op, err
		}
		op.Disp += int64(d32)
	}
	return op, nil
}
