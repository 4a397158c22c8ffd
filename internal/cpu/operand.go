package cpu

// EffectiveOperand is the parsed r/m operand produced by ModR/M+SIB
// decoding (spec.md §4.1). Exactly one of the register-direct or
// memory-form fields is meaningful, selected by IsRegister.
type EffectiveOperand struct {
	IsRegister bool

	// register-direct (mod == 11)
	Reg         Reg
	Raw3        int  // raw 3-bit rm field before REX.B extension, for width-8 AH/CH/DH/BH vs SPL/BPL/SIL/DIL disambiguation
	RegHighByte bool // AH/CH/DH/BH (width 8, no REX present); computed lazily from Raw3, see resolveByteReg

	// memory form
	BaseValid   bool
	Base        Reg
	IndexValid  bool
	Index       Reg
	Scale       int
	Disp        int64
	RIPRelative bool
	DefaultSeg  SegReg // BP/RBP-based -> SS, else DS (spec.md §4.2)
}

// resolveByteReg finalizes a width-8 register operand's high/low byte
// selection: with no REX prefix, a raw (pre-REX.B) index of 4-7 means
// AH/CH/DH/BH (the high byte of AX/CX/DX/BX); with REX present, the same
// raw index instead addresses SPL/BPL/SIL/DIL (or, with REX.B adding its
// extension bit, R8B-R15B) — a plain low-byte register, already correctly
// resolved in resolvedReg by the caller's REX.B handling. Only called
// when width == 8; every wider access ignores RegHighByte entirely.
func resolveByteReg(resolvedReg Reg, raw3 int, rexPresent bool) (reg Reg, highByte bool) {
	if raw3 >= 4 && raw3 < 8 && !rexPresent {
		return Reg(raw3 - 4), true // AH/CH/DH/BH
	}
	return resolvedReg, false
}

// resolveLinearAddress computes the linear address for a memory
// EffectiveOperand, honoring the active segment override, per spec.md
// §4.2: seg_base + base + index*scale + disp, using the instruction's
// effective address size.
func (e *Emulator) resolveLinearAddress(op *EffectiveOperand, addrSize int) uint64 {
	var addr uint64
	if op.RIPRelative {
		addr = uint64(int64(e.Regs.RIP) + op.Disp)
	} else {
		if op.BaseValid {
			addr += e.Regs.ReadGP(op.Base, addrSize, false)
		}
		if op.IndexValid {
			addr += e.Regs.ReadGP(op.Index, addrSize, false) * uint64(op.Scale)
		}
		addr += uint64(op.Disp)
		if addrSize < 64 {
			addr &= (uint64(1) << addrSize) - 1
		}
	}

	seg := e.Ctx.segmentFor(op.DefaultSeg)
	if e.Ctx.Mode == ModeLong64 && seg != SegFS && seg != SegGS {
		return addr // CS/DS/ES/SS bases are 0 in 64-bit mode (spec.md §9)
	}
	return e.Ctx.Seg[seg].Base + addr
}

// resolveLinearAddressNoSeg computes the same base+index*scale+disp sum as
// resolveLinearAddress but without adding a segment base, the form LEA
// needs (spec.md §4.3: LEA writes the effective address itself, which is
// never segment-relative).
func (e *Emulator) resolveLinearAddressNoSeg(op *EffectiveOperand, addrSize int) uint64 {
	if op.RIPRelative {
		return uint64(int64(e.Regs.RIP) + op.Disp)
	}
	var addr uint64
	if op.BaseValid {
		addr += e.Regs.ReadGP(op.Base, addrSize, false)
	}
	if op.IndexValid {
		addr += e.Regs.ReadGP(op.Index, addrSize, false) * uint64(op.Scale)
	}
	addr += uint64(op.Disp)
	if addrSize < 64 {
		addr &= (uint64(1) << addrSize) - 1
	}
	return addr
}

// readOperand reads width bits from either a register or memory
// EffectiveOperand.
func (e *Emulator) readOperand(op *EffectiveOperand, width, addrSize int) (uint64, error) {
	if op.IsRegister {
		return e.Regs.ReadGP(op.Reg, width, op.RegHighByte), nil
	}
	linear := e.resolveLinearAddress(op, addrSize)
	return e.MMU.ReadWidth(linear, width/8)
}

// writeOperand writes width bits to either a register or memory
// EffectiveOperand, invalidating any translation block whose decoded byte
// range the write overlaps (spec.md §4.2, §4.5).
func (e *Emulator) writeOperand(op *EffectiveOperand, width, addrSize int, val uint64) error {
	if op.IsRegister {
		e.Regs.WriteGP(op.Reg, width, op.RegHighByte, val)
		return nil
	}
	linear := e.resolveLinearAddress(op, addrSize)
	if err := e.MMU.WriteWidth(linear, width/8, val); err != nil {
		return err
	}
	e.TBCache.InvalidateRange(linear, width/8)
	return nil
}
