package cpu

import (
	stdbits "math/bits"

	"github.com/hejops/x86emu/internal/bits"
)

// aluOp identifies one of the ADD/ADC/SUB/SBB/CMP/AND/OR/XOR/TEST family
// for the purpose of the normative flag-computation rules in spec.md
// §4.3.
type aluOp int

const (
	aluADD aluOp = iota
	aluADC
	aluSUB
	aluSBB
	aluCMP
	aluAND
	aluOR
	aluXOR
	aluTEST
)

// applyALU computes the width-bit result of op on (a, b) honoring carryIn
// for ADC/SBB, updates flags per the normative rules in spec.md §4.3, and
// returns the masked result. Callers decide whether to write the result
// back (CMP and TEST never do).
//
// CF for ADD/ADC/SUB/SBB/CMP at width 64 cannot be detected by comparing
// a+b against a mask: Go's uint64 addition silently wraps at exactly the
// point the carry would fire, so the overflow bit is gone before any
// comparison runs. math/bits.Add64/Sub64 carry the extra bit out of the
// machine word directly, so carryOut/borrowOut decides CF at width 64.
// Below width 64 the operands are already masked and cannot wrap a
// uint64, so CF comes from the plain a+b+carryIn>mask (or a<b+carryIn)
// comparison.
func (e *Emulator) applyALU(op aluOp, width int, a, b uint64) uint64 {
	mask := bits.Mask(width)
	a, b = a&mask, b&mask

	var carryIn uint64
	var r uint64
	var carryOut, borrowOut uint64
	switch op {
	case aluADD:
		r, carryOut = stdbits.Add64(a, b, 0)
	case aluADC:
		if e.Flg.CF() {
			carryIn = 1
		}
		r, carryOut = stdbits.Add64(a, b, carryIn)
	case aluSUB, aluCMP:
		r, borrowOut = stdbits.Sub64(a, b, 0)
	case aluSBB:
		if e.Flg.CF() {
			carryIn = 1
		}
		r, borrowOut = stdbits.Sub64(a, b, carryIn)
	case aluAND, aluTEST:
		r = a & b
	case aluOR:
		r = a | b
	case aluXOR:
		r = a ^ b
	}
	r &= mask

	e.Flg.SetZF(r == 0)
	e.Flg.SetSF(bits.SignBit(r, width))
	e.Flg.SetPF(bits.Parity8(r))

	switch op {
	case aluADD, aluADC:
		if width == Width64 {
			e.Flg.SetCF(carryOut == 1)
		} else {
			e.Flg.SetCF(a+b+carryIn > mask)
		}
		e.Flg.SetAF((a&0xf)+(b&0xf)+carryIn > 0xf)
		e.Flg.SetOF(bits.SignBit(a, width) == bits.SignBit(b, width) && bits.SignBit(r, width) != bits.SignBit(a, width))
	case aluSUB, aluSBB, aluCMP:
		if width == Width64 {
			e.Flg.SetCF(borrowOut == 1)
		} else {
			e.Flg.SetCF(a < b+carryIn)
		}
		e.Flg.SetAF((a & 0xf) < (b&0xf)+carryIn)
		e.Flg.SetOF(bits.SignBit(a, width) != bits.SignBit(b, width) && bits.SignBit(r, width) != bits.SignBit(a, width))
	case aluAND, aluOR, aluXOR, aluTEST:
		e.Flg.SetCF(false)
		e.Flg.SetOF(false)
	}

	e.Flg.recordArith(aluOpName(op), width, a, b, carryIn, r)
	return r
}

func aluOpName(op aluOp) string {
	switch op {
	case aluADD:
		return "add"
	case aluADC:
		return "adc"
	case aluSUB:
		return "sub"
	case aluSBB:
		return "sbb"
	case aluCMP:
		return "cmp"
	case aluAND:
		return "and"
	case aluOR:
		return "or"
	case aluXOR:
		return "xor"
	case aluTEST:
		return "test"
	default:
		return "alu?"
	}
}

// applyNOT computes the bitwise complement. Per P2, flags are untouched.
func applyNOT(width int, v uint64) uint64 {
	return (^v) & bits.Mask(width)
}

// applyNEG computes two's-complement negation and sets flags per spec.md
// §4.3 (NEG's OF/CF rules) and P3.
func (e *Emulator) applyNEG(width int, v uint64) uint64 {
	mask := bits.Mask(width)
	v &= mask
	r := (-v) & mask
	mostNeg := uint64(1) << (width - 1)

	e.Flg.SetZF(r == 0)
	e.Flg.SetSF(bits.SignBit(r, width))
	e.Flg.SetPF(bits.Parity8(r))
	e.Flg.SetCF(v != 0)
	e.Flg.SetAF((0) < (v & 0xf))
	e.Flg.SetOF(v == mostNeg)
	e.Flg.recordArith("neg", width, 0, v, 0, r)
	return r
}

// applyIncDec implements INC/DEC: same arithmetic-flag rules as ADD/SUB by
// 1, except CF is left untouched (spec.md §4.3).
func (e *Emulator) applyIncDec(width int, v uint64, inc bool) uint64 {
	savedCF := e.Flg.CF()
	var r uint64
	if inc {
		r = e.applyALU(aluADD, width, v, 1)
	} else {
		r = e.applyALU(aluSUB, width, v, 1)
	}
	e.Flg.SetCF(savedCF)
	return r
}

// applyMul computes an unsigned multiply of the accumulator by v at the
// given width, writing the double-width result across
// AX/DX:AX/EDX:EAX/RDX:RAX and setting CF/OF per spec.md §4.3 (upper half
// nonzero).
func (e *Emulator) applyMul(width int, v uint64) {
	a := e.Regs.ReadGP(RAX, width, false)
	mask := bits.Mask(width)
	var lo, hi uint64
	if width == Width64 {
		hi, lo = stdbits.Mul64(a, v)
	} else {
		full := a * v
		lo = full & mask
		hi = (full >> width) & mask
	}
	e.writeAccumulatorPair(width, lo, hi)
	e.Flg.SetCF(hi != 0)
	e.Flg.SetOF(hi != 0)
}

// applyImul computes a signed multiply, mirroring applyMul's width
// handling but with the OF/CF rule being "result doesn't fit in width
// bits signed" (spec.md §4.3).
func (e *Emulator) applyImul(width int, v uint64) {
	a := int64(bits.SignExtend(e.Regs.ReadGP(RAX, width, false), width))
	bv := int64(bits.SignExtend(v, width))
	if width == Width64 {
		hi, lo := stdbits.Mul64(uint64(a), uint64(bv))
		if a < 0 {
			hi -= uint64(bv)
		}
		if bv < 0 {
			hi -= uint64(a)
		}
		e.writeAccumulatorPair(width, lo, hi)
		fits := hi == uint64(int64(lo)>>63)
		e.Flg.SetCF(!fits)
		e.Flg.SetOF(!fits)
		return
	}
	full := a * bv
	mask := bits.Mask(width)
	lo := uint64(full) & mask
	hi := uint64(full>>width) & mask
	e.writeAccumulatorPair(width, lo, hi)
	fits := full == int64(bits.SignExtend(lo, width))
	e.Flg.SetCF(!fits)
	e.Flg.SetOF(!fits)
}

func (e *Emulator) writeAccumulatorPair(width int, lo, hi uint64) {
	switch width {
	case Width8:
		e.Regs.WriteGP(RAX, Width16, false, (hi<<8)|lo)
	default:
		e.Regs.WriteGP(RAX, width, false, lo)
		e.Regs.WriteGP(RDX, width, false, hi)
	}
}

// applyDiv computes an unsigned divide of DX:AX/EDX:EAX/RDX:RAX (or AX for
// width 8) by v, faulting #DE on division by zero or quotient overflow.
func (e *Emulator) applyDiv(width int, v uint64) (ExecutionStatus, error) {
	dividend, divisor := e.readAccumulatorPair(width, v)
	if v == 0 {
		return e.raiseFault(newFault(FaultDE, "divide by zero"))
	}
	if width == Width64 {
		hi := e.Regs.ReadGP(RDX, Width64, false)
		if hi >= v {
			return e.raiseFault(newFault(FaultDE, "quotient overflow"))
		}
		q, r := stdbits.Div64(hi, e.Regs.ReadGP(RAX, Width64, false), v)
		e.writeQuotientRemainder(width, q, r)
		return StatusSuccess, nil
	}
	q := dividend / divisor
	r := dividend % divisor
	mask := bits.Mask(width)
	if q > mask {
		return e.raiseFault(newFault(FaultDE, "quotient overflow"))
	}
	e.writeQuotientRemainder(width, q, r)
	return StatusSuccess, nil
}

// applyIdiv mirrors applyDiv for signed division.
func (e *Emulator) applyIdiv(width int, v uint64) (ExecutionStatus, error) {
	if v == 0 {
		return e.raiseFault(newFault(FaultDE, "divide by zero"))
	}
	dividend, _ := e.readAccumulatorPairSigned(width, v)
	divisor := int64(bits.SignExtend(v, width))
	q := dividend / divisor
	r := dividend % divisor
	lo := bits.SignExtend(uint64(q), width)
	if int64(lo) != q {
		return e.raiseFault(newFault(FaultDE, "quotient overflow"))
	}
	e.writeQuotientRemainder(width, uint64(q)&bits.Mask(width), uint64(r)&bits.Mask(width))
	return StatusSuccess, nil
}

func (e *Emulator) readAccumulatorPair(width int, v uint64) (dividend, divisor uint64) {
	divisor = v
	if width == Width8 {
		return e.Regs.ReadGP(RAX, Width16, false), divisor
	}
	lo := e.Regs.ReadGP(RAX, width, false)
	hi := e.Regs.ReadGP(RDX, width, false)
	return (hi << width) | lo, divisor
}

func (e *Emulator) readAccumulatorPairSigned(width int, v uint64) (dividend int64, divisor int64) {
	if width == Width8 {
		return int64(int16(e.Regs.ReadGP(RAX, Width16, false))), int64(bits.SignExtend(v, width))
	}
	lo := e.Regs.ReadGP(RAX, width, false)
	hi := e.Regs.ReadGP(RDX, width, false)
	combined := (hi << width) | lo
	// sign-extend the 2*width-bit combined value
	signBit := uint64(1) << (2*width - 1)
	if combined&signBit != 0 {
		combined |= ^((signBit << 1) - 1)
	}
	return int64(combined), int64(bits.SignExtend(v, width))
}

func (e *Emulator) writeQuotientRemainder(width int, q, r uint64) {
	if width == Width8 {
		e.Regs.WriteGP(RAX, Width16, false, (r<<8)|(q&0xff))
		return
	}
	e.Regs.WriteGP(RAX, width, false, q)
	e.Regs.WriteGP(RDX, width, false, r)
}

// applyDAA implements the BCD adjust after addition on AL, per spec.md
// §4.3's documented two-step rule. The second step's ">0x99" check tests
// the original AL, not the value after the first adjustment.
func (e *Emulator) applyDAA() {
	al := e.Regs.ReadGP(RAX, Width8, false)
	origAL := al
	cf, af := e.Flg.CF(), e.Flg.AF()
	if (al&0xf) > 9 || af {
		al += 6
		af = true
	}
	if origAL > 0x99 || cf {
		al += 0x60
		cf = true
	}
	al &= 0xff
	e.Regs.WriteGP(RAX, Width8, false, al)
	e.Flg.SetCF(cf)
	e.Flg.SetAF(af)
	e.Flg.SetZF(al == 0)
	e.Flg.SetSF(bits.SignBit(al, Width8))
	e.Flg.SetPF(bits.Parity8(al))
}

// applyDAS mirrors applyDAA for subtraction.
func (e *Emulator) applyDAS() {
	al := e.Regs.ReadGP(RAX, Width8, false)
	origAL := al
	cf, af := e.Flg.CF(), e.Flg.AF()
	if (al&0xf) > 9 || af {
		al -= 6
		af = true
	}
	if origAL > 0x99 || cf {
		al -= 0x60
		cf = true
	}
	al &= 0xff
	e.Regs.WriteGP(RAX, Width8, false, al)
	e.Flg.SetCF(cf)
	e.Flg.SetAF(af)
	e.Flg.SetZF(al == 0)
	e.Flg.SetSF(bits.SignBit(al, Width8))
	e.Flg.SetPF(bits.Parity8(al))
}
