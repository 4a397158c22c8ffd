package cpu

import "github.com/hejops/x86emu/internal/bits"

// EFLAGS/RFLAGS bit positions (Intel SDM Vol. 1, §3.4.3).
const (
	flagCF = 0
	// bit 1 reserved, always reads as 1
	flagPF = 2
	flagAF = 4
	flagZF = 6
	flagSF = 7
	flagTF = 8
	flagIF = 9
	flagDF = 10
	flagOF = 11
	flagIOPLLo = 12
	flagIOPLHi = 13
	flagNT = 14
	flagRF = 16
)

// Flags holds the EFLAGS/RFLAGS bit field plus the lazy arithmetic record
// described in spec.md §3. The teacher models flags as named bool struct
// fields (Negative, Overflow, ...); we keep the same "named accessor"
// ergonomics but back them with a single packed word, since x86 flags are
// architecturally a bit field read/written wholesale by PUSHF/POPF and
// individual bits are read far more often than the whole word is built.
type Flags struct {
	word uint64 // bit 1 is kept at 1 at all times

	lazy lazyRecord
}

// lazyRecord remembers the last arithmetic operation so that an unread
// flag can be recomputed on demand instead of being written eagerly on
// every instruction. spec.md §9 recommends eager computation as the
// default and restricts lazy evaluation to arithmetic instructions only;
// this implementation computes eagerly (see arithmetic.go) and uses the
// record purely for introspection/debugging, never as the sole source of
// truth for a flag read.
type lazyRecord struct {
	valid    bool
	opClass  string
	width    int
	left     uint64
	right    uint64
	carryIn  uint64
	result   uint64
}

// NewFlags returns a Flags value with the reserved bit 1 set and
// interrupts disabled, the reset() default from spec.md §6.
func NewFlags() Flags {
	return Flags{word: 1 << 1}
}

func (f *Flags) Get(bit int) bool { return bits.Bit(f.word, bit) }
func (f *Flags) set(bit int, v bool) { f.word = bits.SetBit(f.word, bit, v) }

func (f *Flags) CF() bool { return f.Get(flagCF) }
func (f *Flags) PF() bool { return f.Get(flagPF) }
func (f *Flags) AF() bool { return f.Get(flagAF) }
func (f *Flags) ZF() bool { return f.Get(flagZF) }
func (f *Flags) SF() bool { return f.Get(flagSF) }
func (f *Flags) TF() bool { return f.Get(flagTF) }
func (f *Flags) IF() bool { return f.Get(flagIF) }
func (f *Flags) DF() bool { return f.Get(flagDF) }
func (f *Flags) OF() bool { return f.Get(flagOF) }
func (f *Flags) NT() bool { return f.Get(flagNT) }
func (f *Flags) RF() bool { return f.Get(flagRF) }

func (f *Flags) SetCF(v bool) { f.set(flagCF, v) }
func (f *Flags) SetPF(v bool) { f.set(flagPF, v) }
func (f *Flags) SetAF(v bool) { f.set(flagAF, v) }
func (f *Flags) SetZF(v bool) { f.set(flagZF, v) }
func (f *Flags) SetSF(v bool) { f.set(flagSF, v) }
func (f *Flags) SetTF(v bool) { f.set(flagTF, v) }
func (f *Flags) SetIF(v bool) { f.set(flagIF, v) }
func (f *Flags) SetDF(v bool) { f.set(flagDF, v) }
func (f *Flags) SetOF(v bool) { f.set(flagOF, v) }
func (f *Flags) SetNT(v bool) { f.set(flagNT, v) }
func (f *Flags) SetRF(v bool) { f.set(flagRF, v) }

// IOPL returns the 2-bit I/O privilege level field.
func (f *Flags) IOPL() int {
	return int(bits.Range(f.word, flagIOPLLo, flagIOPLHi))
}

// SetIOPL sets the 2-bit IOPL field (values outside [0,3] are masked).
func (f *Flags) SetIOPL(level int) {
	f.word = bits.Put(f.word, flagIOPLLo, 2, uint64(level)&0b11)
}

// Word returns the full flags register, with the reserved bit 1 forced to
// 1, suitable for PUSHF.
func (f *Flags) Word() uint64 {
	return f.word | (1 << 1)
}

// SetWord loads the full flags register from a POPF/IRET value. Bit 1 is
// always forced back to 1 regardless of the loaded value.
func (f *Flags) SetWord(v uint64) {
	f.word = v | (1 << 1)
}

// recordArith stashes the inputs and result of the last arithmetic op in
// the lazy record (spec.md §3/§9). Flag queries read the flag word, which
// the ALU helpers set directly; the record is not consulted to answer them.
func (f *Flags) recordArith(opClass string, width int, left, right, carryIn, result uint64) {
	f.lazy = lazyRecord{
		valid: true, opClass: opClass, width: width,
		left: left, right: right, carryIn: carryIn, result: result,
	}
}
