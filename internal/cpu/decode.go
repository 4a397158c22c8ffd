package cpu

import (
	"encoding/binary"
)

// decodeCursor reads sequential bytes from linear memory starting at a
// fixed base, tracking the raw bytes consumed so the resulting
// Instruction can be replayed byte-for-byte by the translation-block
// cache (spec.md §3, "Translation Block").
type decodeCursor struct {
	e       *Emulator
	base    uint64 // linear address of the first byte of this instruction
	offset  uint64 // bytes consumed so far
	raw     []byte
}

func newDecodeCursor(e *Emulator, base uint64) *decodeCursor {
	return &decodeCursor{e: e, base: base}
}

func (d *decodeCursor) u8() (byte, error) {
	v, err := d.e.MMU.Read8(d.base + d.offset)
	if err != nil {
		return 0, err
	}
	d.raw = append(d.raw, byte(v))
	d.offset++
	return byte(v), nil
}

func (d *decodeCursor) i8() (int8, error) {
	v, err := d.u8()
	return int8(v), err
}

func (d *decodeCursor) u16() (uint16, error) {
	lo, err := d.u8()
	if err != nil {
		return 0, err
	}
	hi, err := d.u8()
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16([]byte{lo, hi}), nil
}

func (d *decodeCursor) i16() (int16, error) {
	v, err := d.u16()
	return int16(v), err
}

func (d *decodeCursor) u32() (uint32, error) {
	var buf [4]byte
	for i := range buf {
		b, err := d.u8()
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func (d *decodeCursor) i32() (int32, error) {
	v, err := d.u32()
	return int32(v), err
}

func (d *decodeCursor) u64() (uint64, error) {
	var buf [8]byte
	for i := range buf {
		b, err := d.u8()
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// Instruction is the opcode descriptor the decoder hands to the execution
// core (spec.md §2: "opcode descriptor" and §4.3: "(context,
// decoded_instruction)").
type Instruction struct {
	Mnemonic string

	Opcode1 byte
	Opcode2 byte // second byte when Opcode1 == 0x0F
	HasOp2  bool

	HasModRM bool
	RegField   int
	RM         EffectiveOperand
	RegOperand EffectiveOperand // reg-field operand, Reg/RegHighByte only

	HasImm   bool
	Imm      uint64
	ImmWidth int // bits

	HasDisp   bool
	BranchDisp int64 // sign-extended branch displacement (Jcc/JMP/CALL)

	OperandWidth int
	AddressWidth int

	StartIP uint64 // linear IP of the first byte (== decodeCursor.base)
	NextIP  uint64 // linear IP immediately after the fully decoded instruction
	Length  int
	Raw     []byte

	Handler OpcodeHandler
}

// OpcodeHandler implements one instruction family's semantics (spec.md
// §4.3: "Handlers accept (context, decoded_instruction) and return an
// ExecutionStatus").
type OpcodeHandler func(e *Emulator, ins *Instruction) (ExecutionStatus, error)

// isLegacyPrefix reports whether b is one of the legacy prefix-group
// bytes enumerated in spec.md §4.1 (segment override, operand/address
// size, LOCK, REP/REPNE).
func isLegacyPrefix(b byte) (segOverride *SegReg, isOperandSize, isAddrSize, isLock, isRep bool) {
	switch b {
	case 0x2E:
		s := SegCS
		return &s, false, false, false, false
	case 0x36:
		s := SegSS
		return &s, false, false, false, false
	case 0x3E:
		s := SegDS
		return &s, false, false, false, false
	case 0x26:
		s := SegES
		return &s, false, false, false, false
	case 0x64:
		s := SegFS
		return &s, false, false, false, false
	case 0x65:
		s := SegGS
		return &s, false, false, false, false
	case 0x66:
		return nil, true, false, false, false
	case 0x67:
		return nil, false, true, false, false
	case 0xF0:
		return nil, false, false, true, false
	case 0xF2, 0xF3:
		return nil, false, false, false, true
	}
	return nil, false, false, false, false
}

// DecodeOne implements the Decoder contract of spec.md §4.1: it consumes
// bytes starting at the current IP and returns either a full opcode
// descriptor (StatusSuccess) or, having consumed exactly one prefix byte,
// StatusContinue. Each prefix is recorded on CPUContext as soon as it is
// consumed, so REX and the legacy overrides all survive a CONTINUE; a
// later prefix of the same group replaces an earlier one (a later segment
// override wins), and the dispatcher clears them once the terminal
// instruction completes.
func (e *Emulator) DecodeOne() (*Instruction, ExecutionStatus, error) {
	linear := e.codeLinearIP()
	b, err := e.MMU.Read8(linear)
	if err != nil {
		return nil, StatusFault, err
	}

	if seg, isOpSz, isAddrSz, isLock, isRep := isLegacyPrefix(byte(b)); true {
		if seg != nil || isOpSz || isAddrSz || isLock || isRep {
			e.Ctx.Rex = nil // a legacy prefix after REX discards REX
		}
		switch {
		case seg != nil:
			e.Ctx.ov.segmentOverride = seg
			e.Regs.RIP++
			return nil, StatusContinue, nil
		case isOpSz:
			e.Ctx.ov.operandSizeOverride = !e.Ctx.ov.operandSizeOverride
			e.Regs.RIP++
			return nil, StatusContinue, nil
		case isAddrSz:
			e.Ctx.ov.addressSizeOverride = !e.Ctx.ov.addressSizeOverride
			e.Regs.RIP++
			return nil, StatusContinue, nil
		case isLock:
			e.Ctx.ov.lock = true
			e.Regs.RIP++
			return nil, StatusContinue, nil
		case isRep:
			e.Ctx.ov.repPrefix = byte(b)
			e.Regs.RIP++
			return nil, StatusContinue, nil
		}
	}

	if e.Ctx.Mode == ModeLong64 && byte(b) >= 0x40 && byte(b) <= 0x4F {
		// REX must be the last prefix before the opcode (spec.md
		// §4.1): a legacy prefix consumed by a later DecodeOne call
		// drops the Rex recorded here (see the prefix branch above),
		// and the dispatcher clears Rex at the end of every terminal
		// instruction.
		e.Ctx.Rex = &RexPrefix{
			W: b&0x08 != 0, R: b&0x04 != 0, X: b&0x02 != 0, B: b&0x01 != 0,
		}
		e.Regs.RIP++
		return nil, StatusContinue, nil
	}

	// Terminal: decode the full instruction body starting here.
	cur := newDecodeCursor(e, linear)
	ins, err := e.decodeBody(cur)
	if err != nil {
		return nil, StatusFault, err
	}
	ins.StartIP = linear
	ins.Length = len(cur.raw)
	ins.Raw = cur.raw
	ins.NextIP = linear + uint64(ins.Length)
	return ins, StatusSuccess, nil
}

// codeLinearIP resolves the linear address of the current fetch cursor:
// CS base (0 in 64-bit mode, selector<<4 in real mode, descriptor base in
// protected mode) plus RIP.
func (e *Emulator) codeLinearIP() uint64 {
	if e.Ctx.Mode == ModeLong64 {
		return e.Regs.RIP
	}
	return e.Ctx.Seg[SegCS].Base + e.Regs.RIP
}

// decodeBody decodes the opcode byte (and, for 0x0F, the second byte),
// dispatches to the matching table entry to learn whether ModR/M,
// immediate, or branch-displacement bytes follow, and builds the
// Instruction. This is the "opcode table" of spec.md §4.1: one-byte map
// with two-byte (0F) extension and ModR/M-group fan-out.
func (e *Emulator) decodeBody(d *decodeCursor) (*Instruction, error) {
	op1, err := d.u8()
	if err != nil {
		return nil, err
	}

	ins := &Instruction{Opcode1: op1}
	ins.OperandWidth = e.Ctx.effectiveOperandSize()
	ins.AddressWidth = e.Ctx.effectiveAddressSize()

	var entry opcodeEntry
	if op1 == 0x0F {
		op2, err := d.u8()
		if err != nil {
			return nil, err
		}
		ins.Opcode2 = op2
		ins.HasOp2 = true
		entry = secondaryTable[op2]
	} else {
		entry = primaryTable[op1]
	}

	if entry.decode == nil && entry.exec == nil {
		return nil, &UndefinedOpcode{Byte: op1, Offset: d.base}
	}
	if entry.decode != nil {
		if err := entry.decode(e, d, ins); err != nil {
			return nil, err
		}
	}
	ins.Mnemonic = entry.name
	ins.Handler = entry.exec
	return ins, nil
}
