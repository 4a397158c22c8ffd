package cpu

// condCode identifies one Jcc condition (spec.md §4.3's sample list, plus
// the remaining standard Intel conditions needed to cover the 70-7F/
// 0F80-8F ranges completely).
type condCode int

const (
	condO condCode = iota
	condNO
	condC // CF
	condNC
	condZ
	condNZ
	condBE // CF|ZF
	condA  // !CF & !ZF
	condS
	condNS
	condP
	condNP
	condL  // SF != OF
	condGE // SF == OF
	condLE // ZF | (SF != OF)
	condG  // !ZF & SF == OF
)

func (e *Emulator) evalCond(c condCode) bool {
	switch c {
	case condO:
		return e.Flg.OF()
	case condNO:
		return !e.Flg.OF()
	case condC:
		return e.Flg.CF()
	case condNC:
		return !e.Flg.CF()
	case condZ:
		return e.Flg.ZF()
	case condNZ:
		return !e.Flg.ZF()
	case condBE:
		return e.Flg.CF() || e.Flg.ZF()
	case condA:
		return !e.Flg.CF() && !e.Flg.ZF()
	case condS:
		return e.Flg.SF()
	case condNS:
		return !e.Flg.SF()
	case condP:
		return e.Flg.PF()
	case condNP:
		return !e.Flg.PF()
	case condL:
		return e.Flg.SF() != e.Flg.OF()
	case condGE:
		return e.Flg.SF() == e.Flg.OF()
	case condLE:
		return e.Flg.ZF() || (e.Flg.SF() != e.Flg.OF())
	case condG:
		return !e.Flg.ZF() && (e.Flg.SF() == e.Flg.OF())
	default:
		return false
	}
}

// condTable maps the low nibble of Jcc's opcode byte (70-7F / 0F 80-8F)
// to its condition, per Intel's standard Jcc encoding.
var condTable = [16]condCode{
	condO, condNO, condC, condNC, condZ, condNZ, condBE, condA,
	condS, condNS, condP, condNP, condL, condGE, condLE, condG,
}

// execJmpNear implements unconditional JMP near (spec.md §4.3): IP <-
// IP_after + signed displacement. ins.NextIP already reflects IP_after
// since the dispatcher's default RIP advance ran before this handler.
func execJmpNear(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Regs.RIP = uint64(int64(ins.NextIP) + ins.BranchDisp)
	return StatusSuccess, nil
}

// execJcc implements the short conditional jumps (70-7F), taking the
// condition from the low nibble of the opcode byte.
func execJcc(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if e.evalCond(condTable[ins.Opcode1&0xf]) {
		e.Regs.RIP = uint64(int64(ins.NextIP) + ins.BranchDisp)
	}
	return StatusSuccess, nil
}

// execJmpRM implements JMP r/m (FF /4): indirect near jump.
func execJmpRM(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	target, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	e.Regs.RIP = target
	return StatusSuccess, nil
}

// execCallNear implements CALL near (E8): push return IP at stack-operand
// width, set IP (spec.md §4.3).
func execCallNear(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	ret := ins.NextIP
	if err := e.pushValue(e.Ctx.stackWidth(), ret); err != nil {
		return StatusFault, err
	}
	e.Regs.RIP = uint64(int64(ins.NextIP) + ins.BranchDisp)
	return StatusSuccess, nil
}

// execCallRM implements CALL r/m (FF /2): indirect near call.
func execCallRM(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	target, err := e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
	if err != nil {
		return StatusFault, err
	}
	if err := e.pushValue(e.Ctx.stackWidth(), ins.NextIP); err != nil {
		return StatusFault, err
	}
	e.Regs.RIP = target
	return StatusSuccess, nil
}

// execRet implements RET (C3): pop IP.
func execRet(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	ip, err := e.popValue(e.Ctx.stackWidth())
	if err != nil {
		return StatusFault, err
	}
	e.Regs.RIP = ip
	return StatusSuccess, nil
}

// execRetImm implements RET imm16 (C2): pop IP then add imm16 to (R)SP.
func execRetImm(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	ip, err := e.popValue(e.Ctx.stackWidth())
	if err != nil {
		return StatusFault, err
	}
	e.Regs.RIP = ip
	sp := e.Regs.ReadGP(RSP, Width64, false) + ins.Imm
	e.Regs.WriteGP(RSP, Width64, false, sp)
	return StatusSuccess, nil
}

// execJmpFar implements JMP FAR (EA / FF /5) per spec.md §4.3 and P8: load
// CS from selector and IP from offset, and in protected/long mode cache
// the new CS descriptor and refresh the context's default sizes from it.
func execJmpFar(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	var selector uint16
	var offset uint64
	var err error
	if ins.HasModRM {
		offset, err = e.readOperand(&ins.RM, ins.OperandWidth, ins.AddressWidth)
		if err != nil {
			return StatusFault, err
		}
		linear := e.resolveLinearAddress(&ins.RM, ins.AddressWidth) + uint64(ins.OperandWidth/8)
		selWide, err := e.MMU.Read16(linear)
		if err != nil {
			return StatusFault, err
		}
		selector = uint16(selWide)
	} else {
		selector = uint16(ins.Imm >> 32)
		offset = ins.Imm & 0xffffffff
	}

	e.Regs.WriteSeg(SegCS, selector)
	e.Regs.RIP = offset

	if e.Ctx.Mode != ModeReal {
		desc := e.loadDescriptor(selector)
		e.Ctx.Seg[SegCS] = desc
		if desc.DefaultSize == 64 {
			e.Ctx.DefaultOperandSize = 32
			e.Ctx.DefaultAddressSize = 64
		} else {
			e.Ctx.DefaultOperandSize = desc.DefaultSize
			e.Ctx.DefaultAddressSize = desc.DefaultSize
		}
	}
	e.TBCache.Clear()
	return StatusSuccess, nil
}

// loadDescriptor reads an 8-byte GDT descriptor for selector (index *
// 8 + GDTRBase), per spec.md §6's "GDT code/data/TSS descriptors follow
// Intel SDM encodings exactly". Only the fields this core models
// (base/limit/present/default-size/DPL/type/L) are extracted.
func (e *Emulator) loadDescriptor(selector uint16) SegDescriptor {
	index := uint64(selector >> 3)
	addr := e.Regs.GDTRBase + index*8
	lo, _ := e.MMU.Read32(addr)
	hi, _ := e.MMU.Read32(addr + 4)

	baseLow := (lo >> 16) & 0xffff
	baseMid := hi & 0xff
	baseHigh := (hi >> 24) & 0xff
	fullBase := baseLow | (baseMid << 16) | (baseHigh << 24)

	limitLow := lo & 0xffff
	limitHigh := (hi >> 16) & 0xf
	limit := limitLow | (limitHigh << 16)

	access := (hi >> 8) & 0xff
	flags := (hi >> 20) & 0xf

	if flags&0x8 != 0 { // G=1: limit is in 4KiB pages
		limit = (limit << 12) | 0xfff
	}

	present := access&0x80 != 0
	dpl := int((access >> 5) & 0x3)
	typ := uint8(access & 0xf)
	longMode := flags&0x2 != 0
	defSize := 16
	switch {
	case longMode:
		defSize = 64
	case flags&0x4 != 0:
		defSize = 32
	}

	return SegDescriptor{
		Base: fullBase, Limit: uint32(limit), Present: present,
		DefaultSize: defSize, DPL: dpl, Type: typ, LongMode: longMode,
	}
}
