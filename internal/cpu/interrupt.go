package cpu

import "github.com/hejops/x86emu/internal/bits"

// gateDescriptor is the subset of an IDT gate this core models (spec.md
// §4.4): present, DPL, target selector/offset, and gate type (interrupt
// vs trap, which decides whether IF is cleared on entry).
type gateDescriptor struct {
	Present     bool
	DPL         int
	Selector    uint16
	Offset      uint64
	IsInterrupt bool // false => trap gate (IF unchanged)
}

// loadGate reads IDT[vector]: 8 bytes in protected mode, 16 in long mode
// (spec.md §4.4).
func (e *Emulator) loadGate(vector uint8) (gateDescriptor, error) {
	var g gateDescriptor
	size := uint64(8)
	if e.Ctx.Mode == ModeLong64 {
		size = 16
	}
	addr := e.Regs.IDTRBase + uint64(vector)*size

	lo, err := e.MMU.Read32(addr)
	if err != nil {
		return g, err
	}
	hi, err := e.MMU.Read32(addr + 4)
	if err != nil {
		return g, err
	}

	offsetLow := lo >> 16
	offsetHigh := hi & 0xffff0000
	g.Offset = offsetLow | offsetHigh
	g.Selector = uint16(lo & 0xffff)

	access := (hi >> 8) & 0xff
	g.Present = access&0x80 != 0
	g.DPL = int((access >> 5) & 0x3)
	typ := access & 0xf
	g.IsInterrupt = typ == 0xe || typ == 0x6

	if e.Ctx.Mode == ModeLong64 {
		off64, err := e.MMU.Read32(addr + 8)
		if err != nil {
			return g, err
		}
		g.Offset |= off64 << 32
		// the IST selector field (gate dword 1, bits 0-2) is not
		// separately modeled: stack switches always use TSSRSP[newCPL],
		// per the note in DESIGN.md on IST support.
	}
	return g, nil
}

// deliverInterrupt implements the shared INT n / hardware-interrupt entry
// path of spec.md §4.4. software indicates whether the DPL>=CPL check
// applies (only for software INT n, per spec.md).
func (e *Emulator) deliverInterrupt(vector uint8, software bool, errorCode uint32, hasError bool) error {
	if e.Interrupts != nil {
		if handled, err := e.Interrupts.Service(vector); err != nil || handled {
			return err
		}
	}

	gate, err := e.loadGate(vector)
	if err != nil {
		return err
	}
	if !gate.Present {
		return newFaultWithCode(FaultGP, uint32(vector)*8+2, "non-present gate")
	}
	if software && gate.DPL < e.Ctx.CPL {
		return newFaultWithCode(FaultGP, uint32(vector)*8+2, "gate DPL < CPL")
	}

	targetDesc := e.loadDescriptor(gate.Selector)
	if !targetDesc.Present {
		return newFaultWithCode(FaultNP, uint32(gate.Selector), "target segment not present")
	}

	oldCPL := e.Ctx.CPL
	newCPL := targetDesc.DPL
	stackWidth := e.Ctx.stackWidth()

	oldSS := e.Regs.ReadSeg(SegSS)
	oldRSP := e.Regs.ReadGP(RSP, Width64, false)
	oldRIP := e.Regs.RIP
	oldCS := e.Regs.ReadSeg(SegCS)
	oldFlags := e.Flg.Word()

	if newCPL < oldCPL {
		newRSP := e.Ctx.TSSRSP[newCPL]
		if e.Ctx.Mode == ModeLong64 {
			newRSP &^= 0xf // 16-byte align
			e.Regs.WriteSeg(SegSS, 0)
		}
		e.Regs.WriteGP(RSP, Width64, false, newRSP)
	}

	if err := e.pushValue(stackWidth, uint64(oldSS)); err != nil {
		return err
	}
	if err := e.pushValue(stackWidth, oldRSP); err != nil {
		return err
	}
	if err := e.pushValue(stackWidth, oldFlags); err != nil {
		return err
	}
	if err := e.pushValue(stackWidth, uint64(oldCS)); err != nil {
		return err
	}
	if err := e.pushValue(stackWidth, oldRIP); err != nil {
		return err
	}
	if hasError {
		if err := e.pushValue(stackWidth, uint64(errorCode)); err != nil {
			return err
		}
	}

	e.Regs.WriteSeg(SegCS, gate.Selector)
	e.Regs.RIP = gate.Offset
	e.Ctx.Seg[SegCS] = targetDesc
	e.Ctx.CPL = newCPL

	if gate.IsInterrupt {
		e.Flg.SetIF(false)
	}
	e.TBCache.Clear()
	return nil
}

// execInt implements INT n/INT3 (spec.md §4.4).
func execInt(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	vector := uint8(ins.Imm)
	if err := e.deliverInterrupt(vector, true, 0, false); err != nil {
		return StatusFault, err
	}
	return StatusSuccess, nil
}

// execIret implements IRET/IRETQ (spec.md §4.4): pop RIP, CS, RFLAGS, and
// (if privilege change or long mode) RSP, SS. Restoring RFLAGS from a
// less-privileged caller masks IOPL and IF changes below IOPL.
func execIret(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := e.Ctx.stackWidth()

	rip, err := e.popValue(w)
	if err != nil {
		return StatusFault, err
	}
	cs, err := e.popValue(w)
	if err != nil {
		return StatusFault, err
	}
	flags, err := e.popValue(w)
	if err != nil {
		return StatusFault, err
	}

	newCS := uint16(cs)
	newDesc := e.loadDescriptor(newCS)
	newCPL := newDesc.DPL
	oldCPL := e.Ctx.CPL

	if newCPL > oldCPL || e.Ctx.Mode == ModeLong64 {
		rsp, err := e.popValue(w)
		if err != nil {
			return StatusFault, err
		}
		ss, err := e.popValue(w)
		if err != nil {
			return StatusFault, err
		}
		e.Regs.WriteGP(RSP, Width64, false, rsp)
		e.Regs.WriteSeg(SegSS, uint16(ss))
	}

	if newCPL > oldCPL {
		flags = e.maskPrivilegedFlags(flags, oldCPL)
	}

	e.Regs.WriteSeg(SegCS, newCS)
	e.Regs.RIP = rip
	e.Ctx.Seg[SegCS] = newDesc
	e.Ctx.CPL = newCPL
	e.Flg.SetWord(flags)
	e.TBCache.Clear()
	return StatusSuccess, nil
}

// maskPrivilegedFlags implements the IRET privilege-downgrade rule in
// spec.md §4.4: the executing CPL (oldCPL, the CPL IRET runs at before the
// transition) keeps IOPL unchanged unless it is 0, and keeps IF unchanged
// unless it is <= the current IOPL.
func (e *Emulator) maskPrivilegedFlags(flags uint64, oldCPL int) uint64 {
	if oldCPL != 0 {
		flags = bits.Put(flags, flagIOPLLo, 2, uint64(e.Ctx.IOPL))
	}
	if oldCPL > e.Ctx.IOPL {
		flags = bits.SetBit(flags, flagIF, e.Flg.IF())
	}
	return flags
}
