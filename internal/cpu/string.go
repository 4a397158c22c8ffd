package cpu

import "github.com/hejops/x86emu/internal/bits"

// stringStep advances the index registers used by a string instruction by
// the element's byte width, in the direction DF selects (spec.md §4.8).
func (e *Emulator) stringStep(reg Reg, width int, addrSize int) {
	delta := int64(width / 8)
	if e.Flg.DF() {
		delta = -delta
	}
	cur := int64(e.Regs.ReadGP(reg, addrSize, false))
	e.Regs.WriteGP(reg, addrSize, false, uint64(cur+delta)&bits.Mask(addrSize))
}

func (e *Emulator) counterReg() Reg { return RCX }

func (e *Emulator) readCounter(addrSize int) uint64 {
	return e.Regs.ReadGP(e.counterReg(), addrSize, false)
}

func (e *Emulator) writeCounter(addrSize int, v uint64) {
	e.Regs.WriteGP(e.counterReg(), addrSize, false, v)
}

// dsLinear / esLinear resolve the DS:(R)SI and ES:(R)DI addresses used by
// string instructions, honoring a DS segment override but never an ES
// override for the destination (ES:DI is architecturally fixed).
func (e *Emulator) dsLinear(addrSize int) uint64 {
	si := e.Regs.ReadGP(RSI, addrSize, false)
	seg := e.Ctx.segmentFor(SegDS)
	if e.Ctx.Mode == ModeLong64 && seg != SegFS && seg != SegGS {
		return si
	}
	return e.Ctx.Seg[seg].Base + si
}

func (e *Emulator) esLinear(addrSize int) uint64 {
	di := e.Regs.ReadGP(RDI, addrSize, false)
	if e.Ctx.Mode == ModeLong64 {
		return di
	}
	return e.Ctx.Seg[SegES].Base + di
}

// runRepLoop executes body once per iteration per the counter/termination
// rules in spec.md §4.8: decrement-then-check, REP stopping only on
// counter zero, REPE/REPNE additionally stopping on ZF. repeConditional
// is true for CMPS/SCAS where the prefix byte's REPE/REPNE meaning
// applies; false for MOVS/STOS/LODS where F3 simply means REP.
func (e *Emulator) runRepLoop(ins *Instruction, repeConditional bool, body func()) (ExecutionStatus, error) {
	prefix := e.Ctx.ov.repPrefix
	if prefix == 0 {
		body()
		return StatusSuccess, nil
	}

	addrSize := ins.AddressWidth
	for {
		count := e.readCounter(addrSize)
		if count == 0 {
			break
		}
		body()
		count--
		e.writeCounter(addrSize, count)
		if count == 0 {
			break
		}
		if repeConditional {
			if prefix == 0xF3 && !e.Flg.ZF() { // REPE
				break
			}
			if prefix == 0xF2 && e.Flg.ZF() { // REPNE
				break
			}
		}
	}
	return StatusSuccess, nil
}

// execMovs implements MOVS (spec.md §4.8): copy [DS:(R)SI] -> [ES:(R)DI].
// Bulk optimization applies when DF=0 and the remaining run does not
// straddle a page boundary: one bulk copy replaces the per-element loop,
// leaving index registers, counter, and flags identical to the
// per-iteration path (spec.md §4.8).
func execMovs(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := ins.OperandWidth
	addrSize := ins.AddressWidth

	if e.Ctx.ov.repPrefix != 0 && !e.Flg.DF() {
		if ok, err := e.bulkMovs(w, addrSize); ok {
			return StatusSuccess, err
		}
	}

	var stepErr error
	status, err := e.runRepLoop(ins, false, func() {
		val, rerr := e.MMU.ReadWidth(e.dsLinear(addrSize), w/8)
		if rerr != nil {
			stepErr = rerr
			return
		}
		if werr := e.MMU.WriteWidth(e.esLinear(addrSize), w/8, val); werr != nil {
			stepErr = werr
			return
		}
		e.stringStep(RSI, w, addrSize)
		e.stringStep(RDI, w, addrSize)
	})
	if stepErr != nil {
		return StatusFault, stepErr
	}
	return status, err
}

// bulkMovs implements the memmove-like fast path of spec.md §4.8: it
// applies only when the whole remaining run, for both source and
// destination, stays within a single page, matching the per-iteration
// path's observable effect exactly.
func (e *Emulator) bulkMovs(w, addrSize int) (bool, error) {
	count := e.readCounter(addrSize)
	if count == 0 {
		return true, nil
	}
	elemBytes := uint64(w / 8)
	runBytes := count * elemBytes
	srcStart := e.dsLinear(addrSize)
	dstStart := e.esLinear(addrSize)
	if crossesPage(srcStart, runBytes) || crossesPage(dstStart, runBytes) {
		return false, nil
	}
	// dst inside (src, src+runBytes) is a forward-overlapping move: a
	// read-all-then-write-all buffer copy would diverge from what
	// consecutive per-iteration MOVSB produces (spec.md §4.8's "bit
	// identical to C consecutive MOVSB"). Fall back to the per-iteration
	// loop, mirroring matchBackwardMemmove's DF=1 overlap handling.
	if dstStart > srcStart && dstStart < srcStart+runBytes {
		return false, nil
	}

	buf := make([]byte, runBytes)
	for i := uint64(0); i < runBytes; i++ {
		v, err := e.MMU.ReadWidth(srcStart+i, 1)
		if err != nil {
			return true, err
		}
		buf[i] = byte(v)
	}
	for i := uint64(0); i < runBytes; i++ {
		if err := e.MMU.WriteWidth(dstStart+i, 1, uint64(buf[i])); err != nil {
			return true, err
		}
	}

	e.Regs.WriteGP(RSI, addrSize, false, e.Regs.ReadGP(RSI, addrSize, false)+runBytes)
	e.Regs.WriteGP(RDI, addrSize, false, e.Regs.ReadGP(RDI, addrSize, false)+runBytes)
	e.writeCounter(addrSize, 0)
	return true, nil
}

func crossesPage(start, n uint64) bool {
	if n == 0 {
		return false
	}
	return start/4096 != (start+n-1)/4096
}

// execStos implements STOS: write the accumulator to [ES:(R)DI].
func execStos(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := ins.OperandWidth
	addrSize := ins.AddressWidth
	av := e.Regs.ReadGP(RAX, w, false)

	var stepErr error
	status, err := e.runRepLoop(ins, false, func() {
		if werr := e.MMU.WriteWidth(e.esLinear(addrSize), w/8, av); werr != nil {
			stepErr = werr
			return
		}
		e.stringStep(RDI, w, addrSize)
	})
	if stepErr != nil {
		return StatusFault, stepErr
	}
	return status, err
}

// execLods implements LODS: load [DS:(R)SI] into AL/AX/EAX/RAX.
func execLods(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := ins.OperandWidth
	addrSize := ins.AddressWidth

	var stepErr error
	status, err := e.runRepLoop(ins, false, func() {
		v, rerr := e.MMU.ReadWidth(e.dsLinear(addrSize), w/8)
		if rerr != nil {
			stepErr = rerr
			return
		}
		e.Regs.WriteGP(RAX, w, false, v)
		e.stringStep(RSI, w, addrSize)
	})
	if stepErr != nil {
		return StatusFault, stepErr
	}
	return status, err
}

// execScas implements SCAS: subtract [ES:(R)DI] from the accumulator for
// flag purposes only.
func execScas(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := ins.OperandWidth
	addrSize := ins.AddressWidth

	var stepErr error
	status, err := e.runRepLoop(ins, true, func() {
		v, rerr := e.MMU.ReadWidth(e.esLinear(addrSize), w/8)
		if rerr != nil {
			stepErr = rerr
			return
		}
		a := e.Regs.ReadGP(RAX, w, false)
		e.applyALU(aluCMP, w, a, v)
		e.stringStep(RDI, w, addrSize)
	})
	if stepErr != nil {
		return StatusFault, stepErr
	}
	return status, err
}

// execCmps implements CMPS: subtract [ES:(R)DI] from [DS:(R)SI] for flag
// purposes only.
func execCmps(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	w := ins.OperandWidth
	addrSize := ins.AddressWidth

	var stepErr error
	status, err := e.runRepLoop(ins, true, func() {
		a, rerr := e.MMU.ReadWidth(e.dsLinear(addrSize), w/8)
		if rerr != nil {
			stepErr = rerr
			return
		}
		b, rerr2 := e.MMU.ReadWidth(e.esLinear(addrSize), w/8)
		if rerr2 != nil {
			stepErr = rerr2
			return
		}
		e.applyALU(aluCMP, w, a, b)
		e.stringStep(RSI, w, addrSize)
		e.stringStep(RDI, w, addrSize)
	})
	if stepErr != nil {
		return StatusFault, stepErr
	}
	return status, err
}
