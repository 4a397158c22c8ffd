package cpu

// execClc, execStc, execCmc implement CLC/STC/CMC: set/clear/complement
// CF only (spec.md §4.3).
func execClc(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Flg.SetCF(false)
	return StatusSuccess, nil
}

func execStc(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Flg.SetCF(true)
	return StatusSuccess, nil
}

func execCmc(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Flg.SetCF(!e.Flg.CF())
	return StatusSuccess, nil
}

func execCld(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Flg.SetDF(false)
	return StatusSuccess, nil
}

func execStd(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	e.Flg.SetDF(true)
	return StatusSuccess, nil
}

// execCli implements CLI: clear IF, faulting #GP if CPL > IOPL in
// protected/long mode (spec.md §4.3).
func execCli(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if e.Ctx.Mode != ModeReal && e.Ctx.CPL > e.Ctx.IOPL {
		return e.raiseFault(newFault(FaultGP, "CLI with CPL>IOPL"))
	}
	e.Flg.SetIF(false)
	e.Ctx.InterruptDeliveryBlock = false
	return StatusSuccess, nil
}

// execSti implements STI: set IF and arm the interrupt-delivery block for
// one instruction boundary (spec.md §4.3).
func execSti(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	if e.Ctx.Mode != ModeReal && e.Ctx.CPL > e.Ctx.IOPL {
		return e.raiseFault(newFault(FaultGP, "STI with CPL>IOPL"))
	}
	e.Flg.SetIF(true)
	e.Ctx.InterruptDeliveryBlock = true
	return StatusSuccess, nil
}

func execNop(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	return StatusSuccess, nil
}

func execHlt(e *Emulator, ins *Instruction) (ExecutionStatus, error) {
	return StatusHalt, nil
}
