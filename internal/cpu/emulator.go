package cpu

import (
	"go.uber.org/zap"

	"github.com/hejops/x86emu/internal/hostio"
	"github.com/hejops/x86emu/internal/mem"
)

// Options mirrors the set_option() knobs in spec.md §6: everything the
// host can tune about how step() behaves, short of architectural state.
type Options struct {
	StopAfterInsns          uint64 // 0 means unlimited
	StopOnRspBelowThreshold uint64 // 0 disables the guard
	TraceExecution          bool

	// EnablePatternRecognizer turns on the optional peephole layer
	// (spec.md §4.6) that substitutes known byte sequences with an
	// equivalent specialized routine instead of decoding them
	// instruction-by-instruction.
	EnablePatternRecognizer bool
}

// Emulator is the Host <-> Core aggregate named throughout spec.md §6: the
// register file, flag state, operating-mode context, memory interface, and
// the host collaborators the core calls out to. It is the receiver for
// every decode/operand/execute method, mirroring the way the teacher hangs
// the whole NES pipeline off *Cpu.
type Emulator struct {
	Regs *RegisterFile
	Flg  Flags
	Ctx  *CPUContext
	MMU  *mem.MMU

	TBCache *TBCache

	PortIO      hostio.PortIO
	Interrupts  hostio.InterruptService

	Opts Options

	insnCount uint64

	log *zap.Logger
}

// New constructs an Emulator over the given physical memory size, wired
// with no-op host collaborators (the host overrides PortIO/Interrupts
// after construction, per spec.md §6's "optional override" language) and
// the given logger (a no-op logger when log is nil). It calls Reset, so
// the returned Emulator starts at the architectural defaults.
func New(physMemSize int, log *zap.Logger) *Emulator {
	if log == nil {
		log = zap.NewNop()
	}
	bus := mem.NewBus(physMemSize)
	e := &Emulator{
		Regs:       &RegisterFile{},
		MMU:        mem.NewMMU(bus),
		TBCache:    NewTBCache(),
		PortIO:     hostio.NopPortIO{},
		Interrupts: hostio.NopInterruptService{},
		log:        log,
	}
	e.Reset()
	return e
}

// Reset implements reset() from spec.md §6: real mode, CS:IP = F000:FFF0,
// A20 off, paging off, flags with only the reserved bit set.
func (e *Emulator) Reset() {
	e.Regs = &RegisterFile{}
	e.Flg = NewFlags()
	e.Ctx = NewCPUContext()
	e.Ctx.Seg[SegCS] = SegDescriptor{Base: 0xf0000, Limit: 0xffff, Present: true, DefaultSize: 16}
	e.Regs.WriteSeg(SegCS, 0xf000)
	e.Regs.RIP = 0xfff0
	e.MMU.A20Enabled = false
	e.MMU.PagingEnabled = false
	e.TBCache.Clear()
	e.insnCount = 0
	e.log.Debug("core reset", zap.Uint64("rip", e.Regs.RIP))
}

// ConfigureMode implements configure_mode() from spec.md §6, switching
// between real, protected, compatibility, and 64-bit mode. A mode change
// invalidates the translation-block cache (spec.md §4.5) since the linear
// address meaning tied to cached blocks can change with it.
func (e *Emulator) ConfigureMode(m Mode) {
	e.Ctx.Mode = m
	switch m {
	case ModeReal:
		e.Ctx.DefaultOperandSize = 16
		e.Ctx.DefaultAddressSize = 16
	case ModeProtected, ModeCompatibility:
		e.Ctx.DefaultOperandSize = 32
		e.Ctx.DefaultAddressSize = 32
	case ModeLong64:
		e.Ctx.DefaultOperandSize = 32
		e.Ctx.DefaultAddressSize = 64
		e.MMU.LongMode = true
	}
	e.TBCache.Clear()
}

// SetOption implements set_option() from spec.md §6.
func (e *Emulator) SetOption(opts Options) {
	e.Opts = opts
}

// LoadMemory implements load_memory() from spec.md §6: a raw copy into the
// linear address space, bypassing segmentation and paging.
func (e *Emulator) LoadMemory(addr uint64, data []byte) error {
	return e.MMU.LoadMemory(addr, data)
}

// GetRegister and SetRegister implement the architectural state access
// named in spec.md §6, at a caller-chosen width.
func (e *Emulator) GetRegister(r Reg, width int) uint64 {
	return e.Regs.ReadGP(r, width, false)
}

func (e *Emulator) SetRegister(r Reg, width int, val uint64) {
	e.Regs.WriteGP(r, width, false, val)
}

func (e *Emulator) GetFlag(bit int) bool { return e.Flg.Get(bit) }
func (e *Emulator) SetFlag(bit int, v bool) { e.Flg.set(bit, v) }

// Step implements step() from spec.md §6: decode and execute exactly one
// instruction, looping internally over any CONTINUE statuses the decoder
// yields for prefix bytes, and over the translation-block cache when a
// decoded instruction already lives there (spec.md §4.5).
func (e *Emulator) Step() (ExecutionStatus, error) {
	if e.Opts.StopAfterInsns != 0 && e.insnCount >= e.Opts.StopAfterInsns {
		return StatusHalt, nil
	}
	if e.Opts.StopOnRspBelowThreshold != 0 && e.Regs.ReadGP(RSP, Width64, false) < e.Opts.StopOnRspBelowThreshold {
		return StatusHalt, nil
	}
	if e.Ctx.InterruptDeliveryBlock {
		defer func() { e.Ctx.InterruptDeliveryBlock = false }()
	}

	entryIP := e.codeLinearIP()
	if tb, ok := e.TBCache.Lookup(entryIP); ok {
		status, err := e.replay(tb)
		if status != StatusContinue {
			e.Ctx.clearOverrides(true)
		}
		if err == nil && status != StatusFault {
			e.insnCount++
		}
		return status, err
	}

	if matched, status, err := e.tryPattern(entryIP); matched {
		if err == nil && status != StatusFault {
			e.insnCount++
		}
		return status, err
	}

	var ins *Instruction
	for {
		decoded, status, err := e.DecodeOne()
		if err != nil {
			return e.handleDecodeError(err)
		}
		if status == StatusContinue {
			continue
		}
		ins = decoded
		break
	}

	// Prefix overrides live on CPUContext, not in the Instruction, so only
	// instructions decoded without them are cached for replay.
	if e.Ctx.ov == (overrides{}) {
		e.TBCache.Record(entryIP, ins)
	}

	status, err := e.dispatch(ins)
	e.Ctx.clearOverrides(true)
	if err == nil && status != StatusFault {
		e.insnCount++
		if e.Opts.TraceExecution {
			e.log.Debug("step",
				zap.String("mnemonic", ins.Mnemonic),
				zap.Uint64("rip", ins.StartIP),
				zap.Int("length", ins.Length),
			)
		}
	}
	return status, err
}

// Snapshot captures the architectural state needed to resume execution
// later: registers, flags, mode context, and physical memory. It does not
// capture the translation-block cache, host collaborators, or Options —
// Restore rebuilds the TB cache lazily as code re-executes, and the host
// is expected to re-attach its own collaborators after a Restore.
type Snapshot struct {
	Regs RegisterFile
	Flg  Flags
	Ctx  CPUContext
	Ram  []byte
}

// Snapshot implements the persisted-state contract named in spec.md §6:
// a deep copy safe to hold across further Step calls on the live Emulator.
func (e *Emulator) Snapshot() *Snapshot {
	ram := make([]byte, len(e.MMU.Bus.Ram))
	copy(ram, e.MMU.Bus.Ram)
	return &Snapshot{
		Regs: *e.Regs,
		Flg:  e.Flg,
		Ctx:  *e.Ctx,
		Ram:  ram,
	}
}

// Restore reinstates a prior Snapshot, clearing the translation-block
// cache since cached blocks may no longer match the restored memory
// contents.
func (e *Emulator) Restore(s *Snapshot) {
	regs := s.Regs
	e.Regs = &regs
	e.Flg = s.Flg
	ctx := s.Ctx
	e.Ctx = &ctx
	copy(e.MMU.Bus.Ram, s.Ram)
	e.TBCache.Clear()
	e.insnCount = 0
}

// dispatch invokes the instruction's handler, advancing RIP past the
// decoded bytes first (branches/calls overwrite RIP themselves; everything
// else relies on this default advance), per the Execution Core contract
// in spec.md §4.3.
func (e *Emulator) dispatch(ins *Instruction) (ExecutionStatus, error) {
	if ins.Handler == nil {
		return e.raiseFault(newFault(FaultUD, ins.Mnemonic))
	}
	e.Regs.RIP = ins.NextIP
	return ins.Handler(e, ins)
}

// replay re-executes a cached TranslationBlock's single instruction
// without re-decoding it, per spec.md §4.5.
func (e *Emulator) replay(tb *TranslationBlock) (ExecutionStatus, error) {
	return e.dispatch(tb.Instruction)
}

// handleDecodeError converts a decode-time error into either a guest #UD
// (UndefinedOpcode) or propagates an architectural/page fault, per
// spec.md §7.
func (e *Emulator) handleDecodeError(err error) (ExecutionStatus, error) {
	if ud, ok := err.(*UndefinedOpcode); ok {
		return e.raiseFault(newFault(FaultUD, ud.Error()))
	}
	return StatusFault, err
}

// raiseFault dispatches an architectural fault through the IDT (spec.md
// §4.4) as a non-software event, so the gate DPL check does not apply,
// and returns StatusContinue once delivery succeeds; if delivery fails,
// the delivery error is returned to the host with StatusFault. An
// emulator-bug fault is returned verbatim to the host as the
// error-channel fault named in spec.md §7.
func (e *Emulator) raiseFault(f *FaultException) (ExecutionStatus, error) {
	if f.Kind == FaultEmulatorBug {
		return StatusFault, f
	}
	if err := e.deliverInterrupt(f.Kind.Vector(), false, f.ErrorCode, f.HasError); err != nil {
		return StatusFault, err
	}
	return StatusContinue, nil
}
