// Command x86emu drives the core over a flat binary image: run it to
// completion or an instruction cap, single-step it in the bubbletea
// inspector, or just disassemble it without executing anything.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hejops/x86emu/internal/cpu"
	"github.com/hejops/x86emu/internal/hostio"
)

// emulatorLoader adapts Emulator.LoadMemory to hostio.Loader, the minimal
// host-side collaborator spec.md §6 names for getting a binary into the
// core's address space.
type emulatorLoader struct{ e *cpu.Emulator }

func (l emulatorLoader) Load(addr uint64, data []byte) error { return l.e.LoadMemory(addr, data) }

var _ hostio.Loader = emulatorLoader{}

func main() {
	rootCmd := &cobra.Command{
		Use:   "x86emu",
		Short: "x86/x86-64 instruction-set emulator core",
	}

	var mode string
	var loadAddr uint64
	var memSize int
	var maxInsns uint64
	var trace bool

	modeFlag := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&mode, "mode", "real", "initial mode: real, protected, compatibility, long64")
		cmd.Flags().Uint64Var(&loadAddr, "load-addr", 0, "linear address to load the image at")
		cmd.Flags().IntVar(&memSize, "mem", 16*1024*1024, "physical memory size in bytes")
	}

	runCmd := &cobra.Command{
		Use:   "run <image>",
		Short: "Load a flat binary and execute until halt, fault, or the instruction cap",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadImage(args[0], mode, loadAddr, memSize)
			if err != nil {
				return err
			}
			e.SetOption(cpu.Options{StopAfterInsns: maxInsns, TraceExecution: trace})
			for {
				status, err := e.Step()
				if err != nil {
					return fmt.Errorf("fault: %w", err)
				}
				if status == cpu.StatusHalt {
					break
				}
			}
			fmt.Printf("halted: RIP=%#x RAX=%#x\n",
				e.Regs.RIP, e.GetRegister(cpu.RAX, 64))
			return nil
		},
	}
	modeFlag(runCmd)
	runCmd.Flags().Uint64Var(&maxInsns, "max-insns", 0, "stop after this many instructions (0 = unlimited)")
	runCmd.Flags().BoolVar(&trace, "trace", false, "log every retired instruction")

	debugCmd := &cobra.Command{
		Use:   "debug <image>",
		Short: "Load a flat binary and single-step it in the interactive inspector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := newEmulator(mode, memSize)
			if err != nil {
				return err
			}
			program, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			e.Debug(program, loadAddr)
			return nil
		},
	}
	modeFlag(debugCmd)

	var disasmCount int
	disasmCmd := &cobra.Command{
		Use:   "disasm <image>",
		Short: "Decode a flat binary without executing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadImage(args[0], mode, loadAddr, memSize)
			if err != nil {
				return err
			}
			return disassemble(e, loadAddr, disasmCount)
		},
	}
	modeFlag(disasmCmd)
	disasmCmd.Flags().IntVar(&disasmCount, "count", 32, "maximum instructions to decode")

	rootCmd.AddCommand(runCmd, debugCmd, disasmCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEmulator(modeName string, memSize int) (*cpu.Emulator, error) {
	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	e := cpu.New(memSize, log)
	m, err := parseMode(modeName)
	if err != nil {
		return nil, err
	}
	e.ConfigureMode(m)
	return e, nil
}

func loadImage(path, modeName string, loadAddr uint64, memSize int) (*cpu.Emulator, error) {
	e, err := newEmulator(modeName, memSize)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var loader hostio.Loader = emulatorLoader{e: e}
	if err := loader.Load(loadAddr, data); err != nil {
		return nil, err
	}
	e.Regs.RIP = loadAddr
	return e, nil
}

func parseMode(name string) (cpu.Mode, error) {
	switch name {
	case "real":
		return cpu.ModeReal, nil
	case "protected":
		return cpu.ModeProtected, nil
	case "compatibility":
		return cpu.ModeCompatibility, nil
	case "long64":
		return cpu.ModeLong64, nil
	default:
		return 0, fmt.Errorf("unknown mode %q", name)
	}
}

// disassemble decodes up to count instructions starting at RIP, printing
// one line each, without ever invoking a handler — decode-only, per the
// disasm subcommand's contract.
func disassemble(e *cpu.Emulator, start uint64, count int) error {
	e.Regs.RIP = start
	for i := 0; i < count; i++ {
		ins, status, err := e.DecodeOne()
		if err != nil {
			return fmt.Errorf("decode error at %#x: %w", e.Regs.RIP, err)
		}
		if status == cpu.StatusContinue {
			continue // prefix byte only; DecodeOne already advanced the cursor internally
		}
		fmt.Printf("%08x: %-8s ; % x\n", ins.StartIP, ins.Mnemonic, ins.Raw)
		e.Regs.RIP = ins.NextIP
	}
	return nil
}
