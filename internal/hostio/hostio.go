// Package hostio defines the narrow interfaces the execution core consumes
// from and exposes to its host collaborators (spec.md §6): port I/O,
// software interrupt interception, and binary loading. Everything else
// named as "external collaborator" in spec.md §1 — disk/video/keyboard
// peripherals, BIOS service dispatch, the outer run loop's CLI, logging
// sinks — lives outside this module entirely; only the seams it touches
// are specified here.
package hostio

// PortIO is the Core -> Host callback pair for IN/OUT. width is in bytes
// (1, 2, or 4).
type PortIO interface {
	PortIn(port uint16, width int) (uint32, error)
	PortOut(port uint16, width int, value uint32) error
}

// InterruptService lets the host intercept a software or hardware
// interrupt vector before the core falls back to its own IDT dispatch. If
// Handled is true, the core skips IDT dispatch entirely, matching the
// "optional override" contract in spec.md §6.
type InterruptService interface {
	Service(vector uint8) (handled bool, err error)
}

// NopPortIO is a default PortIO that satisfies IN/OUT without a chipset
// attached: reads return zero, writes are discarded. It exists so
// cmd/x86emu can execute IN/OUT-bearing code without wiring a real
// peripheral, per spec.md §6's description of the callback contract as
// optional for the core's correctness.
type NopPortIO struct{}

func (NopPortIO) PortIn(port uint16, width int) (uint32, error) { return 0, nil }
func (NopPortIO) PortOut(port uint16, width int, value uint32) error { return nil }

// NopInterruptService never intercepts, letting every vector fall through
// to the core's own IDT dispatch.
type NopInterruptService struct{}

func (NopInterruptService) Service(vector uint8) (bool, error) { return false, nil }

// Loader copies a flat binary image into the linear address space via
// load_memory (spec.md §6), the minimal host collaborator needed to make
// the core runnable standalone (supplemented per SPEC_FULL.md, since
// spec.md treats loaders as out of scope but names load_memory as the
// interface they drive).
type Loader interface {
	Load(addr uint64, data []byte) error
}
