package mem

import "fmt"

// PageFault is raised by the MMU when a paging walk finds a non-present
// entry. The cpu package's handlers return it to the caller of Step as an
// error; it is not converted into a #PF delivered through the IDT.
type PageFault struct {
	LinearAddr uint64
	Write      bool
	Present    bool
}

func (e *PageFault) Error() string {
	return fmt.Sprintf("mem: page fault at linear=0x%x write=%v present=%v", e.LinearAddr, e.Write, e.Present)
}

const pageSize = 4096

// entry bit layout shared by 32-bit and long-mode page table entries.
const (
	pePresent = 1 << 0
	peWrite   = 1 << 1
)

// MMU resolves linear addresses to physical addresses, honoring the A20
// gate and (if enabled) a page-table walk, then delegates width-typed
// little-endian reads/writes to the underlying Bus.
type MMU struct {
	Bus *Bus

	A20Enabled    bool
	PagingEnabled bool
	LongMode      bool // selects 4-level (PML4) vs classical 2-level 32-bit walk
	PageTableRoot uint64
}

// NewMMU wraps a Bus with A20 disabled and paging disabled, matching the
// reset() defaults in spec.md §6.
func NewMMU(bus *Bus) *MMU {
	return &MMU{Bus: bus}
}

// maskA20 forces bit 20 of a physical address to 0 when the A20 gate is
// disabled, the legacy 8086-compatibility wraparound.
func (m *MMU) maskA20(addr uint64) uint64 {
	if m.A20Enabled {
		return addr
	}
	return addr &^ (1 << 20)
}

// Translate resolves a linear address to a physical address, walking page
// tables if paging is enabled. write indicates whether the access is a
// store, for precise #PF reporting (the fault itself is raised whether or
// not the page is writable is not modeled beyond present/absent, per
// spec.md Non-goals on permission granularity).
func (m *MMU) Translate(linear uint64, write bool) (uint64, error) {
	if !m.PagingEnabled {
		return m.maskA20(linear), nil
	}
	phys, present, err := m.walk(linear)
	if err != nil {
		return 0, err
	}
	if !present {
		return 0, &PageFault{LinearAddr: linear, Write: write, Present: false}
	}
	return m.maskA20(phys), nil
}

// walk performs a page-table walk. In long mode this is the 4-level
// PML4/PDPT/PD/PT structure; in protected mode (paging enabled, not long
// mode) it is the classical 2-level PDE/PTE structure. Both use 4 KB
// pages; large pages are not modeled.
func (m *MMU) walk(linear uint64) (phys uint64, present bool, err error) {
	if m.LongMode {
		return m.walk4Level(linear)
	}
	return m.walk2Level(linear)
}

func (m *MMU) readEntry(tableBase uint64, index uint64, entrySize int) (uint64, error) {
	addr := tableBase + index*uint64(entrySize)
	raw, err := m.Bus.ReadBytes(addr, entrySize)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := entrySize - 1; i >= 0; i-- {
		v = (v << 8) | uint64(raw[i])
	}
	return v, nil
}

func (m *MMU) walk2Level(linear uint64) (uint64, bool, error) {
	dirIndex := (linear >> 22) & 0x3ff
	tableIndex := (linear >> 12) & 0x3ff
	offset := linear & 0xfff

	pde, err := m.readEntry(m.PageTableRoot&^0xfff, dirIndex, 4)
	if err != nil {
		return 0, false, err
	}
	if pde&pePresent == 0 {
		return 0, false, nil
	}

	pte, err := m.readEntry(pde&^0xfff, tableIndex, 4)
	if err != nil {
		return 0, false, err
	}
	if pte&pePresent == 0 {
		return 0, false, nil
	}

	return (pte &^ 0xfff) + offset, true, nil
}

func (m *MMU) walk4Level(linear uint64) (uint64, bool, error) {
	pml4Index := (linear >> 39) & 0x1ff
	pdptIndex := (linear >> 30) & 0x1ff
	pdIndex := (linear >> 21) & 0x1ff
	ptIndex := (linear >> 12) & 0x1ff
	offset := linear & 0xfff

	tableBase := m.PageTableRoot &^ 0xfff
	for _, idx := range []uint64{pml4Index, pdptIndex, pdIndex} {
		entry, err := m.readEntry(tableBase, idx, 8)
		if err != nil {
			return 0, false, err
		}
		if entry&pePresent == 0 {
			return 0, false, nil
		}
		tableBase = entry &^ 0xfff
	}

	pte, err := m.readEntry(tableBase, ptIndex, 8)
	if err != nil {
		return 0, false, err
	}
	if pte&pePresent == 0 {
		return 0, false, nil
	}
	return (pte &^ 0xfff) + offset, true, nil
}

// straddlesPage reports whether a width-byte access starting at linear
// crosses a 4 KB page boundary. Per spec.md §3, such accesses must not be
// serviced as a single physical read/write when paging is enabled (a
// straddling access could span two non-contiguous physical pages) and must
// instead be done per-byte.
func straddlesPage(linear uint64, width int) bool {
	return linear/pageSize != (linear+uint64(width)-1)/pageSize
}

func (m *MMU) readWidth(linear uint64, width int) (uint64, error) {
	if m.PagingEnabled && straddlesPage(linear, width) {
		var v uint64
		for i := 0; i < width; i++ {
			phys, err := m.Translate(linear+uint64(i), false)
			if err != nil {
				return 0, err
			}
			b, err := m.Bus.ReadByte(phys)
			if err != nil {
				return 0, err
			}
			v |= uint64(b) << (8 * i)
		}
		return v, nil
	}

	phys, err := m.Translate(linear, false)
	if err != nil {
		return 0, err
	}
	raw, err := m.Bus.ReadBytes(phys, width)
	if err != nil {
		return 0, err
	}
	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = (v << 8) | uint64(raw[i])
	}
	return v, nil
}

func (m *MMU) writeWidth(linear uint64, width int, val uint64) error {
	if m.PagingEnabled && straddlesPage(linear, width) {
		for i := 0; i < width; i++ {
			phys, err := m.Translate(linear+uint64(i), true)
			if err != nil {
				return err
			}
			if err := m.Bus.WriteByte(phys, byte(val>>(8*i))); err != nil {
				return err
			}
		}
		return nil
	}

	phys, err := m.Translate(linear, true)
	if err != nil {
		return err
	}
	raw := make([]byte, width)
	for i := 0; i < width; i++ {
		raw[i] = byte(val >> (8 * i))
	}
	return m.Bus.WriteBytes(phys, raw)
}

// Read8, Read16, Read32, Read64 perform little-endian, width-typed linear
// reads (spec.md §4.2).
func (m *MMU) Read8(linear uint64) (uint64, error)  { return m.readWidth(linear, 1) }
func (m *MMU) Read16(linear uint64) (uint64, error) { return m.readWidth(linear, 2) }
func (m *MMU) Read32(linear uint64) (uint64, error) { return m.readWidth(linear, 4) }
func (m *MMU) Read64(linear uint64) (uint64, error) { return m.readWidth(linear, 8) }

// Write8, Write16, Write32, Write64 perform little-endian, width-typed
// linear writes.
func (m *MMU) Write8(linear, v uint64) error  { return m.writeWidth(linear, 1, v) }
func (m *MMU) Write16(linear, v uint64) error { return m.writeWidth(linear, 2, v) }
func (m *MMU) Write32(linear, v uint64) error { return m.writeWidth(linear, 4, v) }
func (m *MMU) Write64(linear, v uint64) error { return m.writeWidth(linear, 8, v) }

// ReadWidth/WriteWidth dispatch on a runtime width in {1,2,4,8}, used by
// the operand engine where the width is a decoded value rather than a
// compile-time constant.
func (m *MMU) ReadWidth(linear uint64, width int) (uint64, error) {
	return m.readWidth(linear, width)
}

func (m *MMU) WriteWidth(linear uint64, width int, v uint64) error {
	return m.writeWidth(linear, width, v)
}

// LoadMemory copies bytes directly into the physical address space,
// bypassing segmentation and paging translation entirely, per the
// load_memory host contract in spec.md §6.
func (m *MMU) LoadMemory(addr uint64, data []byte) error {
	return m.Bus.WriteBytes(addr, data)
}
