package cpu

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/davecgh/go-spew/spew"
)

type debugModel struct {
	e      *Emulator
	offset uint64 // for drawing the memory page table

	prevRIP uint64
	lastIns *Instruction
	err     error
}

func (m debugModel) Init() tea.Cmd { return nil }

func (m debugModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case " ", "j":
			m.prevRIP = m.e.Regs.RIP
			entryIP := m.e.codeLinearIP()
			if _, err := m.e.Step(); err != nil {
				m.err = err
				return m, tea.Quit
			}
			if tb, ok := m.e.TBCache.Lookup(entryIP); ok {
				m.lastIns = tb.Instruction
			}
		}
	}
	return m, nil
}

// renderPage renders 16 bytes of linear memory as a hex row, highlighting
// the current RIP byte.
func (m debugModel) renderPage(start uint64) string {
	s := fmt.Sprintf("%08x | ", start)
	for i := uint64(0); i < 16; i++ {
		v, err := m.e.MMU.Read8(start + i)
		if err != nil {
			s += " ?? "
			continue
		}
		if start+i == m.e.Regs.RIP {
			s += fmt.Sprintf("[%02x] ", v)
		} else {
			s += fmt.Sprintf(" %02x  ", v)
		}
	}
	return s
}

func (m debugModel) status() string {
	var flags string
	for _, f := range []bool{
		m.e.Flg.OF(), m.e.Flg.DF(), m.e.Flg.IF(), m.e.Flg.TF(),
		m.e.Flg.SF(), m.e.Flg.ZF(), m.e.Flg.AF(), m.e.Flg.PF(), m.e.Flg.CF(),
	} {
		if f {
			flags += "/ "
		} else {
			flags += "  "
		}
	}
	return fmt.Sprintf(`
RIP: %016x (prev %016x)
 RAX: %016x  RBX: %016x
 RCX: %016x  RDX: %016x
 RSP: %016x  RBP: %016x
mode: %s  CPL: %d
O D I T S Z A P C
%s`,
		m.e.Regs.RIP, m.prevRIP,
		m.e.Regs.ReadGP(RAX, Width64, false), m.e.Regs.ReadGP(RBX, Width64, false),
		m.e.Regs.ReadGP(RCX, Width64, false), m.e.Regs.ReadGP(RDX, Width64, false),
		m.e.Regs.ReadGP(RSP, Width64, false), m.e.Regs.ReadGP(RBP, Width64, false),
		m.e.Ctx.Mode, m.e.Ctx.CPL,
		flags,
	)
}

func (m debugModel) pageTable() string {
	header := fmt.Sprintf("%8s | ", "addr")
	for b := 0; b < 16; b++ {
		header += fmt.Sprintf("  %01x  ", b)
	}
	rows := []string{header}
	base := m.e.Regs.RIP &^ 0xf
	for i := -2; i <= 2; i++ {
		rows = append(rows, m.renderPage(uint64(int64(base)+int64(i)*16)))
	}
	return strings.Join(rows, "\n")
}

func (m debugModel) View() string {
	var decoded string
	if m.lastIns != nil {
		decoded = spew.Sdump(m.lastIns)
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, m.pageTable(), m.status()),
		"",
		decoded,
	)
}

// Debug loads program into linear memory at offset, sets RIP to it, then
// starts an interactive single-step inspector (spec.md §1's debugger
// collaborator, the bubbletea/lipgloss/spew stack kept from the teacher).
func (e *Emulator) Debug(program []byte, offset uint64) {
	if err := e.LoadMemory(offset, program); err != nil {
		fmt.Println("load error:", err)
		return
	}
	e.Regs.RIP = offset
	p, err := tea.NewProgram(debugModel{e: e, offset: offset}).Run()
	if err != nil {
		panic(err)
	}
	m := p.(debugModel)
	if m.err != nil {
		fmt.Println("Error:", m.err)
	}
}
