package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ehrlich-b/qvhd/internal/target"
)

const minWidth = 60

func (m Model) View() string {
	if m.width < minWidth || m.height < 16 {
		return "terminal too small\n"
	}

	title := m.theme.Title.Render("[QVHD] QEMU based x86_64 Virtual Hardware Debugger")
	help := m.theme.Help.Render("n:step  c:cont  p:pause  r:refresh  v/d/::command  q:quit")
	header := lipgloss.PlaceHorizontal(m.width, lipgloss.Center, title) + "\n" +
		lipgloss.PlaceHorizontal(m.width, lipgloss.Center, help)

	leftWidth := m.width*2/5 - 2
	rightWidth := m.width - leftWidth - 6

	// dump pane + status + input at the bottom, panes above
	topHeight := m.height - 11

	left := m.theme.PaneLeft.
		Width(leftWidth).
		Height(topHeight).
		Render(m.renderRegisters(topHeight))
	right := m.theme.PaneRight.
		Width(rightWidth).
		Height(topHeight).
		Render(m.renderPageInfo(rightWidth, topHeight))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	dump := m.theme.PaneWide.
		Width(m.width - 4).
		Height(5).
		Render(m.renderDump(4))

	status := m.view.status
	if m.busy {
		status += "  [working...]"
	}
	if m.view.running {
		status += "  [running]"
	}
	statusBar := m.theme.StatusBar.Width(m.width).Render(truncate(status, m.width-2))

	var inputLine string
	if m.typing {
		inputLine = m.input.View()
	} else {
		inputLine = m.theme.Dim.Render("press v, d or : to enter a command")
	}

	return strings.Join([]string{header, panes, dump, statusBar, inputLine}, "\n")
}

func (m Model) renderRegisters(height int) string {
	var b strings.Builder
	b.WriteString(m.theme.PaneTitle.Render("Registers"))
	b.WriteByte('\n')
	rows := 0
	for _, name := range target.RegOrder {
		if rows >= height-1 {
			break
		}
		val := m.view.regs[name]
		prev := m.view.prevRegs[name]
		line := fmt.Sprintf("%6s : %s", name, val)
		if prev != val && val != target.NotAvailable {
			line = m.theme.Changed.Render(line)
		} else {
			line = m.theme.Value.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
		rows++
	}
	return b.String()
}

func (m Model) renderPageInfo(width, height int) string {
	var b strings.Builder
	b.WriteString(m.theme.PaneTitle.Render(fmt.Sprintf("Page Info (mode: %s)", m.view.mode)))
	b.WriteByte('\n')

	pi := m.view.page
	if pi == nil {
		b.WriteString(m.theme.Dim.Render("(no page info)"))
		return b.String()
	}
	if pi.Err != "" {
		b.WriteString(m.theme.ErrorMsg.Render(truncate("ERROR: "+pi.Err, width)))
		return b.String()
	}

	var prev *target.WalkResult
	var prevPerm string
	if m.view.prevPage != nil && m.view.prevPage.Err == "" {
		prev = m.view.prevPage.Walk
		prevPerm = m.view.prevPage.Perm
	}

	rows := pageRows(pi.Walk, pi.Perm)
	prevRows := map[string]string{}
	if prev != nil {
		for _, r := range pageRows(prev, prevPerm) {
			prevRows[r.label] = r.value
		}
	}

	lines := 1
	for _, r := range rows {
		if lines >= height {
			break
		}
		line := truncate(fmt.Sprintf("%-10s %s", r.label+":", r.value), width)
		if old, ok := prevRows[r.label]; prev != nil && (!ok || old != r.value) {
			line = m.theme.Changed.Render(line)
		} else {
			line = m.theme.Value.Render(line)
		}
		b.WriteString(line)
		b.WriteByte('\n')
		lines++
	}
	return b.String()
}

type pageRow struct {
	label string
	value string
}

func pageRows(w *target.WalkResult, perm string) []pageRow {
	rows := []pageRow{
		{"va", fmt.Sprintf("%#x", w.VA)},
		{"cr3", fmt.Sprintf("%#x", w.CR3)},
		{"indices", fmt.Sprintf("pml4=%d pdpt=%d pd=%d pt=%d off=%#03x",
			w.PML4Index, w.PDPTIndex, w.PDIndex, w.PTIndex, w.Offset)},
	}
	for _, e := range w.Entries {
		rows = append(rows, pageRow{string(e.Name), fmt.Sprintf("0x%016x", e.Entry)})
	}
	rows = append(rows, pageRow{"level", string(w.Level)})
	if !w.Present {
		rows = append(rows, pageRow{"present", "false"})
		return rows
	}
	rows = append(rows,
		pageRow{"page size", w.PageSize},
		pageRow{"page phys", fmt.Sprintf("%#x", w.PageBase)},
		pageRow{"phys addr", fmt.Sprintf("%#x", w.PhysAddr)},
		pageRow{"perm", perm},
		pageRow{"flags", flagString(w.Flags)},
	)
	return rows
}

// flagString renders set flags as short tags: "P W U WT CD A D PS G NX".
func flagString(f *target.PTEFlags) string {
	if f == nil {
		return ""
	}
	var tags []string
	add := func(on bool, tag string) {
		if on {
			tags = append(tags, tag)
		}
	}
	add(f.Present, "P")
	add(f.Writable, "W")
	add(f.User, "U")
	add(f.WriteThrough, "WT")
	add(f.CacheDisable, "CD")
	add(f.Accessed, "A")
	add(f.Dirty, "D")
	add(f.PageSize, "PS")
	add(f.Global, "G")
	add(f.NX, "NX")
	return strings.Join(tags, " ")
}

func (m Model) renderDump(height int) string {
	var b strings.Builder
	b.WriteString(m.theme.PaneTitle.Render("Memory Dump"))
	lines := m.view.dump
	if len(lines) == 0 {
		b.WriteString("\n" + m.theme.Dim.Render("(use: dump <addr> [size])"))
		return b.String()
	}
	for i, line := range lines {
		if i >= height {
			break
		}
		b.WriteString("\n" + m.theme.Value.Render(truncate(line, m.width-8)))
	}
	return b.String()
}

func truncate(s string, w int) string {
	if w <= 0 || len(s) <= w {
		return s
	}
	if w <= 3 {
		return s[:w]
	}
	return s[:w-3] + "..."
}
