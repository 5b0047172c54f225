package target

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ehrlich-b/qvhd/internal/mi"
)

// RegOrder is the canonical display set. Every snapshot carries exactly these
// names; registers the backend does not report read as "N/A".
var RegOrder = []string{
	"rax", "rbx", "rcx", "rdx",
	"rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "eflags",
	"cs", "ss", "ds", "es", "fs", "gs",
}

// NotAvailable is the snapshot value for registers the backend did not report.
const NotAvailable = "N/A"

// Snapshot maps canonical register names to backend-reported hex strings.
// It is never partially filled.
type Snapshot map[string]string

// NewSnapshot returns a snapshot with every canonical register set to N/A.
func NewSnapshot() Snapshot {
	s := make(Snapshot, len(RegOrder))
	for _, name := range RegOrder {
		s[name] = NotAvailable
	}
	return s
}

// Clone returns a copy; snapshots are replaced, never mutated in place.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// RegisterMap is the bijective name<->index mapping reported by gdb at
// connect time. Read-only afterwards.
type RegisterMap struct {
	byName  map[string]int
	byIndex map[int]string
}

// Index returns the gdb register number for name.
func (m *RegisterMap) Index(name string) (int, error) {
	if m == nil {
		return 0, &UnknownRegisterError{Name: name}
	}
	n, ok := m.byName[name]
	if !ok {
		return 0, &UnknownRegisterError{Name: name}
	}
	return n, nil
}

// Has reports whether the backend exposes the named register.
func (m *RegisterMap) Has(name string) bool {
	_, err := m.Index(name)
	return err == nil
}

// parseRegisterNames builds the map from a -data-list-register-names result.
// gdb pads the list with empty names for unnumbered slots; those stay out of
// both directions.
func parseRegisterNames(rec mi.Record) (*RegisterMap, error) {
	list, ok := rec.Attrs["register-names"].(mi.List)
	if !ok {
		return nil, &ParseBytesError{Raw: rec.Raw}
	}
	m := &RegisterMap{
		byName:  make(map[string]int, len(list)),
		byIndex: make(map[int]string, len(list)),
	}
	for i, v := range list {
		name, ok := v.(string)
		if !ok || name == "" {
			continue
		}
		m.byName[name] = i
		m.byIndex[i] = name
	}
	return m, nil
}

// parseRegisterValues extracts number->value pairs from a
// -data-list-register-values result.
func parseRegisterValues(rec mi.Record) map[int]string {
	byNum := make(map[int]string)
	list, ok := rec.Attrs["register-values"].(mi.List)
	if !ok {
		return byNum
	}
	for _, v := range list {
		tup, ok := v.(mi.Tuple)
		if !ok {
			continue
		}
		numStr, ok1 := tup.Str("number")
		val, ok2 := tup.Str("value")
		if !ok1 || !ok2 {
			continue
		}
		num, err := strconv.Atoi(numStr)
		if err != nil {
			continue
		}
		byNum[num] = val
	}
	return byNum
}

// buildSnapshot fills the canonical set from a number->value map.
func buildSnapshot(m *RegisterMap, byNum map[int]string) Snapshot {
	snap := NewSnapshot()
	if m == nil {
		return snap
	}
	for _, name := range RegOrder {
		num, ok := m.byName[name]
		if !ok {
			continue
		}
		if val, ok := byNum[num]; ok {
			snap[name] = val
		}
	}
	return snap
}

// DefaultCR3Patterns is the ordered pattern list searched against monitor
// output when gdb itself does not expose cr3. The text format varies between
// QEMU versions, which is why this is data rather than code; config may
// prepend its own patterns.
var DefaultCR3Patterns = []*regexp.Regexp{
	regexp.MustCompile(`CR3\s*=\s*(0x[0-9a-fA-F_]+)`),
	regexp.MustCompile(`CR3\s*=\s*([0-9a-fA-F_]+)`),
	regexp.MustCompile(`PDBR\s*=\s*(0x[0-9a-fA-F_]+)`),
	regexp.MustCompile(`PDBR\s*=\s*([0-9a-fA-F_]+)`),
}

// parseCR3Text searches the monitor text against the ordered pattern list.
// First match wins. Some QEMU builds group hex digits with underscores.
func parseCR3Text(text string, patterns []*regexp.Regexp) (uint64, error) {
	for _, pat := range patterns {
		m := pat.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		digits := strings.ReplaceAll(m[1], "_", "")
		digits = strings.TrimPrefix(strings.ToLower(digits), "0x")
		v, err := strconv.ParseUint(digits, 16, 64)
		if err == nil {
			return v, nil
		}
	}
	return 0, &CR3UnavailableError{Raw: text}
}
