package ui

import (
	"testing"

	"github.com/ehrlich-b/qvhd/internal/target"
)

func TestParseAddr(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		ok   bool
	}{
		{"0x1000", 0x1000, true},
		{"1000", 0x1000, true},
		{"0xFFFF880000000000", 0xffff880000000000, true},
		{"deadbeef", 0xdeadbeef, true},
		{"0x", 0, false},
		{"rip", 0, false},
		{"-1", 0, false},
	}
	for _, tc := range cases {
		got, err := parseAddr(tc.in)
		if tc.ok {
			if err != nil {
				t.Errorf("parseAddr(%q): %v", tc.in, err)
				continue
			}
			if got != tc.want {
				t.Errorf("parseAddr(%q) = %#x, want %#x", tc.in, got, tc.want)
			}
		} else if err == nil {
			t.Errorf("parseAddr(%q) = %#x, want error", tc.in, got)
		}
	}
}

func TestFlagString(t *testing.T) {
	if got := flagString(nil); got != "" {
		t.Errorf("flagString(nil) = %q, want empty", got)
	}
	if got := flagString(&target.PTEFlags{Present: true, Writable: true, User: true}); got != "P W U" {
		t.Errorf("flagString = %q, want %q", got, "P W U")
	}
	if got := flagString(&target.PTEFlags{Present: true, PageSize: true, NX: true}); got != "P PS NX" {
		t.Errorf("flagString = %q, want %q", got, "P PS NX")
	}
}

func TestPageRowsNotPresent(t *testing.T) {
	w := &target.WalkResult{
		VA:    0xdeadbeef0000,
		CR3:   0x1000,
		Level: target.LevelPML4,
		Entries: []target.LevelEntry{
			{Name: target.LevelPML4, Entry: 0},
		},
	}
	rows := pageRows(w, "no permission")
	want := []string{"va", "cr3", "indices", "pml4", "level", "present"}
	if len(rows) != len(want) {
		t.Fatalf("len(rows) = %d, want %d", len(rows), len(want))
	}
	for i, r := range rows {
		if r.label != want[i] {
			t.Errorf("rows[%d].label = %q, want %q", i, r.label, want[i])
		}
	}
}

func TestPageRowsPresent(t *testing.T) {
	flags := target.ParsePTEFlags(0x5067)
	w := &target.WalkResult{
		VA:       0x1000,
		CR3:      0x1000,
		Level:    target.Level4K,
		Present:  true,
		PageSize: "4K",
		PageBase: 0x5000,
		PhysAddr: 0x5000,
		Flags:    &flags,
		Entries: []target.LevelEntry{
			{Name: target.LevelPML4, Entry: 0x2003},
			{Name: target.LevelPDPT, Entry: 0x3003},
			{Name: target.LevelPD, Entry: 0x4003},
			{Name: target.LevelPT, Entry: 0x5067},
		},
	}
	rows := pageRows(w, "RWX (user)")
	byLabel := map[string]string{}
	for _, r := range rows {
		byLabel[r.label] = r.value
	}
	if byLabel["phys addr"] != "0x5000" {
		t.Errorf("phys addr = %q", byLabel["phys addr"])
	}
	if byLabel["page size"] != "4K" {
		t.Errorf("page size = %q", byLabel["page size"])
	}
	if byLabel["perm"] != "RWX (user)" {
		t.Errorf("perm = %q", byLabel["perm"])
	}
	if byLabel["pt"] != "0x0000000000005067" {
		t.Errorf("pt = %q", byLabel["pt"])
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		in   string
		w    int
		want string
	}{
		{"short", 10, "short"},
		{"exact", 5, "exact"},
		{"longer string", 5, "lo..."},
		{"longer", 3, "lon"},
	}
	for _, tc := range cases {
		if got := truncate(tc.in, tc.w); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.w, got, tc.want)
		}
	}
}
