package target

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/ehrlich-b/qvhd/internal/gdb"
	"github.com/ehrlich-b/qvhd/internal/mi"
)

// fakeConn answers MI commands and monitor commands from canned tables.
type fakeConn struct {
	send    map[string]string // command -> result line
	monitor map[string]string // command -> console text
	sent    []string
}

func (f *fakeConn) Send(ctx context.Context, command string) (*gdb.Exchange, error) {
	f.sent = append(f.sent, command)
	line, ok := f.send[command]
	if !ok {
		return nil, &gdb.BackendError{Message: "Undefined MI command: " + command}
	}
	rec, err := mi.ParseLine(line)
	if err != nil {
		return nil, err
	}
	return &gdb.Exchange{Result: rec}, nil
}

func (f *fakeConn) Monitor(ctx context.Context, command string) (string, error) {
	f.sent = append(f.sent, "monitor "+command)
	return f.monitor[command], nil
}

func (f *fakeConn) Interrupt() error { return nil }

func newTestAdapter(t *testing.T, conn *fakeConn) *Adapter {
	t.Helper()
	if conn.send == nil {
		conn.send = map[string]string{}
	}
	if _, ok := conn.send["-data-list-register-names"]; !ok {
		conn.send["-data-list-register-names"] = `^done,register-names=["rax","rbx","","rip"]`
	}
	a := NewAdapter(conn, Options{})
	if err := a.InitRegisterMap(context.Background()); err != nil {
		t.Fatalf("InitRegisterMap: %v", err)
	}
	return a
}

func TestInitRegisterMapSkipsEmptyNames(t *testing.T) {
	a := newTestAdapter(t, &fakeConn{})
	if !a.Registers().Has("rax") || !a.Registers().Has("rip") {
		t.Error("rax/rip missing from register map")
	}
	if a.Registers().Has("") {
		t.Error("empty name made it into the register map")
	}

	n, err := a.Registers().Index("rip")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Index(rip) = %d, want 3", n)
	}

	_, err = a.Registers().Index("cr3")
	var unknown *UnknownRegisterError
	if !errors.As(err, &unknown) {
		t.Errorf("Index(cr3) = %v, want UnknownRegisterError", err)
	}
}

func TestReadRegistersSnapshot(t *testing.T) {
	conn := &fakeConn{send: map[string]string{
		"-data-list-register-values x": `^done,register-values=[{number="0",value="0x1122334455667788"},{number="3",value="0xffffffff81000000"}]`,
	}}
	a := newTestAdapter(t, conn)

	snap, err := a.ReadRegisters(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	// never partially filled: every canonical name present
	if len(snap) != len(RegOrder) {
		t.Errorf("len(snap) = %d, want %d", len(snap), len(RegOrder))
	}
	if snap["rax"] != "0x1122334455667788" {
		t.Errorf("rax = %q", snap["rax"])
	}
	if snap["rip"] != "0xffffffff81000000" {
		t.Errorf("rip = %q", snap["rip"])
	}
	if snap["rbx"] != NotAvailable { // index 1 absent from response
		t.Errorf("rbx = %q, want N/A", snap["rbx"])
	}
	if snap["cs"] != NotAvailable { // not in the register map
		t.Errorf("cs = %q, want N/A", snap["cs"])
	}
}

func TestReadCR3FromRegister(t *testing.T) {
	conn := &fakeConn{send: map[string]string{
		"-data-list-register-names":      `^done,register-names=["rax","cr3"]`,
		"-data-list-register-values x 1": `^done,register-values=[{number="1",value="0x1000"}]`,
	}}
	a := NewAdapter(conn, Options{})
	if err := a.InitRegisterMap(context.Background()); err != nil {
		t.Fatal(err)
	}

	cr3, err := a.ReadCR3(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if cr3 != 0x1000 {
		t.Errorf("cr3 = %#x, want 0x1000", cr3)
	}
}

func TestReadCR3MonitorFallback(t *testing.T) {
	cases := []struct {
		text string
		want uint64
	}{
		{"CR3 = 0x1234abcd\n", 0x1234abcd},
		{"CR3 = 0x1234_abcd\n", 0x1234abcd},
		{"CR3=000000007e000000\n", 0x7e000000},
		{"PDBR = 0xdeadb000\n", 0xdeadb000},
		{"PDBR = deadbeef", 0xdeadbeef},
	}
	for _, tc := range cases {
		conn := &fakeConn{monitor: map[string]string{"info cr3": tc.text}}
		a := newTestAdapter(t, conn)
		cr3, err := a.ReadCR3(context.Background())
		if err != nil {
			t.Errorf("ReadCR3(%q): %v", tc.text, err)
			continue
		}
		if cr3 != tc.want {
			t.Errorf("ReadCR3(%q) = %#x, want %#x", tc.text, cr3, tc.want)
		}
	}
}

func TestReadCR3Unavailable(t *testing.T) {
	conn := &fakeConn{monitor: map[string]string{"info cr3": "no match here"}}
	a := newTestAdapter(t, conn)

	_, err := a.ReadCR3(context.Background())
	var unavailable *CR3UnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("ReadCR3 = %v, want CR3UnavailableError", err)
	}
	if unavailable.Raw != "no match here" {
		t.Errorf("Raw = %q", unavailable.Raw)
	}
}

func TestReadPhysQword(t *testing.T) {
	conn := &fakeConn{monitor: map[string]string{
		"xp /1gx 0x17f8": "00000000000017f8: 0x0000000000002003\n",
	}}
	a := newTestAdapter(t, conn)

	v, err := a.ReadPhysQword(context.Background(), 0x17f8)
	if err != nil {
		t.Fatal(err)
	}
	if v != 0x2003 {
		t.Errorf("ReadPhysQword = %#x, want 0x2003", v)
	}
}

func TestReadPhysQwordErrors(t *testing.T) {
	if _, err := parsePhysText(""); !errors.Is(err, ErrMonitorNoOutput) {
		t.Errorf("parsePhysText(\"\") = %v, want ErrMonitorNoOutput", err)
	}

	_, err := parsePhysText("Cannot access memory\n")
	var parse *ParsePhysError
	if !errors.As(err, &parse) {
		t.Errorf("parsePhysText = %v, want ParsePhysError", err)
	}
}

func TestReadVirtBytes(t *testing.T) {
	data := []byte("qvhd\x00\x01\x02\x03")
	conn := &fakeConn{send: map[string]string{
		"-data-read-memory-bytes 0x1000 8": `^done,memory=[{begin="0x1000",offset="0x0",end="0x1008",contents="` + hex.EncodeToString(data) + `"}]`,
	}}
	a := newTestAdapter(t, conn)

	got, err := a.ReadVirtBytes(context.Background(), 0x1000, 8)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("ReadVirtBytes = %x, want %x", got, data)
	}
}

func TestReadVirtBytesZeroSize(t *testing.T) {
	a := newTestAdapter(t, &fakeConn{})
	got, err := a.ReadVirtBytes(context.Background(), 0x1000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("ReadVirtBytes(0) = %x, want nil", got)
	}
}

func TestDecodeContents(t *testing.T) {
	// round-trip
	for _, n := range []int{0, 1, 15, 16, 64, 4096} {
		b := make([]byte, n)
		for i := range b {
			b[i] = byte(i * 7)
		}
		if got := decodeContents(hex.EncodeToString(b), n); !bytes.Equal(got, b) {
			t.Errorf("round-trip failed for n=%d", n)
		}
	}

	// truncated to the requested size
	if got := decodeContents("00112233", 2); len(got) != 2 {
		t.Errorf("len = %d, want 2", len(got))
	}
	// odd trailing nibble dropped
	if got := decodeContents("00112", 16); !bytes.Equal(got, []byte{0x00, 0x11}) {
		t.Errorf("odd nibble: got %x", got)
	}
	// stops at the first non-hex pair
	if got := decodeContents("abzz12", 16); !bytes.Equal(got, []byte{0xab}) {
		t.Errorf("non-hex stop: got %x", got)
	}
}

func TestExecControlCommands(t *testing.T) {
	conn := &fakeConn{send: map[string]string{
		"-exec-step-instruction": `^running`,
		"-exec-continue":         `^running`,
	}}
	a := newTestAdapter(t, conn)

	if err := a.StepInstruction(context.Background()); err != nil {
		t.Fatalf("StepInstruction: %v", err)
	}
	if err := a.Continue(context.Background()); err != nil {
		t.Fatalf("Continue: %v", err)
	}

	want := map[string]bool{"-exec-step-instruction": false, "-exec-continue": false}
	for _, cmd := range conn.sent {
		if _, ok := want[cmd]; ok {
			want[cmd] = true
		}
	}
	for cmd, seen := range want {
		if !seen {
			t.Errorf("%s never sent", cmd)
		}
	}
}
