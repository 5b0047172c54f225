// Package target exposes high-level operations on the debugged guest:
// register access, physical and virtual memory reads, execution control, and
// the 4-level page-table walk built on top of them.
package target

import (
	"context"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/ehrlich-b/qvhd/internal/gdb"
	"github.com/ehrlich-b/qvhd/internal/logger"
	"github.com/ehrlich-b/qvhd/internal/mi"
)

// Conn is the slice of the protocol client the adapter needs.
type Conn interface {
	Send(ctx context.Context, command string) (*gdb.Exchange, error)
	Monitor(ctx context.Context, command string) (string, error)
	Interrupt() error
}

// Options tunes per-request deadlines and the CR3 fallback patterns.
// Zero values take the defaults.
type Options struct {
	SendTimeout    time.Duration // MI commands and physical reads
	MonitorTimeout time.Duration // the info cr3 fallback
	CR3Patterns    []*regexp.Regexp
}

// Adapter composes MI commands and decodes their semantic payloads. Not safe
// for concurrent use; the session is the single caller.
type Adapter struct {
	conn           Conn
	regs           *RegisterMap
	sendTimeout    time.Duration
	monitorTimeout time.Duration
	cr3Patterns    []*regexp.Regexp
}

func NewAdapter(conn Conn, opts Options) *Adapter {
	a := &Adapter{
		conn:           conn,
		sendTimeout:    opts.SendTimeout,
		monitorTimeout: opts.MonitorTimeout,
		cr3Patterns:    opts.CR3Patterns,
	}
	if a.sendTimeout <= 0 {
		a.sendTimeout = 5 * time.Second
	}
	if a.monitorTimeout <= 0 {
		a.monitorTimeout = 10 * time.Second
	}
	if len(a.cr3Patterns) == 0 {
		a.cr3Patterns = DefaultCR3Patterns
	}
	return a
}

// InitRegisterMap populates the name<->index map. Must run once, before any
// register read.
func (a *Adapter) InitRegisterMap(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	ex, err := a.conn.Send(ctx, "-data-list-register-names")
	if err != nil {
		return err
	}
	m, err := parseRegisterNames(ex.Result)
	if err != nil {
		return err
	}
	a.regs = m
	logger.Debug("register map ready", "count", len(m.byName))
	return nil
}

// Registers returns the connect-time register map, nil before InitRegisterMap.
func (a *Adapter) Registers() *RegisterMap { return a.regs }

// ReadRegisters reads the full register file in hex format and builds the
// canonical snapshot.
func (a *Adapter) ReadRegisters(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	ex, err := a.conn.Send(ctx, "-data-list-register-values x")
	if err != nil {
		return nil, err
	}
	return buildSnapshot(a.regs, parseRegisterValues(ex.Result)), nil
}

// ReadCR3 returns the physical base register of the current paging
// hierarchy. Stock gdb builds do not expose cr3 against QEMU's stub, so the
// register read is a first preference and `monitor info cr3` the fallback.
func (a *Adapter) ReadCR3(ctx context.Context) (uint64, error) {
	if a.regs.Has("cr3") {
		if v, err := a.readCR3Register(ctx); err == nil {
			return v, nil
		}
		// fall through: a present-but-unreadable cr3 behaves like a missing one
	}

	mctx, cancel := context.WithTimeout(ctx, a.monitorTimeout)
	defer cancel()
	text, err := a.conn.Monitor(mctx, "info cr3")
	if err != nil {
		return 0, err
	}
	return parseCR3Text(text, a.cr3Patterns)
}

func (a *Adapter) readCR3Register(ctx context.Context) (uint64, error) {
	num, err := a.regs.Index("cr3")
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	ex, err := a.conn.Send(ctx, fmt.Sprintf("-data-list-register-values x %d", num))
	if err != nil {
		return 0, err
	}
	val, ok := parseRegisterValues(ex.Result)[num]
	if !ok {
		return 0, &UnknownRegisterError{Name: "cr3"}
	}
	return strconv.ParseUint(val, 0, 64)
}

// ReadPhysQword reads one little-endian 8-byte value at a physical address
// through the monitor's xp command.
func (a *Adapter) ReadPhysQword(ctx context.Context, addr uint64) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	text, err := a.conn.Monitor(ctx, fmt.Sprintf("xp /1gx %#x", addr))
	if err != nil {
		return 0, err
	}
	return parsePhysText(text)
}

var physValueRe = regexp.MustCompile(`:\s*(0x[0-9a-fA-F]+)`)

func parsePhysText(text string) (uint64, error) {
	if text == "" {
		return 0, ErrMonitorNoOutput
	}
	m := physValueRe.FindStringSubmatch(text)
	if m == nil {
		return 0, &ParsePhysError{Raw: text}
	}
	return strconv.ParseUint(m[1][2:], 16, 64)
}

// ReadVirtBytes reads size bytes of guest-virtual memory through gdb, which
// performs its own translation via the stub.
func (a *Adapter) ReadVirtBytes(ctx context.Context, va uint64, size int) ([]byte, error) {
	if size <= 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	ex, err := a.conn.Send(ctx, fmt.Sprintf("-data-read-memory-bytes %#x %d", va, size))
	if err != nil {
		return nil, err
	}
	contents, ok := memoryContents(ex.Result)
	if !ok {
		return nil, &ParseBytesError{Raw: ex.Result.Raw}
	}
	return decodeContents(contents, size), nil
}

func memoryContents(rec mi.Record) (string, bool) {
	list, ok := rec.Attrs["memory"].(mi.List)
	if !ok || len(list) == 0 {
		return "", false
	}
	tup, ok := list[0].(mi.Tuple)
	if !ok {
		return "", false
	}
	return tup.Str("contents")
}

// decodeContents turns the contents hex string into bytes, capped at size.
// Decoding stops at the first non-hex pair; gdb should never produce one,
// but a short row beats a garbage row.
func decodeContents(s string, size int) []byte {
	if len(s) > 2*size {
		s = s[:2*size]
	}
	out := make([]byte, 0, len(s)/2)
	for i := 0; i+1 < len(s); i += 2 {
		b, err := hex.DecodeString(s[i : i+2])
		if err != nil {
			break
		}
		out = append(out, b[0])
	}
	return out
}

// StepInstruction executes exactly one guest instruction.
func (a *Adapter) StepInstruction(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	_, err := a.conn.Send(ctx, "-exec-step-instruction")
	return err
}

// Continue resumes the guest. Returns on ^running; it does not wait for the
// next stop.
func (a *Adapter) Continue(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.sendTimeout)
	defer cancel()
	_, err := a.conn.Send(ctx, "-exec-continue")
	return err
}

// Interrupt signals the backend out-of-band, like Ctrl-C at a gdb prompt.
func (a *Adapter) Interrupt() error {
	return a.conn.Interrupt()
}
