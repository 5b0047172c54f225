// Package session multiplexes the target adapter behind a small execution
// state machine and keeps the coherent register/page-walk snapshots the UI
// renders. Methods must not be called concurrently.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ehrlich-b/qvhd/internal/gdb"
	"github.com/ehrlich-b/qvhd/internal/logger"
	"github.com/ehrlich-b/qvhd/internal/target"
)

// InspectMode selects which virtual address the page walk follows.
type InspectMode string

const (
	// ModeRIP walks the address the instruction pointer holds after each
	// refresh.
	ModeRIP InspectMode = "rip"
	// ModeManual walks a fixed, user-chosen address.
	ModeManual InspectMode = "manual"
)

// PageInfo is the walk result decorated for display. Exactly one of Walk and
// Err is set: a failed walk leaves the previous result intact and carries
// only the error message.
type PageInfo struct {
	Walk *target.WalkResult
	Perm string
	Err  string
}

// Config locates the backend and the stub.
type Config struct {
	GdbPath        string
	Target         string
	ConnectTimeout time.Duration
	Adapter        target.Options
}

// backend is the slice of the target adapter the session drives.
type backend interface {
	InitRegisterMap(ctx context.Context) error
	ReadRegisters(ctx context.Context) (target.Snapshot, error)
	ReadCR3(ctx context.Context) (uint64, error)
	ReadPhysQword(ctx context.Context, addr uint64) (uint64, error)
	ReadVirtBytes(ctx context.Context, va uint64, size int) ([]byte, error)
	StepInstruction(ctx context.Context) error
	Continue(ctx context.Context) error
	Interrupt() error
}

// Session owns one protocol client and the snapshots built on top of it.
type Session struct {
	client  *gdb.Client
	adapter backend
	cfg     Config

	regs     target.Snapshot
	prevRegs target.Snapshot

	mode      InspectMode
	inspectVA uint64

	pageInfo     *PageInfo
	prevPageInfo *PageInfo

	memDumpLines []string

	status  string
	running bool
}

// New returns a disconnected session.
func New(cfg Config) *Session {
	if cfg.GdbPath == "" {
		cfg.GdbPath = "gdb"
	}
	if cfg.Target == "" {
		cfg.Target = "localhost:1234"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	client := gdb.New(cfg.GdbPath, cfg.Target)
	return &Session{
		client:   client,
		adapter:  target.NewAdapter(client, cfg.Adapter),
		cfg:      cfg,
		regs:     target.NewSnapshot(),
		prevRegs: target.NewSnapshot(),
		mode:     ModeRIP,
		status:   "init: not connected yet",
	}
}

// Accessors for the UI collaborator. Snapshots are replaced wholesale, so the
// returned values stay coherent across reads.

func (s *Session) Regs() target.Snapshot { return s.regs }

func (s *Session) PrevRegs() target.Snapshot { return s.prevRegs }

func (s *Session) PageInfo() *PageInfo { return s.pageInfo }

func (s *Session) PrevPageInfo() *PageInfo { return s.prevPageInfo }

func (s *Session) MemDumpLines() []string { return s.memDumpLines }

func (s *Session) Status() string { return s.status }

func (s *Session) InspectMode() InspectMode { return s.mode }

func (s *Session) IsRunning() bool { return s.running }

func (s *Session) Target() string { return s.cfg.Target }

// Connect spawns gdb, attaches to the stub, builds the register map, and
// takes the first snapshot.
func (s *Session) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()
	if err := s.client.Connect(ctx); err != nil {
		s.status = fmt.Sprintf("init ERROR: %v", err)
		return err
	}
	if err := s.adapter.InitRegisterMap(ctx); err != nil {
		s.status = fmt.Sprintf("init ERROR: %v", err)
		return err
	}
	if err := s.refreshState(ctx); err != nil {
		s.status = fmt.Sprintf("init ERROR: %v", err)
		return err
	}
	s.status = fmt.Sprintf("connected to %s (use n/c/p/r/q)", s.cfg.Target)
	return nil
}

// Close quits the backend and reaps the child. Idempotent.
func (s *Session) Close() {
	s.client.Close()
}

// runAction wraps a state-changing operation in the uniform failure
// envelope: on success the status reads "<label> OK" and, when refresh is
// set, both snapshots advance; on failure only the status changes.
func (s *Session) runAction(ctx context.Context, label string, refresh bool, action func() error) bool {
	if err := action(); err != nil {
		s.fail(label, err)
		return false
	}
	if refresh {
		if err := s.refreshState(ctx); err != nil {
			s.fail(label, err)
			return false
		}
	}
	s.status = label + " OK"
	return true
}

func (s *Session) fail(label string, err error) {
	if errors.Is(err, context.Canceled) {
		s.status = fmt.Sprintf("%s CANCEL: interrupted", label)
	} else {
		s.status = fmt.Sprintf("%s ERROR: %v", label, err)
	}
	logger.Warn("action failed", "label", label, "error", err)
}

// refreshState reads a fresh register snapshot and re-runs the walk. The old
// snapshot becomes the previous one only after the read succeeds.
func (s *Session) refreshState(ctx context.Context) error {
	regs, err := s.adapter.ReadRegisters(ctx)
	if err != nil {
		return err
	}
	s.prevRegs = s.regs
	s.regs = regs
	s.updatePageInfo(ctx)
	return nil
}

// Step executes one instruction. Refused while running.
func (s *Session) Step(ctx context.Context) {
	if s.running {
		s.status = "stepi refused: target is running; pause first (p)"
		return
	}
	s.runAction(ctx, "stepi", true, func() error {
		return s.adapter.StepInstruction(ctx)
	})
}

// Continue resumes the guest. Registers are meaningless while it runs, so no
// refresh happens here.
func (s *Session) Continue(ctx context.Context) {
	if s.running {
		s.status = "already running"
		return
	}
	if s.runAction(ctx, "continue", false, func() error {
		return s.adapter.Continue(ctx)
	}) {
		s.running = true
	}
}

// Pause interrupts the guest and refreshes.
func (s *Session) Pause(ctx context.Context) {
	s.runAction(ctx, "pause (interrupt)", true, func() error {
		return s.adapter.Interrupt()
	})
	s.running = false
}

// Refresh re-reads registers and the walk without touching execution.
func (s *Session) Refresh(ctx context.Context) {
	if s.running {
		s.status = "refresh refused: target is running; pause first (p)"
		return
	}
	s.runAction(ctx, "refresh", true, func() error { return nil })
}

// SetInspectRIP switches the walk back to following the instruction pointer.
func (s *Session) SetInspectRIP(ctx context.Context) {
	if s.running {
		s.status = "inspect mode refused: target is running; pause first (p)"
		return
	}
	s.mode = ModeRIP
	s.inspectVA = 0
	s.updatePageInfo(ctx)
	s.status = "inspect rip OK"
}

// SetInspectVA pins the walk to a fixed virtual address.
func (s *Session) SetInspectVA(ctx context.Context, va uint64) {
	if s.running {
		s.status = "inspect mode refused: target is running; pause first (p)"
		return
	}
	s.mode = ModeManual
	s.inspectVA = va
	s.updatePageInfo(ctx)
	s.status = fmt.Sprintf("inspect va %#x OK", va)
}

// CurrentInspectVA resolves the address the walk should follow. In rip mode
// an absent or unparsable rip yields ok=false ("no VA").
func (s *Session) CurrentInspectVA() (uint64, bool) {
	switch s.mode {
	case ModeRIP:
		rip, ok := s.regs["rip"]
		if !ok || rip == target.NotAvailable {
			return 0, false
		}
		va, err := strconv.ParseUint(rip, 0, 64)
		if err != nil {
			return 0, false
		}
		return va, true
	case ModeManual:
		return s.inspectVA, true
	}
	return 0, false
}

// updatePageInfo re-runs the walk for the current inspect address. A failed
// walk replaces the current result with an error marker; the previous result
// survives for delta display.
func (s *Session) updatePageInfo(ctx context.Context) {
	va, ok := s.CurrentInspectVA()
	if !ok {
		s.prevPageInfo = s.pageInfo
		s.pageInfo = nil
		return
	}

	s.prevPageInfo = s.pageInfo
	res, err := target.Walk(ctx, s.adapter, va)
	if err != nil {
		s.pageInfo = &PageInfo{Err: err.Error()}
		return
	}
	s.pageInfo = &PageInfo{Walk: res, Perm: PermFromFlags(res)}
}

// PermFromFlags renders a walk result as "RWX (user|kernel)". Reads are
// always permitted on a present page.
func PermFromFlags(res *target.WalkResult) string {
	if res == nil || !res.Present || res.Flags == nil {
		return "no permission"
	}
	f := res.Flags
	perm := "R"
	if f.Writable {
		perm += "W"
	} else {
		perm += "-"
	}
	if f.NX {
		perm += "-"
	} else {
		perm += "X"
	}
	if f.User {
		return perm + " (user)"
	}
	return perm + " (kernel)"
}

// MemDump reads size bytes at va and formats the hex/ASCII rows.
func (s *Session) MemDump(ctx context.Context, va uint64, size int) {
	if s.running {
		s.status = "memdump refused: target is running; pause first (p)"
		return
	}
	data, err := s.adapter.ReadVirtBytes(ctx, va, size)
	if err != nil {
		s.memDumpLines = []string{fmt.Sprintf("memdump ERROR: %v", err)}
		s.fail("memdump", err)
		return
	}
	s.memDumpLines = FormatDump(va, data)
	s.status = fmt.Sprintf("memdump %#x (%d bytes) OK, lines=%d", va, size, len(s.memDumpLines))
}
