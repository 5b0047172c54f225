package target

import (
	"errors"
	"fmt"
)

// ErrMonitorNoOutput means a monitor command produced no console or target
// stream text at all, usually an old QEMU or a command routed nowhere.
var ErrMonitorNoOutput = errors.New("target: monitor produced no output")

// UnknownRegisterError reports a name absent from the register map.
type UnknownRegisterError struct {
	Name string
}

func (e *UnknownRegisterError) Error() string {
	return fmt.Sprintf("target: unknown register %q", e.Name)
}

// CR3UnavailableError means neither the register map nor any monitor pattern
// yielded a CR3 value. Raw carries the monitor text for the status line.
type CR3UnavailableError struct {
	Raw string
}

func (e *CR3UnavailableError) Error() string {
	return fmt.Sprintf("target: cr3 unavailable (monitor said %q)", e.Raw)
}

// ParsePhysError means the xp output did not contain a ": 0x..." value.
type ParsePhysError struct {
	Raw string
}

func (e *ParsePhysError) Error() string {
	return fmt.Sprintf("target: cannot parse physical read from %q", e.Raw)
}

// ParseBytesError means a result record lacked the attribute the adapter
// decodes: the contents of -data-read-memory-bytes or the register-names list
// of -data-list-register-names.
type ParseBytesError struct {
	Raw string
}

func (e *ParseBytesError) Error() string {
	return fmt.Sprintf("target: cannot parse memory contents from %q", e.Raw)
}
