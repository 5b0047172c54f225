// Package gdb owns the child gdb process and the request/response cycle over
// its MI interpreter. One request is in flight at a time; responses are
// matched by arrival order.
package gdb

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/ehrlich-b/qvhd/internal/logger"
	"github.com/ehrlich-b/qvhd/internal/mi"
)

const quitGrace = 200 * time.Millisecond

// Exchange is everything gdb produced for one request: the terminating result
// record plus the ordered intermediate records (stream and async) before it.
type Exchange struct {
	Result  mi.Record
	Records []mi.Record
}

// ConsoleText concatenates the decoded text of the exchange's console and
// target stream records, in arrival order.
func (e *Exchange) ConsoleText() string {
	var b strings.Builder
	for _, rec := range e.Records {
		if rec.Type != mi.RecordStream {
			continue
		}
		if rec.Kind == mi.StreamConsole || rec.Kind == mi.StreamTarget {
			b.WriteString(rec.Text)
		}
	}
	return b.String()
}

// Client drives one gdb child process speaking MI2. All request methods are
// mutually excluded; the reader goroutine is the only consumer of stdout.
type Client struct {
	gdbPath string
	target  string

	mu        sync.Mutex // serializes Send/Monitor and guards connected
	connected bool

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	lines   chan string
	closing chan struct{} // closed to unblock the reader during teardown
	done    chan struct{} // closed after cmd.Wait returns

	closeOnce sync.Once
}

// New returns an unconnected client for the given gdb binary and remote
// endpoint (host:port of the stub).
func New(gdbPath, target string) *Client {
	return &Client{gdbPath: gdbPath, target: target}
}

// Connect spawns gdb, starts the reader, and runs the three bootstrap
// commands. On any bootstrap failure the child is torn down and the client
// stays unconnected. The context bounds the whole sequence; the remote
// attach is the slow step, so callers should allow ~10s.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connected {
		return nil
	}

	cmd := exec.Command(c.gdbPath, "--nx", "--quiet", "--interpreter=mi2")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	// Merge stderr into the record stream; gdb writes warnings there and the
	// codec files them as async.
	pr, pw, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("start %s: %w", c.gdbPath, err)
	}
	pw.Close()

	c.cmd = cmd
	c.stdin = stdin
	c.lines = make(chan string, 64)
	c.closing = make(chan struct{})
	c.done = make(chan struct{})
	go c.readLoop(pr)
	c.connected = true

	bootstrap := []string{
		"-gdb-set pagination off",
		"-gdb-set confirm off",
		fmt.Sprintf("-interpreter-exec console %q", "target remote "+c.target),
	}
	for _, mc := range bootstrap {
		if _, err := c.sendLocked(ctx, mc); err != nil {
			logger.Error("bootstrap failed", "cmd", mc, "error", err)
			c.connected = false
			c.teardown()
			return fmt.Errorf("bootstrap %q: %w", mc, err)
		}
	}
	logger.Info("connected", "gdb", c.gdbPath, "target", c.target)
	return nil
}

func (c *Client) readLoop(r io.ReadCloser) {
	defer close(c.done)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		select {
		case c.lines <- line:
		case <-c.closing:
		}
	}
	r.Close()
	c.cmd.Wait()
	close(c.lines)
}

// Send writes one MI command and consumes lines until its result record.
// A ^error result surfaces as *BackendError; the intermediates up to it are
// still consumed.
func (c *Client) Send(ctx context.Context, command string) (*Exchange, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendLocked(ctx, command)
}

func (c *Client) sendLocked(ctx context.Context, command string) (*Exchange, error) {
	if !c.connected {
		return nil, ErrNotConnected
	}

	// Stale output from a timed-out request or a user interrupt sits in the
	// channel until now; drop it so attribution by order holds.
	c.drain()

	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		c.connected = false
		return nil, ErrBackendExited
	}

	ex := &Exchange{}
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				c.connected = false
				return nil, ErrBackendExited
			}
			rec, err := mi.ParseLine(line)
			if err != nil {
				return nil, err
			}
			switch rec.Type {
			case mi.RecordPrompt:
				// end-of-response sentinel, nothing to keep
			case mi.RecordResult:
				ex.Result = rec
				if rec.Class == mi.ClassError {
					return nil, &BackendError{Message: rec.ErrorMessage()}
				}
				return ex, nil
			default:
				ex.Records = append(ex.Records, rec)
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %s", ErrTimeout, command)
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Client) drain() {
	for {
		select {
		case line, ok := <-c.lines:
			if !ok {
				return
			}
			logger.Debug("discarding stale line", "line", line)
		default:
			return
		}
	}
}

// Monitor routes a command to the hypervisor monitor via the console
// interpreter and returns the concatenated console/target text.
func (c *Client) Monitor(ctx context.Context, command string) (string, error) {
	ex, err := c.Send(ctx, fmt.Sprintf("-interpreter-exec console %q", "monitor "+command))
	if err != nil {
		return "", err
	}
	return ex.ConsoleText(), nil
}

// Interrupt delivers SIGINT to the child, the out-of-band equivalent of
// Ctrl-C. It does not consume any output; the *stopped notification lands as
// a stale async record before the next request.
func (c *Client) Interrupt() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || c.cmd == nil || c.cmd.Process == nil {
		return ErrNotConnected
	}
	return c.cmd.Process.Signal(os.Interrupt)
}

// Close quits gdb gracefully, waiting quitGrace before killing it. Safe to
// call more than once and on a never-connected client.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.cmd == nil {
			return
		}
		c.connected = false
		io.WriteString(c.stdin, "quit\n")
		c.stdin.Close()
		close(c.closing)
		select {
		case <-c.done:
		case <-time.After(quitGrace):
			c.cmd.Process.Kill()
			<-c.done
		}
		logger.Info("gdb closed")
	})
	return nil
}

func (c *Client) teardown() {
	if c.cmd == nil {
		return
	}
	c.stdin.Close()
	close(c.closing)
	c.cmd.Process.Kill()
	<-c.done
	c.cmd = nil
}
