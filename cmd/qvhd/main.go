package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/ehrlich-b/qvhd/internal/config"
	"github.com/ehrlich-b/qvhd/internal/logger"
	"github.com/ehrlich-b/qvhd/internal/session"
	"github.com/ehrlich-b/qvhd/internal/target"
	"github.com/ehrlich-b/qvhd/internal/ui"
)

var (
	gdbFlag     string
	targetFlag  string
	timeoutFlag string
	logFileFlag string
	debugFlag   bool
)

func main() {
	root := &cobra.Command{
		Use:   "qvhd",
		Short: "qvhd — QEMU based x86_64 virtual hardware debugger",
		Long: "Attaches gdb to a QEMU gdbstub and shows registers, a live 4-level\n" +
			"page-table walk, and a memory dump for the paused guest.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newSession()
			if err != nil {
				return err
			}
			p := tea.NewProgram(ui.NewModel(sess), tea.WithAltScreen())
			_, err = p.Run()
			sess.Close()
			return err
		},
	}

	root.PersistentFlags().StringVar(&gdbFlag, "gdb", "", "gdb executable (default \"gdb\")")
	root.PersistentFlags().StringVar(&targetFlag, "target", "", "gdbstub endpoint (default \"localhost:1234\")")
	root.PersistentFlags().StringVar(&timeoutFlag, "timeout", "", "request deadline (default \"5s\")")
	root.PersistentFlags().StringVar(&logFileFlag, "log-file", "", "write logs to this file")
	root.PersistentFlags().BoolVar(&debugFlag, "debug", false, "debug logging")

	root.AddCommand(
		regsCmd(),
		inspectCmd(),
		dumpCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newSession merges config file and flags and builds a disconnected session.
func newSession() (*session.Session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if gdbFlag != "" {
		cfg.GdbPath = gdbFlag
	}
	if targetFlag != "" {
		cfg.Target = targetFlag
	}
	if timeoutFlag != "" {
		cfg.Timeout = timeoutFlag
	}
	if logFileFlag != "" {
		cfg.LogFile = logFileFlag
	}
	if debugFlag {
		cfg.Debug = true
	}

	if err := logger.Init(cfg.Debug, cfg.LogFile); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	patterns, err := cfg.CompiledCR3Patterns()
	if err != nil {
		return nil, fmt.Errorf("cr3_patterns: %w", err)
	}

	return session.New(session.Config{
		GdbPath: cfg.GdbPath,
		Target:  cfg.Target,
		Adapter: target.Options{
			SendTimeout: cfg.RequestTimeout(),
			CR3Patterns: patterns,
		},
	}), nil
}

// connected runs fn against a connected session and always closes it.
func connected(fn func(sess *session.Session) error) error {
	sess, err := newSession()
	if err != nil {
		return err
	}
	defer sess.Close()
	if err := sess.Connect(context.Background()); err != nil {
		return fmt.Errorf("%s", sess.Status())
	}
	return fn(sess)
}

func regsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regs",
		Short: "Print the register snapshot and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return connected(func(sess *session.Session) error {
				w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				for _, name := range target.RegOrder {
					fmt.Fprintf(w, "%s\t%s\n", name, sess.Regs()[name])
				}
				return w.Flush()
			})
		},
	}
}

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <va|rip>",
		Short: "Walk the page tables for one virtual address and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return connected(func(sess *session.Session) error {
				if args[0] == "rip" {
					sess.SetInspectRIP(context.Background())
				} else {
					va, err := parseAddr(args[0])
					if err != nil {
						return fmt.Errorf("invalid va %q", args[0])
					}
					sess.SetInspectVA(context.Background(), va)
				}

				pi := sess.PageInfo()
				if pi == nil {
					return fmt.Errorf("no VA to inspect (rip unavailable)")
				}
				if pi.Err != "" {
					return fmt.Errorf("%s", pi.Err)
				}
				printWalk(pi.Walk, pi.Perm)
				return nil
			})
		},
	}
}

func printWalk(res *target.WalkResult, perm string) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "va\t%#x\n", res.VA)
	fmt.Fprintf(w, "cr3\t%#x\n", res.CR3)
	fmt.Fprintf(w, "indices\tpml4=%d pdpt=%d pd=%d pt=%d off=%#03x\n",
		res.PML4Index, res.PDPTIndex, res.PDIndex, res.PTIndex, res.Offset)
	for _, e := range res.Entries {
		fmt.Fprintf(w, "%s\t0x%016x\n", e.Name, e.Entry)
	}
	fmt.Fprintf(w, "level\t%s\n", res.Level)
	fmt.Fprintf(w, "present\t%v\n", res.Present)
	if res.Present {
		fmt.Fprintf(w, "page size\t%s\n", res.PageSize)
		fmt.Fprintf(w, "page phys\t%#x\n", res.PageBase)
		fmt.Fprintf(w, "phys addr\t%#x\n", res.PhysAddr)
		fmt.Fprintf(w, "perm\t%s\n", perm)
		fmt.Fprintf(w, "flags\t%+v\n", *res.Flags)
	}
	w.Flush()
}

func dumpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dump <va> [size]",
		Short: "Hex/ASCII dump of guest-virtual memory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			va, err := parseAddr(args[0])
			if err != nil {
				return fmt.Errorf("invalid va %q", args[0])
			}
			size := 64
			if len(args) == 2 {
				size, err = strconv.Atoi(args[1])
				if err != nil || size <= 0 || size > 4096 {
					return fmt.Errorf("invalid size %q", args[1])
				}
			}
			return connected(func(sess *session.Session) error {
				sess.MemDump(context.Background(), va, size)
				if strings.Contains(sess.Status(), "ERROR") {
					return fmt.Errorf("%s", sess.Status())
				}
				for _, line := range sess.MemDumpLines() {
					fmt.Println(line)
				}
				return nil
			})
		},
	}
}

func parseAddr(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	return strconv.ParseUint(s, 16, 64)
}
