package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

const replHelp = `Commands:
  EXPORT [ARG...]      invoke an export, args as kind:literal
  exports              list invocable exports
  mem read OFF LEN     hex dump of guest memory
  mem pages            current memory size
  kv                   list stored keys and values
  help                 this text
  exit, quit           leave`

var errQuit = errors.New("quit")

func newReplCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl <module>",
		Short: "Interactive session against one instance",
		Long: `Start an interactive session against one instance of a module. Memory
and the key/value store persist between invocations.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Memory inspection (mem read OFF LEN)

` + replHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			historyFile, _ := cmd.Flags().GetString("history")
			if historyFile == "" {
				home, _ := os.UserHomeDir()
				historyFile = filepath.Join(home, ".wasmgate_history")
			}

			exec, err := a.newExecutor(nil)
			if err != nil {
				return err
			}
			defer exec.Close()

			ctx := context.Background()
			mod, err := loadModule(ctx, exec, args[0])
			if err != nil {
				return err
			}

			l := limitsFromFlags(cmd.Flags())
			session, err := exec.NewSession(ctx, mod, l.resolver(), l.sessionOptions()...)
			if err != nil {
				return err
			}
			defer session.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:            "> ",
				HistoryFile:       historyFile,
				HistoryLimit:      1000,
				InterruptPrompt:   "^C",
				EOFPrompt:         "exit",
				HistorySearchFold: true,
				AutoComplete:      replCompleter(session),
			})
			if err != nil {
				return fmt.Errorf("initialize readline: %w", err)
			}
			defer rl.Close()

			fmt.Fprintf(rl.Stderr(), "wasmgate %s (type 'help' for commands, Ctrl+D to exit)\n", mod.Name())

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if errors.Is(err, io.EOF) {
					fmt.Fprintln(rl.Stdout())
					return nil
				}
				if err != nil {
					return err
				}

				if err := evalLine(ctx, rl.Stdout(), session, line); err != nil {
					if errors.Is(err, errQuit) {
						return nil
					}
					fmt.Fprintf(rl.Stderr(), "Error: %v\n", err)
				}
			}
		},
	}

	cmd.Flags().String("history", "", "History file path (default: ~/.wasmgate_history)")
	a.addLimitFlags(cmd.Flags())
	return cmd
}

func replCompleter(session *executor.Session) readline.AutoCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("exports"),
		readline.PcItem("mem", readline.PcItem("read"), readline.PcItem("pages")),
		readline.PcItem("kv"),
		readline.PcItem("help"),
		readline.PcItem("exit"),
	}
	for _, name := range session.Module().ExportNames() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

// evalLine runs one REPL line against session, writing output to w.
func evalLine(ctx context.Context, w io.Writer, session *executor.Session, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "exit", "quit":
		return errQuit
	case "help":
		fmt.Fprintln(w, replHelp)
		return nil
	case "exports":
		exports := session.Exports()
		for _, name := range session.Module().ExportNames() {
			fmt.Fprintf(w, "%s %s\n", name, exports[name])
		}
		return nil
	case "mem":
		return evalMem(w, session, fields[1:])
	case "kv":
		kv := session.KV()
		if kv == nil {
			return errors.New("no key/value store (start with --kv)")
		}
		for _, k := range kv.Keys() {
			v, _ := kv.Lookup([]byte(k))
			if n, err := hostfunc.DecodeValue(v); err == nil {
				fmt.Fprintf(w, "%q = %d\n", k, n)
			} else {
				fmt.Fprintf(w, "%q = %x\n", k, v)
			}
		}
		return nil
	}

	args, err := parseArgs(fields[1:])
	if err != nil {
		return err
	}
	result := session.Invoke(ctx, fields[0], args...)
	if result.Status != executor.Completed {
		return result.Err()
	}
	fmt.Fprintln(w, result.Value)
	return nil
}

func evalMem(w io.Writer, session *executor.Session, args []string) error {
	mem := session.Memory()
	if len(args) == 1 && args[0] == "pages" {
		fmt.Fprintf(w, "%d pages (%d bytes), limits %s\n", mem.Pages(), mem.Size(), mem.Limits())
		return nil
	}
	if len(args) != 3 || args[0] != "read" {
		return errors.New("usage: mem read OFF LEN | mem pages")
	}

	off, err := strconv.ParseUint(args[1], 0, 32)
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	n, err := strconv.ParseUint(args[2], 0, 32)
	if err != nil {
		return fmt.Errorf("length: %w", err)
	}
	buf, err := mem.Read(uint32(off), uint32(n))
	if err != nil {
		return err
	}
	fmt.Fprint(w, hex.Dump(buf))
	return nil
}
