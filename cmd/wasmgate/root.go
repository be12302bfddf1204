package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/guest/arith"
	"github.com/caffeineduck/wasmgate/guest/kvstore"
	"github.com/caffeineduck/wasmgate/guest/recursion"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/internal/config"
	"github.com/caffeineduck/wasmgate/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// guestPrefix selects a bundled guest instead of a file.
const guestPrefix = "guest:"

var guests = []executor.Program{
	arith.Simple{},
	arith.Cross{},
	recursion.Program{},
	kvstore.Program{},
}

func lookupGuest(name string) (executor.Program, bool) {
	for _, p := range guests {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

func guestNames() []string {
	names := make([]string, len(guests))
	for i, p := range guests {
		names[i] = p.Name()
	}
	return names
}

// app is the state shared by every command of one invocation.
type app struct {
	cfg    *config.Config
	cfgErr error
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}
	a.cfg, a.cfgErr = config.Load()
	if a.cfgErr != nil {
		a.cfg = config.Default()
	}

	root := &cobra.Command{
		Use:   "wasmgate",
		Short: "Run untrusted WebAssembly behind a strict import boundary",
		Long: `wasmgate - Instantiate untrusted WebAssembly modules with only the host
functions and memory you grant them.

A module may import functions from the env namespace and at most one memory,
env.memory, with a declared maximum. Anything else is refused before the
module runs. Every invocation ends completed, trapped or failed.

Modules are given as a .wasm path or as guest:NAME for a bundled guest
(arith/simple, arith/cross, recursion, kvstore).

Defaults come from WASMGATE_MAX_PAGES, WASMGATE_TIMEOUT, WASMGATE_LOG_LEVEL,
WASMGATE_LOG_DEV, WASMGATE_HOST and WASMGATE_PORT.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgErr != nil {
				return a.cfgErr
			}
			level, _ := cmd.Flags().GetString("log-level")
			dev, _ := cmd.Flags().GetBool("log-dev")
			logger, err := logging.New(level, dev)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	root.PersistentFlags().String("log-level", a.cfg.LogLevel, "Log level: debug, info, warn, error")
	root.PersistentFlags().Bool("log-dev", a.cfg.LogDev, "Human-readable console logs")

	root.AddCommand(
		newRunCmd(a),
		newReplCmd(a),
		newServeCmd(a),
		newDemoCmd(a),
	)
	return root
}

// addLimitFlags adds the flags every command that starts sessions shares.
func (a *app) addLimitFlags(fs *pflag.FlagSet) {
	fs.Uint32("max-pages", a.cfg.MaxPages, "Largest memory a guest may declare, in 64KB pages")
	fs.Duration("timeout", a.cfg.Timeout, "Per-invocation timeout (0 disables)")
	fs.Bool("kv", false, "Give the guest db_put and db_get")
}

func (a *app) newExecutor(reg prometheus.Registerer) (*executor.Executor, error) {
	opts := []executor.ExecutorOption{executor.WithLogger(a.logger)}
	if reg != nil {
		opts = append(opts, executor.WithMetrics(reg))
	}
	return executor.New(opts...)
}

// hostRegistry is the env namespace offered to every guest the CLI runs.
func hostRegistry() *hostfunc.Registry {
	reg := hostfunc.NewRegistry("env")
	arith.Register(reg)
	return reg
}

type limits struct {
	maxPages uint32
	timeout  time.Duration
	kv       bool
}

func limitsFromFlags(fs *pflag.FlagSet) limits {
	maxPages, _ := fs.GetUint32("max-pages")
	timeout, _ := fs.GetDuration("timeout")
	kv, _ := fs.GetBool("kv")
	return limits{maxPages: maxPages, timeout: timeout, kv: kv}
}

func (l limits) resolver() *executor.Resolver {
	return executor.NewResolver(hostRegistry(), executor.WithMaxMemoryPages(l.maxPages))
}

func (l limits) sessionOptions() []executor.SessionOption {
	opts := []executor.SessionOption{executor.WithSessionTimeout(l.timeout)}
	if l.kv {
		opts = append(opts, executor.WithSessionKV(hostfunc.DefaultKVConfig()))
	}
	return opts
}

// loadModule loads ref, either guest:NAME or a path to a .wasm file.
func loadModule(ctx context.Context, exec *executor.Executor, ref string) (*executor.Module, error) {
	if name, ok := strings.CutPrefix(ref, guestPrefix); ok {
		p, ok := lookupGuest(name)
		if !ok {
			return nil, fmt.Errorf("unknown guest %q (have %s)", name, strings.Join(guestNames(), ", "))
		}
		return exec.LoadProgram(ctx, p)
	}

	binary, err := os.ReadFile(ref)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(ref), filepath.Ext(ref))
	return exec.Load(ctx, name, binary)
}

func parseArgs(raw []string) ([]hostfunc.Value, error) {
	args := make([]hostfunc.Value, 0, len(raw))
	for _, s := range raw {
		v, err := hostfunc.ParseValue(s)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}
