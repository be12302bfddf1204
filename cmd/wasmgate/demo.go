package main

import (
	"context"
	"fmt"
	"io"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/caffeineduck/wasmgate/guest/arith"
	"github.com/caffeineduck/wasmgate/guest/kvstore"
	"github.com/caffeineduck/wasmgate/guest/recursion"
	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/spf13/cobra"
)

func newDemoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run the bundled guests through their scenarios",
		Long: `Run each bundled guest and print what happened:

  add_one(41)              no imports
  mult_four(6)             calls env.mult_two twice
  wasm_unused_fn(1.5)      host traps with unreachable
  rec(1, 10), rec(1, 65000) recursion and a recoverable stack overflow
  put/get through db_put and db_get over shared memory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exec, err := a.newExecutor(nil)
			if err != nil {
				return err
			}
			defer exec.Close()
			return runDemo(context.Background(), cmd.OutOrStdout(), exec)
		},
	}
}

type demoStep struct {
	export string
	args   []hostfunc.Value
}

func runDemo(ctx context.Context, w io.Writer, exec *executor.Executor) error {
	i32 := hostfunc.ValueI32
	kv := executor.WithSessionKV(hostfunc.DefaultKVConfig())

	scenarios := []struct {
		title   string
		program executor.Program
		opts    []executor.SessionOption
		steps   []demoStep
	}{
		{"simple", arith.Simple{}, nil, []demoStep{
			{"add_one", []hostfunc.Value{i32(41)}},
		}},
		{"cross calls", arith.Cross{}, nil, []demoStep{
			{"mult_four", []hostfunc.Value{i32(6)}},
			{"wasm_unused_fn", []hostfunc.Value{hostfunc.ValueF32(1.5)}},
		}},
		{"recursion", recursion.Program{}, nil, []demoStep{
			{"rec", []hostfunc.Value{i32(1), i32(10)}},
			{"rec", []hostfunc.Value{i32(1), i32(65000)}},
			{"rec", []hostfunc.Value{i32(1), i32(10)}},
		}},
		{"key/value", kvstore.Program{}, []executor.SessionOption{kv}, []demoStep{
			{"put_int", []hostfunc.Value{i32(1000), i32(12)}},
			{"put_int", []hostfunc.Value{i32(8), i32(64)}},
			{"get_int", []hostfunc.Value{i32(1000)}},
			{"lookup_len", []hostfunc.Value{i32(9999)}},
		}},
	}

	for _, sc := range scenarios {
		fmt.Fprintf(w, "== %s (%s)\n", sc.title, sc.program.Name())

		mod, err := exec.LoadProgram(ctx, sc.program)
		if err != nil {
			return err
		}
		session, err := exec.NewSession(ctx, mod, executor.NewResolver(hostRegistry()), sc.opts...)
		if err != nil {
			return fmt.Errorf("%s: %w", sc.program.Name(), err)
		}

		for _, step := range sc.steps {
			res := session.Invoke(ctx, step.export, step.args...)
			fmt.Fprintf(w, "%s%s => %s\n", step.export, formatArgs(step.args), res)
		}
		session.Close()
	}
	return nil
}

func formatArgs(args []hostfunc.Value) string {
	s := "("
	for i, a := range args {
		if i > 0 {
			s += ", "
		}
		s += a.String()
	}
	return s + ")"
}
