package main

import (
	"context"
	"fmt"

	"github.com/caffeineduck/wasmgate/executor"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <module>",
		Short: "Invoke one export and print the result",
		Long: `Instantiate a module, call one export and print its result.

Arguments are kind:literal, for example --arg i32:5 --arg f64:2.5; a bare
integer is an i32.

Examples:
  wasmgate run guest:arith/cross --export mult_four --arg 6
  wasmgate run guest:kvstore --kv --export lookup_len --arg 9999
  wasmgate run ./module.wasm --export main`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			export, _ := cmd.Flags().GetString("export")
			rawArgs, _ := cmd.Flags().GetStringArray("arg")

			values, err := parseArgs(rawArgs)
			if err != nil {
				return err
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

			result := session.Invoke(ctx, export, values...)
			if result.Status != executor.Completed {
				return fmt.Errorf("%s: %w", export, result.Err())
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Value)
			return nil
		},
	}

	cmd.Flags().StringP("export", "e", "", "Export to invoke")
	cmd.Flags().StringArrayP("arg", "a", nil, "Argument as kind:literal (repeatable)")
	_ = cmd.MarkFlagRequired("export")
	a.addLimitFlags(cmd.Flags())
	return cmd
}
