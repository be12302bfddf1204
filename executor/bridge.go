package executor

import (
	"context"
	"fmt"

	"github.com/caffeineduck/wasmgate/hostfunc"
	"github.com/caffeineduck/wasmgate/internal/wasmbin"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// hostModuleSuffix names the module holding the Go functions when a bridge
// re-exports them under the namespace itself.
const hostModuleSuffix = "#host"

// link makes the resolver's bindings importable from its namespace in rt.
//
// Host modules cannot export memory, so when a memory was resolved the Go
// functions go into a hidden host module and a generated bridge module,
// named after the namespace, re-exports them together with a memory of the
// resolved limits. The resolver's memory is then bound to the bridge's.
func link(ctx context.Context, rt wazero.Runtime, r *Resolver) error {
	ns := r.Namespace()
	bindings := r.Table().Bindings()
	memField, hasMem := r.memoryField()

	hostName := ns
	if hasMem {
		hostName = ns + hostModuleSuffix
	}

	if len(bindings) > 0 {
		builder := rt.NewHostModuleBuilder(hostName)
		for _, b := range bindings {
			builder.NewFunctionBuilder().
				WithGoModuleFunction(hostCall(r.Table(), b), b.Signature.ParamTypes(), b.Signature.ResultTypes()).
				WithName(b.Field).
				Export(b.Field)
		}
		if _, err := builder.Instantiate(ctx); err != nil {
			return fmt.Errorf("instantiate host module %s: %w", hostName, err)
		}
	}

	if !hasMem {
		return nil
	}

	mem := r.Memory()
	lim := mem.Limits()

	bridge := wasmbin.New()
	for _, b := range bindings {
		idx := bridge.ImportFunc(hostName, b.Field, b.Signature.ParamTypes(), b.Signature.ResultTypes())
		bridge.ExportFunc(b.Field, idx)
	}
	bridge.Memory(wasmbin.Limits{Min: lim.Initial, Max: lim.Maximum, HasMax: lim.HasMaximum})
	bridge.ExportMemory(memField)

	mod, err := rt.InstantiateWithConfig(ctx, bridge.Encode(), wazero.NewModuleConfig().WithName(ns))
	if err != nil {
		return fmt.Errorf("instantiate bridge %s: %w", ns, err)
	}
	engineMem := mod.ExportedMemory(memField)
	if engineMem == nil {
		return fmt.Errorf("bridge %s: memory %q not exported", ns, memField)
	}
	if err := mem.Bind(engineMem); err != nil {
		return fmt.Errorf("bind memory: %w", err)
	}
	return nil
}

// hostCall adapts one binding to the engine's stack calling convention.
// A trap is raised by panicking with it; the engine unwinds the guest and
// returns the trap wrapped in its error.
func hostCall(t *hostfunc.Table, b hostfunc.Binding) api.GoModuleFunc {
	params := b.Signature.Params
	result := b.Signature.Result
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		args := make([]hostfunc.Value, len(params))
		for i, k := range params {
			args[i] = hostfunc.FromRaw(k, stack[i])
		}
		res, err := t.Invoke(ctx, b.Slot, args)
		if err != nil {
			panic(err)
		}
		if result != hostfunc.None {
			stack[0] = res.Raw()
		}
	}
}
