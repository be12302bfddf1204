// Package hostfunc defines the host functions a guest module may import and
// the table that dispatches guest calls to them.
//
// # Overview
//
// A guest has no implicit access to anything. Each capability is a [Func]
// registered by name and [Signature] in a [Registry] for one import
// namespace:
//
//	reg := hostfunc.NewRegistry("env")
//	reg.Register("mult_two", hostfunc.Sig(hostfunc.I32, hostfunc.I32),
//	    func(c *hostfunc.Call) (hostfunc.Value, error) {
//	        x, err := c.I32(0)
//	        if err != nil {
//	            return hostfunc.Void, err
//	        }
//	        return hostfunc.ValueI32(x * 2), nil
//	    })
//
// # Table
//
// When an import is resolved it is bound into a [Table] and gets a [Slot].
// Slots are assigned once and never rebound. [Table.Invoke] checks the
// arguments against the bound signature, recovers panics, and turns every
// failure into a *trap.Trap.
//
// # Key-Value Store
//
// [KV] is an in-memory store exposed as db_put and db_get. Keys are
// NUL-terminated strings in guest memory; see [EncodeKey] for the layout
// the bundled guest uses.
//
//	kv := hostfunc.NewKV(hostfunc.DefaultKVConfig())
//	kv.Register(reg)
package hostfunc
