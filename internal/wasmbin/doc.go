// Package wasmbin writes small WebAssembly binaries: the namespace bridge
// that hands a host-sized memory to the engine, and the bundled guest
// programs. It covers the MVP sections and the handful of instructions
// those modules need, nothing more.
package wasmbin
