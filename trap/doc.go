// Package trap defines the ways a guest invocation can terminate abnormally.
//
// A [Trap] always ends the invocation that raised it. Whether the session may
// be used afterwards is decided by the caller; [Trap.Recoverable] reports the
// kinds for which the instance is known to be intact.
package trap
