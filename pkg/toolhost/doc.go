// Package toolhost connects a synchronous agent process to externally
// hosted MCP tool servers launched over stdio. It keeps one long-lived
// session per configured server for the life of the process, discovers
// each server's tool catalog at startup, and exposes every discovered
// tool as a locally callable adapter under the name
// "<server>_<tool>".
//
// All protocol I/O runs inside a Supervisor-owned execution context; an
// arbitrary number of caller goroutines (typically one per inbound HTTP
// request) invoke adapters synchronously and block with a bounded wait
// while the call crosses into that context and back. Calls sharing a
// connection are serialized FIFO; calls to different connections
// proceed independently.
//
// # Core entry points
//
//   - Supervisor owns the execution context. Construct with
//     NewSupervisor, call Start once at process startup.
//   - ServerDescriptor declares how to launch one tool server; LoadServers
//     reads a JSON list of descriptors.
//   - Host establishes and permanently retains one Connection per enabled
//     descriptor. A failed or hung server never blocks the others.
//   - Registry holds one ToolAdapter per discovered tool and is the
//     consumer-facing call surface: Call(name, args) returns the flattened
//     text result or a structured error, never a panic.
//
// Connections are owned exclusively by the Host; nothing else closes
// them. Host.Close is the single release point, intended to run only at
// process exit.
package toolhost
