package toolhost

import (
	"errors"
	"fmt"
	"time"
)

// ErrSupervisorClosed is returned by Submit after the supervisor has
// been shut down. Seeing it outside process teardown indicates a
// programming error, not an operational condition.
var ErrSupervisorClosed = errors.New("toolhost: supervisor closed")

// ErrStartTimeout is returned by Start when the supervisor's worker does
// not become ready within the startup window.
var ErrStartTimeout = errors.New("toolhost: supervisor failed to start in time")

// errAwaitTimeout is the raw handle-level timeout; adapters translate it
// into a *CallTimeoutError carrying the tool name.
var errAwaitTimeout = errors.New("toolhost: await timed out")

// ConfigError reports a malformed or duplicate server or tool name. It
// is fatal only to the registration it names, never to the process.
type ConfigError struct {
	Name   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("toolhost: configuration error for %q: %s", e.Name, e.Reason)
}

// ConnectError reports that a server could not be launched or failed its
// handshake. The server's tools are simply absent; other servers are
// unaffected.
type ConnectError struct {
	Server string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("toolhost: server %q failed to connect: %v", e.Server, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// CallTimeoutError reports that a tool call's deadline elapsed before
// the remote result arrived. The remote operation is not guaranteed to
// have been aborted; callers must treat the outcome as unknown.
type CallTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *CallTimeoutError) Error() string {
	return fmt.Sprintf("toolhost: call to %q timed out after %s", e.Tool, e.Timeout)
}

// RemoteToolError carries a tool-level failure reported by the remote
// server, with the remote message preserved.
type RemoteToolError struct {
	Tool    string
	Message string
}

func (e *RemoteToolError) Error() string {
	return fmt.Sprintf("toolhost: tool %q reported an error: %s", e.Tool, e.Message)
}

// ArgumentError reports a call rejected locally before any remote
// request was sent: an unknown argument name or a missing required
// parameter.
type ArgumentError struct {
	Tool     string
	Argument string
	Reason   string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("toolhost: tool %q: argument %q %s", e.Tool, e.Argument, e.Reason)
}
