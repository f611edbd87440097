package toolhost

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ConnState is the lifecycle state of a managed connection. A
// connection moves Disconnected→Connecting exactly once, then to
// Connected or Failed exactly once, and never reverts.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateFailed       ConnState = "failed"
)

// callQueueSize bounds how many calls may wait on one connection's FIFO
// queue before enqueueing blocks.
const callQueueSize = 32

// Connection pairs a server descriptor with its transport handle and
// session. It is owned exclusively by the Host for the process
// lifetime; once Connected it is not torn down before process exit.
type Connection struct {
	desc ServerDescriptor

	mu      sync.RWMutex
	state   ConnState
	err     error
	client  *mcp.Client
	session *mcp.ClientSession

	// ctx is the session's lifetime context. The protocol client
	// retains it for the session's own shutdown request, so it must
	// outlive setup and is cancelled only after the session is closed.
	ctx    context.Context
	cancel context.CancelFunc

	calls chan *pendingCall
}

type pendingCall struct {
	params *mcp.CallToolParams
	ctx    context.Context
	cancel context.CancelFunc
	handle *Handle
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err returns the failure cause for a Failed connection, nil otherwise.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// Server returns the descriptor this connection was built from.
func (c *Connection) Server() ServerDescriptor { return c.desc }

func (c *Connection) markConnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDisconnected {
		c.state = StateConnecting
	}
}

func (c *Connection) markConnected(client *mcp.Client, session *mcp.ClientSession) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnecting {
		return false
	}
	c.state = StateConnected
	c.client = client
	c.session = session
	return true
}

func (c *Connection) markFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateConnected || c.state == StateFailed {
		return
	}
	c.state = StateFailed
	c.err = err
}

// enqueue appends a call to this connection's FIFO queue. It fails fast
// when the connection is not Connected and gives up once the call's own
// deadline expires while waiting for queue space.
func (c *Connection) enqueue(call *pendingCall) error {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state != StateConnected {
		return fmt.Errorf("toolhost: server %q is %s", c.desc.Name, state)
	}
	select {
	case c.calls <- call:
		return nil
	case <-call.ctx.Done():
		return errAwaitTimeout
	}
}

// serveCalls drains the connection's queue one call at a time, which
// serializes in-flight requests on this session. It runs as a
// supervisor task for the remainder of the process.
func (c *Connection) serveCalls(ctx context.Context) (any, error) {
	for {
		select {
		case call := <-c.calls:
			c.mu.RLock()
			session := c.session
			c.mu.RUnlock()
			if session == nil {
				call.handle.complete(nil, fmt.Errorf("toolhost: server %q session closed", c.desc.Name))
				call.cancel()
				continue
			}
			res, err := session.CallTool(call.ctx, call.params)
			call.handle.complete(res, err)
			call.cancel()
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// HostOptions configure a Host.
type HostOptions struct {
	// Logger receives structured diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
	// ClientName and ClientVersion identify this process during the
	// protocol handshake. ClientName defaults to "agentgateway".
	ClientName    string
	ClientVersion string
	// StartupTimeout bounds the whole Connect pass across all servers.
	// Defaults to 60s.
	StartupTimeout time.Duration
	// ServerTimeout bounds each individual server's launch, handshake,
	// and tool listing. It must stay below StartupTimeout so one hung
	// server cannot consume the global window. Defaults to 20s.
	ServerTimeout time.Duration
	// CallTimeout is the default deadline applied to adapter calls that
	// do not override it. Defaults to 30s.
	CallTimeout time.Duration
}

func (o *HostOptions) withDefaults() HostOptions {
	if o == nil {
		o = &HostOptions{}
	}
	opts := *o
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ClientName == "" {
		opts.ClientName = "agentgateway"
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "1.0.0"
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = 60 * time.Second
	}
	if opts.ServerTimeout <= 0 {
		opts.ServerTimeout = 20 * time.Second
	}
	if opts.ServerTimeout > opts.StartupTimeout {
		opts.ServerTimeout = opts.StartupTimeout
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 30 * time.Second
	}
	return opts
}

// Host establishes and permanently retains one Connection per enabled
// server descriptor. It is the sole writer of connection state and the
// single owner of every transport and session it opens; nothing else
// may release them, and Host.Close is the one defined release point.
type Host struct {
	sup  *Supervisor
	opts HostOptions

	mu    sync.RWMutex
	conns map[string]*Connection

	registry *Registry

	// transportFor builds the transport for one descriptor. Overridden
	// in tests to connect in-process servers.
	transportFor func(ServerDescriptor) (mcp.Transport, error)
}

// NewHost validates the descriptors and prepares one Disconnected
// connection per enabled descriptor. Disabled descriptors are skipped
// entirely: no subprocess is ever launched for them and no tool
// carrying their prefix appears in the registry.
func NewHost(sup *Supervisor, descs []ServerDescriptor, opts *HostOptions) (*Host, error) {
	if sup == nil {
		return nil, fmt.Errorf("toolhost: supervisor is required")
	}
	if err := ValidateServers(descs); err != nil {
		return nil, err
	}
	h := &Host{
		sup:          sup,
		opts:         opts.withDefaults(),
		conns:        make(map[string]*Connection),
		registry:     NewRegistry(),
		transportFor: stdioTransport,
	}
	for _, d := range descs {
		if !d.Enabled {
			h.opts.Logger.Debug("server disabled, skipping", "server", d.Name)
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		h.conns[d.Name] = &Connection{
			desc:   d,
			state:  StateDisconnected,
			ctx:    ctx,
			cancel: cancel,
			calls:  make(chan *pendingCall, callQueueSize),
		}
	}
	return h, nil
}

// Registry returns the adapter registry populated during Connect. It is
// append-only for the life of the process.
func (h *Host) Registry() *Registry { return h.registry }

// Connection returns the managed connection for a server name.
func (h *Host) Connection(name string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[name]
	return c, ok
}

// States returns a snapshot of every connection's state, keyed by
// server name.
func (h *Host) States() map[string]ConnState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	states := make(map[string]ConnState, len(h.conns))
	for name, c := range h.conns {
		states[name] = c.State()
	}
	return states
}

// Servers returns the names of all managed connections, sorted.
func (h *Host) Servers() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.conns))
	for name := range h.conns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Connect runs every server's setup sequence concurrently on the
// supervisor and blocks until all attempts finish or the global startup
// timeout elapses. A spawn failure, handshake timeout, or protocol
// error on one server marks that connection Failed and never prevents
// the others from connecting or registering tools. Connect always
// returns the state of the world rather than failing the process;
// inspect States for the outcome.
func (h *Host) Connect(ctx context.Context) error {
	if err := h.sup.Start(); err != nil {
		return err
	}
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	handles := make(map[*Connection]*Handle, len(conns))
	for _, conn := range conns {
		conn := conn
		handle, err := h.sup.Submit(ctx, func(taskCtx context.Context) (any, error) {
			return nil, h.setup(taskCtx, conn)
		})
		if err != nil {
			conn.markFailed(&ConnectError{Server: conn.desc.Name, Err: err})
			h.opts.Logger.Error("server setup rejected", "server", conn.desc.Name, "error", err)
			continue
		}
		handles[conn] = handle
	}

	deadline := time.Now().Add(h.opts.StartupTimeout)
	for conn, handle := range handles {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			remaining = time.Millisecond
		}
		if _, err := handle.Await(remaining); err != nil {
			conn.markFailed(&ConnectError{Server: conn.desc.Name, Err: err})
			h.opts.Logger.Error("server failed to connect", "server", conn.desc.Name, "error", err)
		}
	}

	connected := 0
	for _, conn := range conns {
		if conn.State() == StateConnected {
			connected++
		}
	}
	h.opts.Logger.Info("tool server startup finished",
		"connected", connected,
		"failed", len(conns)-connected,
		"tools", h.registry.Len())
	return nil
}

// setup launches one server, performs the handshake, lists its tools,
// and registers a prefixed adapter for each. It runs inside the
// supervisor's context, bounded by the per-server timeout.
func (h *Host) setup(ctx context.Context, conn *Connection) error {
	conn.markConnecting()
	// Bounds launch, handshake, and discovery. The session itself must
	// not run on this context: the client retains its dial context for
	// the session's whole life, including the shutdown request Close
	// sends, so the session dials on conn.ctx instead.
	setupCtx, cancel := context.WithTimeout(ctx, h.opts.ServerTimeout)
	defer cancel()

	transport, err := h.transportFor(conn.desc)
	if err != nil {
		cerr := &ConnectError{Server: conn.desc.Name, Err: err}
		conn.markFailed(cerr)
		conn.cancel()
		return cerr
	}

	impl := &mcp.Implementation{Name: h.opts.ClientName, Version: h.opts.ClientVersion}
	client := mcp.NewClient(impl, nil)
	session, err := connectWithin(setupCtx, conn.ctx, client, transport)
	if err != nil {
		cerr := &ConnectError{Server: conn.desc.Name, Err: err}
		conn.markFailed(cerr)
		conn.cancel()
		return cerr
	}

	res, err := session.ListTools(setupCtx, nil)
	if err != nil {
		_ = session.Close()
		conn.cancel()
		cerr := &ConnectError{Server: conn.desc.Name, Err: fmt.Errorf("listing tools: %w", err)}
		conn.markFailed(cerr)
		return cerr
	}

	if !conn.markConnected(client, session) {
		// The global window expired while this attempt was finishing;
		// the connection was already marked Failed. Release the late
		// session here since it never entered the registry.
		_ = session.Close()
		conn.cancel()
		return conn.Err()
	}

	// The queue drain runs as a supervisor task for the rest of the
	// process; it is the only code that touches the session for calls.
	if _, err := h.sup.Submit(context.Background(), conn.serveCalls); err != nil {
		conn.markFailed(&ConnectError{Server: conn.desc.Name, Err: err})
		return err
	}

	for _, tool := range res.Tools {
		if tool == nil {
			continue
		}
		adapter, err := newAdapter(conn.desc.Name, tool, conn, h.opts.CallTimeout)
		if err != nil {
			h.opts.Logger.Error("tool registration rejected",
				"server", conn.desc.Name, "tool", tool.Name, "error", err)
			continue
		}
		if err := h.registry.register(adapter); err != nil {
			h.opts.Logger.Error("tool registration rejected",
				"server", conn.desc.Name, "tool", tool.Name, "error", err)
			continue
		}
		h.opts.Logger.Debug("tool registered", "name", adapter.Name())
	}
	return nil
}

// Close releases every open session. It is the single shutdown point
// for resources the Host owns and is meant to run only at process
// exit; in-flight calls are abandoned, not drained. Each connection's
// context is cancelled only after its session closes, since the
// session needs the context alive to send its termination request.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	var lastErr error
	for _, conn := range h.conns {
		conn.mu.Lock()
		session := conn.session
		conn.session = nil
		conn.mu.Unlock()
		if session != nil {
			if err := session.Close(); err != nil {
				lastErr = err
				h.opts.Logger.Warn("closing session", "server", conn.desc.Name, "error", err)
			}
		}
		conn.cancel()
	}
	return lastErr
}

// connectWithin dials on the session's own long-lived context while
// honoring the setup deadline. A dial still pending when the deadline
// fires is abandoned; if it completes later, its session is closed
// since it never entered the registry.
func connectWithin(setupCtx, sessionCtx context.Context, client *mcp.Client, transport mcp.Transport) (*mcp.ClientSession, error) {
	type dialResult struct {
		session *mcp.ClientSession
		err     error
	}
	results := make(chan dialResult, 1)
	go func() {
		session, err := client.Connect(sessionCtx, transport, nil)
		results <- dialResult{session, err}
	}()
	select {
	case r := <-results:
		return r.session, r.err
	case <-setupCtx.Done():
		go func() {
			if r := <-results; r.session != nil {
				_ = r.session.Close()
			}
		}()
		return nil, setupCtx.Err()
	}
}

// stdioTransport launches the descriptor's command with its environment
// on top of the process environment and speaks the protocol over the
// child's stdin/stdout.
func stdioTransport(desc ServerDescriptor) (mcp.Transport, error) {
	cmd := exec.Command(desc.Command, desc.Args...)
	if len(desc.Env) > 0 {
		env := os.Environ()
		for k, v := range desc.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}
