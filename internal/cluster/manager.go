// Package cluster maintains the single upstream DX cluster telnet session.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/saviobatista/dxcluster-proxy/internal/log"
	"github.com/saviobatista/dxcluster-proxy/internal/metrics"
	"github.com/saviobatista/dxcluster-proxy/internal/types"
)

const (
	readBufferSize = 4096
	writeTimeout   = 10 * time.Second
	tcpKeepAlive   = 30 * time.Second
)

// Dialer opens the TCP connection to a node
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// LineHandler receives every non-empty line read from the cluster, in order
type LineHandler func(line string)

// Hooks are optional lifecycle callbacks. They run outside the manager lock
// but must not block.
type Hooks struct {
	OnConnected    func(node types.Node)
	OnDisconnected func(node types.Node, cause error)
	OnFailover     func(from, to types.Node)
}

// Config controls the session behaviour
type Config struct {
	Callsign           string
	HistoryCommand     string
	HistoryCount       int
	SubscribeCommand   string
	ReconnectDelay     time.Duration
	MaxAttemptsPerNode int
	DialTimeout        time.Duration
	IdleTimeout        time.Duration
	KeepaliveInterval  time.Duration

	// HandshakeDelays are the pauses before the login, backfill and
	// subscribe lines, each measured from the previous step.
	HandshakeDelays [3]time.Duration
}

// DefaultConfig returns the production timings
func DefaultConfig() Config {
	return Config{
		Callsign:           "N0CALL",
		HistoryCommand:     "sh/dx",
		HistoryCount:       30,
		SubscribeCommand:   "set/dx",
		ReconnectDelay:     10 * time.Second,
		MaxAttemptsPerNode: 3,
		DialTimeout:        15 * time.Second,
		IdleTimeout:        60 * time.Second,
		KeepaliveInterval:  120 * time.Second,
		HandshakeDelays:    [3]time.Duration{1 * time.Second, 2 * time.Second, 2 * time.Second},
	}
}

// Status is a point-in-time view of the session
type Status struct {
	State          State      `json:"state"`
	Connected      bool       `json:"connected"`
	Node           types.Node `json:"node"`
	NodeIndex      int        `json:"nodeIndex"`
	Attempts       int        `json:"attempts"`
	SessionID      string     `json:"sessionId,omitempty"`
	ConnectedSince time.Time  `json:"connectedSince,omitzero"`
	LastLineAt     time.Time  `json:"lastLineAt,omitzero"`
	LastError      string     `json:"lastError,omitempty"`
	Connects       uint64     `json:"connects"`
	Disconnects    uint64     `json:"disconnects"`
}

type handshakeStep struct {
	name string
	line string
	next State
}

// Manager owns the cluster connection. Every event is tagged with the
// generation it was created for; events from an older generation are dropped.
type Manager struct {
	cfg      Config
	registry *Registry
	dialer   Dialer
	onLine   LineHandler
	hooks    Hooks
	logger   zerolog.Logger
	steps    []handshakeStep

	mu             sync.Mutex
	state          State
	gen            uint64
	failover       failover
	conn           net.Conn
	cancelDial     context.CancelFunc
	stepTimer      *time.Timer
	keepaliveStop  chan struct{}
	reconnectTimer *time.Timer
	reconnectSeq   uint64
	sessionID      string
	connectedAt    time.Time
	disconnectedAt time.Time
	lastLineAt     time.Time
	lastErr        error
	connects       uint64
	disconnects    uint64
	pending        []func()
}

// NewManager creates a manager in the Idle state. A nil dialer uses net.Dialer.
func NewManager(cfg Config, registry *Registry, dialer Dialer, onLine LineHandler, hooks Hooks) *Manager {
	if dialer == nil {
		dialer = &net.Dialer{KeepAlive: tcpKeepAlive}
	}
	if onLine == nil {
		onLine = func(string) {}
	}

	backfill := cfg.HistoryCommand
	if cfg.HistoryCount > 0 {
		backfill = fmt.Sprintf("%s %d", cfg.HistoryCommand, cfg.HistoryCount)
	}

	return &Manager{
		cfg:      cfg,
		registry: registry,
		dialer:   dialer,
		onLine:   onLine,
		hooks:    hooks,
		logger:   log.WithComponent("cluster"),
		steps: []handshakeStep{
			{name: "login", line: cfg.Callsign, next: StateAuthenticating},
			{name: "backfill", line: backfill, next: StateSubscribing},
			{name: "subscribe", line: cfg.SubscribeCommand, next: StateStreaming},
		},
		state:    StateIdle,
		failover: newFailover(registry.Len(), cfg.MaxAttemptsPerNode),
	}
}

// Run connects and keeps the session alive until ctx is cancelled
func (m *Manager) Run(ctx context.Context) error {
	m.Connect()
	<-ctx.Done()
	return m.Close()
}

// Connect starts a connection attempt to the current node. It is a no-op
// while an attempt is already in flight or after Close.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.unlock()
	m.connectLocked()
}

// Reconnect drops the current session and reconnects to the same node.
// It does not count as a failure.
func (m *Manager) Reconnect() (types.Node, error) {
	m.mu.Lock()
	defer m.unlock()

	if m.state == StateClosing {
		return types.Node{}, ErrClosed
	}

	node := m.currentNodeLocked()
	m.logger.Info().Str("node", node.Label).Msg("Manual reconnect requested")
	m.restartLocked()
	return node, nil
}

// SwitchNode selects node i, resets the attempt counter and reconnects
func (m *Manager) SwitchNode(i int) (types.Node, error) {
	node, err := m.registry.At(i)
	if err != nil {
		return types.Node{}, err
	}

	m.mu.Lock()
	defer m.unlock()

	if m.state == StateClosing {
		return types.Node{}, ErrClosed
	}

	m.logger.Info().
		Str("from", m.currentNodeLocked().Label).
		Str("to", node.Label).
		Int("index", i).
		Msg("Manual node switch requested")

	m.failover.selectNode(i)
	metrics.ClusterNodeIndex.Set(float64(i))
	m.restartLocked()
	return node, nil
}

// Close tears the session down for good. Later calls return nil.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.unlock()

	if m.state == StateClosing {
		return nil
	}

	m.stopReconnectLocked()
	m.releaseLocked()
	m.setStateLocked(StateClosing)
	metrics.SetConnected(false)
	m.logger.Info().Msg("Cluster manager closed")
	return nil
}

// Status returns a snapshot of the session
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		State:          m.state,
		Connected:      m.state.Connected(),
		Node:           m.currentNodeLocked(),
		NodeIndex:      m.failover.index,
		Attempts:       m.failover.attempts,
		SessionID:      m.sessionID,
		ConnectedSince: m.connectedAt,
		LastLineAt:     m.lastLineAt,
		Connects:       m.connects,
		Disconnects:    m.disconnects,
	}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}

// Registry returns the node registry
func (m *Manager) Registry() *Registry {
	return m.registry
}

// unlock releases the lock and then runs any hooks queued while it was held
func (m *Manager) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (m *Manager) emit(fn func()) {
	m.pending = append(m.pending, fn)
}

func (m *Manager) currentNodeLocked() types.Node {
	node, _ := m.registry.At(m.failover.index)
	return node
}

func (m *Manager) setStateLocked(to State) bool {
	if err := checkTransition(m.state, to); err != nil {
		m.logger.Error().Err(err).Msg("Refusing state change")
		return false
	}
	m.logger.Debug().Str("from", m.state.String()).Str("to", to.String()).Msg("State change")
	m.state = to
	return true
}

// restartLocked is the shared path for manual reconnects and node switches
func (m *Manager) restartLocked() {
	m.stopReconnectLocked()
	if m.state != StateIdle {
		m.teardownLocked()
	}
	m.connectLocked()
}

func (m *Manager) connectLocked() {
	switch m.state {
	case StateClosing:
		m.logger.Debug().Msg("Ignoring connect after close")
		return
	case StateConnecting:
		m.logger.Info().Msg("Connection attempt already in progress")
		return
	case StateIdle:
	default:
		m.teardownLocked()
	}

	m.stopReconnectLocked()
	if !m.setStateLocked(StateConnecting) {
		return
	}

	m.gen++
	gen := m.gen
	node := m.currentNodeLocked()
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
	m.cancelDial = cancel

	metrics.ClusterNodeIndex.Set(float64(m.failover.index))
	m.logger.Info().
		Str("node", node.Label).
		Str("addr", node.Addr()).
		Int("attempt", m.failover.attempts+1).
		Msg("Connecting to cluster node")

	go m.dial(ctx, cancel, gen, node)
}

func (m *Manager) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, node types.Node) {
	defer cancel()

	conn, err := m.dialer.DialContext(ctx, "tcp", node.Addr())

	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.state != StateConnecting {
		if conn != nil {
			conn.Close()
		}
		return
	}
	m.cancelDial = nil

	if err != nil {
		m.handleDisconnectLocked(gen, fmt.Errorf("dial %s: %w", node.Addr(), err))
		return
	}

	configureConn(m.logger, conn, node)

	m.conn = conn
	m.failover.recordSuccess()
	m.sessionID = uuid.NewString()
	m.connectedAt = time.Now()
	m.lastErr = nil
	m.connects++
	m.setStateLocked(StateAuthenticating)

	m.logReestablished(node)

	m.logger.Info().
		Str("node", node.Label).
		Str("session", m.sessionID).
		Msg("Connected to cluster node")

	metrics.ClusterConnects.Inc()
	metrics.SetConnected(true)
	if m.hooks.OnConnected != nil {
		m.emit(func() { m.hooks.OnConnected(node) })
	}

	m.scheduleStepLocked(gen, 0)
	m.startKeepaliveLocked(gen)
	go m.readLoop(gen, conn)
}

func (m *Manager) logReestablished(node types.Node) {
	if m.disconnectedAt.IsZero() {
		return
	}
	outage := time.Since(m.disconnectedAt)
	m.disconnectedAt = time.Time{}
	if outage >= 10*time.Second {
		m.logger.Info().
			Str("node", node.Label).
			Float64("minutes", outage.Minutes()).
			Msg("Connection reestablished")
		return
	}
	m.logger.Info().
		Float64("seconds", outage.Seconds()).
		Msg("Connection hiccup recovered")
}

func configureConn(logger zerolog.Logger, conn net.Conn, node types.Node) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		logger.Warn().Err(err).Str("node", node.Label).Msg("Failed to enable TCP keepalive")
	}
	if err := tcpConn.SetKeepAlivePeriod(tcpKeepAlive); err != nil {
		logger.Warn().Err(err).Str("node", node.Label).Msg("Failed to set TCP keepalive period")
	}
	if err := tcpConn.SetNoDelay(true); err != nil {
		logger.Warn().Err(err).Str("node", node.Label).Msg("Failed to set TCP no delay")
	}
}

func (m *Manager) scheduleStepLocked(gen uint64, i int) {
	if i >= len(m.steps) {
		m.stepTimer = nil
		return
	}
	m.stepTimer = time.AfterFunc(m.cfg.HandshakeDelays[i], func() {
		m.runStep(gen, i)
	})
}

func (m *Manager) runStep(gen uint64, i int) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || !m.state.Connected() {
		m.logger.Debug().Int("step", i).Msg("Skipping stale handshake step")
		return
	}

	step := m.steps[i]
	if step.line != "" {
		if err := m.writeLocked(step.line); err != nil {
			m.handleDisconnectLocked(gen, fmt.Errorf("handshake %s: %w", step.name, err))
			return
		}
	}
	m.logger.Debug().Str("step", step.name).Str("line", step.line).Msg("Handshake step sent")

	if step.next != m.state && !m.setStateLocked(step.next) {
		return
	}
	if step.next == StateStreaming {
		m.logger.Info().Str("node", m.currentNodeLocked().Label).Msg("Streaming spots")
	}
	m.scheduleStepLocked(gen, i+1)
}

func (m *Manager) startKeepaliveLocked(gen uint64) {
	stop := make(chan struct{})
	m.keepaliveStop = stop
	interval := m.cfg.KeepaliveInterval

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				m.sendKeepalive(gen)
			}
		}
	}()
}

func (m *Manager) sendKeepalive(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.gen || m.state != StateStreaming {
		return
	}
	if err := m.writeLocked(""); err != nil {
		m.handleDisconnectLocked(gen, fmt.Errorf("keepalive: %w", err))
	}
}

func (m *Manager) writeLocked(line string) error {
	if m.conn == nil {
		return net.ErrClosed
	}
	if err := m.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := m.conn.Write([]byte(line + "\r\n"))
	return err
}

func (m *Manager) readLoop(gen uint64, conn net.Conn) {
	var lines lineBuffer
	buf := make([]byte, readBufferSize)

	for {
		if err := conn.SetReadDeadline(time.Now().Add(m.cfg.IdleTimeout)); err != nil {
			m.handleDisconnect(gen, fmt.Errorf("set read deadline: %w", err))
			return
		}

		n, err := conn.Read(buf)
		if n > 0 {
			if !m.touch(gen) {
				return
			}
			for _, line := range lines.feed(buf[:n]) {
				m.onLine(line)
			}
		}
		if err != nil {
			m.handleDisconnect(gen, readError(err, m.cfg.IdleTimeout))
			return
		}
	}
}

func readError(err error, idle time.Duration) error {
	var netErr net.Error
	switch {
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("no data for %s: %w", idle, err)
	case errors.Is(err, io.EOF):
		return fmt.Errorf("connection closed by remote: %w", err)
	default:
		return fmt.Errorf("read: %w", err)
	}
}

// touch records line activity and reports whether gen is still current
func (m *Manager) touch(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.lastLineAt = time.Now()
	return true
}

func (m *Manager) handleDisconnect(gen uint64, cause error) {
	m.mu.Lock()
	defer m.unlock()
	m.handleDisconnectLocked(gen, cause)
}

func (m *Manager) handleDisconnectLocked(gen uint64, cause error) {
	if gen != m.gen || m.state == StateClosing {
		return
	}
	if m.state == StateIdle && m.reconnectTimer != nil {
		m.logger.Debug().Msg("Reconnect already scheduled")
		return
	}

	node := m.currentNodeLocked()
	m.teardownLocked()
	m.lastErr = cause
	m.disconnects++
	if m.disconnectedAt.IsZero() {
		m.disconnectedAt = time.Now()
	}

	m.logger.Warn().
		Err(cause).
		Str("node", node.Label).
		Int("attempt", m.failover.attempts+1).
		Int("max_attempts", m.failover.maxAttempts).
		Msg("Cluster connection lost")

	metrics.ClusterDisconnects.Inc()
	if m.hooks.OnDisconnected != nil {
		m.emit(func() { m.hooks.OnDisconnected(node, cause) })
	}

	if m.failover.recordFailure() {
		next := m.currentNodeLocked()
		m.logger.Warn().
			Str("from", node.Label).
			Str("to", next.Label).
			Int("index", m.failover.index).
			Msg("Failing over to next cluster node")
		metrics.ClusterFailovers.Inc()
		metrics.ClusterNodeIndex.Set(float64(m.failover.index))
		if m.hooks.OnFailover != nil {
			m.emit(func() { m.hooks.OnFailover(node, next) })
		}
	}

	m.scheduleReconnectLocked()
}

func (m *Manager) scheduleReconnectLocked() {
	m.stopReconnectLocked()
	m.reconnectSeq++
	seq := m.reconnectSeq

	m.logger.Info().Dur("delay", m.cfg.ReconnectDelay).Msg("Scheduling reconnect")
	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		defer m.unlock()
		if seq != m.reconnectSeq || m.state != StateIdle {
			return
		}
		m.reconnectTimer = nil
		m.connectLocked()
	})
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnectSeq++
}

// releaseLocked closes the socket and stops every timer of the current
// generation, then moves to a fresh generation
func (m *Manager) releaseLocked() {
	m.gen++

	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.stepTimer != nil {
		m.stepTimer.Stop()
		m.stepTimer = nil
	}
	if m.keepaliveStop != nil {
		close(m.keepaliveStop)
		m.keepaliveStop = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.sessionID = ""
	m.connectedAt = time.Time{}
}

func (m *Manager) teardownLocked() {
	m.releaseLocked()
	if m.state != StateIdle {
		m.setStateLocked(StateIdle)
	}
	metrics.SetConnected(false)
}
