package aubo_arm

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// A controller only accepts one driver link, so resources that talk to the
// same robot (arm, state sensor) share a single refcounted Connection.

type connectionEntry struct {
	conn      *Connection
	cfg       *Config
	refCount  int64 // atomic
	lastError error
	mu        sync.Mutex
}

// ConnectionRegistry hands out shared connections keyed by controller
// address.
type ConnectionRegistry struct {
	entries map[string]*connectionEntry
	mu      sync.RWMutex
}

func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{entries: make(map[string]*connectionEntry)}
}

// acquire takes one reference on the entry, refusing configs that disagree
// with the one the connection was built from. Both lookup paths in
// GetConnection go through here so a racing caller cannot skip the check.
func (e *connectionEntry) acquire(cfg *Config) (*Connection, error) {
	if !configsEqual(e.cfg, cfg) {
		return nil, errors.Errorf("conflict: existing connection to %s uses different config (refCount: %d)",
			cfg.addr(), atomic.LoadInt64(&e.refCount))
	}
	atomic.AddInt64(&e.refCount, 1)
	return e.conn, nil
}

// configsEqual compares the fields two resources must agree on to share a
// socket.
func configsEqual(a, b *Config) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Host == b.Host &&
		a.Port == b.Port &&
		a.ReversePort == b.ReversePort &&
		a.Timeout == b.Timeout
}

// GetConnection returns the shared connection for the config's address,
// creating it on first use. The connection is returned unconnected; the
// orchestrator owns dialing.
func (r *ConnectionRegistry) GetConnection(cfg *Config, logger logging.Logger) (*Connection, error) {
	key := cfg.addr()

	r.mu.RLock()
	entry, exists := r.entries[key]
	r.mu.RUnlock()
	if exists {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		if entry.conn == nil {
			if entry.lastError != nil {
				return nil, errors.Wrap(entry.lastError, "cached connection creation error")
			}
			return nil, errors.Errorf("connection not available for %s", key)
		}
		return entry.acquire(cfg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, exists := r.entries[key]; exists {
		return entry.acquire(cfg)
	}

	offsets, _ := cfg.LoadCalibration(logger)
	driverHost, err := localHostFor(cfg.addr())
	if err != nil {
		driverHost = "127.0.0.1"
	}
	program := controlProgram(driverHost, cfg.ReversePort)

	conn := NewConnection(cfg.addr(), program, cfg.Timeout, offsets.vector(cfg.JointNames), logger)
	conn.SetPreventProgramming(cfg.PreventProgramming)

	r.entries[key] = &connectionEntry{
		conn:     conn,
		cfg:      cfg,
		refCount: 1,
	}
	return conn, nil
}

// ReleaseConnection drops one reference; the last reference disconnects and
// removes the entry.
func (r *ConnectionRegistry) ReleaseConnection(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.entries[addr]
	if !exists {
		return
	}
	if atomic.AddInt64(&entry.refCount, -1) <= 0 {
		if entry.conn != nil {
			entry.conn.Disconnect()
		}
		delete(r.entries, addr)
	}
}

// Status summarizes the registry for diagnostics.
func (r *ConnectionRegistry) Status(addr string) (refCount int64, exists bool, state string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[addr]
	if !ok {
		return 0, false, ""
	}
	return atomic.LoadInt64(&entry.refCount), true, entry.conn.State().String()
}

var sharedConnections = NewConnectionRegistry()

// GetSharedConnection returns the process-wide shared connection for cfg.
func GetSharedConnection(cfg *Config, logger logging.Logger) (*Connection, error) {
	return sharedConnections.GetConnection(cfg, logger)
}

// ReleaseSharedConnection releases one reference on the process-wide shared
// connection for addr.
func ReleaseSharedConnection(addr string) {
	sharedConnections.ReleaseConnection(addr)
}

// localHostFor finds the local address that routes to the controller; the
// uploaded program needs it to open the reverse channel back to us. No
// packets are sent.
func localHostFor(addr string) (string, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	host, _, err := net.SplitHostPort(conn.LocalAddr().String())
	if err != nil {
		return "", err
	}
	return host, nil
}
