package websocket

import (
	"net"
	"sync"
	"sync/atomic"
)

// Pool tracks live connections and enforces connection limits.
type Pool struct {
	// connections stores all active connections by ID.
	connections sync.Map
	// maxConns is the maximum number of connections. Zero is unlimited.
	maxConns int64
	// maxConnsPerIP is the max connections per remote IP. Zero is unlimited.
	maxConnsPerIP int32

	connCount     atomic.Int64
	acceptedCount atomic.Int64
	closedCount   atomic.Int64
	rejectedCount atomic.Int64

	ipCounts map[string]int32
	ipMu     sync.Mutex
}

// PoolConfig holds pool configuration.
type PoolConfig struct {
	// MaxConnections is the maximum number of connections.
	MaxConnections int
	// MaxConnectionsPerIP is the max connections per IP.
	MaxConnectionsPerIP int
}

// DefaultPoolConfig returns the default pool configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxConnections:      10000,
		MaxConnectionsPerIP: 100,
	}
}

// NewPool creates a new connection pool.
func NewPool(config PoolConfig) *Pool {
	return &Pool{
		maxConns:      int64(config.MaxConnections),
		maxConnsPerIP: int32(config.MaxConnectionsPerIP),
		ipCounts:      make(map[string]int32),
	}
}

// Add adds a connection to the pool, or returns ErrConnectionLimit. Both
// limits are checked and charged under one lock so concurrent upgrades never
// overshoot them.
func (p *Pool) Add(conn *Connection) error {
	ip := remoteIP(conn)

	p.ipMu.Lock()
	if (p.maxConns > 0 && p.connCount.Load() >= p.maxConns) ||
		(p.maxConnsPerIP > 0 && p.ipCounts[ip] >= p.maxConnsPerIP) {
		p.ipMu.Unlock()
		p.rejectedCount.Add(1)
		return ErrConnectionLimit
	}
	p.ipCounts[ip]++
	p.connCount.Add(1)
	p.ipMu.Unlock()

	p.connections.Store(conn.ID, conn)
	p.acceptedCount.Add(1)
	return nil
}

// Remove removes a connection from the pool. Removing an unknown connection
// is a no-op.
func (p *Pool) Remove(conn *Connection) {
	if _, loaded := p.connections.LoadAndDelete(conn.ID); !loaded {
		return
	}

	ip := remoteIP(conn)
	p.ipMu.Lock()
	if count := p.ipCounts[ip]; count > 1 {
		p.ipCounts[ip] = count - 1
	} else {
		delete(p.ipCounts, ip)
	}
	p.connCount.Add(-1)
	p.ipMu.Unlock()

	p.closedCount.Add(1)
}

// Count returns the number of active connections.
func (p *Pool) Count() int {
	return int(p.connCount.Load())
}

// CloseAll starts the closing handshake on every connection in the pool.
func (p *Pool) CloseAll() {
	p.connections.Range(func(_, value any) bool {
		_ = value.(*Connection).CloseWithStatus(CloseGoingAway, "server shutting down")
		return true
	})
}

func remoteIP(conn *Connection) string {
	if conn == nil || conn.conn == nil || conn.conn.RemoteAddr() == nil {
		return "unknown"
	}
	addr := conn.conn.RemoteAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	if host, _, err := net.SplitHostPort(addr.String()); err == nil {
		return host
	}
	return addr.String()
}

// PoolStats holds pool statistics.
type PoolStats struct {
	ActiveConnections int64
	TotalAccepted     int64
	TotalClosed       int64
	TotalRejected     int64
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		ActiveConnections: p.connCount.Load(),
		TotalAccepted:     p.acceptedCount.Load(),
		TotalClosed:       p.closedCount.Load(),
		TotalRejected:     p.rejectedCount.Load(),
	}
}
