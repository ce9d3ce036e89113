package websocket

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// State is the lifecycle state of a Connection.
type State int32

// Connection states. Transitions only move forward.
const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const readChunkSize = 4096

// afterWrite tells the writer what to do once a queued frame hits the wire.
type afterWrite uint8

const (
	afterNothing afterWrite = iota
	afterHalfClose
	afterTerminate
)

type outbound struct {
	data  []byte
	after afterWrite
}

// Stats holds per-connection frame counters.
type Stats struct {
	FramesIn         uint64
	FramesOut        uint64
	FragmentsDropped uint64
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the connection logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Connection) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithReadTimeout closes connections that stay silent for d. Zero disables it.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Connection) { c.readTimeout = d }
}

// WithWriteTimeout bounds every socket write.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connection) { c.writeTimeout = d }
}

// WithCloseTimeout bounds how long the closing handshake may take.
func WithCloseTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.closeTimeout = d
		}
	}
}

// WithSendQueueSize sets how many outbound frames may wait for the writer.
func WithSendQueueSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMaxFrameSize bounds inbound frame payloads.
func WithMaxFrameSize(n int) Option {
	return func(c *Connection) {
		if n > 0 {
			c.maxFrameSize = n
		}
	}
}

// Connection is one WebSocket stream. It exclusively owns its net.Conn.
//
// Reads run on the goroutine calling Serve; writes are queued and performed
// by a dedicated writer goroutine so Send never blocks on a slow peer.
type Connection struct {
	// ID is the unique identifier for this connection.
	ID string
	// CreatedAt is the time when the connection was established.
	CreatedAt time.Time

	conn   net.Conn
	logger *slog.Logger
	state  atomic.Int32

	// buf accumulates inbound bytes until a whole frame is available.
	buf []byte

	// sendMu orders state transitions against enqueues so nothing is
	// queued behind a close frame.
	sendMu     sync.Mutex
	queue      chan outbound
	closeTimer *time.Timer

	done          chan struct{}
	terminateOnce sync.Once

	mu        sync.Mutex
	onMessage func(*Connection, string)
	onClose   func(*Connection)
	onError   func(*Connection, error)

	readTimeout  time.Duration
	writeTimeout time.Duration
	closeTimeout time.Duration
	queueSize    int
	maxFrameSize int

	framesIn         atomic.Uint64
	framesOut        atomic.Uint64
	fragmentsDropped atomic.Uint64
}

// NewConnection wraps conn. The connection starts in StateConnecting; Serve
// opens it if the handshake has not already done so.
func NewConnection(id string, conn net.Conn, opts ...Option) *Connection {
	c := &Connection{
		ID:           id,
		CreatedAt:    time.Now(),
		conn:         conn,
		logger:       slog.Default(),
		done:         make(chan struct{}),
		writeTimeout: 10 * time.Second,
		closeTimeout: 5 * time.Second,
		queueSize:    256,
		maxFrameSize: DefaultMaxPayloadSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = make(chan outbound, c.queueSize)
	c.logger = c.logger.With("conn", id)
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Done is closed once the connection reached StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Stats returns the frame counters.
func (c *Connection) Stats() Stats {
	return Stats{
		FramesIn:         c.framesIn.Load(),
		FramesOut:        c.framesOut.Load(),
		FragmentsDropped: c.fragmentsDropped.Load(),
	}
}

// RemoteAddr returns the remote network address.
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// OnMessage sets the callback for text messages. It runs on the read goroutine.
func (c *Connection) OnMessage(fn func(*Connection, string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnClose sets the callback run once while the connection shuts down, before
// it reaches StateClosed.
func (c *Connection) OnClose(fn func(*Connection)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose = fn
}

// OnError sets the callback for transport and protocol errors.
func (c *Connection) OnError(fn func(*Connection, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *Connection) open() {
	if c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		go c.writeLoop()
	}
}

// Send queues payload as a text frame. Once the connection is closing it
// returns ErrConnectionClosed. When the peer is not draining its queue the
// message is dropped, the connection is torn down in the background and
// ErrSendQueueFull is returned.
func (c *Connection) Send(payload []byte) error {
	return c.enqueue(outbound{data: EncodeText(payload)})
}

func (c *Connection) enqueue(out outbound) error {
	c.sendMu.Lock()
	if state := c.State(); state != StateOpen {
		c.sendMu.Unlock()
		if state == StateConnecting {
			return nil
		}
		return ErrConnectionClosed
	}
	select {
	case c.queue <- out:
		c.sendMu.Unlock()
		return nil
	default:
	}
	c.sendMu.Unlock()

	c.logger.Warn("send queue full, dropping slow peer", "queue", c.queueSize)
	// Callers may hold locks that OnClose needs.
	go c.terminate()
	return ErrSendQueueFull
}

// Close starts the closing handshake: a close frame is sent and the write
// side of the stream is shut. The connection is torn down when the peer
// answers or the close timeout expires.
func (c *Connection) Close() error {
	return c.CloseWithStatus(CloseNormal, "")
}

// CloseWithStatus is Close with an explicit close code and reason.
func (c *Connection) CloseWithStatus(code uint16, reason string) error {
	if c.State() == StateConnecting {
		c.terminate()
		return nil
	}
	c.beginClose(code, reason, afterHalfClose)
	return nil
}

func (c *Connection) beginClose(code uint16, reason string, after afterWrite) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return false
	}

	select {
	case c.queue <- outbound{data: EncodeClose(code, reason), after: after}:
		c.closeTimer = time.AfterFunc(c.closeTimeout, c.terminate)
	default:
		go c.terminate()
	}
	return true
}

// terminate closes the stream, runs OnClose and marks the connection Closed.
func (c *Connection) terminate() {
	c.terminateOnce.Do(func() {
		c.sendMu.Lock()
		c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing))
		c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing))
		if c.closeTimer != nil {
			c.closeTimer.Stop()
		}
		c.sendMu.Unlock()

		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.logger.Debug("close stream", "error", err)
		}

		c.mu.Lock()
		onClose := c.onClose
		c.mu.Unlock()
		if onClose != nil {
			onClose(c)
		}

		c.state.Store(int32(StateClosed))
		close(c.done)
	})
}

func (c *Connection) reportError(err error) {
	c.mu.Lock()
	onError := c.onError
	c.mu.Unlock()

	c.logger.Debug("connection error", "error", err)
	if onError != nil {
		onError(c, err)
	}
}

// Serve runs the read loop on the calling goroutine until the connection is
// closed. Bytes are buffered across reads and decoded with DecodeFrame.
func (c *Connection) Serve() {
	c.open()
	defer c.finish()

	if !c.drain() {
		return
	}

	chunk := make([]byte, readChunkSize)
	for {
		if c.readTimeout > 0 {
			_ = c.conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		}

		n, err := c.conn.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
			if !c.drain() {
				return
			}
		}
		if err != nil {
			if c.State() == StateOpen && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.reportError(err)
			}
			return
		}
	}
}

// finish waits for an in-flight closing handshake, then tears down.
func (c *Connection) finish() {
	if c.State() == StateClosing {
		timer := time.NewTimer(c.closeTimeout)
		defer timer.Stop()
		select {
		case <-c.done:
		case <-timer.C:
		}
	}
	c.terminate()
}

// drain decodes every complete frame in buf. It returns false when reading
// should stop.
func (c *Connection) drain() bool {
	for {
		frame, n, err := DecodeFrame(c.buf, c.maxFrameSize)
		if err != nil {
			c.reportError(err)
			code := CloseProtocolError
			if errors.Is(err, ErrFrameTooLarge) {
				code = CloseMessageTooBig
			}
			c.beginClose(code, err.Error(), afterTerminate)
			return false
		}
		if n == 0 {
			return true
		}

		c.buf = c.buf[n:]
		if len(c.buf) == 0 {
			c.buf = nil
		}
		c.framesIn.Add(1)

		if !c.handleFrame(frame) {
			return false
		}
	}
}

func (c *Connection) handleFrame(f *Frame) bool {
	if !f.Masked {
		c.reportError(&FrameError{Err: ErrInvalidFrame, Opcode: f.Opcode})
		c.beginClose(CloseProtocolError, "unmasked client frame", afterTerminate)
		return false
	}
	if f.Opcode.IsControl() && (!f.Fin || len(f.Payload) > MaxControlPayloadSize) {
		c.reportError(&FrameError{Err: ErrInvalidFrame, Opcode: f.Opcode})
		c.beginClose(CloseProtocolError, "invalid control frame", afterTerminate)
		return false
	}

	switch f.Opcode {
	case OpcodeText:
		// Fragmented messages are not reassembled; see doc.go.
		if !f.Fin {
			c.dropFragment(f)
			return true
		}
		if c.State() != StateOpen {
			return true
		}
		c.mu.Lock()
		onMessage := c.onMessage
		c.mu.Unlock()
		if onMessage != nil {
			onMessage(c, string(f.Payload))
		}
	case OpcodeContinuation:
		c.dropFragment(f)
	case OpcodeClose:
		if c.State() == StateClosing {
			// Peer answered our close frame.
			c.terminate()
			return false
		}
		code := CloseCode(f.Payload)
		if code == 0 {
			code = CloseNormal
		}
		c.beginClose(code, "", afterTerminate)
		return false
	case OpcodePing:
		_ = c.enqueue(outbound{data: EncodePong(f.Payload)})
	default:
		// Pong, Binary and reserved opcodes are ignored.
	}
	return true
}

func (c *Connection) dropFragment(f *Frame) {
	c.fragmentsDropped.Add(1)
	c.logger.Debug("dropping fragmented frame", "opcode", f.Opcode.String(), "fin", f.Fin, "len", len(f.Payload))
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case out := <-c.queue:
			if c.writeTimeout > 0 {
				_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if _, err := c.conn.Write(out.data); err != nil {
				select {
				case <-c.done:
				default:
					c.reportError(err)
				}
				c.terminate()
				return
			}
			c.framesOut.Add(1)

			switch out.after {
			case afterHalfClose:
				if cw, ok := c.conn.(interface{ CloseWrite() error }); ok {
					_ = cw.CloseWrite()
				}
				return
			case afterTerminate:
				c.terminate()
				return
			}
		}
	}
}
