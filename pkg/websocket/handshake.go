package websocket

import (
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Handshake errors.
var (
	ErrMissingUpgrade   = errors.New("missing Upgrade: websocket header")
	ErrMissingSecKey    = errors.New("missing Sec-WebSocket-Key header")
	ErrOriginNotAllowed = errors.New("origin not allowed")
	ErrHijackNotAllowed = errors.New("http.ResponseWriter does not support Hijacker")
)

// WebSocket GUID as defined in RFC 6455.
const webSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// HandshakeError represents a rejected upgrade request.
type HandshakeError struct {
	Err    error
	Status int
}

func (e *HandshakeError) Error() string {
	return e.Err.Error()
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// Upgrader handles WebSocket upgrade requests.
type Upgrader struct {
	// CheckOrigin returns true if the origin is allowed. Nil allows all.
	CheckOrigin func(r *http.Request) bool
	// Logger is handed to every upgraded Connection.
	Logger *slog.Logger
	// Options are applied to every upgraded Connection.
	Options []Option
}

// NewUpgrader creates a new Upgrader with default settings.
func NewUpgrader(opts ...Option) *Upgrader {
	return &Upgrader{Options: opts}
}

// Upgrade validates r, answers it with 101 Switching Protocols and hands the
// hijacked stream to a new Connection in the Open state. Rejected requests get
// a 4xx response with Connection: close and a *HandshakeError.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request) (*Connection, error) {
	if err := u.validateRequest(r); err != nil {
		var herr *HandshakeError
		if errors.As(err, &herr) {
			w.Header().Set("Connection", "close")
			http.Error(w, http.StatusText(herr.Status), herr.Status)
		}
		return nil, err
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, ErrHijackNotAllowed
	}

	netConn, brw, err := hijacker.Hijack()
	if err != nil {
		return nil, fmt.Errorf("failed to hijack connection: %w", err)
	}

	// The http.Server deadlines stay on a hijacked conn.
	if err := netConn.SetDeadline(time.Time{}); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to clear deadlines: %w", err)
	}

	resp := buildUpgradeResponse(AcceptKey(r.Header.Get("Sec-WebSocket-Key")), SelectSubprotocol(r))
	if _, err := netConn.Write([]byte(resp)); err != nil {
		netConn.Close()
		return nil, fmt.Errorf("failed to write upgrade response: %w", err)
	}

	// A client may pipeline its first frames behind the request.
	var pending []byte
	if n := brw.Reader.Buffered(); n > 0 {
		pending, _ = brw.Reader.Peek(n)
		pending = append([]byte(nil), pending...)
	}

	opts := append([]Option{WithLogger(u.Logger)}, u.Options...)
	conn := NewConnection(uuid.NewString(), netConn, opts...)
	conn.buf = append(conn.buf, pending...)
	conn.open()

	return conn, nil
}

// validateRequest validates the WebSocket upgrade request.
func (u *Upgrader) validateRequest(r *http.Request) error {
	if !headerContainsToken(r.Header, "Upgrade", "websocket") {
		return &HandshakeError{Err: ErrMissingUpgrade, Status: http.StatusBadRequest}
	}

	if strings.TrimSpace(r.Header.Get("Sec-WebSocket-Key")) == "" {
		return &HandshakeError{Err: ErrMissingSecKey, Status: http.StatusBadRequest}
	}

	if u.CheckOrigin != nil && !u.CheckOrigin(r) {
		return &HandshakeError{Err: ErrOriginNotAllowed, Status: http.StatusForbidden}
	}

	return nil
}

func headerContainsToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key per
// RFC 6455 Section 4.2.2.
func AcceptKey(secKey string) string {
	hash := sha1.Sum([]byte(secKey + webSocketGUID))
	return base64.StdEncoding.EncodeToString(hash[:])
}

// SelectSubprotocol returns the first subprotocol the client offered, or "".
func SelectSubprotocol(r *http.Request) string {
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, part := range strings.Split(v, ",") {
			if p := strings.TrimSpace(part); p != "" {
				return p
			}
		}
	}
	return ""
}

// buildUpgradeResponse builds the WebSocket upgrade response.
func buildUpgradeResponse(acceptKey, subprotocol string) string {
	var sb strings.Builder

	sb.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	sb.WriteString("Upgrade: websocket\r\n")
	sb.WriteString("Connection: Upgrade\r\n")
	sb.WriteString("Sec-WebSocket-Accept: " + acceptKey + "\r\n")
	if subprotocol != "" {
		sb.WriteString("Sec-WebSocket-Protocol: " + subprotocol + "\r\n")
	}
	sb.WriteString("\r\n")

	return sb.String()
}
