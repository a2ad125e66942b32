package kafka

import (
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"
)

// maxBrokerReadBytes guards against a misconfigured seed address (e.g. one
// that speaks HTTP or terminates TLS) being misread as an enormous frame
// size. Grounded in franz-go's brokerCxn.parseReadSize sanity checks.
const maxBrokerReadBytes = 256 << 20 // 256MiB

// BrokerConnection owns one TCP session to one broker. It is not safe for
// concurrent use: every Send call is a direct, deadline-bounded
// write-then-read on the caller's own goroutine, with no internal
// background dispatch.
type BrokerConnection struct {
	conn   net.Conn
	addr   string
	nodeID int32

	corrID int32 // monotonically increasing correlation id

	clientID       string
	socketTimeout  time.Duration
	logger         Logger
	instrumenter   Instrumenter
}

// DialFunc opens a connection to addr. NewCluster hands its BrokerPool
// dialTLS instead of the default dialTCP when a seed URI names the TLS
// scheme.
type DialFunc func(network, addr string, timeout time.Duration) (net.Conn, error)

// dialTCP is the default DialFunc: a plain TCP connection.
func dialTCP(network, addr string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout(network, addr, timeout)
}

// dialTLS wraps the connection in a TLS handshake for "kafka+ssl" seed
// addresses. The server name for certificate verification is taken from
// addr's host part on every dial.
func dialTLS(network, addr string, timeout time.Duration) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: timeout}
	return tls.DialWithDialer(dialer, network, addr, &tls.Config{ServerName: host})
}

// newBrokerConnection wraps conn, an already-open connection to addr. addr
// is expected to already be "host:port" (net.JoinHostPort).
func newBrokerConnection(nodeID int32, addr string, conn net.Conn, clientID string, socketTimeout time.Duration, logger Logger, instrumenter Instrumenter) *BrokerConnection {
	if logger == nil {
		logger = NewNopLogger()
	}
	if instrumenter == nil {
		instrumenter = NewNopInstrumenter()
	}
	return &BrokerConnection{
		conn:          conn,
		addr:          addr,
		nodeID:        nodeID,
		clientID:      clientID,
		socketTimeout: socketTimeout,
		logger:        logger,
		instrumenter:  instrumenter,
	}
}

// NodeID is the node id this connection was opened for. A connection first
// opened for a metadata fetch carries the negative unknownNodeID sentinel,
// and keeps it when the pool later hands it out again for a known broker.
func (b *BrokerConnection) NodeID() int32 { return b.nodeID }

// Addr is the "host:port" this connection targets.
func (b *BrokerConnection) Addr() string { return b.addr }

// Close releases the underlying socket. It is always safe to call more
// than once.
func (b *BrokerConnection) Close() error {
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// Send writes a framed request and reads back its framed response,
// verifying the correlation id. A socket-level I/O error
// becomes ErrConnectionError; a correlation-id mismatch becomes ErrCorrupt
// and closes the connection, since the session can no longer be trusted.
func (b *BrokerConnection) Send(req Request) (Response, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("%w: connection to %s already closed", ErrConnectionError, b.addr)
	}

	myCorrID := b.corrID
	b.corrID++

	buf, err := encodeRequest(myCorrID, b.clientID, req)
	if err != nil {
		return nil, err
	}

	if b.socketTimeout > 0 {
		_ = b.conn.SetWriteDeadline(time.Now().Add(b.socketTimeout))
	}
	if _, err := b.conn.Write(buf); err != nil {
		b.logger.Log(LogLevelWarn, "write failed", "addr", b.addr, "err", err)
		return nil, fmt.Errorf("%w: write to %s: %v", ErrConnectionError, b.addr, err)
	}
	b.instrumenter.Event("broker.write", "bytes", len(buf))

	frame, err := b.readFrame()
	if err != nil {
		return nil, err
	}

	gotCorrID, body, err := decodeResponseBody(frame)
	if err != nil {
		return nil, err
	}
	if gotCorrID != myCorrID {
		_ = b.Close()
		return nil, fmt.Errorf("%w: correlation id mismatch (want %d, got %d)", ErrCorrupt, myCorrID, gotCorrID)
	}

	resp := responseForKey(req.key())
	d := newRealDecoder(body)
	if err := resp.decode(d); err != nil {
		return nil, err
	}
	return resp, nil
}

// SendNoResponse writes a framed request and does not wait for a reply. It
// is used only for produce requests with required_acks == 0.
func (b *BrokerConnection) SendNoResponse(req Request) error {
	if b.conn == nil {
		return fmt.Errorf("%w: connection to %s already closed", ErrConnectionError, b.addr)
	}
	buf, err := encodeRequest(b.corrID, b.clientID, req)
	if err != nil {
		return err
	}
	b.corrID++
	if b.socketTimeout > 0 {
		_ = b.conn.SetWriteDeadline(time.Now().Add(b.socketTimeout))
	}
	if _, err := b.conn.Write(buf); err != nil {
		return fmt.Errorf("%w: write to %s: %v", ErrConnectionError, b.addr, err)
	}
	return nil
}

// readFrame reads a single size-prefixed frame and returns everything
// after the size field.
func (b *BrokerConnection) readFrame() ([]byte, error) {
	if b.socketTimeout > 0 {
		_ = b.conn.SetReadDeadline(time.Now().Add(b.socketTimeout))
	}

	sizeBuf := make([]byte, 4)
	if _, err := io.ReadFull(b.conn, sizeBuf); err != nil {
		return nil, fmt.Errorf("%w: reading size from %s: %v", ErrConnectionError, b.addr, err)
	}
	size := int32(binary.BigEndian.Uint32(sizeBuf))
	if size < 0 || size > maxBrokerReadBytes {
		_ = b.Close()
		return nil, fmt.Errorf("%w: invalid frame size %d from %s", ErrCorrupt, size, b.addr)
	}

	buf := make([]byte, size)
	if _, err := io.ReadFull(b.conn, buf); err != nil {
		return nil, fmt.Errorf("%w: reading body from %s: %v", ErrConnectionError, b.addr, err)
	}
	return buf, nil
}

func responseForKey(key int16) Response {
	switch key {
	case apiKeyProduce:
		return &ProduceResponse{}
	case apiKeyMetadata:
		return &MetadataResponse{}
	default:
		return &rawResponse{}
	}
}

// rawResponse is used for API keys this client does not decode itself; it
// simply discards the body. Everything beyond produce/topic-metadata is
// consumed by collaborators this client doesn't implement.
type rawResponse struct{}

func (r *rawResponse) decode(pd packetDecoder) error { return nil }

// nextCorrelationID is exposed for tests that want to assert on wire
// framing without a live socket.
func (b *BrokerConnection) nextCorrelationID() int32 { return b.corrID }
