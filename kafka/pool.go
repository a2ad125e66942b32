package kafka

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/go-resiliency/breaker"
)

// BrokerPool is a lazy, unbounded cache of connections keyed by (host,
// port). It never connects by node id alone — the Cluster
// resolves node id to host/port before calling Connect.
type BrokerPool struct {
	dial          DialFunc
	clientID      string
	socketTimeout time.Duration
	logger        Logger
	instrumenter  Instrumenter

	mu    sync.Mutex
	conns map[string]*BrokerConnection

	// breakers is one circuit breaker per address: a broker that has
	// recently refused connections is given a cooldown before being
	// redialed, mirroring Sarama's Broker.Open behavior (grounded in
	// github.com/eapache/go-resiliency, a direct Sarama dependency).
	breakers map[string]*breaker.Breaker
}

// NewBrokerPool constructs an empty pool. A nil dial func defaults to a
// plain TCP dialer; callers wanting TLS substitute their own DialFunc.
func NewBrokerPool(clientID string, socketTimeout time.Duration, dial DialFunc, logger Logger, instrumenter Instrumenter) *BrokerPool {
	if dial == nil {
		dial = dialTCP
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if instrumenter == nil {
		instrumenter = NewNopInstrumenter()
	}
	return &BrokerPool{
		dial:          dial,
		clientID:      clientID,
		socketTimeout: socketTimeout,
		logger:        logger,
		instrumenter:  instrumenter,
		conns:         make(map[string]*BrokerConnection),
		breakers:      make(map[string]*breaker.Breaker),
	}
}

func (p *BrokerPool) breakerFor(addr string) *breaker.Breaker {
	if b, ok := p.breakers[addr]; ok {
		return b
	}
	b := breaker.New(3, 1, 10*time.Second)
	p.breakers[addr] = b
	return b
}

// Connect returns an existing live connection for (host, port), or opens a
// new one.
func (p *BrokerPool) Connect(nodeID int32, host string, port int32) (*BrokerConnection, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(int(port)))

	p.mu.Lock()
	if bc, ok := p.conns[addr]; ok && bc.conn != nil {
		p.mu.Unlock()
		return bc, nil
	}
	br := p.breakerFor(addr)
	p.mu.Unlock()

	var conn net.Conn
	runErr := br.Run(func() error {
		var dialErr error
		conn, dialErr = p.dial("tcp", addr, p.socketTimeout)
		return dialErr
	})
	if runErr != nil {
		if runErr == breaker.ErrBreakerOpen {
			p.logger.Log(LogLevelWarn, "circuit open, refusing to dial", "addr", addr)
			return nil, fmt.Errorf("%w: circuit open for %s", ErrConnectionError, addr)
		}
		p.logger.Log(LogLevelWarn, "dial failed", "addr", addr, "err", runErr)
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnectionError, addr, runErr)
	}

	bc := newBrokerConnection(nodeID, addr, conn, p.clientID, p.socketTimeout, p.logger, p.instrumenter)
	p.instrumenter.Event("broker.connect", "addr", addr)

	p.mu.Lock()
	p.conns[addr] = bc
	p.mu.Unlock()
	return bc, nil
}

// Disconnect closes and evicts the cached connection for addr, if any. The
// pool tolerates this being called for a connection another component
// discovered to be dead; the next Connect call lazily reconnects.
func (p *BrokerPool) Disconnect(addr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if bc, ok := p.conns[addr]; ok {
		_ = bc.Close()
		delete(p.conns, addr)
	}
}

// CloseAll disconnects every cached connection.
func (p *BrokerPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for addr, bc := range p.conns {
		_ = bc.Close()
		delete(p.conns, addr)
	}
}
