package kafka

import (
	"fmt"
	"sync"
	"time"
)

// unknownNodeID tags a connection opened before its real broker node id is
// known, e.g. the very first metadata fetch against a seed address.
const unknownNodeID int32 = -1

// Cluster is the topology manager: it resolves topic/partition
// to leader broker, lazily refreshing from whichever seed or known broker
// answers first, and caches the result until told otherwise.
type Cluster struct {
	pool     *BrokerPool
	seeds    []seedAddr
	logger   Logger
	instr    Instrumenter

	mu              sync.Mutex
	brokers         map[int32]BrokerInfo
	targetTopics    map[string]bool
	topicPartitions map[string]*TopicMetadata
	stale           bool
	shutdown        bool
}

// NewCluster parses seedURIs and constructs a Cluster with no
// topology yet cached; the first call to RefreshMetadataIfNecessary (or any
// operation that needs one) performs the initial fetch.
func NewCluster(seedURIs []string, clientID string, socketTimeout time.Duration, logger Logger, instrumenter Instrumenter) (*Cluster, error) {
	seeds, err := parseSeedURIs(seedURIs)
	if err != nil {
		return nil, err
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("%w: no seed brokers configured", ErrInvalidURI)
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	if instrumenter == nil {
		instrumenter = NewNopInstrumenter()
	}

	var dial DialFunc
	for _, s := range seeds {
		if s.TLS {
			dial = dialTLS
			break
		}
	}

	return &Cluster{
		pool:            NewBrokerPool(clientID, socketTimeout, dial, logger, instrumenter),
		seeds:           seeds,
		logger:          logger,
		instr:           instrumenter,
		brokers:         make(map[int32]BrokerInfo),
		targetTopics:    make(map[string]bool),
		topicPartitions: make(map[string]*TopicMetadata),
		stale:           true, // no topology fetched yet
	}, nil
}

// AddTargetTopics registers topics of interest and marks the cluster stale
// if any are new, so the next refresh asks the brokers about them.
func (c *Cluster) AddTargetTopics(topics ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range topics {
		if !c.targetTopics[t] {
			c.targetTopics[t] = true
			c.stale = true
		}
	}
}

// MarkAsStale forces the next RefreshMetadataIfNecessary call to re-fetch,
// regardless of cache state. Callers do this after a retriable produce
// error implicates stale topology.
func (c *Cluster) MarkAsStale() {
	c.mu.Lock()
	c.stale = true
	c.mu.Unlock()
}

// RefreshMetadataIfNecessary fetches fresh metadata when the cluster is
// marked stale, trying previously discovered brokers first and falling
// back to the configured seed brokers.
func (c *Cluster) RefreshMetadataIfNecessary() error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return ErrClusterShutdown
	}
	if !c.stale {
		c.mu.Unlock()
		return nil
	}
	topics := make([]string, 0, len(c.targetTopics))
	for t := range c.targetTopics {
		topics = append(topics, t)
	}
	c.mu.Unlock()

	resp, err := c.fetchMetadata(topics)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.brokers = make(map[int32]BrokerInfo, len(resp.Brokers))
	for _, b := range resp.Brokers {
		c.brokers[b.NodeID] = *b
	}
	for _, t := range resp.Topics {
		if err := errForCode(t.ErrorCode); err != nil {
			c.logger.Log(LogLevelWarn, "topic metadata error", "topic", t.Name, "err", err)
		}
		c.topicPartitions[t.Name] = t
	}
	c.stale = false
	c.instr.Event("cluster.metadata_refreshed", "topics", len(resp.Topics))
	return nil
}

// candidateAddrs lists every address worth trying for a metadata fetch:
// previously discovered brokers first (more likely live and authoritative),
// then the configured seeds.
func (c *Cluster) candidateAddrs() []seedAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	addrs := make([]seedAddr, 0, len(c.brokers)+len(c.seeds))
	for _, b := range c.brokers {
		addrs = append(addrs, seedAddr{Host: b.Host, Port: b.Port})
	}
	addrs = append(addrs, c.seeds...)
	return addrs
}

// fetchMetadata tries each candidate broker in turn, returning the first
// successful MetadataResponse. It fails with ErrConnectionError only after
// every candidate has refused.
func (c *Cluster) fetchMetadata(topics []string) (*MetadataResponse, error) {
	var lastErr error
	for _, addr := range c.candidateAddrs() {
		conn, err := c.pool.Connect(unknownNodeID, addr.Host, addr.Port)
		if err != nil {
			lastErr = err
			continue
		}
		resp, err := conn.Send(&MetadataRequest{Topics: topics})
		if err != nil {
			lastErr = err
			c.pool.Disconnect(conn.Addr())
			continue
		}
		mr, ok := resp.(*MetadataResponse)
		if !ok {
			lastErr = fmt.Errorf("%w: unexpected metadata response type", ErrCorrupt)
			continue
		}
		return mr, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("%w: no seed brokers reachable", ErrConnectionError)
	}
	return nil, lastErr
}

// GetLeader resolves (topic, partition) to a live connection to its leader
// broker, refreshing metadata first if stale, and again once if the cached
// leader turns out to be unknown.
func (c *Cluster) GetLeader(topic string, partition int32) (*BrokerConnection, error) {
	if err := c.RefreshMetadataIfNecessary(); err != nil {
		return nil, err
	}

	nodeID, host, port, err := c.leaderAddr(topic, partition)
	if err != nil {
		c.MarkAsStale()
		if refreshErr := c.RefreshMetadataIfNecessary(); refreshErr != nil {
			return nil, refreshErr
		}
		nodeID, host, port, err = c.leaderAddr(topic, partition)
		if err != nil {
			return nil, err
		}
	}

	return c.pool.Connect(nodeID, host, port)
}

func (c *Cluster) leaderAddr(topic string, partition int32) (nodeID int32, host string, port int32, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tm, ok := c.topicPartitions[topic]
	if !ok {
		return 0, "", 0, fmt.Errorf("%w: topic %q: %v", ErrNoLeader, topic, ErrUnknownTopicOrPartition)
	}
	if tm.ErrorCode != 0 {
		return 0, "", 0, fmt.Errorf("%w: topic %q: %v", ErrNoLeader, topic, errForCode(tm.ErrorCode))
	}

	for _, p := range tm.Partitions {
		if p.ID != partition {
			continue
		}
		if p.ErrorCode != 0 {
			return 0, "", 0, fmt.Errorf("%w: %s/%d: %v", ErrNoLeader, topic, partition, errForCode(p.ErrorCode))
		}
		b, ok := c.brokers[p.Leader]
		if !ok {
			return 0, "", 0, fmt.Errorf("%w: %s/%d: leader node %d not in broker list", ErrNoLeader, topic, partition, p.Leader)
		}
		return b.NodeID, b.Host, b.Port, nil
	}
	return 0, "", 0, fmt.Errorf("%w: %s/%d: partition not found", ErrNoLeader, topic, partition)
}

// PartitionsFor returns every partition id known for topic, refreshing
// metadata first if stale.
func (c *Cluster) PartitionsFor(topic string) ([]int32, error) {
	if err := c.RefreshMetadataIfNecessary(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tm, ok := c.topicPartitions[topic]
	if !ok {
		return nil, fmt.Errorf("%w: topic %q", ErrUnknownTopicOrPartition, topic)
	}
	ids := make([]int32, len(tm.Partitions))
	for i, p := range tm.Partitions {
		ids[i] = p.ID
	}
	return ids, nil
}

// Disconnect tears down every pooled connection and marks the cluster shut
// down; subsequent metadata refreshes, and the GetLeader and PartitionsFor
// calls that begin with one, fail with ErrClusterShutdown.
func (c *Cluster) Disconnect() {
	c.mu.Lock()
	c.shutdown = true
	c.mu.Unlock()
	c.pool.CloseAll()
}
