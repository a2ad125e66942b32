package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

// Producer is the public facade: callers hand it Records via
// Produce, which enqueues them synchronously with no broker I/O, and call
// DeliverMessages to resolve partitions and flush to the cluster. Every
// operation runs on the caller's goroutine; Producer holds no internal
// goroutines.
type Producer struct {
	cluster     *Cluster
	config      *Config
	partitioner Partitioner
	logger      Logger
	instr       Instrumenter

	// pending is the FIFO of records awaiting partition assignment. buffer
	// holds records that have been assigned a partition and are awaiting
	// (or retrying) delivery.
	pending *PendingQueue
	buffer  *MessageBuffer

	// sessionID tags every log line from this producer instance, so a
	// fan-out of producers sharing one log stream can be told apart
	// (grounded in hashicorp/go-uuid, a direct franz-go dependency).
	// Instrumentation events do not carry it.
	sessionID string
}

// NewProducer constructs a Producer bound to a freshly-opened Cluster.
func NewProducer(config *Config) (*Producer, error) {
	logger := config.Logger
	if logger == nil {
		logger = NewNopLogger()
	}
	instr := config.Instrumenter
	if instr == nil {
		instr = NewNopInstrumenter()
	}

	cluster, err := NewCluster(config.SeedBrokers, config.ClientID, config.SocketTimeout, logger, instr)
	if err != nil {
		return nil, err
	}

	sessionID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, fmt.Errorf("kafka: generating producer session id: %w", err)
	}

	return &Producer{
		cluster:     cluster,
		config:      config,
		partitioner: config.Partitioner,
		logger:      logger,
		instr:       instr,
		pending:     NewPendingQueue(),
		buffer:      NewMessageBuffer(),
		sessionID:   sessionID,
	}, nil
}

// Produce admits record into the pending queue, refusing admission with
// ErrBufferOverflow when the buffered record count has already reached
// MaxBufferSize, or when adding record would bring the buffered byte total
// to MaxBufferByteSize or beyond. Record
// count and byte size are checked against the combined total of the
// pending queue and the message buffer. Partition resolution is deferred
// entirely to DeliverMessages: Produce never talks to a broker, so
// ErrBufferOverflow is the only error it can return.
func (p *Producer) Produce(record *Record) error {
	p.cluster.AddTargetTopics(record.Topic)

	size := p.pending.Len() + p.buffer.Size()
	byteSize := p.pending.ByteSize() + p.buffer.ByteSize()

	if p.config.MaxBufferSize > 0 && size >= p.config.MaxBufferSize {
		return fmt.Errorf("%w: %d record limit reached", ErrBufferOverflow, p.config.MaxBufferSize)
	}
	if p.config.MaxBufferByteSize > 0 && byteSize+record.ByteSize() >= p.config.MaxBufferByteSize {
		return fmt.Errorf("%w: %d byte limit reached", ErrBufferOverflow, p.config.MaxBufferByteSize)
	}

	p.pending.Push(record)
	p.instr.Event("producer.buffered", "topic", record.Topic, "partition", record.Partition, "bytes", record.ByteSize())
	return nil
}

// BufferSize is the number of records currently awaiting delivery, whether
// still unassigned in the pending queue or already in the message buffer.
func (p *Producer) BufferSize() int { return p.pending.Len() + p.buffer.Size() }

// BufferByteSize is the total byte size of records currently awaiting
// delivery, pending queue and message buffer combined.
func (p *Producer) BufferByteSize() int { return p.pending.ByteSize() + p.buffer.ByteSize() }

// ClearBuffer discards every record awaiting delivery, assigned or not,
// without attempting delivery.
func (p *Producer) ClearBuffer() {
	p.pending.Replace(nil)
	p.buffer.ClearAll()
}

// DeliverMessages flushes the pending queue and message buffer to the
// cluster. Each attempt: refreshes cluster metadata, runs a
// partition-assignment pass over the pending queue, runs one
// ProduceOperation round over the message buffer, and clears confirmed
// partitions. It retries up to MaxRetries times with RetryBackoff between
// attempts, and returns a DeliveryError naming every record still
// undelivered once retries are exhausted, metadata cannot be refreshed, or
// the backoff wait is cancelled. DeliverMessages is a no-op if nothing is
// buffered, and it is the only Producer operation that blocks: metadata
// refresh and produce both do socket I/O, and a failed retry sleeps
// RetryBackoff before trying again.
func (p *Producer) DeliverMessages(ctx context.Context) error {
	if p.pending.Len()+p.buffer.Size() == 0 {
		return nil
	}

	op := NewProduceOperation(p.cluster, p.config)

	var lastAssignErr, lastSendErr error

	for attempt := 1; ; attempt++ {
		if err := p.cluster.RefreshMetadataIfNecessary(); err != nil {
			return &DeliveryError{Cause: err, Undelivered: p.drainUndelivered()}
		}

		if err := p.assignPartitions(); err != nil {
			lastAssignErr = err
		}

		batch := make(map[TopicPartition][]*Record)
		for _, tp := range p.buffer.PartitionKeys() {
			batch[tp] = p.buffer.RecordsFor(tp.Topic, tp.Partition)
		}
		if len(batch) > 0 {
			for _, res := range op.Execute(batch) {
				if res.Err == nil {
					p.buffer.Clear(res.Topic, res.Partition)
					p.instr.Event("producer.delivered", "topic", res.Topic, "partition", res.Partition, "offset", res.BaseOffset)
					continue
				}
				lastSendErr = res.Err
				p.logger.Log(LogLevelWarn, "produce batch failed", "session", p.sessionID, "attempt", attempt, "topic", res.Topic, "partition", res.Partition, "err", res.Err)
			}
		}

		if p.config.RequiredAcks == 0 {
			p.buffer.ClearAll()
		}
		if p.buffer.Size() == 0 {
			break
		}
		if attempt > p.config.MaxRetries {
			break
		}

		p.logger.Log(LogLevelWarn, "retrying produce batch", "session", p.sessionID, "attempt", attempt, "buffered", p.buffer.Size())
		if p.config.RetryBackoff > 0 {
			if err := sleepBackoff(ctx, p.config.RetryBackoff); err != nil {
				return &DeliveryError{Cause: err, Undelivered: p.drainUndelivered()}
			}
		}
	}

	if p.pending.Len() > 0 {
		p.cluster.MarkAsStale()
		cause := fmt.Errorf("kafka: failed to assign partitions")
		if lastAssignErr != nil {
			cause = fmt.Errorf("kafka: failed to assign partitions: %w", lastAssignErr)
		}
		return &DeliveryError{Cause: cause, Undelivered: p.drainUndelivered()}
	}
	if p.buffer.Size() > 0 {
		cause := fmt.Errorf("kafka: failed to send")
		if lastSendErr != nil {
			cause = fmt.Errorf("kafka: failed to send: %w", lastSendErr)
		}
		return &DeliveryError{Cause: cause, Undelivered: p.drainUndelivered()}
	}
	return nil
}

// assignPartitions drains the pending queue into the message buffer,
// resolving each record's partition via the configured Partitioner (an
// explicit WithPartition wins and needs no cluster lookup). Once a topic's
// assignment fails within this pass, every subsequent record for that
// topic is deferred too rather than attempted out of order; the deferred
// records become the pending queue's new contents and the cluster is
// marked stale so the next refresh re-fetches their topology.
func (p *Producer) assignPartitions() error {
	records := p.pending.Drain()
	if len(records) == 0 {
		return nil
	}

	failedTopics := make(map[string]bool)
	var failed []*Record
	var lastErr error

	for _, r := range records {
		if failedTopics[r.Topic] {
			failed = append(failed, r)
			continue
		}
		if r.HasPartition() {
			p.buffer.Add(r)
			continue
		}
		partitions, err := p.cluster.PartitionsFor(r.Topic)
		if err != nil {
			lastErr = err
			failedTopics[r.Topic] = true
			failed = append(failed, r)
			p.logger.Log(LogLevelWarn, "partition assignment failed", "session", p.sessionID, "topic", r.Topic, "err", err)
			continue
		}
		p.buffer.Add(r.WithPartition(resolvePartition(r, int32(len(partitions)), p.partitioner)))
	}

	if len(failed) > 0 {
		p.pending.Replace(failed)
		p.cluster.MarkAsStale()
	}
	return lastErr
}

// drainUndelivered empties both the pending queue and the message buffer,
// returning every record they held, pending queue first, in a form
// equivalent to re-enqueueing them.
func (p *Producer) drainUndelivered() []*Record {
	out := p.pending.Drain()
	for _, tp := range p.buffer.PartitionKeys() {
		out = append(out, p.buffer.RecordsFor(tp.Topic, tp.Partition)...)
	}
	p.buffer.ClearAll()
	return out
}

// Shutdown disconnects from the cluster; a later DeliverMessages call with
// records buffered fails with a DeliveryError whose cause is
// ErrClusterShutdown.
func (p *Producer) Shutdown() {
	p.cluster.Disconnect()
}

// sleepBackoff blocks for d or until ctx is cancelled, whichever comes
// first, grounded in franz-go's Flush select-over-ctx.Done() idiom.
func sleepBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
