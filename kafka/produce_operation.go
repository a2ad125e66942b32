package kafka

// PartitionResult is the outcome of attempting to produce to one (topic,
// partition) within a ProduceOperation.
type PartitionResult struct {
	TopicPartition
	BaseOffset int64
	Err        error
	Retriable  bool
}

// ProduceOperation executes one round of "group records by leader, send one
// ProduceRequest per broker, interpret the per-partition response codes",
// grounded in Sarama's flusher.groupAndFilter / parseResponse split between
// grouping and response interpretation.
type ProduceOperation struct {
	cluster    *Cluster
	config     *Config
	compressor Compressor
}

// NewProduceOperation builds an operation bound to cluster and config.
func NewProduceOperation(cluster *Cluster, config *Config) *ProduceOperation {
	return &ProduceOperation{
		cluster: cluster,
		config:  config,
		compressor: Compressor{
			Codec:     config.CompressionCodec,
			Threshold: config.CompressionThreshold,
		},
	}
}

// Execute sends every (topic, partition) batch in buffered to its leader,
// grouping partitions that share a leader into a single ProduceRequest, and
// returns one PartitionResult per batch.
func (op *ProduceOperation) Execute(buffered map[TopicPartition][]*Record) []PartitionResult {
	type group struct {
		conn  *BrokerConnection
		parts []TopicPartition
	}
	groups := make(map[string]*group)
	var results []PartitionResult

	for tp, records := range buffered {
		if len(records) == 0 {
			continue
		}
		conn, err := op.cluster.GetLeader(tp.Topic, tp.Partition)
		if err != nil {
			op.cluster.MarkAsStale()
			results = append(results, PartitionResult{TopicPartition: tp, Err: err, Retriable: true})
			continue
		}
		g, ok := groups[conn.Addr()]
		if !ok {
			g = &group{conn: conn}
			groups[conn.Addr()] = g
		}
		g.parts = append(g.parts, tp)
	}

	for _, g := range groups {
		req := NewProduceRequest(op.config.RequiredAcks, op.config.AckTimeout)
		var sent []TopicPartition
		for _, tp := range g.parts {
			set, err := op.buildSet(buffered[tp])
			if err != nil {
				results = append(results, PartitionResult{TopicPartition: tp, Err: err, Retriable: false})
				continue
			}
			req.AddSet(tp.Topic, tp.Partition, set)
			sent = append(sent, tp)
		}

		if len(sent) > 0 {
			results = append(results, op.send(g.conn, req, sent)...)
		}
	}

	return results
}

// buildSet converts buffered records into a single wire MessageSet,
// compressing it once the configured threshold is met.
func (op *ProduceOperation) buildSet(records []*Record) (*MessageSet, error) {
	set := &MessageSet{}
	for i, r := range records {
		msg := &Message{Version: 1, Key: r.Key, Value: r.Value}
		if !r.CreateTime.IsZero() {
			msg.Timestamp = r.CreateTime
		}
		set.Messages = append(set.Messages, &MessageBlock{Offset: int64(i), Msg: msg})
	}
	return op.compressor.Compress(set, -1)
}

// send delivers req to conn and maps the decoded ProduceResponse back onto
// parts, or, on send failure, marks every partition in parts retriable and
// tells the cluster its topology may be stale.
func (op *ProduceOperation) send(conn *BrokerConnection, req *ProduceRequest, parts []TopicPartition) []PartitionResult {
	if op.config.RequiredAcks == 0 {
		if err := conn.SendNoResponse(req); err != nil {
			op.cluster.MarkAsStale()
			return failAll(parts, err, true)
		}
		out := make([]PartitionResult, len(parts))
		for i, tp := range parts {
			out[i] = PartitionResult{TopicPartition: tp}
		}
		return out
	}

	resp, err := conn.Send(req)
	if err != nil {
		op.cluster.MarkAsStale()
		return failAll(parts, err, true)
	}
	pr, ok := resp.(*ProduceResponse)
	if !ok {
		return failAll(parts, ErrCorrupt, false)
	}

	out := make([]PartitionResult, 0, len(parts))
	for _, tp := range parts {
		blk := partitionBlock(pr, tp)
		if blk == nil {
			out = append(out, PartitionResult{TopicPartition: tp, Err: ErrCorrupt, Retriable: false})
			continue
		}
		if blk.ErrorCode == 0 {
			out = append(out, PartitionResult{TopicPartition: tp, BaseOffset: blk.BaseOffset})
			continue
		}
		kerr := KError(blk.ErrorCode)
		if kerr.IsRetriable() {
			op.cluster.MarkAsStale()
		}
		out = append(out, PartitionResult{TopicPartition: tp, Err: kerr, Retriable: kerr.IsRetriable()})
	}
	return out
}

func partitionBlock(pr *ProduceResponse, tp TopicPartition) *ProduceResponseBlock {
	parts, ok := pr.Blocks[tp.Topic]
	if !ok {
		return nil
	}
	return parts[tp.Partition]
}

func failAll(parts []TopicPartition, err error, retriable bool) []PartitionResult {
	out := make([]PartitionResult, len(parts))
	for i, tp := range parts {
		out[i] = PartitionResult{TopicPartition: tp, Err: err, Retriable: retriable}
	}
	return out
}
