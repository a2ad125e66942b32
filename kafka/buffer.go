package kafka

// MessageBuffer holds produced records keyed by (topic, partition), in
// admission order, along with running record-count and byte-size totals
// used for the producer's admission check.
type MessageBuffer struct {
	records  map[string]map[int32][]*Record
	count    int
	byteSize int
}

// NewMessageBuffer constructs an empty buffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{records: make(map[string]map[int32][]*Record)}
}

// Add appends record to its (topic, partition) bucket.
func (b *MessageBuffer) Add(record *Record) {
	if b.records[record.Topic] == nil {
		b.records[record.Topic] = make(map[int32][]*Record)
	}
	b.records[record.Topic][record.Partition] = append(b.records[record.Topic][record.Partition], record)
	b.count++
	b.byteSize += record.ByteSize()
}

// Size is the total number of buffered records across all topics and
// partitions.
func (b *MessageBuffer) Size() int { return b.count }

// ByteSize is the sum of ByteSize() across all buffered records.
func (b *MessageBuffer) ByteSize() int { return b.byteSize }

// PartitionKeys returns every (topic, partition) pair currently holding
// buffered records, in no particular order.
func (b *MessageBuffer) PartitionKeys() []TopicPartition {
	var out []TopicPartition
	for topic, parts := range b.records {
		for partition := range parts {
			out = append(out, TopicPartition{Topic: topic, Partition: partition})
		}
	}
	return out
}

// RecordsFor returns the buffered records for one (topic, partition), in
// admission order.
func (b *MessageBuffer) RecordsFor(topic string, partition int32) []*Record {
	parts := b.records[topic]
	if parts == nil {
		return nil
	}
	return parts[partition]
}

// Clear removes every buffered record for (topic, partition), e.g. after a
// successful delivery for that partition.
func (b *MessageBuffer) Clear(topic string, partition int32) {
	parts := b.records[topic]
	if parts == nil {
		return
	}
	removed := parts[partition]
	if removed == nil {
		return
	}
	for _, r := range removed {
		b.byteSize -= r.ByteSize()
	}
	b.count -= len(removed)
	delete(parts, partition)
	if len(parts) == 0 {
		delete(b.records, topic)
	}
}

// ClearAll empties the buffer entirely.
func (b *MessageBuffer) ClearAll() {
	b.records = make(map[string]map[int32][]*Record)
	b.count = 0
	b.byteSize = 0
}

// TopicPartition names one partition of one topic.
type TopicPartition struct {
	Topic     string
	Partition int32
}
