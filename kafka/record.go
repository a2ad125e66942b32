package kafka

import "time"

// RecordHeader is a single key/value header attached to a record. Headers
// are kept on the Record only: the produce path writes v0/v1 messages,
// which have no header field, so they are not sent, and decoding never
// fills them in. They play no role in partitioning, batching, or delivery
// bookkeeping.
type RecordHeader struct {
	Key   string
	Value []byte
}

// Record is the user-visible unit of production. It is immutable once
// constructed: every field is set at construction time via NewRecord, and
// ByteSize is computed once and cached.
type Record struct {
	Value        []byte
	Key          []byte
	Topic        string
	Partition    int32
	partitionSet bool

	// PartitionKey is used only for partition assignment (Partitioner);
	// it is never transmitted on the wire.
	PartitionKey []byte

	// CreateTime is the wall-clock instant associated with the record. A
	// zero value means "absent", which is valid for legacy (v0) wire
	// format.
	CreateTime time.Time

	Headers []RecordHeader

	byteSize int
}

// NoPartition indicates a record has not yet been assigned a partition.
const NoPartition int32 = -1

// NewRecord constructs an immutable Record. Partition defaults to
// NoPartition ("unresolved") unless WithPartition is applied.
func NewRecord(topic string, value, key []byte) *Record {
	return &Record{
		Topic:     topic,
		Value:     value,
		Key:       key,
		Partition: NoPartition,
		byteSize:  len(key) + len(value),
	}
}

// WithPartition returns a copy of the record pinned to an explicit
// partition.
func (r *Record) WithPartition(partition int32) *Record {
	cp := *r
	cp.Partition = partition
	cp.partitionSet = true
	return &cp
}

// WithPartitionKey returns a copy of the record carrying a partition_key
// used only for assignment, never transmitted.
func (r *Record) WithPartitionKey(partitionKey []byte) *Record {
	cp := *r
	cp.PartitionKey = partitionKey
	return &cp
}

// WithCreateTime returns a copy of the record stamped with an explicit
// creation instant.
func (r *Record) WithCreateTime(t time.Time) *Record {
	cp := *r
	cp.CreateTime = t
	return &cp
}

// WithHeaders returns a copy of the record carrying the given headers.
func (r *Record) WithHeaders(headers []RecordHeader) *Record {
	cp := *r
	cp.Headers = headers
	return &cp
}

// HasPartition reports whether this record was constructed with an
// explicit partition assignment.
func (r *Record) HasPartition() bool { return r.partitionSet || r.Partition >= 0 }

// ByteSize is len(key) + len(value).
func (r *Record) ByteSize() int { return r.byteSize }
