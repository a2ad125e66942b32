package kafka

import "hash/fnv"

// Partitioner assigns a record with no explicit partition to one of a
// topic's available partitions.
type Partitioner interface {
	Partition(record *Record, numPartitions int32) int32
}

// hashPartitioner is the default Partitioner: a deterministic hash of the
// partition key (or the record key, if no partition key was set) modulo
// the partition count. fnv-1a is the same family Sarama's own
// hashPartitioner historically used.
type hashPartitioner struct{}

// NewHashPartitioner returns the default partitioner: it hashes the
// record's partition key, or its key when no partition key is set (falling
// back to partition 0 if neither is set), and mods by the partition count.
func NewHashPartitioner() Partitioner {
	return hashPartitioner{}
}

func (hashPartitioner) Partition(record *Record, numPartitions int32) int32 {
	if numPartitions <= 0 {
		return 0
	}

	key := record.PartitionKey
	if key == nil {
		key = record.Key
	}
	if len(key) == 0 {
		return 0
	}

	h := fnv.New32a()
	_, _ = h.Write(key)
	sum := int32(h.Sum32() & 0x7fffffff)
	return sum % numPartitions
}

// RoundRobinPartitioner cycles through partitions in order, ignoring any
// key. Useful for callers wanting even spread across partitions rather
// than key-stable assignment.
type RoundRobinPartitioner struct {
	next int32
}

// NewRoundRobinPartitioner returns a fresh round-robin partitioner.
func NewRoundRobinPartitioner() *RoundRobinPartitioner {
	return &RoundRobinPartitioner{}
}

func (p *RoundRobinPartitioner) Partition(record *Record, numPartitions int32) int32 {
	if numPartitions <= 0 {
		return 0
	}
	id := p.next % numPartitions
	p.next++
	return id
}

// resolvePartition resolves a record's partition in three steps: an
// explicit partition wins, then a configured Partitioner, falling back to
// the default hash partitioner when none was configured.
func resolvePartition(record *Record, numPartitions int32, partitioner Partitioner) int32 {
	if record.HasPartition() {
		return record.Partition
	}
	if partitioner == nil {
		partitioner = NewHashPartitioner()
	}
	return partitioner.Partition(record, numPartitions)
}
