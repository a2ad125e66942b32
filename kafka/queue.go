package kafka

import "github.com/eapache/queue"

// PendingQueue is a FIFO of records awaiting partition assignment,
// preserving admission order so a later assignment pass resolves them in
// the order they were produced. Replace substitutes its contents
// atomically, used both to re-enqueue records whose assignment failed and
// to discard everything on ClearBuffer. It is built on Sarama's own
// ring-buffer queue, github.com/eapache/queue.
type PendingQueue struct {
	q        *queue.Queue
	byteSize int
}

// NewPendingQueue constructs an empty queue.
func NewPendingQueue() *PendingQueue {
	return &PendingQueue{q: queue.New()}
}

// Push appends a record to the back of the queue.
func (p *PendingQueue) Push(record *Record) {
	p.q.Add(record)
	p.byteSize += record.ByteSize()
}

// Pop removes and returns the front record, or nil if the queue is empty.
func (p *PendingQueue) Pop() *Record {
	if p.q.Length() == 0 {
		return nil
	}
	v := p.q.Peek()
	p.q.Remove()
	r := v.(*Record)
	p.byteSize -= r.ByteSize()
	return r
}

// Len is the number of records currently queued.
func (p *PendingQueue) Len() int { return p.q.Length() }

// ByteSize is the sum of ByteSize() across all queued records.
func (p *PendingQueue) ByteSize() int { return p.byteSize }

// Replace discards the current contents and refills the queue from records,
// in order. It is used to re-enqueue the records whose partition
// assignment failed in the current pass.
func (p *PendingQueue) Replace(records []*Record) {
	p.q = queue.New()
	p.byteSize = 0
	for _, r := range records {
		p.Push(r)
	}
}

// Drain removes and returns every queued record, in order, leaving the
// queue empty.
func (p *PendingQueue) Drain() []*Record {
	out := make([]*Record, 0, p.Len())
	for p.Len() > 0 {
		out = append(out, p.Pop())
	}
	return out
}
