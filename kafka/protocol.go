package kafka

import (
	"sort"
	"time"
)

// API keys this client speaks.
const (
	apiKeyProduce  int16 = 0
	apiKeyMetadata int16 = 3
)

// Request is anything that can be encoded into the body of the request
// envelope.
type Request interface {
	key() int16
	version() int16
	encode(pe packetEncoder) error
}

// Response is anything that can be decoded from the body of the response
// envelope.
type Response interface {
	decode(pd packetDecoder) error
}

// encodeRequest builds a full framed request: int32 size | int16 api_key |
// int16 api_version | int32 correlation_id | nullable_string client_id |
// body. The leading size covers everything after itself.
func encodeRequest(correlationID int32, clientID string, req Request) ([]byte, error) {
	e := newRealEncoder(256)
	e.push(&lengthField{})
	e.putInt16(req.key())
	e.putInt16(req.version())
	e.putInt32(correlationID)
	if err := e.putNullableString(&clientID); err != nil {
		return nil, err
	}
	if err := req.encode(e); err != nil {
		return nil, err
	}
	if err := e.pop(); err != nil {
		return nil, err
	}
	return e.bytes(), nil
}

// decodeResponseBody reads the correlation id from a response frame's body
// (the frame's leading size field is stripped by the caller, per
// BrokerConnection's socket framing) and returns the correlation id plus
// the remaining bytes to decode the body from.
func decodeResponseBody(frame []byte) (correlationID int32, body []byte, err error) {
	d := newRealDecoder(frame)
	correlationID, err = d.getInt32()
	if err != nil {
		return 0, nil, err
	}
	return correlationID, frame[4:], nil
}

// --- Produce request/response ---

// ProduceRequest carries, per topic, per partition, a RecordBatch destined
// for that partition's leader.
type ProduceRequest struct {
	RequiredAcks int16
	TimeoutMs    int32
	records      map[string]map[int32]*MessageSet
}

// NewProduceRequest constructs an empty ProduceRequest with the given
// required_acks and ack_timeout.
func NewProduceRequest(requiredAcks int16, timeout time.Duration) *ProduceRequest {
	return &ProduceRequest{
		RequiredAcks: requiredAcks,
		TimeoutMs:    int32(timeout / time.Millisecond),
		records:      make(map[string]map[int32]*MessageSet),
	}
}

// AddSet attaches a RecordBatch for a given topic/partition.
func (r *ProduceRequest) AddSet(topic string, partition int32, set *MessageSet) {
	if r.records[topic] == nil {
		r.records[topic] = make(map[int32]*MessageSet)
	}
	r.records[topic][partition] = set
}

func (r *ProduceRequest) key() int16     { return apiKeyProduce }
func (r *ProduceRequest) version() int16 { return 0 }

func (r *ProduceRequest) encode(pe packetEncoder) error {
	pe.putInt16(r.RequiredAcks)
	pe.putInt32(r.TimeoutMs)

	topics := make([]string, 0, len(r.records))
	for t := range r.records {
		topics = append(topics, t)
	}
	sort.Strings(topics)

	if err := pe.putArrayLength(len(topics)); err != nil {
		return err
	}
	for _, topic := range topics {
		if err := pe.putString(topic); err != nil {
			return err
		}
		partitions := r.records[topic]
		ids := make([]int32, 0, len(partitions))
		for p := range partitions {
			ids = append(ids, p)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		if err := pe.putArrayLength(len(ids)); err != nil {
			return err
		}
		for _, id := range ids {
			pe.putInt32(id)
			encoded, err := partitions[id].encode()
			if err != nil {
				return err
			}
			if err := pe.putBytes(encoded); err != nil {
				return err
			}
		}
	}
	return nil
}

// ProduceResponseBlock is one partition's outcome within a ProduceResponse.
type ProduceResponseBlock struct {
	ErrorCode  int16
	BaseOffset int64
}

// ProduceResponse carries, per topic, per partition, the broker's verdict
// on a produce attempt.
type ProduceResponse struct {
	Blocks map[string]map[int32]*ProduceResponseBlock
}

func (r *ProduceResponse) decode(pd packetDecoder) error {
	n, err := pd.getArrayLength()
	if err != nil {
		return err
	}
	r.Blocks = make(map[string]map[int32]*ProduceResponseBlock, n)

	for i := 0; i < n; i++ {
		topic, err := pd.getString()
		if err != nil {
			return err
		}
		pn, err := pd.getArrayLength()
		if err != nil {
			return err
		}
		parts := make(map[int32]*ProduceResponseBlock, pn)
		for j := 0; j < pn; j++ {
			partition, err := pd.getInt32()
			if err != nil {
				return err
			}
			errCode, err := pd.getInt16()
			if err != nil {
				return err
			}
			baseOffset, err := pd.getInt64()
			if err != nil {
				return err
			}
			parts[partition] = &ProduceResponseBlock{ErrorCode: errCode, BaseOffset: baseOffset}
		}
		r.Blocks[topic] = parts
	}
	return nil
}

// --- Metadata request/response ---

// MetadataRequest asks for the brokers and partition layout of the named
// topics.
type MetadataRequest struct {
	Topics []string
}

func (r *MetadataRequest) key() int16     { return apiKeyMetadata }
func (r *MetadataRequest) version() int16 { return 0 }

func (r *MetadataRequest) encode(pe packetEncoder) error {
	if err := pe.putArrayLength(len(r.Topics)); err != nil {
		return err
	}
	for _, t := range r.Topics {
		if err := pe.putString(t); err != nil {
			return err
		}
	}
	return nil
}

// BrokerInfo describes one cluster member.
type BrokerInfo struct {
	NodeID int32
	Host   string
	Port   int32
}

// PartitionInfo describes one partition's replica assignment.
type PartitionInfo struct {
	ErrorCode int16
	ID        int32
	Leader    int32
	Replicas  []int32
	ISR       []int32
}

// TopicMetadata describes one topic's partitions.
type TopicMetadata struct {
	ErrorCode  int16
	Name       string
	Partitions []*PartitionInfo
}

// MetadataResponse is the wire response to a MetadataRequest.
type MetadataResponse struct {
	Brokers      []*BrokerInfo
	ControllerID int32
	Topics       []*TopicMetadata
}

func (r *MetadataResponse) decode(pd packetDecoder) error {
	bn, err := pd.getArrayLength()
	if err != nil {
		return err
	}
	r.Brokers = make([]*BrokerInfo, 0, bn)
	for i := 0; i < bn; i++ {
		nodeID, err := pd.getInt32()
		if err != nil {
			return err
		}
		host, err := pd.getString()
		if err != nil {
			return err
		}
		port, err := pd.getInt32()
		if err != nil {
			return err
		}
		r.Brokers = append(r.Brokers, &BrokerInfo{NodeID: nodeID, Host: host, Port: port})
	}

	controllerID, err := pd.getInt32()
	if err != nil {
		return err
	}
	r.ControllerID = controllerID

	tn, err := pd.getArrayLength()
	if err != nil {
		return err
	}
	r.Topics = make([]*TopicMetadata, 0, tn)
	for i := 0; i < tn; i++ {
		topicErr, err := pd.getInt16()
		if err != nil {
			return err
		}
		name, err := pd.getString()
		if err != nil {
			return err
		}
		pn, err := pd.getArrayLength()
		if err != nil {
			return err
		}
		tm := &TopicMetadata{ErrorCode: topicErr, Name: name}
		for j := 0; j < pn; j++ {
			partErr, err := pd.getInt16()
			if err != nil {
				return err
			}
			id, err := pd.getInt32()
			if err != nil {
				return err
			}
			leader, err := pd.getInt32()
			if err != nil {
				return err
			}
			replicas, err := decodeInt32Array(pd)
			if err != nil {
				return err
			}
			isr, err := decodeInt32Array(pd)
			if err != nil {
				return err
			}
			tm.Partitions = append(tm.Partitions, &PartitionInfo{
				ErrorCode: partErr,
				ID:        id,
				Leader:    leader,
				Replicas:  replicas,
				ISR:       isr,
			})
		}
		r.Topics = append(r.Topics, tm)
	}
	return nil
}

func decodeInt32Array(pd packetDecoder) ([]int32, error) {
	n, err := pd.getArrayLength()
	if err != nil {
		return nil, err
	}
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		v, err := pd.getInt32()
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// encodeMetadataResponse/encodeProduceResponse are used only by tests to
// build fixtures that exercise the decode path without a live broker.

func encodeMetadataResponse(r *MetadataResponse) []byte {
	e := newRealEncoder(256)
	e.putArrayLength(len(r.Brokers))
	for _, b := range r.Brokers {
		e.putInt32(b.NodeID)
		e.putString(b.Host)
		e.putInt32(b.Port)
	}
	e.putInt32(r.ControllerID)
	e.putArrayLength(len(r.Topics))
	for _, t := range r.Topics {
		e.putInt16(t.ErrorCode)
		e.putString(t.Name)
		e.putArrayLength(len(t.Partitions))
		for _, p := range t.Partitions {
			e.putInt16(p.ErrorCode)
			e.putInt32(p.ID)
			e.putInt32(p.Leader)
			e.putArrayLength(len(p.Replicas))
			for _, r := range p.Replicas {
				e.putInt32(r)
			}
			e.putArrayLength(len(p.ISR))
			for _, r := range p.ISR {
				e.putInt32(r)
			}
		}
	}
	return e.bytes()
}

func encodeProduceResponse(r *ProduceResponse) []byte {
	e := newRealEncoder(256)
	e.putArrayLength(len(r.Blocks))
	topics := make([]string, 0, len(r.Blocks))
	for t := range r.Blocks {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	for _, topic := range topics {
		e.putString(topic)
		parts := r.Blocks[topic]
		ids := make([]int32, 0, len(parts))
		for id := range parts {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		e.putArrayLength(len(ids))
		for _, id := range ids {
			e.putInt32(id)
			e.putInt16(parts[id].ErrorCode)
			e.putInt64(parts[id].BaseOffset)
		}
	}
	return e.bytes()
}
