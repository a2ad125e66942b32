package kafka

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProducerBufferOverflow(t *testing.T) {
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		return encodeMetadataResponse(&MetadataResponse{
			Topics: []*TopicMetadata{
				{Name: "events", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
			},
		})
	})
	defer stop()

	cfg := NewConfig([]string{"kafka://" + addr}, WithMaxBufferSize(1))
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Produce(NewRecord("events", []byte("v1"), nil).WithPartition(0)))
	err = p.Produce(NewRecord("events", []byte("v2"), nil).WithPartition(0))
	require.ErrorIs(t, err, ErrBufferOverflow)
}

func TestProducerDeliverMessagesSuccess(t *testing.T) {
	var addr string
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		switch apiKey {
		case apiKeyMetadata:
			return encodeMetadataResponse(&MetadataResponse{
				Brokers: []*BrokerInfo{{NodeID: 1, Host: brokerHost(t, addr), Port: brokerPort(t, addr)}},
				Topics: []*TopicMetadata{
					{Name: "events", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
				},
			})
		case apiKeyProduce:
			return encodeProduceResponse(&ProduceResponse{
				Blocks: map[string]map[int32]*ProduceResponseBlock{
					"events": {0: {ErrorCode: 0, BaseOffset: 42}},
				},
			})
		default:
			return nil
		}
	})
	defer stop()

	cfg := NewConfig([]string{"kafka://" + addr})
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Produce(NewRecord("events", []byte("v1"), nil).WithPartition(0)))
	require.Equal(t, 1, p.BufferSize())

	err = p.DeliverMessages(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, p.BufferSize())
}

func TestProducerDeliverMessagesRetriesThenFails(t *testing.T) {
	var addr string
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		switch apiKey {
		case apiKeyMetadata:
			return encodeMetadataResponse(&MetadataResponse{
				Brokers: []*BrokerInfo{{NodeID: 1, Host: brokerHost(t, addr), Port: brokerPort(t, addr)}},
				Topics: []*TopicMetadata{
					{Name: "events", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
				},
			})
		case apiKeyProduce:
			return encodeProduceResponse(&ProduceResponse{
				Blocks: map[string]map[int32]*ProduceResponseBlock{
					"events": {0: {ErrorCode: int16(ErrLeaderNotAvailable)}},
				},
			})
		default:
			return nil
		}
	})
	defer stop()

	cfg := NewConfig([]string{"kafka://" + addr}, WithMaxRetries(1), WithRetryBackoff(time.Millisecond))
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Produce(NewRecord("events", []byte("v1"), nil).WithPartition(0)))

	err = p.DeliverMessages(context.Background())
	require.Error(t, err)
	var delivErr *DeliveryError
	require.ErrorAs(t, err, &delivErr)
	require.Len(t, delivErr.Undelivered, 1)
}

func TestProducerDeliverMessagesCancelledDuringBackoff(t *testing.T) {
	var addr string
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		switch apiKey {
		case apiKeyMetadata:
			return encodeMetadataResponse(&MetadataResponse{
				Brokers: []*BrokerInfo{{NodeID: 1, Host: brokerHost(t, addr), Port: brokerPort(t, addr)}},
				Topics: []*TopicMetadata{
					{Name: "events", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
				},
			})
		case apiKeyProduce:
			return encodeProduceResponse(&ProduceResponse{
				Blocks: map[string]map[int32]*ProduceResponseBlock{
					"events": {0: {ErrorCode: int16(ErrLeaderNotAvailable)}},
				},
			})
		default:
			return nil
		}
	})
	defer stop()

	cfg := NewConfig([]string{"kafka://" + addr}, WithMaxRetries(5), WithRetryBackoff(time.Hour))
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Produce(NewRecord("events", []byte("v1"), nil).WithPartition(0)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = p.DeliverMessages(ctx)
	require.Error(t, err)
	var delivErr *DeliveryError
	require.ErrorAs(t, err, &delivErr)
	require.ErrorIs(t, delivErr.Cause, context.Canceled)
	require.Len(t, delivErr.Undelivered, 1)
}

// TestProducerAssignPartitionsDefersSameTopicOrderOnFailure exercises the
// partition-assignment pass through DeliverMessages: a topic whose metadata never
// resolves fails assignment every pass and has every one of its records
// deferred in order, while an unrelated topic in the same pass is
// assigned and delivered normally.
func TestProducerAssignPartitionsDefersSameTopicOrderOnFailure(t *testing.T) {
	var addr string
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		switch apiKey {
		case apiKeyMetadata:
			return encodeMetadataResponse(&MetadataResponse{
				Brokers: []*BrokerInfo{{NodeID: 1, Host: brokerHost(t, addr), Port: brokerPort(t, addr)}},
				Topics: []*TopicMetadata{
					{Name: "known", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
				},
			})
		case apiKeyProduce:
			return encodeProduceResponse(&ProduceResponse{
				Blocks: map[string]map[int32]*ProduceResponseBlock{
					"known": {0: {ErrorCode: 0, BaseOffset: 7}},
				},
			})
		default:
			return nil
		}
	})
	defer stop()

	cfg := NewConfig([]string{"kafka://" + addr}, WithMaxRetries(0))
	p, err := NewProducer(cfg)
	require.NoError(t, err)
	defer p.Shutdown()

	require.NoError(t, p.Produce(NewRecord("missing", []byte("m1"), nil)))
	require.NoError(t, p.Produce(NewRecord("known", []byte("k1"), nil)))
	require.NoError(t, p.Produce(NewRecord("missing", []byte("m2"), nil)))

	err = p.DeliverMessages(context.Background())
	require.Error(t, err)
	var delivErr *DeliveryError
	require.ErrorAs(t, err, &delivErr)

	require.Len(t, delivErr.Undelivered, 2)
	require.Equal(t, "missing", delivErr.Undelivered[0].Topic)
	require.Equal(t, []byte("m1"), delivErr.Undelivered[0].Value)
	require.Equal(t, "missing", delivErr.Undelivered[1].Topic)
	require.Equal(t, []byte("m2"), delivErr.Undelivered[1].Value)
}

func brokerHost(t *testing.T, addr string) string {
	t.Helper()
	a, err := parseSeedURI("kafka://" + addr)
	require.NoError(t, err)
	return a.Host
}

func brokerPort(t *testing.T, addr string) int32 {
	t.Helper()
	a, err := parseSeedURI("kafka://" + addr)
	require.NoError(t, err)
	return a.Port
}
