package kafka

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClusterRefreshAndGetLeader(t *testing.T) {
	var addr string
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		host, portStr := splitAddr(t, addr)
		return encodeMetadataResponse(&MetadataResponse{
			Brokers: []*BrokerInfo{{NodeID: 7, Host: host, Port: portStr}},
			Topics: []*TopicMetadata{
				{Name: "orders", Partitions: []*PartitionInfo{{ID: 0, Leader: 7}}},
			},
		})
	})
	defer stop()

	c, err := NewCluster([]string{"kafka://" + addr}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	c.AddTargetTopics("orders")
	conn, err := c.GetLeader("orders", 0)
	require.NoError(t, err)
	require.NotNil(t, conn)
}

func TestClusterGetLeaderPartitionErrorCodeLeaderNotAvailable(t *testing.T) {
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		return encodeMetadataResponse(&MetadataResponse{
			Topics: []*TopicMetadata{
				{Name: "orders", Partitions: []*PartitionInfo{{ID: 0, ErrorCode: int16(ErrLeaderNotAvailable)}}},
			},
		})
	})
	defer stop()

	c, err := NewCluster([]string{"kafka://" + addr}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	c.AddTargetTopics("orders")
	_, err = c.GetLeader("orders", 0)
	require.ErrorIs(t, err, ErrNoLeader)
	require.ErrorContains(t, err, "leader not available")
}

func TestClusterGetLeaderTopicErrorCodeInvalidTopic(t *testing.T) {
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		return encodeMetadataResponse(&MetadataResponse{
			Topics: []*TopicMetadata{
				{Name: "orders", ErrorCode: int16(ErrInvalidTopic)},
			},
		})
	})
	defer stop()

	c, err := NewCluster([]string{"kafka://" + addr}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	c.AddTargetTopics("orders")
	_, err = c.GetLeader("orders", 0)
	require.ErrorIs(t, err, ErrNoLeader)
	require.ErrorContains(t, err, "invalid topic")
}

func TestClusterGetLeaderUnknownTopic(t *testing.T) {
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		return encodeMetadataResponse(&MetadataResponse{})
	})
	defer stop()

	c, err := NewCluster([]string{"kafka://" + addr}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	_, err = c.GetLeader("missing-topic", 0)
	require.ErrorIs(t, err, ErrNoLeader)
}

func TestClusterDisconnectShutsDownOperations(t *testing.T) {
	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		return encodeMetadataResponse(&MetadataResponse{})
	})
	defer stop()

	c, err := NewCluster([]string{"kafka://" + addr}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)

	c.Disconnect()
	err = c.RefreshMetadataIfNecessary()
	require.ErrorIs(t, err, ErrClusterShutdown)
}

func TestNewClusterUsesTLSDialerForSSLSeeds(t *testing.T) {
	c, err := NewCluster([]string{"kafka+ssl://broker1:9093"}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	require.NotNil(t, c.pool.dial)
	require.Equal(t, reflect.ValueOf(dialTLS).Pointer(), reflect.ValueOf(c.pool.dial).Pointer())
}

func TestNewClusterUsesPlainDialerWhenNoSSLSeed(t *testing.T) {
	c, err := NewCluster([]string{"kafka://broker1:9093"}, "test-client", 2*time.Second, nil, nil)
	require.NoError(t, err)
	defer c.Disconnect()

	require.Equal(t, reflect.ValueOf(dialTCP).Pointer(), reflect.ValueOf(c.pool.dial).Pointer())
}

// splitAddr breaks a "host:port" into (host, int32 port) for building
// metadata fixtures that point back at the fake broker itself.
func splitAddr(t *testing.T, addr string) (string, int32) {
	t.Helper()
	a, err := parseSeedURI("kafka://" + addr)
	require.NoError(t, err)
	return a.Host, a.Port
}
