package kafka

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func dialFake(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := dialTCP("tcp", addr, 2*time.Second)
	require.NoError(t, err)
	return conn
}

func TestBrokerConnectionSendMetadataRoundTrip(t *testing.T) {
	want := &MetadataResponse{
		Brokers:      []*BrokerInfo{{NodeID: 1, Host: "broker1", Port: 9092}},
		ControllerID: 1,
		Topics: []*TopicMetadata{
			{Name: "topic-a", Partitions: []*PartitionInfo{{ID: 0, Leader: 1}}},
		},
	}

	addr, stop := startFakeBroker(t, func(apiKey int16, corrID int32, body []byte) []byte {
		require.Equal(t, apiKeyMetadata, apiKey)
		return encodeMetadataResponse(want)
	})
	defer stop()

	conn := dialFake(t, addr)
	bc := newBrokerConnection(1, addr, conn, "test-client", 2*time.Second, nil, nil)
	defer bc.Close()

	resp, err := bc.Send(&MetadataRequest{Topics: []string{"topic-a"}})
	require.NoError(t, err)

	mr, ok := resp.(*MetadataResponse)
	require.True(t, ok)
	require.Equal(t, want.ControllerID, mr.ControllerID)
	require.Len(t, mr.Topics, 1)
	require.Equal(t, "topic-a", mr.Topics[0].Name)
}

// TestBrokerConnectionCorrelationIDMismatchIsCorrupt runs a server that
// deliberately echoes the wrong correlation id, exercising the session
// distrust path.
func TestBrokerConnectionCorrelationIDMismatchIsCorrupt(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		sizeBuf := make([]byte, 4)
		if _, err := conn.Read(sizeBuf); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(sizeBuf)
		frame := make([]byte, size)
		_, _ = conn.Read(frame)

		body := encodeMetadataResponse(&MetadataResponse{})
		e := newRealEncoder(len(body) + 8)
		e.push(&lengthField{})
		e.putInt32(999) // wrong correlation id on purpose
		e.putRawBytes(body)
		_ = e.pop()
		_, _ = conn.Write(e.bytes())
	}()

	addr := ln.Addr().String()
	conn := dialFake(t, addr)
	bc := newBrokerConnection(1, addr, conn, "test-client", 2*time.Second, nil, nil)
	defer bc.Close()

	_, err = bc.Send(&MetadataRequest{})
	require.ErrorIs(t, err, ErrCorrupt)
}
