package kafka

import (
	"encoding/binary"
	"io"
	"net"
	"testing"
)

// fakeBrokerHandler decodes one request's key/correlation id/body and
// returns the raw response body (without the size/correlation-id framing,
// which serveFakeBroker adds).
type fakeBrokerHandler func(apiKey int16, corrID int32, body []byte) []byte

// startFakeBroker runs a minimal broker that serves each accepted connection
// one request at a time, good enough to exercise
// BrokerConnection/Cluster/Producer without a real Kafka cluster.
func startFakeBroker(t *testing.T, handler fakeBrokerHandler) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveFakeBroker(conn, handler)
		}
	}()

	return ln.Addr().String(), func() {
		close(done)
		_ = ln.Close()
	}
}

func serveFakeBroker(conn net.Conn, handler fakeBrokerHandler) {
	defer conn.Close()
	for {
		sizeBuf := make([]byte, 4)
		if _, err := io.ReadFull(conn, sizeBuf); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(sizeBuf)
		frame := make([]byte, size)
		if _, err := io.ReadFull(conn, frame); err != nil {
			return
		}

		d := newRealDecoder(frame)
		apiKey, err := d.getInt16()
		if err != nil {
			return
		}
		if _, err := d.getInt16(); err != nil { // api version
			return
		}
		corrID, err := d.getInt32()
		if err != nil {
			return
		}
		if _, err := d.getNullableString(); err != nil { // client id
			return
		}
		body := frame[d.off:]

		respBody := handler(apiKey, corrID, body)
		if respBody == nil {
			continue // caller wants no response (required_acks == 0 semantics)
		}

		e := newRealEncoder(len(respBody) + 8)
		e.push(&lengthField{})
		e.putInt32(corrID)
		e.putRawBytes(respBody)
		if err := e.pop(); err != nil {
			return
		}
		if _, err := conn.Write(e.bytes()); err != nil {
			return
		}
	}
}
