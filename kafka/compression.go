package kafka

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"

	xerialsnappy "github.com/eapache/go-xerial-snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionCodec identifies which codec a message set's wrapper record
// is compressed with. The numeric values match the low 3 bits of the wire
// attribute byte.
type CompressionCodec byte

const (
	CompressionNone   CompressionCodec = 0
	CompressionGZIP   CompressionCodec = 1
	CompressionSnappy CompressionCodec = 2
	CompressionLZ4    CompressionCodec = 3
	CompressionZSTD   CompressionCodec = 4
)

const (
	codecNone   = byte(CompressionNone)
	codecGZIP   = byte(CompressionGZIP)
	codecSnappy = byte(CompressionSnappy)
	codecLZ4    = byte(CompressionLZ4)
	codecZSTD   = byte(CompressionZSTD)
)

func (c CompressionCodec) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionGZIP:
		return "gzip"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// compress encodes data with the named codec. gzip is handled with the
// standard library, same as Sarama does. snappy, lz4, and zstd are wired
// to their respective third-party codec libraries.
func compress(codec byte, data []byte) ([]byte, error) {
	switch codec {
	case codecNone:
		return data, nil
	case codecGZIP:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case codecSnappy:
		return xerialsnappy.Encode(data), nil
	case codecLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case codecZSTD:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("kafka: unsupported compression codec %d", codec)
	}
}

// decompress is compress's inverse.
func decompress(codec byte, data []byte) ([]byte, error) {
	switch codec {
	case codecNone:
		return data, nil
	case codecGZIP:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case codecSnappy:
		return xerialsnappy.Decode(data)
	case codecLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		return io.ReadAll(r)
	case codecZSTD:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		return nil, fmt.Errorf("kafka: unsupported compression codec %d", codec)
	}
}

// Compressor wraps a MessageSet in a compressed envelope once a message
// count threshold is met. Below the threshold, or with
// CompressionNone, the original set is returned unchanged — its wire form
// contains no wrapper record.
type Compressor struct {
	Codec     CompressionCodec
	Threshold int
}

// Compress returns either the original set unchanged, or a new set
// containing a single wrapper record whose value is the compressed
// encoding of the original set. wrapperOffset should be -1 when the
// caller has not yet assigned a real offset.
func (c Compressor) Compress(set *MessageSet, wrapperOffset int64) (*MessageSet, error) {
	if c.Codec == CompressionNone || len(set.Messages) < c.Threshold {
		return set, nil
	}

	encoded, err := set.encode()
	if err != nil {
		return nil, err
	}
	compressed, err := compress(byte(c.Codec), encoded)
	if err != nil {
		return nil, err
	}

	wrapper := &Message{Codec: byte(c.Codec), Value: compressed}
	if n := len(set.Messages); n > 0 {
		wrapper.Version = set.Messages[n-1].Msg.Version
		wrapper.Timestamp = set.Messages[n-1].Msg.Timestamp
	}

	return &MessageSet{Messages: []*MessageBlock{{Offset: wrapperOffset, Msg: wrapper}}}, nil
}
