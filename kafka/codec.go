package kafka

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrInsufficientData and ErrInvalidLength are the codec-level causes
// PacketDecodingError wraps, each additionally chained to the taxonomy
// sentinel it corresponds to (ErrTruncated, ErrCorrupt) so callers can test
// with either errors.Is(err, ErrTruncated) or the more specific
// errors.Is(err, ErrInsufficientData).
var (
	ErrInsufficientData = errors.New("insufficient data to decode packet, more bytes expected")
	ErrInvalidLength     = errors.New("length field invalid, negative length for non-nullable field")
)

// truncatedErr and corruptErr chain a codec-level cause onto its taxonomy
// sentinel so a single PacketDecodingError.Err satisfies errors.Is for both.
func truncatedErr(cause error) error { return fmt.Errorf("%w: %w", ErrTruncated, cause) }
func corruptErr(cause error) error   { return fmt.Errorf("%w: %w", ErrCorrupt, cause) }

// packetEncoder is the write-side half of the codec contract:
// primitive encoders for signed big-endian integers, length-prefixed byte
// strings and UTF-8 strings (with -1 meaning "absent" where nullable), and
// length-prefixed arrays. Grounded in Sarama's packetEncoder interface used
// throughout end_txn_request.go, delete_topics_response.go, and
// init_producer_id_request.go.
type packetEncoder interface {
	putInt8(in int8)
	putInt16(in int16)
	putInt32(in int32)
	putInt64(in int64)
	putBool(in bool)

	// putString/putBytes encode length-prefixed payloads; the nullable
	// variants encode a nil value as length -1.
	putString(in string) error
	putNullableString(in *string) error
	putBytes(in []byte) error
	putNullableBytes(in []byte) error
	putRawBytes(in []byte) error

	putArrayLength(in int) error

	// push/pop bracket a length-prefixed region whose length is
	// back-patched once the region's contents are known (used for the
	// request/response envelope's leading int32 size field).
	push(pe pushEncoder)
	pop() error
}

// pushEncoder is a length (or checksum) field whose value is unknown until
// everything after it has been encoded.
type pushEncoder interface {
	// saveOffset records where in the buffer this field begins.
	saveOffset(in int)
	// reserveLength returns how many bytes this field occupies.
	reserveLength() int
	// run is called with the current end offset of the encoded region and
	// the encoder's buffer, and fixes up the reserved bytes in place.
	run(curOffset int, buf []byte) error
}

// lengthField is a pushEncoder for a plain int32 byte-count prefix.
type lengthField struct {
	startOffset int
}

func (l *lengthField) saveOffset(in int) { l.startOffset = in }
func (l *lengthField) reserveLength() int { return 4 }
func (l *lengthField) run(curOffset int, buf []byte) error {
	binary.BigEndian.PutUint32(buf[l.startOffset:], uint32(curOffset-l.startOffset-4))
	return nil
}

// realEncoder implements packetEncoder over a growable byte buffer with a
// stack of in-flight pushEncoders, mirroring Sarama's realEncoder.
type realEncoder struct {
	raw   []byte
	off   int
	stack []pushEncoder
}

func newRealEncoder(expectedLen int) *realEncoder {
	return &realEncoder{raw: make([]byte, 0, expectedLen)}
}

func (e *realEncoder) grow(n int) {
	if len(e.raw)+n > cap(e.raw) {
		buf := make([]byte, len(e.raw), 2*(len(e.raw)+n)+16)
		copy(buf, e.raw)
		e.raw = buf
	}
	e.raw = e.raw[:len(e.raw)+n]
}

func (e *realEncoder) putInt8(in int8) {
	e.grow(1)
	e.raw[e.off] = byte(in)
	e.off++
}

func (e *realEncoder) putInt16(in int16) {
	e.grow(2)
	binary.BigEndian.PutUint16(e.raw[e.off:], uint16(in))
	e.off += 2
}

func (e *realEncoder) putInt32(in int32) {
	e.grow(4)
	binary.BigEndian.PutUint32(e.raw[e.off:], uint32(in))
	e.off += 4
}

func (e *realEncoder) putInt64(in int64) {
	e.grow(8)
	binary.BigEndian.PutUint64(e.raw[e.off:], uint64(in))
	e.off += 8
}

func (e *realEncoder) putBool(in bool) {
	if in {
		e.putInt8(1)
	} else {
		e.putInt8(0)
	}
}

func (e *realEncoder) putString(in string) error {
	if len(in) > math.MaxInt16 {
		return PacketEncodingError{Info: "string too long"}
	}
	e.putInt16(int16(len(in)))
	e.grow(len(in))
	copy(e.raw[e.off:], in)
	e.off += len(in)
	return nil
}

func (e *realEncoder) putNullableString(in *string) error {
	if in == nil {
		e.putInt16(-1)
		return nil
	}
	return e.putString(*in)
}

func (e *realEncoder) putBytes(in []byte) error {
	if in == nil {
		return e.putNullableBytes(nil)
	}
	if len(in) > math.MaxInt32 {
		return PacketEncodingError{Info: "byte slice too long"}
	}
	e.putInt32(int32(len(in)))
	return e.putRawBytes(in)
}

func (e *realEncoder) putNullableBytes(in []byte) error {
	if in == nil {
		e.putInt32(-1)
		return nil
	}
	return e.putBytes(in)
}

func (e *realEncoder) putRawBytes(in []byte) error {
	e.grow(len(in))
	copy(e.raw[e.off:], in)
	e.off += len(in)
	return nil
}

func (e *realEncoder) putArrayLength(in int) error {
	if in > math.MaxInt32 {
		return PacketEncodingError{Info: "array too long"}
	}
	e.putInt32(int32(in))
	return nil
}

func (e *realEncoder) push(pe pushEncoder) {
	pe.saveOffset(e.off)
	e.grow(pe.reserveLength())
	e.off += pe.reserveLength()
	e.stack = append(e.stack, pe)
}

func (e *realEncoder) pop() error {
	pe := e.stack[len(e.stack)-1]
	e.stack = e.stack[:len(e.stack)-1]
	return pe.run(e.off, e.raw)
}

func (e *realEncoder) bytes() []byte { return e.raw }

// packetDecoder is the read-side half of the codec contract: a
// bounded byte-source reader. Grounded in Sarama's packetDecoder interface.
type packetDecoder interface {
	getInt8() (int8, error)
	getInt16() (int16, error)
	getInt32() (int32, error)
	getInt64() (int64, error)
	getBool() (bool, error)

	getString() (string, error)
	getNullableString() (*string, error)
	getBytes() ([]byte, error)
	getNullableBytes() ([]byte, error)
	getRawBytes(length int) ([]byte, error)

	getArrayLength() (int, error)

	remaining() int
}

// realDecoder implements packetDecoder over a fixed byte slice. Every
// accessor is bounds-checked: reading past the end of raw fails with
// ErrInsufficientData wrapped in a PacketDecodingError.
type realDecoder struct {
	raw []byte
	off int
}

func newRealDecoder(raw []byte) *realDecoder { return &realDecoder{raw: raw} }

func (d *realDecoder) remaining() int { return len(d.raw) - d.off }

func (d *realDecoder) require(n int) error {
	if n < 0 {
		return PacketDecodingError{Info: "negative length", Err: corruptErr(ErrInvalidLength)}
	}
	if d.remaining() < n {
		return PacketDecodingError{Info: "not enough data remaining", Err: truncatedErr(ErrInsufficientData)}
	}
	return nil
}

func (d *realDecoder) getInt8() (int8, error) {
	if err := d.require(1); err != nil {
		return 0, err
	}
	v := int8(d.raw[d.off])
	d.off++
	return v, nil
}

func (d *realDecoder) getInt16() (int16, error) {
	if err := d.require(2); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(d.raw[d.off:]))
	d.off += 2
	return v, nil
}

func (d *realDecoder) getInt32() (int32, error) {
	if err := d.require(4); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(d.raw[d.off:]))
	d.off += 4
	return v, nil
}

func (d *realDecoder) getInt64() (int64, error) {
	if err := d.require(8); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(d.raw[d.off:]))
	d.off += 8
	return v, nil
}

func (d *realDecoder) getBool() (bool, error) {
	v, err := d.getInt8()
	return v != 0, err
}

func (d *realDecoder) getString() (string, error) {
	n, err := d.getInt16()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", PacketDecodingError{Info: "negative string length", Err: corruptErr(ErrInvalidLength)}
	}
	buf, err := d.getRawBytes(int(n))
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func (d *realDecoder) getNullableString() (*string, error) {
	n, err := d.getInt16()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	buf, err := d.getRawBytes(int(n))
	if err != nil {
		return nil, err
	}
	s := string(buf)
	return &s, nil
}

func (d *realDecoder) getBytes() ([]byte, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, PacketDecodingError{Info: "negative bytes length", Err: corruptErr(ErrInvalidLength)}
	}
	return d.getRawBytes(int(n))
}

func (d *realDecoder) getNullableBytes() ([]byte, error) {
	n, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	return d.getRawBytes(int(n))
}

func (d *realDecoder) getRawBytes(length int) ([]byte, error) {
	if err := d.require(length); err != nil {
		return nil, err
	}
	buf := d.raw[d.off : d.off+length]
	d.off += length
	return buf, nil
}

func (d *realDecoder) getArrayLength() (int, error) {
	n, err := d.getInt32()
	if err != nil {
		return 0, err
	}
	if n == -1 {
		return 0, nil
	}
	if n < 0 {
		return 0, PacketDecodingError{Info: "negative array length", Err: corruptErr(ErrInvalidLength)}
	}
	if int(n) > d.remaining() {
		return 0, PacketDecodingError{Info: "array length exceeds remaining data", Err: truncatedErr(ErrInsufficientData)}
	}
	return int(n), nil
}
