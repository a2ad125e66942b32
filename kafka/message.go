package kafka

import (
	"hash/crc32"
	"time"
)

// compressionCodecMask selects the low 3 bits of a message's attribute
// byte, which carry the codec id.
const compressionCodecMask = 0x07

// crc32Field is a pushEncoder that back-patches a message's CRC once its
// magic/attributes/timestamp/key/value region has been written.
type crc32Field struct {
	startOffset int
}

func (c *crc32Field) saveOffset(in int)  { c.startOffset = in }
func (c *crc32Field) reserveLength() int { return 4 }

func (c *crc32Field) run(curOffset int, buf []byte) error {
	crc := crc32.ChecksumIEEE(buf[c.startOffset+4 : curOffset])
	buf[c.startOffset] = byte(crc >> 24)
	buf[c.startOffset+1] = byte(crc >> 16)
	buf[c.startOffset+2] = byte(crc >> 8)
	buf[c.startOffset+3] = byte(crc)
	return nil
}

// Message is a single on-wire record within a MessageSet. A
// Message whose Codec is non-zero is a "wrapper": its Value holds the
// codec-compressed encoding of an inner MessageSet, decoded into Set.
type Message struct {
	Codec     byte
	Version   int8
	Timestamp time.Time
	Key       []byte
	Value     []byte
	Set       *MessageSet
}

func (m *Message) encode(pe packetEncoder) error {
	pe.push(&crc32Field{})

	pe.putInt8(m.Version)
	pe.putInt8(int8(m.Codec & compressionCodecMask))

	if m.Version >= 1 {
		millis := int64(-1)
		if !m.Timestamp.IsZero() {
			millis = m.Timestamp.UnixNano() / int64(time.Millisecond)
		}
		pe.putInt64(millis)
	}

	if err := pe.putBytes(m.Key); err != nil {
		return err
	}
	if err := pe.putBytes(m.Value); err != nil {
		return err
	}

	return pe.pop()
}

// decodeMessage decodes the CRC-protected content of a single message (the
// bytes following the offset and message_size header fields).
func decodeMessage(content []byte) (*Message, error) {
	d := newRealDecoder(content)

	// The magic byte sits right after the 4-byte CRC slot; a v2 record
	// batch puts its magic at the same position.
	if len(content) > 4 && int8(content[4]) > 1 {
		return nil, ErrUnsupportedMagicByte
	}

	crc, err := d.getInt32()
	if err != nil {
		return nil, err
	}
	computed := crc32.ChecksumIEEE(content[4:])
	if uint32(crc) != computed {
		return nil, PacketDecodingError{Info: "message crc mismatch", Err: ErrCorrupt}
	}

	version, err := d.getInt8()
	if err != nil {
		return nil, err
	}
	attributes, err := d.getInt8()
	if err != nil {
		return nil, err
	}

	m := &Message{
		Version: version,
		Codec:   byte(attributes) & compressionCodecMask,
	}

	if version >= 1 {
		millis, err := d.getInt64()
		if err != nil {
			return nil, err
		}
		if millis >= 0 {
			m.Timestamp = time.Unix(0, millis*int64(time.Millisecond)).UTC()
		}
	}

	key, err := d.getNullableBytes()
	if err != nil {
		return nil, err
	}
	m.Key = key

	value, err := d.getNullableBytes()
	if err != nil {
		return nil, err
	}

	if m.Codec == codecNone {
		m.Value = value
		return m, nil
	}

	decompressed, err := decompress(m.Codec, value)
	if err != nil {
		return nil, err
	}
	m.Value = decompressed

	inner, err := decodeMessageSet(decompressed)
	if err != nil {
		return nil, err
	}
	m.Set = inner
	return m, nil
}

// MessageBlock pairs a wire offset with the message found there.
type MessageBlock struct {
	Offset int64
	Msg    *Message
}

// MessageSet is an ordered sequence of MessageBlocks sharing a
// topic/partition. PartialTrailingMessage records that the final
// record on the wire was truncated and silently dropped.
type MessageSet struct {
	Messages               []*MessageBlock
	PartialTrailingMessage bool
}

// encode serializes the message set as a length-prefixed sequence of
// records, one after another, with no further framing.
func (s *MessageSet) encode() ([]byte, error) {
	e := newRealEncoder(256)
	for _, blk := range s.Messages {
		e.putInt64(blk.Offset)
		e.push(&lengthField{})
		if err := blk.Msg.encode(e); err != nil {
			return nil, err
		}
		if err := e.pop(); err != nil {
			return nil, err
		}
	}
	return e.bytes(), nil
}

// decodeMessageSet reads records from data until it is exhausted, handling
// three edge cases:
//
//   - a partial final record is silently dropped (truncation tolerance);
//   - if *no* complete record fits, ErrMessageTooLargeToRead is returned;
//   - a malformed (negative) declared length is a CORRUPT decode error.
func decodeMessageSet(data []byte) (*MessageSet, error) {
	set := &MessageSet{}
	d := newRealDecoder(data)

	const headerLen = 12 // int64 offset + int32 message_size
	for d.remaining() > 0 {
		if d.remaining() < headerLen {
			if len(set.Messages) == 0 {
				return nil, ErrMessageTooLargeToRead
			}
			set.PartialTrailingMessage = true
			break
		}

		offset, err := d.getInt64()
		if err != nil {
			return nil, err
		}
		size, err := d.getInt32()
		if err != nil {
			return nil, err
		}
		if size < 0 {
			return nil, PacketDecodingError{Info: "negative message size", Err: corruptErr(ErrInvalidLength)}
		}

		if d.remaining() < int(size) {
			if len(set.Messages) == 0 {
				return nil, ErrMessageTooLargeToRead
			}
			set.PartialTrailingMessage = true
			break
		}

		content, err := d.getRawBytes(int(size))
		if err != nil {
			return nil, err
		}
		msg, err := decodeMessage(content)
		if err != nil {
			return nil, err
		}
		set.Messages = append(set.Messages, &MessageBlock{Offset: offset, Msg: msg})
	}

	return set, nil
}

// Flatten returns the set's records with absolute, wire-faithful offsets:
// any wrapper block is replaced by its inner records. The wrapper's
// offset field carries the absolute offset of the last message in the
// wrapped set; the inner messages carry offsets relative to that base
// unless the wire already shows absolute offsets, which is detected by
// comparing the inner set's last on-wire offset against the wrapper's:
//
//   - if they differ, the inner offsets are relative (the common case:
//     contiguous post-v0.10 batches, and sparse batches surviving log
//     compaction) and each is rewritten to
//     wrapperOffset - (lastInnerOffsetOnWire - innerOffsetOnWire);
//   - if they already match, the legacy v0.9 case, the inner offsets are
//     already absolute and are kept verbatim.
func (s *MessageSet) Flatten() []*MessageBlock {
	var out []*MessageBlock
	for _, blk := range s.Messages {
		if blk.Msg.Set == nil {
			out = append(out, blk)
			continue
		}
		inner := blk.Msg.Set.Messages
		if len(inner) == 0 {
			continue
		}
		last := inner[len(inner)-1].Offset
		wrapperOffset := blk.Offset
		needsRewrite := last != wrapperOffset
		for _, ib := range inner {
			offset := ib.Offset
			if needsRewrite {
				offset = wrapperOffset - (last - ib.Offset)
			}
			out = append(out, &MessageBlock{Offset: offset, Msg: ib.Msg})
		}
	}
	return out
}
