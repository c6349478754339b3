package message

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/purpleidea/ultravm/clock"
)

// Field numbers for the hand-rolled protowire encoding below. There is no
// .proto file or generated code; these tags just need to be stable across
// Encode/Decode, which is all protowire requires of a length-delimited
// field stream.
const (
	fieldTime     = 1
	fieldSender   = 2
	fieldReceiver = 3
	fieldType     = 4
	fieldData     = 5
)

// Encode serializes m as a length-delimited protowire byte stream, appending
// to dst and returning the extended slice.
func Encode(dst []byte, m *Message) []byte {
	dst = protowire.AppendTag(dst, fieldTime, protowire.BytesType)
	dst = protowire.AppendBytes(dst, []byte(m.Time.Encode()))

	dst = protowire.AppendTag(dst, fieldSender, protowire.BytesType)
	dst = protowire.AppendBytes(dst, encodeAddress(m.Sender))

	dst = protowire.AppendTag(dst, fieldReceiver, protowire.BytesType)
	dst = protowire.AppendBytes(dst, encodeAddress(m.Receiver))

	dst = protowire.AppendTag(dst, fieldType, protowire.VarintType)
	dst = protowire.AppendVarint(dst, uint64(m.Type))

	dst = protowire.AppendTag(dst, fieldData, protowire.BytesType)
	dst = protowire.AppendBytes(dst, m.Data)

	return dst
}

// Decode parses a Message previously produced by Encode out of b, along with
// the owning index the reconstructed vector clock should use. It returns the
// number of bytes consumed.
func Decode(b []byte, clockOwner int) (*Message, int, error) {
	m := &Message{}
	orig := len(b)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, 0, fmt.Errorf("message: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch num {
		case fieldTime:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad time field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			vc, err := clock.DecodeVector(string(v), clockOwner)
			if err != nil {
				return nil, 0, err
			}
			m.Time = vc
		case fieldSender:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad sender field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			a, err := decodeAddress(v)
			if err != nil {
				return nil, 0, err
			}
			m.Sender = a
		case fieldReceiver:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad receiver field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			a, err := decodeAddress(v)
			if err != nil {
				return nil, 0, err
			}
			m.Receiver = a
		case fieldType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad type field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			m.Type = Type(v)
		case fieldData:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad data field: %w", protowire.ParseError(n))
			}
			b = b[n:]
			m.Data = append([]byte(nil), v...)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, 0, fmt.Errorf("message: bad unknown field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return m, orig, nil
}

func encodeAddress(a Address) []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(uint32(a.Cluster)))
	b = protowire.AppendVarint(b, uint64(uint32(a.Space)))
	b = protowire.AppendVarint(b, uint64(uint32(a.Field)))
	b = protowire.AppendVarint(b, uint64(uint32(a.Node)))
	return b
}

func decodeAddress(b []byte) (Address, error) {
	var a Address
	vals := make([]int32, 0, 4)
	for len(b) > 0 {
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return a, fmt.Errorf("message: bad address component: %w", protowire.ParseError(n))
		}
		b = b[n:]
		vals = append(vals, int32(uint32(v)))
	}
	if len(vals) != 4 {
		return a, fmt.Errorf("message: address needs 4 components, got %d", len(vals))
	}
	a.Cluster, a.Space, a.Field, a.Node = vals[0], vals[1], vals[2], vals[3]
	return a, nil
}

// WriteFramed prepends a varint length prefix to the encoded message and
// returns the full frame, ready to write to a net.Conn.
func WriteFramed(m *Message) []byte {
	body := Encode(nil, m)
	var frame []byte
	frame = protowire.AppendVarint(frame, uint64(len(body)))
	frame = append(frame, body...)
	return frame
}

// ReadFrame consumes one length-prefixed frame from the head of b and
// returns the decoded message, the number of bytes consumed, and whether a
// complete frame was present. A false ok means the caller needs more bytes.
func ReadFrame(b []byte, clockOwner int) (m *Message, n int, ok bool, err error) {
	length, ln := protowire.ConsumeVarint(b)
	if ln < 0 {
		return nil, 0, false, nil
	}
	if uint64(len(b)-ln) < length {
		return nil, 0, false, nil
	}
	body := b[ln : ln+int(length)]
	msg, _, err := Decode(body, clockOwner)
	if err != nil {
		return nil, 0, false, err
	}
	return msg, ln + int(length), true, nil
}
