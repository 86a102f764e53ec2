package rooms

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Realtime message kinds. Every frame starts with one tag byte; sync
// and awareness payloads follow as varuint length plus bytes, ping and
// pong carry nothing.
const (
	TagSyncStep1         byte = 0x00
	TagSyncStep2         byte = 0x01
	TagDocUpdate         byte = 0x02
	TagAwarenessSnapshot byte = 0x03
	TagAwarenessUpdate   byte = 0x04
	TagPing              byte = 0x10
	TagPong              byte = 0x11
)

// MaxFrameSize caps a single realtime frame at 1 MiB
const MaxFrameSize = 1 << 20

var (
	ErrFrameTooLarge  = errors.New("rooms: frame exceeds 1 MiB")
	ErrMalformedFrame = errors.New("rooms: malformed frame")
)

// EncodeFrame builds a wire frame for the given kind
func EncodeFrame(tag byte, payload []byte) []byte {
	if tag == TagPing || tag == TagPong {
		return []byte{tag}
	}
	buf := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	buf[0] = tag
	buf = binary.AppendUvarint(buf, uint64(len(payload)))
	return append(buf, payload...)
}

// DecodeFrame splits a wire frame into its tag and payload
func DecodeFrame(frame []byte) (byte, []byte, error) {
	if len(frame) > MaxFrameSize {
		return 0, nil, ErrFrameTooLarge
	}
	if len(frame) == 0 {
		return 0, nil, ErrMalformedFrame
	}
	tag := frame[0]
	switch tag {
	case TagPing, TagPong:
		if len(frame) != 1 {
			return 0, nil, ErrMalformedFrame
		}
		return tag, nil, nil
	case TagSyncStep1, TagSyncStep2, TagDocUpdate, TagAwarenessSnapshot, TagAwarenessUpdate:
		length, n := binary.Uvarint(frame[1:])
		if n <= 0 {
			return 0, nil, ErrMalformedFrame
		}
		payload := frame[1+n:]
		if uint64(len(payload)) != length {
			return 0, nil, fmt.Errorf("%w: length %d does not match payload %d",
				ErrMalformedFrame, length, len(payload))
		}
		return tag, payload, nil
	default:
		return 0, nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedFrame, tag)
	}
}
