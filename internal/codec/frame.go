package codec

import (
	"encoding/binary"
	"fmt"
)

// MaxPayloadSize is the largest payload a frame may carry.
const MaxPayloadSize = 1 << 20 // 1 MiB

// HeaderSize is the number of bytes preceding the payload: 1 feed id byte
// plus 4 big-endian length bytes.
const HeaderSize = 5

// Frame is the atomic unit of transport: a feed id paired with an opaque
// payload. The codec never interprets payload bytes.
type Frame struct {
	FeedID  FeedID
	Payload []byte
}

// IncompleteError means "call Decode again once more bytes are available";
// it is not a protocol error.
type IncompleteError struct {
	Needed int
	Have   int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("incomplete frame: need %d bytes, have %d", e.Needed, e.Have)
}

// InvalidFeedIDError is returned when the header byte does not name a
// registered FeedID.
type InvalidFeedIDError struct {
	Byte byte
}

func (e *InvalidFeedIDError) Error() string {
	return fmt.Sprintf("invalid feed id: 0x%02X", e.Byte)
}

// PayloadTooLargeError is returned when the declared length exceeds
// MaxPayloadSize.
type PayloadTooLargeError struct {
	Size int
	Max  int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes (max %d)", e.Size, e.Max)
}

// Encode returns the wire representation of f: header byte, 4-byte
// big-endian length, then the payload bytes.
func Encode(f Frame) []byte {
	out := make([]byte, HeaderSize+len(f.Payload))
	out[0] = f.FeedID.AsByte()
	binary.BigEndian.PutUint32(out[1:5], uint32(len(f.Payload)))
	copy(out[5:], f.Payload)
	return out
}

// Decode parses exactly one frame from the front of buf, returning the
// frame and the number of bytes consumed. Trailing bytes in buf beyond the
// decoded frame are left untouched. Decode allocates at most one payload
// buffer per successful call.
//
// Errors are one of *IncompleteError, *InvalidFeedIDError, or
// *PayloadTooLargeError.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, &IncompleteError{Needed: HeaderSize, Have: len(buf)}
	}

	idByte := buf[0]
	id, ok := FeedIDFromByte(idByte)
	if !ok {
		return Frame{}, 0, &InvalidFeedIDError{Byte: idByte}
	}

	length := int(binary.BigEndian.Uint32(buf[1:5]))
	if length > MaxPayloadSize {
		return Frame{}, 0, &PayloadTooLargeError{Size: length, Max: MaxPayloadSize}
	}

	total := HeaderSize + length
	if len(buf) < total {
		return Frame{}, 0, &IncompleteError{Needed: total, Have: len(buf)}
	}

	payload := make([]byte, length)
	copy(payload, buf[HeaderSize:total])

	return Frame{FeedID: id, Payload: payload}, total, nil
}
