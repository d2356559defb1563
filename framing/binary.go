package framing

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// LengthSlotSize is the size of each length slot on the wire.
	LengthSlotSize = 32
	// HeaderSize is the size of the two length slots preceding the type name.
	HeaderSize = 2 * LengthSlotSize
)

const (
	// DefaultMaxTypeNameLength is the default upper bound of a type name in bytes.
	DefaultMaxTypeNameLength = 1024
	// DefaultMaxPayloadLength is the default upper bound of a payload in bytes.
	DefaultMaxPayloadLength = 8 * 1024 * 1024
)

// Limits constrains the allocations a Parser may perform for a single frame.
type Limits struct {
	MaxTypeNameLength int
	MaxPayloadLength  int
}

// DefaultLimits returns the default frame limits.
func DefaultLimits() Limits {
	return Limits{
		MaxTypeNameLength: DefaultMaxTypeNameLength,
		MaxPayloadLength:  DefaultMaxPayloadLength,
	}
}

// Check reports whether a frame with typeName and payload fits both the limits
// and the int32 length slots. Zero fields select the defaults.
func (l Limits) Check(typeName string, payload []byte) error {
	return l.checkLengths(len(typeName), len(payload))
}

func (l Limits) checkLengths(nameLen, payloadLen int) error {
	maxName, maxPayload := l.MaxTypeNameLength, l.MaxPayloadLength
	if maxName <= 0 {
		maxName = DefaultMaxTypeNameLength
	}
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadLength
	}

	if nameLen > maxName || nameLen > math.MaxInt32 {
		return fmt.Errorf("%w: %d exceeds %d", ErrTypeNameTooLong, nameLen, min(maxName, math.MaxInt32))
	}
	if payloadLen > maxPayload || payloadLen > math.MaxInt32 {
		return fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, payloadLen, min(maxPayload, math.MaxInt32))
	}

	return nil
}

// Frame is one decoded binary frame.
type Frame struct {
	TypeName string
	Payload  []byte
}

// PackedSize returns the wire size of a frame with the given type name and payload.
func PackedSize(typeName string, payload []byte) int {
	return HeaderSize + len(typeName) + len(payload)
}

// Pack encodes a type name and payload into a single wire frame.
//
// It panics when either length does not fit a length slot. Callers packing
// untrusted input check it with Limits.Check first.
func Pack(typeName string, payload []byte) []byte {
	return AppendPack(make([]byte, 0, PackedSize(typeName, payload)), typeName, payload)
}

// AppendPack appends the wire frame for typeName and payload to dst and returns
// the extended buffer.
func AppendPack(dst []byte, typeName string, payload []byte) []byte {
	var slots [HeaderSize]byte
	putLength(slots[:LengthSlotSize], len(typeName))
	putLength(slots[LengthSlotSize:], len(payload))

	dst = append(dst, slots[:]...)
	dst = append(dst, typeName...)

	return append(dst, payload...)
}

// Unpack decodes exactly one wire frame from b.
//
// The returned payload is a fresh copy and does not alias b.
func Unpack(b []byte) (typeName string, payload []byte, err error) {
	if len(b) < HeaderSize {
		return "", nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortFrame, len(b), HeaderSize)
	}

	typeLen, err := decodeLength(b[:LengthSlotSize])
	if err != nil {
		return "", nil, err
	}
	dataLen, err := decodeLength(b[LengthSlotSize:HeaderSize])
	if err != nil {
		return "", nil, err
	}

	want := int64(HeaderSize) + int64(typeLen) + int64(dataLen)
	switch {
	case int64(len(b)) < want:
		return "", nil, fmt.Errorf("%w: %d bytes, frame needs %d", ErrShortFrame, len(b), want)
	case int64(len(b)) > want:
		return "", nil, fmt.Errorf("%w: %d extra", ErrTrailingBytes, int64(len(b))-want)
	}

	nameEnd := HeaderSize + typeLen
	payload = make([]byte, dataLen)
	copy(payload, b[nameEnd:])

	return string(b[HeaderSize:nameEnd]), payload, nil
}

// putLength writes n as a little-endian int32 into the first 4 bytes of slot.
// The remaining bytes of slot are left untouched and must be zero.
func putLength(slot []byte, n int) {
	if n > math.MaxInt32 {
		panic(fmt.Sprintf("framing: length %d does not fit a length slot", n))
	}
	binary.LittleEndian.PutUint32(slot[:4], uint32(int32(n)))
}

// decodeLength reads the little-endian int32 from the first 4 bytes of slot.
// The 28 padding bytes are ignored.
func decodeLength(slot []byte) (int, error) {
	n := int32(binary.LittleEndian.Uint32(slot[:4]))
	if n < 0 {
		return 0, fmt.Errorf("%w: %d", ErrNegativeLength, n)
	}

	return int(n), nil
}
