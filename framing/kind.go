package framing

import (
	"fmt"
	"strings"
)

// Kind identifies a framing strategy.
type Kind uint8

const (
	// Binary is length-prefixed typed framing for TCP and UDP.
	Binary Kind = iota + 1
	// RawChunk forwards the bytes of each individual read as one frame.
	RawChunk
	// FixedLength emits records of a fixed size, for serial ports.
	FixedLength
	// LineDelimited emits delimiter-terminated text lines, for serial ports.
	LineDelimited
)

// String returns the short name of the framing kind.
func (k Kind) String() string {
	switch k {
	case Binary:
		return "binary"
	case RawChunk:
		return "raw"
	case FixedLength:
		return "fixed"
	case LineDelimited:
		return "line"
	default:
		return "unknown"
	}
}

// IsValid reports whether k names a known strategy.
func (k Kind) IsValid() bool {
	return k >= Binary && k <= LineDelimited
}

// ForSockets reports whether the strategy runs on TCP and UDP sockets.
func (k Kind) ForSockets() bool {
	return k == Binary || k == RawChunk
}

// ForSerial reports whether the strategy runs on serial ports.
func (k Kind) ForSerial() bool {
	return k == FixedLength || k == LineDelimited
}

// ParseKind converts a framing name, as produced by Kind.String, into a Kind.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "binary":
		return Binary, nil
	case "raw", "rawchunk", "string":
		return RawChunk, nil
	case "fixed", "fixedlength":
		return FixedLength, nil
	case "line", "lines", "linedelimited":
		return LineDelimited, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, name)
	}
}
