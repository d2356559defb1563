// Package framing implements the framing strategies that turn a byte stream into
// discrete frames. The package is transport agnostic: it holds no connections and
// performs no I/O, so each strategy can be driven by any read loop.
//
// Strategies:
//
//   - Binary: length-prefixed typed frames (see Pack, Unpack and Parser).
//   - RawChunk: whatever bytes a single read yields form one frame.
//   - FixedLength: records of a configured size (see RecordAccumulator).
//   - LineDelimited: text lines ending with a delimiter (see LineSplitter).
//
// # Binary wire format
//
// Each length field is a little-endian signed 32-bit integer stored in the first
// 4 bytes of a 32-byte slot whose remaining 28 bytes are zero:
//
//	[0..32)                          type-name length slot
//	[32..64)                         payload length slot
//	[64..64+typeLen)                 type name bytes, not padded
//	[64+typeLen..64+typeLen+dataLen) payload bytes
//
// The oversized slots are kept for compatibility with existing peers. A frame with
// type name "Ping" and payload {0x01, 0x02} is 70 bytes on the wire.
package framing
