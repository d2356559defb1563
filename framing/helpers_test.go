package framing

import (
	"encoding/binary"
	"testing"
)

// lengthSlot builds a 32-byte length slot holding n.
func lengthSlot(t *testing.T, n int32) []byte {
	t.Helper()

	slot := make([]byte, LengthSlotSize)
	binary.LittleEndian.PutUint32(slot, uint32(n))

	return slot
}

// collect feeds data into p in chunks of chunkSize and returns every frame.
func collect(t *testing.T, p *Parser, data []byte, chunkSize int) []Frame {
	t.Helper()

	var frames []Frame
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		if err := p.Feed(data[:n], func(f Frame) { frames = append(frames, f) }); err != nil {
			t.Fatalf("feed: %v", err)
		}
		data = data[n:]
	}

	return frames
}
