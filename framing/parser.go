package framing

import (
	"fmt"
)

// Stage is one step of the binary framing read cycle.
type Stage uint8

const (
	// AwaitTypeLength waits for the 32-byte type-name length slot.
	AwaitTypeLength Stage = iota
	// AwaitDataLength waits for the 32-byte payload length slot.
	AwaitDataLength
	// AwaitTypeName waits for the type name bytes.
	AwaitTypeName
	// AwaitPayload waits for the payload bytes.
	AwaitPayload
)

func (s Stage) String() string {
	switch s {
	case AwaitTypeLength:
		return "await-type-length"
	case AwaitDataLength:
		return "await-data-length"
	case AwaitTypeName:
		return "await-type-name"
	case AwaitPayload:
		return "await-payload"
	default:
		return "unknown"
	}
}

// Parser is the incremental decoder for binary framing.
//
// It cycles through the four stages in order and wraps back to AwaitTypeLength
// after each payload. The caller reads into the slice returned by Buffer and
// reports the number of bytes read with Commit, so a frame can be assembled from
// reads of any size, down to one byte at a time:
//
//	for {
//	    n, err := conn.Read(p.Buffer())
//	    if err != nil { ... }
//	    frame, ok, err := p.Commit(n)
//	    if err != nil { ... } // terminal
//	    if ok { ... }         // one complete frame
//	}
//
// Any error returned by Commit is terminal; the parser cannot be resumed.
//
// Parser is NOT goroutine-safe.
type Parser struct {
	limits Limits
	stage  Stage

	lenBuf  [LengthSlotSize]byte
	cur     []byte // buffer of the current stage
	filled  int    // bytes of cur already filled
	typeLen int
	dataLen int
	name    string

	broken error
}

// NewParser creates a Parser enforcing the given limits. Zero-valued limit fields
// fall back to the defaults.
func NewParser(limits Limits) *Parser {
	def := DefaultLimits()
	if limits.MaxTypeNameLength <= 0 {
		limits.MaxTypeNameLength = def.MaxTypeNameLength
	}
	if limits.MaxPayloadLength <= 0 {
		limits.MaxPayloadLength = def.MaxPayloadLength
	}

	p := &Parser{limits: limits}
	p.reset()

	return p
}

// Stage returns the current stage.
func (p *Parser) Stage() Stage {
	return p.stage
}

// Err returns the terminal error, if any.
func (p *Parser) Err() error {
	return p.broken
}

// Buffer returns the unfilled remainder of the current stage's buffer.
// It is empty only once the parser is broken.
func (p *Parser) Buffer() []byte {
	if p.broken != nil {
		return nil
	}

	return p.cur[p.filled:]
}

// Commit records that n bytes were written into the slice last returned by Buffer.
//
// It returns the completed frame and true when the bytes finish a payload.
func (p *Parser) Commit(n int) (Frame, bool, error) {
	if p.broken != nil {
		return Frame{}, false, fmt.Errorf("%w: %w", ErrParserBroken, p.broken)
	}
	if n < 0 || n > len(p.cur)-p.filled {
		return Frame{}, false, p.fail(fmt.Errorf("framing: commit of %d bytes exceeds buffer of %d", n, len(p.cur)-p.filled))
	}

	p.filled += n

	// advance through every stage that is complete, including zero-length ones
	for p.filled == len(p.cur) {
		frame, done, err := p.advance()
		if err != nil {
			return Frame{}, false, p.fail(err)
		}
		if done {
			return frame, true, nil
		}
	}

	return Frame{}, false, nil
}

// Feed copies data into the parser and calls emit for every completed frame.
// It stops at the first terminal error.
func (p *Parser) Feed(data []byte, emit func(Frame)) error {
	for len(data) > 0 {
		buf := p.Buffer()
		if len(buf) == 0 {
			return fmt.Errorf("%w: %w", ErrParserBroken, p.broken)
		}

		n := copy(buf, data)
		data = data[n:]

		frame, ok, err := p.Commit(n)
		if err != nil {
			return err
		}
		if ok && emit != nil {
			emit(frame)
		}
	}

	return nil
}

// advance finishes the current stage and prepares the next one.
func (p *Parser) advance() (Frame, bool, error) {
	switch p.stage {
	case AwaitTypeLength:
		n, err := decodeLength(p.lenBuf[:])
		if err != nil {
			return Frame{}, false, fmt.Errorf("type name length: %w", err)
		}
		if n > p.limits.MaxTypeNameLength {
			return Frame{}, false, fmt.Errorf("%w: %d exceeds %d", ErrTypeNameTooLong, n, p.limits.MaxTypeNameLength)
		}
		p.typeLen = n
		p.enter(AwaitDataLength, p.lenBuf[:])

	case AwaitDataLength:
		n, err := decodeLength(p.lenBuf[:])
		if err != nil {
			return Frame{}, false, fmt.Errorf("payload length: %w", err)
		}
		if n > p.limits.MaxPayloadLength {
			return Frame{}, false, fmt.Errorf("%w: %d exceeds %d", ErrPayloadTooLarge, n, p.limits.MaxPayloadLength)
		}
		p.dataLen = n
		p.enter(AwaitTypeName, make([]byte, p.typeLen))

	case AwaitTypeName:
		p.name = string(p.cur)
		p.enter(AwaitPayload, make([]byte, p.dataLen))

	case AwaitPayload:
		frame := Frame{TypeName: p.name, Payload: p.cur}
		p.reset()

		return frame, true, nil
	}

	return Frame{}, false, nil
}

func (p *Parser) enter(stage Stage, buf []byte) {
	p.stage = stage
	p.cur = buf
	p.filled = 0
}

func (p *Parser) reset() {
	p.lenBuf = [LengthSlotSize]byte{}
	p.typeLen = 0
	p.dataLen = 0
	p.name = ""
	p.enter(AwaitTypeLength, p.lenBuf[:])
}

func (p *Parser) fail(err error) error {
	p.broken = err
	p.cur = nil
	p.filled = 0

	return err
}
