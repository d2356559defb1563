package receiver

import (
	"context"
	"errors"

	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/metrics"
	"github.com/arloliu/go-framer/typereg"
)

// binaryStreamLoop reads binary frames from a TCP stream.
//
// Every read fills the remainder of the parser's current stage, so a frame is
// assembled across reads of any size. The read blocks without a deadline;
// disposal unblocks it by closing the socket. Any read error or invalid length
// ends the receiver.
func (r *Receiver) binaryStreamLoop(t *TCPTransport) task.LoopFunc {
	parser := framing.NewParser(r.cfg.limits)
	conn := t.Conn()

	return func(ctx context.Context) bool {
		n, err := conn.Read(parser.Buffer())
		if n > 0 {
			r.addBytes(n)

			frame, ok, perr := parser.Commit(n)
			if perr != nil {
				r.terminate(metrics.DisconnectFrameError, perr)
				return false
			}
			if ok {
				r.deliverTyped(frame.TypeName, frame.Payload, r.meta())
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			if isClosedErr(err) {
				r.terminate(metrics.DisconnectPeerClosed, nil)
			} else {
				r.terminate(metrics.DisconnectReadError, err)
			}

			return false
		}

		return true
	}
}

// deliverTyped resolves a completed binary frame and pushes it. Frames whose type
// cannot be resolved are dropped with a warning; the stream carries on with the
// next frame.
func (r *Receiver) deliverTyped(typeName string, payload []byte, meta envelope.Meta) {
	var decoded any
	if resolver := r.cfg.resolver; resolver != nil {
		v, err := resolver.Decode(typeName, payload)
		if err != nil {
			reason := metrics.DropDecodeError
			if errors.Is(err, typereg.ErrUnknownType) {
				reason = metrics.DropUnknownType
			}
			r.logger.Warn("frame dropped", "type", typeName, "len", len(payload), "error", err)
			r.dropFrame(reason)

			return
		}
		decoded = v
	}

	r.push(envelope.NewTyped(typeName, payload, decoded, meta))
}
