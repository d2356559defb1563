package receiver

import (
	"context"
	"errors"

	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/metrics"
)

// Serial loops read with the port's read timeout set to the poll timeout, so a
// read returns (0, nil) when the line is idle and cancellation is observed within
// one poll.

func (r *Receiver) startFixedLoop(mgr *task.Manager, t *SerialTransport) error {
	acc, err := framing.NewRecordAccumulator(r.cfg.recordSize)
	if err != nil {
		return err
	}

	buf := make([]byte, r.cfg.chunkSize)
	port := t.Port()

	return mgr.Start("fixedLengthLoop", func(ctx context.Context) bool {
		n, err := port.Read(buf)
		if n > 0 {
			r.addBytes(n)
			_, _ = acc.Write(buf[:n])

			// fewer than recordSize bytes stay buffered for the next read
			for record, ok := acc.Next(); ok; record, ok = acc.Next() {
				r.push(envelope.New(record, r.meta()))
			}
		}

		if err != nil {
			return r.serialReadError(ctx, err)
		}

		return true
	})
}

func (r *Receiver) startLineLoop(mgr *task.Manager, t *SerialTransport) error {
	splitter, err := framing.NewLineSplitter(r.cfg.lineDelimiter, r.cfg.maxLineLength)
	if err != nil {
		return err
	}

	buf := make([]byte, r.cfg.chunkSize)
	port := t.Port()

	return mgr.Start("lineDelimitedLoop", func(ctx context.Context) bool {
		n, err := port.Read(buf)
		if n > 0 {
			r.addBytes(n)
			before := splitter.Dropped()
			if _, werr := splitter.Write(buf[:n]); errors.Is(werr, framing.ErrLineTooLong) {
				r.logger.Warn("line dropped", "error", werr)
				for i := before; i < splitter.Dropped(); i++ {
					r.dropFrame(metrics.DropLineTooLong)
				}
			}

			for line, ok := splitter.Next(); ok; line, ok = splitter.Next() {
				r.push(envelope.NewText(line, r.meta()))
			}
		}

		if err != nil {
			return r.serialReadError(ctx, err)
		}

		return true
	})
}

// serialReadError swallows read errors, except for a closed port which ends the
// receiver.
func (r *Receiver) serialReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if isClosedErr(err) {
		r.terminate(metrics.DisconnectPeerClosed, err)
		return false
	}

	r.transientError("serial read failed", err)

	return r.backoff(ctx)
}
