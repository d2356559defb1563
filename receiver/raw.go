package receiver

import (
	"context"
	"time"

	"github.com/arloliu/go-framer/envelope"
	"github.com/arloliu/go-framer/framing"
	"github.com/arloliu/go-framer/internal/task"
	"github.com/arloliu/go-framer/metrics"
)

// maxDatagramSize fits any UDP datagram, so a datagram is never truncated.
const maxDatagramSize = 64 * 1024

// rawStreamLoop forwards the bytes of every TCP read as one envelope.
//
// Each iteration runs the liveness probe, then reads with a deadline of one poll
// timeout. A deadline expiry just means no data arrived.
func (r *Receiver) rawStreamLoop(t *TCPTransport) task.LoopFunc {
	buf := make([]byte, r.cfg.chunkSize)
	conn := t.Conn()
	probe := r.cfg.probe

	return func(ctx context.Context) bool {
		if !probe.Connected(conn) {
			if ctx.Err() == nil {
				r.terminate(metrics.DisconnectPeerClosed, nil)
			}

			return false
		}

		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.pollTimeout)); err != nil {
			return r.streamReadError(ctx, "set read deadline failed", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			r.addBytes(n)
			r.push(envelope.New(buf[:n], r.meta()))
		}

		if err != nil {
			if isTimeoutErr(err) {
				return true
			}

			return r.streamReadError(ctx, "tcp read failed", err)
		}

		return true
	}
}

// streamReadError ends the loop when the socket is closed and swallows any other
// error.
func (r *Receiver) streamReadError(ctx context.Context, msg string, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if isClosedErr(err) {
		r.terminate(metrics.DisconnectPeerClosed, nil)
		return false
	}

	r.transientError(msg, err)

	return r.backoff(ctx)
}

// datagramLoop turns every UDP datagram into one envelope. The envelope's remote
// address is the datagram's sender, and the transport learns it as the reply
// peer.
//
// With binary framing each datagram must hold exactly one packed frame; others
// are dropped. UDP never reports a disconnect.
func (r *Receiver) datagramLoop(t *UDPTransport) task.LoopFunc {
	buf := make([]byte, maxDatagramSize)
	conn := t.Conn()

	return func(ctx context.Context) bool {
		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.pollTimeout)); err != nil {
			return r.datagramReadError(ctx, err)
		}

		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if isTimeoutErr(err) {
				return true
			}

			return r.datagramReadError(ctx, err)
		}

		r.addBytes(n)
		t.setPeer(addr)

		meta := r.meta()
		meta.RemoteAddress, meta.RemotePort = envelope.SplitAddr(addr)

		if r.cfg.framing != framing.Binary {
			r.push(envelope.New(buf[:n], meta))
			return true
		}

		typeName, payload, uerr := framing.Unpack(buf[:n])
		if uerr != nil {
			r.logger.Warn("malformed datagram dropped", "from", addr.String(), "len", n, "error", uerr)
			r.dropFrame(metrics.DropMalformed)

			return true
		}
		r.deliverTyped(typeName, payload, meta)

		return true
	}
}

func (r *Receiver) datagramReadError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if isClosedErr(err) {
		r.logger.Info("udp socket closed, receiver stopped")
		r.stopQuietly(metrics.DisconnectPeerClosed)

		return false
	}

	r.transientError("udp read failed", err)

	return r.backoff(ctx)
}

// stopQuietly disposes from the read loop without firing the disconnect callback.
func (r *Receiver) stopQuietly(reason string) {
	if r.state.ToDisposed() == DisposedState {
		return
	}

	r.teardown(false)
	metrics.RecordDisconnect(r.kindLabel(), reason)
}
