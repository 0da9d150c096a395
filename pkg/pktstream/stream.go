// Package pktstream adapts the pkt-line codec into ordinary byte
// streams for a single request's payload: a bounded reader that
// presents consecutive payload frames as one stream terminated by a
// flush packet, and a bounded writer that fragments an arbitrary byte
// stream into conforming frames without ever emitting the flush
// itself — the state machine owns that.
package pktstream

import (
	"io"

	"github.com/nseba/gitfilterd/pkg/pktline"
)

// Reader presents the concatenation of consecutive non-flush payload
// frames as a single io.Reader that returns io.EOF once the next
// flush packet is consumed. The zero value is not usable; use
// NewReader.
type Reader struct {
	src      *pktline.Reader
	buf      []byte
	offset   int
	finished bool
	read     uint64
}

// NewReader wraps src, a pkt-line frame source, as a bounded Reader.
func NewReader(src *pktline.Reader) *Reader {
	return &Reader{src: src}
}

// Finished reports whether the terminating flush packet has been
// consumed. The state machine asserts this after every request
// dispatch to catch Processor implementations that fail to drain
// their input.
func (r *Reader) Finished() bool { return r.finished }

// BytesRead returns the total number of payload bytes returned so far.
func (r *Reader) BytesRead() uint64 { return r.read }

// Read implements io.Reader. Once the flush packet terminating this
// stream is seen, Read always returns (0, io.EOF).
func (r *Reader) Read(p []byte) (int, error) {
	if r.finished {
		return 0, io.EOF
	}
	if r.offset >= len(r.buf) {
		payload, err := r.src.ReadBinary(&r.buf)
		if err != nil {
			return 0, err
		}
		if payload == nil {
			r.finished = true
			return 0, io.EOF
		}
		r.offset = 0
	}

	n := copy(p, r.buf[r.offset:])
	r.offset += n
	r.read += uint64(n)
	return n, nil
}

// Writer fragments written bytes into pkt-line payload frames on dst.
// It never writes a flush packet; the caller issues that once it is
// done with the Writer by calling Close, after which further writes
// panic. Writes are buffered up to pktline.MaxPayloadLength before a
// frame is actually emitted, matching the buffered design permitted by
// the protocol (see SPEC_FULL.md §C).
type Writer struct {
	dst     *pktline.Writer
	buf     []byte
	written uint64
	closed  bool
}

// NewWriter wraps dst, a pkt-line frame sink, as a bounded Writer.
func NewWriter(dst *pktline.Writer) *Writer {
	return &Writer{dst: dst, buf: make([]byte, 0, pktline.MaxPayloadLength)}
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		panic("pktstream: write to closed Writer")
	}
	total := len(p)
	for len(p) > 0 {
		space := cap(w.buf) - len(w.buf)
		n := len(p)
		if n > space {
			n = space
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]
		if len(w.buf) == cap(w.buf) {
			if err := w.flushBuffer(); err != nil {
				return total - len(p), err
			}
		}
	}
	w.written += uint64(total)
	return total, nil
}

// Written returns the total number of bytes accepted by Write so far.
func (w *Writer) Written() uint64 { return w.written }

func (w *Writer) flushBuffer() error {
	if len(w.buf) == 0 {
		return nil
	}
	if err := w.dst.WriteBinary(w.buf); err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return nil
}

// Close flushes any buffered bytes as a final frame. It does not write
// a flush packet. Close must be called before the state machine emits
// the trailing flush; omitting it is a programmer error (the equivalent
// Rust type panics when dropped with buffered data — Go has no
// destructor to hook, so callers must call Close themselves, and the
// state machine always does right after the Processor returns). Calls
// after the first are no-ops.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushBuffer()
}
