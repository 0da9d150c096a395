// Package filter drives the Git long-running filter process protocol
// (handshake, capability negotiation, and the clean/smudge/delayed
// command loop) against a user-supplied Processor, over any pair of
// byte streams.
package filter

import (
	"errors"
	"io"
	"strings"

	"github.com/nseba/gitfilterd/pkg/pktline"
	"github.com/nseba/gitfilterd/pkg/pktstream"
)

const protocolVersion = "version=2"

// errTerminate is an internal sentinel meaning "the error envelope has
// been written to the wire and the protocol has been fully honored —
// end the session now, successfully" (spec.md §7: a ProcessorError is
// consumed, not propagated).
var errTerminate = errors.New("filter: session terminated after processor error")

// Server drives one filter session for a single Processor. It is not
// safe for concurrent use — a session owns its input and output
// streams for its entire lifetime (spec.md §5).
type Server struct {
	proc Processor
	log  Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger attaches a structured-logging hook around each command
// dispatch. Passing nil (the default) disables logging entirely.
func WithLogger(l Logger) Option {
	return func(s *Server) { s.log = l }
}

// New returns a Server that drives proc.
func New(proc Processor, opts ...Option) *Server {
	s := &Server{proc: proc}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one complete session: handshake, capability
// negotiation, and the clean/smudge/list_available_blobs command loop,
// until the client closes input at a frame boundary (reported as a nil
// error) or a fatal parse/I/O error occurs.
func (s *Server) Run(input io.Reader, output io.Writer) error {
	pr := pktline.NewReader(input)
	pw := pktline.NewWriter(output)
	var buf []byte

	clean, err := s.handshake(pr, pw, &buf)
	if err != nil {
		return err
	}
	if clean {
		return nil
	}

	filterOffered, smudgeOffered, delayOffered, clean, err := s.readCapabilities(pr, &buf)
	if err != nil {
		return err
	}
	if clean {
		return nil
	}
	if err := s.advertiseCapabilities(pw, filterOffered, smudgeOffered, delayOffered); err != nil {
		return err
	}

	if err := s.commandLoop(pr, pw, &buf); err != nil && err != errTerminate {
		return err
	}
	return nil
}

// handshake reads the client hello block and replies with the server
// hello. clean is true only when input ended exactly at the boundary
// before any byte of the hello block was consumed — the client closed
// its side of the stream before saying anything (spec.md §7).
func (s *Server) handshake(pr *pktline.Reader, pw *pktline.Writer, buf *[]byte) (clean bool, err error) {
	hello, ok, rerr := pr.ReadText(buf)
	if rerr != nil {
		if rerr == io.EOF {
			return true, nil
		}
		return false, wrapFatal(rerr)
	}
	if !ok || hello != "git-filter-client" {
		return false, parseErrorf("bad prelude")
	}
	version, ok, rerr := pr.ReadText(buf)
	if rerr != nil {
		return false, wrapFatal(rerr)
	}
	if !ok || version != protocolVersion {
		return false, parseErrorf("unknown version")
	}
	_, ok, rerr = pr.ReadText(buf)
	if rerr != nil {
		return false, wrapFatal(rerr)
	}
	if ok {
		return false, parseErrorf("unexpected text after client hello")
	}

	if err := pw.WriteText("git-filter-server"); err != nil {
		return false, ioErrorf(err)
	}
	if err := pw.WriteText(protocolVersion); err != nil {
		return false, ioErrorf(err)
	}
	return false, flushOrIOErr(pw)
}

// readCapabilities reads the client's capability block. clean is true
// only when input ended exactly at the boundary before any byte of
// this block's first frame was consumed, mirroring readCommandBlock.
func (s *Server) readCapabilities(pr *pktline.Reader, buf *[]byte) (filterOffered, smudgeOffered, delayOffered, clean bool, err error) {
	first := true
	for {
		text, ok, rerr := pr.ReadText(buf)
		if rerr != nil {
			if first && rerr == io.EOF {
				return false, false, false, true, nil
			}
			return false, false, false, false, wrapFatal(rerr)
		}
		first = false
		if !ok {
			return filterOffered, smudgeOffered, delayOffered, false, nil
		}
		switch text {
		case "capability=clean":
			filterOffered = true
		case "capability=smudge":
			smudgeOffered = true
		case "capability=delay":
			delayOffered = true
		}
	}
}

func (s *Server) advertiseCapabilities(pw *pktline.Writer, filterOffered, smudgeOffered, delayOffered bool) error {
	if filterOffered && s.proc.SupportsProcessing(Clean) {
		if err := pw.WriteText("capability=clean"); err != nil {
			return ioErrorf(err)
		}
	}
	if smudgeOffered && s.proc.SupportsProcessing(Smudge) {
		if err := pw.WriteText("capability=smudge"); err != nil {
			return ioErrorf(err)
		}
	}
	if delayOffered {
		if err := pw.WriteText("capability=delay"); err != nil {
			return ioErrorf(err)
		}
	}
	return flushOrIOErr(pw)
}

func (s *Server) commandLoop(pr *pktline.Reader, pw *pktline.Writer, buf *[]byte) error {
	waitingForBlobs := false

	for {
		command, pathname, canDelay, clean, err := s.readCommandBlock(pr, buf)
		if err != nil {
			return err
		}
		if clean {
			return nil
		}

		switch command {
		case "clean", "smudge":
			t, _ := parseProcessingType(command)
			if pathname == "" {
				return parseErrorf("missing pathname")
			}
			if err := s.dispatchRequest(pr, pw, pathname, t, canDelay, waitingForBlobs); err != nil {
				if err == errTerminate {
					return errTerminate
				}
				return err
			}
		case "list_available_blobs":
			s.proc.SwitchToWait()
			s.log.log("switch_to_wait", nil)
			waitingForBlobs = true
		case "":
			return parseErrorf("missing command")
		default:
			return parseErrorf("unknown command: %s", command)
		}
	}
}

// readCommandBlock reads one command block. clean is true only when
// input ended exactly at the boundary before any byte of this block's
// first frame was consumed — the signal that the client is done and
// has closed its side of the stream (spec.md §7).
func (s *Server) readCommandBlock(pr *pktline.Reader, buf *[]byte) (command, pathname string, canDelay, clean bool, err error) {
	first := true
	for {
		text, ok, rerr := pr.ReadText(buf)
		if rerr != nil {
			if first && rerr == io.EOF {
				return "", "", false, true, nil
			}
			return "", "", false, false, wrapFatal(rerr)
		}
		first = false
		if !ok {
			return command, pathname, canDelay, false, nil
		}
		switch {
		case strings.HasPrefix(text, "command="):
			command = strings.TrimPrefix(text, "command=")
		case strings.HasPrefix(text, "pathname="):
			pathname = strings.TrimPrefix(text, "pathname=")
		case text == "can-delay=1":
			canDelay = true
		}
	}
}

func (s *Server) dispatchRequest(pr *pktline.Reader, pw *pktline.Writer, pathname string, t ProcessingType, canDelay, waitingForBlobs bool) error {
	reader := pktstream.NewReader(pr)

	var err error
	switch {
	case waitingForBlobs:
		err = s.deliverDelayed(pw, reader, pathname, t)
	case canDelay && s.proc.ShouldDelay(pathname, t):
		err = s.scheduleDelayed(pw, reader, pathname, t)
	default:
		err = s.processInline(pw, reader, pathname, t)
	}
	if err == errTerminate {
		return errTerminate
	}
	if err != nil {
		return err
	}

	if !reader.Finished() {
		return invariantf("payload stream for %q was not drained by the processor", pathname)
	}
	return nil
}

func (s *Server) deliverDelayed(pw *pktline.Writer, reader *pktstream.Reader, pathname string, t ProcessingType) error {
	s.log.log("resolving delayed", map[string]any{"pathname": pathname, "type": t.Name()})

	var sink [1]byte
	n, rerr := reader.Read(sink[:])
	if rerr != nil && rerr != io.EOF {
		return wrapFatal(rerr)
	}
	if n > 0 {
		return parseErrorf("delayed blob %q should have no data", pathname)
	}

	if err := pw.WriteText("status=success"); err != nil {
		return ioErrorf(err)
	}
	if err := flushOrIOErr(pw); err != nil {
		return err
	}

	writer := pktstream.NewWriter(pw)
	procErr := s.proc.GetScheduled(pathname, t, writer)
	if cerr := writer.Close(); cerr != nil {
		return ioErrorf(cerr)
	}
	if err := flushOrIOErr(pw); err != nil {
		return err
	}
	if procErr != nil {
		s.log.log("processor_error", map[string]any{"pathname": pathname, "error": procErr.Error()})
		if err := writeErrorStatus(pw); err != nil {
			return err
		}
		return errTerminate
	}
	return flushOrIOErr(pw)
}

func (s *Server) scheduleDelayed(pw *pktline.Writer, reader *pktstream.Reader, pathname string, t ProcessingType) error {
	s.log.log("scheduling", map[string]any{"pathname": pathname, "type": t.Name()})

	if procErr := s.proc.ScheduleProcess(pathname, t, reader); procErr != nil {
		s.log.log("processor_error", map[string]any{"pathname": pathname, "error": procErr.Error()})
		if err := writeErrorStatus(pw); err != nil {
			return err
		}
		return errTerminate
	}
	if err := pw.WriteText("status=delayed"); err != nil {
		return ioErrorf(err)
	}
	return flushOrIOErr(pw)
}

func (s *Server) processInline(pw *pktline.Writer, reader *pktstream.Reader, pathname string, t ProcessingType) error {
	s.log.log("processing", map[string]any{"pathname": pathname, "type": t.Name()})

	if err := pw.WriteText("status=success"); err != nil {
		return ioErrorf(err)
	}
	if err := flushOrIOErr(pw); err != nil {
		return err
	}

	writer := pktstream.NewWriter(pw)
	procErr := s.proc.Process(pathname, t, reader, writer)
	if cerr := writer.Close(); cerr != nil {
		return ioErrorf(cerr)
	}
	if err := flushOrIOErr(pw); err != nil {
		return err
	}
	if procErr != nil {
		s.log.log("processor_error", map[string]any{"pathname": pathname, "error": procErr.Error()})
		if err := writeErrorStatus(pw); err != nil {
			return err
		}
		return errTerminate
	}
	return flushOrIOErr(pw)
}

func writeErrorStatus(pw *pktline.Writer) error {
	if err := pw.WriteText("status=error"); err != nil {
		return ioErrorf(err)
	}
	return flushOrIOErr(pw)
}

func flushOrIOErr(pw *pktline.Writer) error {
	if err := pw.WriteFlush(); err != nil {
		return ioErrorf(err)
	}
	return nil
}

// wrapFatal turns a codec- or I/O-level error encountered outside a
// command-block boundary into the filter package's own error
// taxonomy. io.EOF here always means a frame was cut short (the
// clean-boundary case is handled by the caller before wrapFatal is
// ever reached) so it is reported as an I/O error, matching
// io.ErrUnexpectedEOF.
func wrapFatal(err error) error {
	if pktline.IsParseError(err) {
		return parseErrorf("%s", err.Error())
	}
	return ioErrorf(err)
}
