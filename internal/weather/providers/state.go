package providers

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"slices"
	"time"

	"github.com/valyala/bytebufferpool"
)

// FetchState is the position of one fetch in its lifecycle.
type FetchState int

const (
	StateIdle FetchState = iota
	StateConnecting
	StateReceivingHeaders
	StateReceivingBody
	StateFinished
	StateFailed
)

func (s FetchState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReceivingHeaders:
		return "receiving_headers"
	case StateReceivingBody:
		return "receiving_body"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const readChunk = 512

// fetchContext carries the accumulator and state of a single Get call. Trace
// callbacks may run on transport goroutines, so they only log.
type fetchContext struct {
	buf           *bytebufferpool.ByteBuffer
	limit         int
	overflow      OverflowPolicy
	acceptChunked bool
	truncated     bool
	state         FetchState
	started       time.Time
	logger        *slog.Logger
}

func (fc *fetchContext) transition(next FetchState) {
	if fc.state == next {
		return
	}
	fc.logger.Debug("fetch state", "from", fc.state.String(), "to", next.String())
	fc.state = next
}

func (fc *fetchContext) fail(err error) {
	fc.transition(StateFailed)
	fc.logger.Error("http get failed", "error", err)
}

// reset clears the accumulator before a new attempt.
func (fc *fetchContext) reset() {
	fc.buf.Reset()
	fc.truncated = false
	fc.state = StateIdle
}

func (fc *fetchContext) trace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			fc.logger.Debug("http connected", "reused", info.Reused)
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err != nil {
				fc.logger.Debug("tls handshake failed", "error", err)
			}
		},
		WroteHeaders: func() {
			fc.logger.Debug("http header sent")
		},
	}
}

func (fc *fetchContext) headers(resp *http.Response) {
	fc.transition(StateReceivingHeaders)
	if !fc.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	for k, vs := range resp.Header {
		for _, v := range vs {
			fc.logger.Debug("http header", "key", k, "value", v)
		}
	}
}

// accumulate streams the body into the bounded buffer.
func (fc *fetchContext) accumulate(resp *http.Response) error {
	// HTTP/2 has no chunked encoding; an unknown length is reported as -1.
	unknownLength := resp.ContentLength < 0 || slices.Contains(resp.TransferEncoding, "chunked")
	if unknownLength && !fc.acceptChunked {
		return ErrChunkedResponse
	}
	fc.transition(StateReceivingBody)

	chunk := make([]byte, readChunk)
	for {
		n, err := resp.Body.Read(chunk)
		if n > 0 {
			fc.logger.Debug("http data", "len", n)
			if werr := fc.write(chunk[:n]); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: reading body: %v", ErrTransport, err)
		}
	}
}

func (fc *fetchContext) write(p []byte) error {
	room := fc.limit - fc.buf.Len()
	if len(p) > room {
		if fc.overflow != OverflowTruncate {
			return fmt.Errorf("%w: limit %d bytes", ErrResponseTooLarge, fc.limit)
		}
		if !fc.truncated {
			fc.logger.Warn("response truncated", "limit", fc.limit)
			fc.truncated = true
		}
		if room <= 0 {
			return nil
		}
		p = p[:room]
	}
	_, err := fc.buf.Write(p)
	return err
}
