// Copyright 2025 The Frontend SSR Web Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream implements the streaming response core from spec.md
// §4.7: a pipe from a source byte stream through a selected
// content-encoder to the response socket, governed by three independent
// timers (write, read, content), with errors normalized into a small,
// benign-timeout alphabet so request logging can suppress them.
//
// Grounded on middleware/compression's encoder-selection shape
// (options.go's WithGzipLevel/WithBrotliLevel/WithBrotliDisabled
// functional options, copied in spirit): that middleware compresses one
// buffered response, never a lazily-produced stream with independent
// timers, so the pipe and watchdog machinery here is new, built directly
// from the spec's own timer table.
package stream

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
)

// Serve reports client disconnects, content timeouts and failed writes or
// body reads as one of this alphabet (the underlying error wrapped by
// ErrWriteTimeout or ErrReadTimeout), so a logging middleware can suppress
// known-benign timeouts without string matching. ErrUnsupportedEncoding,
// an error read from source and an encoder's error on close are returned
// as they are.
var (
	ErrWriteTimeout   = errors.New("stream: write timeout")
	ErrReadTimeout    = errors.New("stream: read timeout")
	ErrContentTimeout = errors.New("stream: content timeout")
	ErrClientClosed   = errors.New("stream: client closed connection")
)

// ErrUnsupportedEncoding is returned by Serve when encoding names a coding
// the pipe has no encoder for.
var ErrUnsupportedEncoding = errors.New("stream: unsupported encoding")

const (
	defaultWriteTimeout   = 5 * time.Second
	defaultReadTimeout    = 5 * time.Second
	defaultContentTimeout = 30 * time.Second
)

// Option configures a Pipe.
type Option func(*Pipe)

// WithWriteTimeout overrides the write-flush watchdog. Default 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(p *Pipe) {
		if d > 0 {
			p.writeTimeout = d
		}
	}
}

// WithReadTimeout overrides the request-body-read watchdog. Default 5s.
func WithReadTimeout(d time.Duration) Option {
	return func(p *Pipe) {
		if d > 0 {
			p.readTimeout = d
		}
	}
}

// WithContentTimeout overrides the source-chunk watchdog. Default 30s;
// the spec calls this "longer configurable" since rendering a chunk may
// take meaningfully longer than a socket write.
func WithContentTimeout(d time.Duration) Option {
	return func(p *Pipe) {
		if d > 0 {
			p.contentTimeout = d
		}
	}
}

// Pipe streams a source through a selected content-encoder to an
// http.ResponseWriter.
type Pipe struct {
	writeTimeout   time.Duration
	readTimeout    time.Duration
	contentTimeout time.Duration
}

// New creates a Pipe with the given options applied over the defaults.
func New(opts ...Option) *Pipe {
	p := &Pipe{
		writeTimeout:   defaultWriteTimeout,
		readTimeout:    defaultReadTimeout,
		contentTimeout: defaultContentTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type flusher interface {
	io.Writer
	Flush() error
}

// newEncoder returns the encoder for encoding wrapping w, and a close
// function that must run exactly once when the pipe finishes, successfully
// or not, to flush any trailer bytes the encoder buffers.
func newEncoder(w io.Writer, encoding string) (flusher, func() error, error) {
	switch encoding {
	case "gzip":
		gz := gzip.NewWriter(w)
		return gz, gz.Close, nil
	case "deflate":
		fl, err := flate.NewWriter(w, flate.DefaultCompression)
		if err != nil {
			return nil, nil, fmt.Errorf("stream: new deflate writer: %w", err)
		}
		return fl, fl.Close, nil
	case "br":
		bw := brotli.NewWriter(w)
		return bw, bw.Close, nil
	case "identity", "":
		return identityWriter{w}, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, encoding)
	}
}

// identityWriter adapts a plain io.Writer to flusher with a no-op Flush,
// used for the identity encoding where nothing buffers.
type identityWriter struct{ io.Writer }

func (identityWriter) Flush() error { return nil }

// Serve copies source through the encoder selected by encoding into w,
// flushing after every chunk so the client observes data as it is
// produced, not only at the end. If body is non-nil it is drained
// concurrently under the read timeout (the handler is assumed to consume
// it as part of producing source; Serve does not interpret its bytes).
//
// Serve returns promptly when ctx is canceled (the client closed the
// connection), when no source chunk arrives within the content timeout,
// or when a write or body-read stalls past its own timeout.
func (p *Pipe) Serve(ctx context.Context, w http.ResponseWriter, body io.Reader, source io.Reader, encoding string) error {
	encoder, closeEncoder, err := newEncoder(w, encoding)
	if err != nil {
		return err
	}

	pipeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	readErrCh := make(chan error, 1)
	if body != nil {
		go p.drainBody(pipeCtx, body, readErrCh)
	}

	chunks := make(chan []byte)
	sourceErrCh := make(chan error, 1)
	go relaySource(pipeCtx, source, chunks, sourceErrCh)

	rc := http.NewResponseController(w)
	contentTimer := time.NewTimer(p.contentTimeout)
	defer contentTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = closeEncoder()
			return ErrClientClosed

		case err := <-readErrCh:
			_ = closeEncoder()
			return fmt.Errorf("%w: %v", ErrReadTimeout, err)

		case <-contentTimer.C:
			_ = closeEncoder()
			return ErrContentTimeout

		case b, ok := <-chunks:
			if !ok {
				if err := <-sourceErrCh; err != nil {
					_ = closeEncoder()
					return err
				}
				return closeEncoder()
			}
			if !contentTimer.Stop() {
				<-contentTimer.C
			}
			contentTimer.Reset(p.contentTimeout)

			_ = rc.SetWriteDeadline(time.Now().Add(p.writeTimeout))
			if _, werr := encoder.Write(b); werr != nil {
				_ = closeEncoder()
				return fmt.Errorf("%w: %v", ErrWriteTimeout, werr)
			}
			if ferr := encoder.Flush(); ferr != nil {
				_ = closeEncoder()
				return fmt.Errorf("%w: %v", ErrWriteTimeout, ferr)
			}
		}
	}
}

// relaySource reads source in a background goroutine so Serve's select
// loop can race each chunk against the content timer without the read
// itself (which may block indefinitely) starving the watchdog.
func relaySource(ctx context.Context, source io.Reader, chunks chan<- []byte, errCh chan<- error) {
	defer close(chunks)
	buf := make([]byte, 32*1024)
	for {
		n, err := source.Read(buf)
		if n > 0 {
			b := make([]byte, n)
			copy(b, buf[:n])
			select {
			case chunks <- b:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				errCh <- err
			}
			return
		}
	}
}

// drainBody reads body to completion, reporting context.DeadlineExceeded
// if no byte arrives within the read timeout, or the first read error
// (other than EOF). The read itself runs in a helper goroutine so a body
// that blocks forever cannot starve the watchdog timer.
func (p *Pipe) drainBody(ctx context.Context, body io.Reader, errCh chan<- error) {
	type readEvent struct {
		n   int
		err error
	}
	events := make(chan readEvent, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			select {
			case events <- readEvent{n: n, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(p.readTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.err != nil {
				if ev.err != io.EOF {
					errCh <- ev.err
				}
				return
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(p.readTimeout)
		case <-timer.C:
			errCh <- context.DeadlineExceeded
			return
		}
	}
}
