// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"iter"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// STREAM
// =============================================================================

// Stream reads the newline-delimited JSON body of a streaming generation.
//
// A Stream is single-pass: fragments are delivered once, in order, and the
// stream cannot be rewound. It is not safe for concurrent use; cancel the
// request context to abort a read from another goroutine.
//
// Streams from GenerateStream carry an idle timeout: a read that waits
// longer than the client timeout for the next line cancels the request and
// fails with ErrTypeTimeout.
type Stream struct {
	body   io.ReadCloser
	reader *bufio.Reader

	idle     time.Duration
	cancel   context.CancelFunc
	timer    *time.Timer
	timedOut atomic.Bool

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	text      strings.Builder
	fragments int
	model     string
	finished  bool
	err       error

	closeOnce sync.Once
}

// NewStream wraps a response body. The stream owns the body. Reads are
// not time limited.
func NewStream(body io.ReadCloser) *Stream {
	return newStream(body, 0, nil)
}

// newStream wraps a response body whose request is cancelled by cancel.
// When idle is positive, a wait longer than idle for the next line
// cancels the request.
func newStream(body io.ReadCloser, idle time.Duration, cancel context.CancelFunc) *Stream {
	return &Stream{
		body:   body,
		reader: bufio.NewReader(body),
		idle:   idle,
		cancel: cancel,
	}
}

// Next returns the next fragment. It returns io.EOF after the object whose
// done flag is set, or when the body ends. Blank and malformed lines are
// skipped. A read failure is returned once as a *ClientError; later calls
// return io.EOF.
func (s *Stream) Next() (string, error) {
	if s.finished {
		return "", io.EOF
	}

	for {
		s.arm()
		line, readErr := s.reader.ReadBytes('\n')
		s.disarm()

		// Try to process the last line even on EOF
		if fragment, ok := s.decodeLine(line); ok {
			return fragment, nil
		}
		if s.finished {
			return "", io.EOF
		}

		if readErr != nil {
			s.finish()
			if s.timedOut.Load() {
				s.err = &ClientError{Type: ErrTypeTimeout, Message: "stream stalled", Cause: readErr}
				return "", s.err
			}
			if readErr == io.EOF {
				return "", io.EOF
			}
			s.err = &ClientError{Type: ErrTypeConnection, Message: "stream interrupted", Cause: readErr}
			return "", s.err
		}
	}
}

// arm starts the idle timer for one read.
func (s *Stream) arm() {
	if s.idle <= 0 || s.cancel == nil {
		return
	}
	if s.timer == nil {
		s.timer = time.AfterFunc(s.idle, s.expire)
		return
	}
	s.timer.Reset(s.idle)
}

func (s *Stream) disarm() {
	if s.timer != nil {
		s.timer.Stop()
	}
}

// expire runs on the timer goroutine.
func (s *Stream) expire() {
	s.timedOut.Store(true)
	s.cancel()
}

// decodeLine parses one line. It reports a fragment when the line carries a
// response field; a done flag finishes the stream either way.
func (s *Stream) decodeLine(line []byte) (string, bool) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return "", false
	}

	var chunk GenerateResponse
	if err := json.Unmarshal(line, &chunk); err != nil {
		// Skip malformed lines
		return "", false
	}

	if chunk.Model != "" {
		s.model = chunk.Model
	}
	if chunk.Done {
		s.finish()
	}
	if chunk.Response == nil {
		return "", false
	}

	s.text.WriteString(*chunk.Response)
	s.fragments++
	return *chunk.Response, true
}

// finish marks the stream exhausted and releases the connection.
func (s *Stream) finish() {
	s.finished = true
	s.Close()
}

// Close releases the underlying connection. It is safe to call more than
// once; after Close, Next returns io.EOF.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.finished = true
		s.disarm()
		err = s.body.Close()
		if s.cancel != nil {
			s.cancel()
		}
	})
	return err
}

// All adapts the stream to a range-over-func sequence. Iteration ends at
// the done object, at end of body, or on a read failure (see Err). Breaking
// out of the loop closes the stream.
func (s *Stream) All() iter.Seq[string] {
	return func(yield func(string) bool) {
		for {
			fragment, err := s.Next()
			if err != nil {
				return
			}
			if !yield(fragment) {
				s.Close()
				return
			}
		}
	}
}

// Err returns the read failure that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Text returns the concatenation of all fragments delivered so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Fragments returns the number of fragments delivered so far.
func (s *Stream) Fragments() int {
	return s.fragments
}

// Model returns the model name reported by the server, if any.
func (s *Stream) Model() string {
	return s.model
}
