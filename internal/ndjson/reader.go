// Package ndjson reads newline-delimited JSON from a stream whose chunk
// boundaries fall anywhere, including in the middle of a message.
package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxLineSize bounds a single message.
const DefaultMaxLineSize = 4 * 1024 * 1024

// ErrLineTooLong is returned when a line exceeds the configured maximum.
var ErrLineTooLong = errors.New("ndjson: line exceeds maximum size")

// SyntaxError reports a line that is not valid JSON.
type SyntaxError struct {
	Line int
	Err  error
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("ndjson: line %d: %v", e.Line, e.Err)
}

func (e *SyntaxError) Unwrap() error { return e.Err }

// Reader yields one JSON message per non-blank line.
type Reader struct {
	r       *bufio.Reader
	maxLine int
	line    int
	buf     []byte
}

// NewReader wraps r. maxLine <= 0 selects DefaultMaxLineSize.
func NewReader(r io.Reader, maxLine int) *Reader {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineSize
	}
	return &Reader{r: bufio.NewReaderSize(r, 64*1024), maxLine: maxLine}
}

// Next returns the next message. It returns io.EOF once the stream is
// exhausted; a final line without a trailing newline is still returned.
// The returned slice is only valid until the next call.
func (d *Reader) Next() (json.RawMessage, error) {
	for {
		line, err := d.readLine()
		if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
			return nil, err
		}
		d.line++

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		if !json.Valid(line) {
			return nil, &SyntaxError{Line: d.line, Err: errors.New("invalid JSON")}
		}
		return json.RawMessage(line), nil
	}
}

// readLine accumulates fragments up to the next '\n'. On EOF it returns
// whatever was buffered together with io.EOF.
func (d *Reader) readLine() ([]byte, error) {
	d.buf = d.buf[:0]
	for {
		frag, err := d.r.ReadSlice('\n')
		if len(d.buf)+len(frag) > d.maxLine+1 {
			return nil, ErrLineTooLong
		}
		d.buf = append(d.buf, frag...)
		switch {
		case err == nil:
			return d.buf, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return d.buf, err
		}
	}
}

// Each calls fn for every message until the stream ends or fn returns an
// error. io.EOF is not reported.
func (d *Reader) Each(fn func(msg json.RawMessage) error) error {
	for {
		msg, err := d.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
}
