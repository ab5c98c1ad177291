/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package lineio provides a byte-exact buffered line reader: it yields
// successive logical lines from a stream with their original terminator
// preserved (LF, CRLF, or none), never merging or splitting physical
// lines, and tolerates invalid UTF-8 by never touching the bytes it
// returns.
package lineio

import (
	"bufio"
	"bytes"
	"errors"
	"io"

	"github.com/inhies/go-bytesize"
)

// Terminator identifies how a Line ended in its source.
type Terminator int

const (
	TermNone Terminator = iota
	TermLF
	TermCRLF
)

// DefaultMaxLine bounds a single logical line the same way filewatch
// bounds lines read off a tailed file: a corrupt or binary input should
// fail loudly rather than grow an unbounded buffer.
const DefaultMaxLine = 8 * bytesize.MB

// Line is one logical line plus enough bookkeeping to reconstruct the
// original bytes exactly: Bytes does not include the terminator.
type Line struct {
	Bytes      []byte
	Term       Terminator
	ByteOffset int64 // offset of Bytes[0] in the source stream
}

// TerminatorBytes returns the literal bytes the terminator represents.
func (t Terminator) TerminatorBytes() []byte {
	switch t {
	case TermLF:
		return []byte{'\n'}
	case TermCRLF:
		return []byte{'\r', '\n'}
	}
	return nil
}

var ErrLineTooLong = errors.New("lineio: line exceeds MaxLine")

// Reader reads successive Lines from an underlying byte stream.
type Reader struct {
	br      *bufio.Reader
	offset  int64
	maxLine int
	pending []byte // bytes already read that don't yet form a full line
	eof     bool
}

// Option configures a Reader at construction time.
type Option func(*Reader)

// WithMaxLine overrides DefaultMaxLine.
func WithMaxLine(n bytesize.ByteSize) Option {
	return func(r *Reader) { r.maxLine = int(n) }
}

// WithStartOffset seeds the byte-offset accounting for a reader that
// begins partway through a stream (e.g. resuming an append).
func WithStartOffset(off int64) Option {
	return func(r *Reader) { r.offset = off }
}

// NewReader wraps src in a buffered line reader.
func NewReader(src io.Reader, opts ...Option) *Reader {
	r := &Reader{
		br:      bufio.NewReaderSize(src, 64*1024),
		maxLine: int(DefaultMaxLine),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Offset reports the byte offset of the next unread byte.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next logical line. io.EOF is returned (with a zero
// Line) once the stream is exhausted and there is no more partial data
// to emit; a final unterminated segment is returned first, with
// Term == TermNone.
func (r *Reader) Next() (Line, error) {
	for {
		chunk, err := r.br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return Line{}, err
		}
		hitEOF := err == io.EOF

		if len(chunk) == 0 {
			if len(r.pending) != 0 {
				ln := r.emit(r.pending, TermNone)
				r.pending = nil
				return ln, nil
			}
			return Line{}, io.EOF
		}

		r.offset += int64(len(chunk))

		if chunk[len(chunk)-1] == '\n' {
			term := TermLF
			body := chunk[:len(chunk)-1]
			if len(body) != 0 && body[len(body)-1] == '\r' {
				term = TermCRLF
				body = body[:len(body)-1]
			}
			full := body
			if len(r.pending) != 0 {
				full = append(r.pending, body...)
				r.pending = nil
			}
			if len(full) > r.maxLine {
				return Line{}, ErrLineTooLong
			}
			return r.emit(full, term), nil
		}

		// no newline found: either EOF cut us off mid-line, or the
		// buffered reader handed back a partial read (it never does for
		// ReadBytes, which only returns short on a real error/EOF).
		r.pending = append(r.pending, chunk...)
		if len(r.pending) > r.maxLine {
			return Line{}, ErrLineTooLong
		}
		if hitEOF {
			if len(r.pending) == 0 {
				return Line{}, io.EOF
			}
			ln := r.emit(r.pending, TermNone)
			r.pending = nil
			return ln, nil
		}
	}
}

func (r *Reader) emit(body []byte, term Terminator) Line {
	start := r.offset - int64(len(body)) - int64(len(term.TerminatorBytes()))
	return Line{Bytes: body, Term: term, ByteOffset: start}
}

// ValidForMatching returns a copy of b with any invalid UTF-8 byte
// sequences replaced by the Unicode replacement character, for use only
// when feeding the line to something that requires text (e.g. a regex).
// The original bytes returned by Next are never modified.
func ValidForMatching(b []byte) []byte {
	return bytes.ToValidUTF8(b, []byte("�"))
}
