/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rowwrite is the single piece of code Indexer and Merger both
// call to emit a row, so their output framing can never drift apart.
package rowwrite

import (
	"bufio"
	"io"
	"strconv"
)

// DefaultDelimiter separates TAG, ROW and the original line bytes.
const DefaultDelimiter = '\t'

// Writer emits TAG<sep>ROW<sep>ORIGINAL<terminator> rows and tracks the
// output byte offset so callers can record each row's byte range.
type Writer struct {
	bw        *bufio.Writer
	delim     byte
	byteCount int64
}

// New wraps dst. startOffset seeds the byte counter for append mode,
// where dst is already positioned past existing output.
func New(dst io.Writer, delim byte, startOffset int64) *Writer {
	if delim == 0 {
		delim = DefaultDelimiter
	}
	return &Writer{
		bw:        bufio.NewWriterSize(dst, 64*1024),
		delim:     delim,
		byteCount: startOffset,
	}
}

// Offset reports the current output byte offset: the position the next
// WriteRow call will begin at.
func (w *Writer) Offset() int64 { return w.byteCount }

// WriteRow emits tag, row, original and term (LF if term is empty,
// matching the "append LF when the source had no terminator" rule), and
// returns the byte range the row occupied in the output.
func (w *Writer) WriteRow(tag string, row int64, original, term []byte) (firstByte, lastByte int64, err error) {
	firstByte = w.byteCount

	if _, err = w.bw.WriteString(tag); err != nil {
		return
	}
	if err = w.bw.WriteByte(w.delim); err != nil {
		return
	}
	if _, err = w.bw.WriteString(strconv.FormatInt(row, 10)); err != nil {
		return
	}
	if err = w.bw.WriteByte(w.delim); err != nil {
		return
	}
	if _, err = w.bw.Write(original); err != nil {
		return
	}
	if len(term) == 0 {
		term = []byte{'\n'}
	}
	if _, err = w.bw.Write(term); err != nil {
		return
	}

	n := int64(len(tag)) + 1 + int64(len(strconv.FormatInt(row, 10))) + 1 + int64(len(original)) + int64(len(term))
	w.byteCount += n
	lastByte = w.byteCount
	return
}

// Flush flushes any buffered bytes to the underlying writer.
func (w *Writer) Flush() error {
	return w.bw.Flush()
}
