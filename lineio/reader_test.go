/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package lineio

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/inhies/go-bytesize"
)

func readAll(t *testing.T, src string) []Line {
	t.Helper()
	r := NewReader(strings.NewReader(src))
	var lines []Line
	for {
		ln, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		lines = append(lines, ln)
	}
	return lines
}

func TestEmptyInputYieldsImmediateEOF(t *testing.T) {
	r := NewReader(strings.NewReader(""))
	_, err := r.Next()
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestLoneCRAtEOF(t *testing.T) {
	lines := readAll(t, "abc\r")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !bytes.Equal(lines[0].Bytes, []byte("abc\r")) {
		t.Errorf("lone trailing CR should be part of line bytes, got %q", lines[0].Bytes)
	}
	if lines[0].Term != TermNone {
		t.Errorf("expected TermNone, got %v", lines[0].Term)
	}
}

func TestLeadingCRLFNoSpuriousEmptyLine(t *testing.T) {
	lines := readAll(t, "\r\nfirst real line\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines (blank + real), got %d", len(lines))
	}
	if len(lines[0].Bytes) != 0 || lines[0].Term != TermCRLF {
		t.Errorf("first line should be an empty CRLF-terminated line, got %+v", lines[0])
	}
	if string(lines[1].Bytes) != "first real line" {
		t.Errorf("second line mismatch: %q", lines[1].Bytes)
	}
}

func TestCRLFPreservedAsOneTerminator(t *testing.T) {
	lines := readAll(t, "one\r\ntwo\r\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	for i, ln := range lines {
		if ln.Term != TermCRLF {
			t.Errorf("line %d: expected TermCRLF, got %v", i, ln.Term)
		}
	}
}

func TestEmbeddedCRIsNotATerminator(t *testing.T) {
	lines := readAll(t, "a\rb\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if !bytes.Equal(lines[0].Bytes, []byte("a\rb")) {
		t.Errorf("embedded CR should stay in line content, got %q", lines[0].Bytes)
	}
}

func TestTrailingUnterminatedSegment(t *testing.T) {
	lines := readAll(t, "first\nsecond-no-newline")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[1].Term != TermNone {
		t.Errorf("expected TermNone on trailing segment, got %v", lines[1].Term)
	}
	if string(lines[1].Bytes) != "second-no-newline" {
		t.Errorf("unexpected trailing bytes: %q", lines[1].Bytes)
	}
}

func TestRoundTripInvariant(t *testing.T) {
	src := "alpha\nbeta\r\ngamma\r\ndelta-no-term"
	r := NewReader(strings.NewReader(src))
	var rebuilt bytes.Buffer
	for {
		ln, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rebuilt.Write(ln.Bytes)
		rebuilt.Write(ln.Term.TerminatorBytes())
	}
	if rebuilt.String() != src {
		t.Fatalf("round trip mismatch:\n got: %q\nwant: %q", rebuilt.String(), src)
	}
}

func TestInvalidUTF8PassesThroughByteForByte(t *testing.T) {
	raw := []byte{'a', 'b', 0xff, 0xfe, 'c', '\n'}
	r := NewReader(bytes.NewReader(raw))
	ln, err := r.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(ln.Bytes, raw[:len(raw)-1]) {
		t.Errorf("invalid UTF-8 bytes were altered: got %v want %v", ln.Bytes, raw[:len(raw)-1])
	}
	valid := ValidForMatching(ln.Bytes)
	if bytes.Equal(valid, ln.Bytes) {
		t.Error("ValidForMatching should have substituted the invalid bytes")
	}
}

func TestLineTooLong(t *testing.T) {
	r := NewReader(strings.NewReader(strings.Repeat("x", 100)+"\n"), WithMaxLine(10*bytesize.B))
	_, err := r.Next()
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
}

func TestByteOffsetsAdvance(t *testing.T) {
	lines := readAll(t, "ab\ncd\n")
	if lines[0].ByteOffset != 0 {
		t.Errorf("first line offset = %d, want 0", lines[0].ByteOffset)
	}
	if lines[1].ByteOffset != 3 {
		t.Errorf("second line offset = %d, want 3", lines[1].ByteOffset)
	}
}
