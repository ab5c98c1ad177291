/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package chunkmap accumulates fixed-line-count chunks of an output file
// and persists them as a JSON array, so a downstream viewer can seek
// directly to a row range without rescanning the output.
package chunkmap

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/google/renameio"
)

// Chunk is a contiguous, closed run of exactly ChunkSize rows (the last
// chunk of a run may be shorter, only at end-of-input or explicit flush).
// Field names and shapes match the on-disk mapping-file contract: "r" and
// "b" are always present as [first, last] pairs; "t" and "ts" appear only
// when a tag index / timestamp was recorded for the chunk (merged
// output).
type Chunk struct {
	Rows  [2]int64  `json:"r"`
	Bytes [2]int64  `json:"b"`
	Tags  *[2]int64 `json:"t,omitempty"`
	TS    *[2]int64 `json:"ts,omitempty"`
}

func (c Chunk) FirstRow() int64  { return c.Rows[0] }
func (c Chunk) LastRow() int64   { return c.Rows[1] }
func (c Chunk) FirstByte() int64 { return c.Bytes[0] }
func (c Chunk) LastByte() int64  { return c.Bytes[1] }

var (
	ErrNoOpenChunk = errors.New("chunkmap: no chunk currently open")
	ErrBadRowOrder = errors.New("chunkmap: row is not the next expected row")
)

// ChunkMap is the in-memory accumulator plus its JSON-file persistence.
// Not safe for concurrent use; the owning pipeline is its sole caller.
type ChunkMap struct {
	path         string
	chunkSize    int64
	stdoutMirror bool
	mirrorOut    io.Writer

	chunks []Chunk
	open   bool

	curFirstRow  int64
	curFirstByte int64
	curFirstTS   *int64
	curFirstTag  *int64
	curLastRow   int64
	curLastByte  int64
	curLastTS    *int64
	curLastTag   *int64

	nextRow  int64
	nextByte int64
}

// Options configures a ChunkMap at construction.
type Options struct {
	Path         string // the mapping file; by convention "<output>.mapping.json"
	ChunkSize    int64
	StdoutMirror bool
	MirrorOut    io.Writer // where mirrored per-chunk JSON lines go; defaults to os.Stdout
}

// New constructs an empty ChunkMap starting at row 0, byte 0.
func New(opt Options) (*ChunkMap, error) {
	if opt.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunkmap: chunk size must be positive, got %d", opt.ChunkSize)
	}
	out := opt.MirrorOut
	if out == nil {
		out = os.Stdout
	}
	return &ChunkMap{
		path:         opt.Path,
		chunkSize:    opt.ChunkSize,
		stdoutMirror: opt.StdoutMirror,
		mirrorOut:    out,
	}, nil
}

// NextRow reports the row number the next BeginRow call is expected to
// use; after Resume this reflects the append-mode seed.
func (cm *ChunkMap) NextRow() int64 { return cm.nextRow }

// NextByte reports the output byte offset the next row is expected to
// start at.
func (cm *ChunkMap) NextByte() int64 { return cm.nextByte }

// BeginRow opens bookkeeping for a row about to be written. ts and tagIdx
// are nil when the row carries no timestamp / single-stream indexing
// doesn't track a tag range.
func (cm *ChunkMap) BeginRow(row, byteOffset int64, ts, tagIdx *int64) error {
	if row != cm.nextRow {
		return ErrBadRowOrder
	}
	if !cm.open {
		cm.curFirstRow = row
		cm.curFirstByte = byteOffset
		cm.curFirstTS = ts
		cm.curFirstTag = tagIdx
		cm.open = true
	}
	return nil
}

// EndRow closes bookkeeping for the row opened by the matching BeginRow
// and closes the current chunk once ChunkSize rows have accumulated.
func (cm *ChunkMap) EndRow(row, byteEnd int64, ts, tagIdx *int64) error {
	if !cm.open {
		return ErrNoOpenChunk
	}
	cm.curLastRow = row
	cm.curLastByte = byteEnd
	cm.curLastTS = ts
	cm.curLastTag = tagIdx
	cm.nextRow = row + 1
	cm.nextByte = byteEnd

	if cm.nextRow-cm.curFirstRow >= cm.chunkSize {
		if err := cm.closeChunk(); err != nil {
			return err
		}
	}
	return nil
}

// CloseOpenChunk closes whatever chunk is currently accumulating, even
// if it is shorter than ChunkSize. Used at end-of-input.
func (cm *ChunkMap) CloseOpenChunk() error {
	if !cm.open {
		return nil
	}
	return cm.closeChunk()
}

func (cm *ChunkMap) closeChunk() error {
	c := Chunk{
		Rows:  [2]int64{cm.curFirstRow, cm.curLastRow},
		Bytes: [2]int64{cm.curFirstByte, cm.curLastByte},
	}
	if cm.curFirstTS != nil && cm.curLastTS != nil {
		c.TS = &[2]int64{*cm.curFirstTS, *cm.curLastTS}
	}
	if cm.curFirstTag != nil && cm.curLastTag != nil {
		c.Tags = &[2]int64{*cm.curFirstTag, *cm.curLastTag}
	}
	cm.chunks = append(cm.chunks, c)
	cm.open = false

	if cm.stdoutMirror {
		b, err := json.Marshal(c)
		if err != nil {
			return err
		}
		if _, err := cm.mirrorOut.Write(append(b, '\n')); err != nil {
			return err
		}
	}
	cm.curFirstTS, cm.curLastTS, cm.curFirstTag, cm.curLastTag = nil, nil, nil, nil
	return nil
}

// ExtendLast attaches additional output bytes to whichever row was most
// recently completed, without creating a new row: the carry mechanism
// merge uses to fold an untimestamped line onto the previous timestamped
// row's byte range (spec.md §4.6). It extends the currently open chunk
// if there is one, or the last closed chunk otherwise.
func (cm *ChunkMap) ExtendLast(byteEnd int64, ts, tagIdx *int64) error {
	if cm.open {
		cm.curLastByte = byteEnd
		if ts != nil {
			cm.curLastTS = ts
		}
		if tagIdx != nil {
			cm.curLastTag = tagIdx
		}
		cm.nextByte = byteEnd
		return nil
	}
	if len(cm.chunks) == 0 {
		return ErrNoOpenChunk
	}
	last := &cm.chunks[len(cm.chunks)-1]
	last.Bytes[1] = byteEnd
	if ts != nil {
		if last.TS == nil {
			last.TS = &[2]int64{*ts, *ts}
		} else {
			last.TS[1] = *ts
		}
	}
	if tagIdx != nil {
		if last.Tags == nil {
			last.Tags = &[2]int64{*tagIdx, *tagIdx}
		} else {
			last.Tags[1] = *tagIdx
		}
	}
	cm.nextByte = byteEnd
	return nil
}

// Chunks returns the closed chunks accumulated so far, in row order.
func (cm *ChunkMap) Chunks() []Chunk {
	out := make([]Chunk, len(cm.chunks))
	copy(out, cm.chunks)
	return out
}

// Flush serializes the entire accumulated chunk vector as a JSON array to
// Path, via a temp-file-plus-rename so a crash mid-write can never leave
// a half-written mapping file: the persisted map always agrees with the
// bytes actually present in the output file, because callers flush after
// every closed chunk and again at end-of-run.
func (cm *ChunkMap) Flush() error {
	b, err := json.Marshal(cm.chunks)
	if err != nil {
		return err
	}
	return renameio.WriteFile(cm.path, b, 0644)
}

// Resume loads an existing mapping file (if any) and seeds the row/byte
// counters from its tail, per the append-mode contract: an empty or
// missing mapping file is equivalent to a zero starting point, even if
// append was requested. It holds an advisory lock on the mapping file's
// companion ".lock" file for the duration of the read.
func Resume(opt Options) (*ChunkMap, error) {
	cm, err := New(opt)
	if err != nil {
		return nil, err
	}

	lk := flock.New(opt.Path + ".lock")
	if err := lk.Lock(); err != nil {
		return nil, fmt.Errorf("chunkmap: failed to lock mapping file: %w", err)
	}
	defer lk.Unlock()

	b, err := os.ReadFile(opt.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return cm, nil
		}
		return nil, err
	}
	if len(b) == 0 {
		return cm, nil
	}

	var chunks []Chunk
	if err := json.Unmarshal(b, &chunks); err != nil {
		return nil, fmt.Errorf("chunkmap: malformed mapping file %s: %w", opt.Path, err)
	}
	if len(chunks) == 0 {
		return cm, nil
	}

	cm.chunks = chunks
	last := chunks[len(chunks)-1]
	cm.nextRow = last.LastRow() + 1
	cm.nextByte = last.LastByte()

	// A trailing chunk shorter than ChunkSize was only closed because the
	// prior run ended mid-chunk, not because it was full. Pop it and
	// reopen it so appended rows keep filling it instead of starting a
	// new chunk early, which would otherwise leave chunk boundaries
	// permanently offset from a one-shot run over the same bytes.
	if last.LastRow()-last.FirstRow()+1 < cm.chunkSize {
		cm.chunks = chunks[:len(chunks)-1]
		cm.open = true
		cm.curFirstRow = last.FirstRow()
		cm.curFirstByte = last.FirstByte()
		cm.curLastRow = last.LastRow()
		cm.curLastByte = last.LastByte()
		if last.TS != nil {
			first, end := last.TS[0], last.TS[1]
			cm.curFirstTS, cm.curLastTS = &first, &end
		}
		if last.Tags != nil {
			first, end := last.Tags[0], last.Tags[1]
			cm.curFirstTag, cm.curLastTag = &first, &end
		}
	}
	return cm, nil
}
