/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package index implements the single-stream indexing pipeline: it
// consumes a lineio.Reader, rewrites each line as TAG<sep>ROW<sep>ORIGINAL
// via rowwrite, tracks chunk boundaries via chunkmap, and supports
// resuming an append.
package index

import (
	"fmt"
	"io"

	"github.com/gravwell/lineindexer/chunkmap"
	"github.com/gravwell/lineindexer/internal/rowlog"
	"github.com/gravwell/lineindexer/lineio"
	"github.com/gravwell/lineindexer/pipeline"
	"github.com/gravwell/lineindexer/rowwrite"
)

// Config describes one indexing run.
type Config struct {
	Tag          string
	ChunkSize    int64
	Delimiter    byte
	Append       bool
	StdoutMirror bool
	MirrorOut    io.Writer
	MappingPath  string
	Logger       *rowlog.Logger
}

// Indexer runs a single source stream through the pipeline.
type Indexer struct {
	cfg Config
	pl  pipeline.Pipeline
	cm  *chunkmap.ChunkMap
}

// New constructs an Indexer, resuming from an existing mapping file when
// cfg.Append is set (a missing or empty mapping file is equivalent to a
// fresh start).
func New(cfg Config) (*Indexer, error) {
	var cm *chunkmap.ChunkMap
	var err error
	opts := chunkmap.Options{
		Path:         cfg.MappingPath,
		ChunkSize:    cfg.ChunkSize,
		StdoutMirror: cfg.StdoutMirror,
		MirrorOut:    cfg.MirrorOut,
	}
	if cfg.Append {
		cm, err = chunkmap.Resume(opts)
	} else {
		cm, err = chunkmap.New(opts)
	}
	if err != nil {
		return nil, err
	}
	return &Indexer{cfg: cfg, cm: cm}, nil
}

// Result summarizes a completed (or cancelled) run.
type Result struct {
	RowsWritten int64
	State       pipeline.State
}

// Run drains src, writing rewritten rows to dst, until src is exhausted
// or cancel is closed. Invalid-UTF-8 lines pass through byte-for-byte;
// rows are never discarded.
func (ix *Indexer) Run(src *lineio.Reader, dst io.Writer, cancel <-chan struct{}) (Result, error) {
	if err := ix.pl.Start(); err != nil {
		return Result{}, err
	}

	w := rowwrite.New(dst, ix.cfg.Delimiter, ix.cm.NextByte())
	row := ix.cm.NextRow()

	runErr := ix.loop(src, w, cancel, &row)

	if cerr := ix.cm.CloseOpenChunk(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	if ferr := w.Flush(); ferr != nil && runErr == nil {
		runErr = ferr
	}
	if merr := ix.cm.Flush(); merr != nil && runErr == nil {
		runErr = merr
	}

	if runErr != nil {
		ix.pl.FinishErrored()
		return Result{RowsWritten: row, State: ix.pl.State()}, runErr
	}

	if err := ix.pl.BeginFlush(); err != nil {
		return Result{RowsWritten: row, State: ix.pl.State()}, err
	}

	select {
	case <-cancel:
		ix.pl.FinishCancelled()
	default:
		ix.pl.FinishClosed()
	}
	return Result{RowsWritten: row, State: ix.pl.State()}, nil
}

func (ix *Indexer) loop(src *lineio.Reader, w *rowwrite.Writer, cancel <-chan struct{}, row *int64) error {
	for {
		select {
		case <-cancel:
			return nil
		default:
		}

		ln, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("index: read failed: %w", err)
		}

		firstByte := w.Offset()
		if err := ix.cm.BeginRow(*row, firstByte, nil, nil); err != nil {
			return err
		}
		_, lastByte, err := w.WriteRow(ix.cfg.Tag, *row, ln.Bytes, ln.Term.TerminatorBytes())
		if err != nil {
			return fmt.Errorf("index: write failed: %w", err)
		}
		if err := ix.cm.EndRow(*row, lastByte, nil, nil); err != nil {
			return err
		}
		if ix.cfg.Logger != nil {
			ix.cfg.Logger.Debug("indexed row %d (%d bytes)", *row, lastByte-firstByte)
		}
		*row++
	}
}

// Chunks exposes the accumulated chunk map, primarily for tests and for
// a driver that wants a final summary without re-reading the mapping
// file.
func (ix *Indexer) Chunks() []chunkmap.Chunk {
	return ix.cm.Chunks()
}
