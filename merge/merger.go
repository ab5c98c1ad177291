/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package merge implements the multi-stream pipeline: it opens k input
// streams in parallel, extracts a timestamp from each with a compiled
// tsformat.FormatSpec, orders them with a min-heap keyed by
// (timestamp_ms, stream_priority_index), and writes the winner through
// the same rowwrite framing the single-stream Indexer uses. Untimestamped
// lines carry onto the previously emitted row rather than breaking
// ordering.
package merge

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/inhies/go-bytesize"
	"golang.org/x/sync/errgroup"

	"github.com/gravwell/lineindexer/chunkmap"
	"github.com/gravwell/lineindexer/internal/rowlog"
	"github.com/gravwell/lineindexer/lineio"
	"github.com/gravwell/lineindexer/pipeline"
	"github.com/gravwell/lineindexer/rowwrite"
	"github.com/gravwell/lineindexer/tsformat"
)

var (
	ErrNoStreams    = errors.New("merge: at least one stream is required")
	ErrDuplicateTag = errors.New("merge: stream tags must be unique within a merge")
)

// Stream describes one input to a merge operation.
type Stream struct {
	Tag    string
	Source io.Reader
	Spec   *tsformat.FormatSpec
}

// Config describes one merge run.
type Config struct {
	Streams      []Stream
	ChunkSize    int64
	Delimiter    byte
	Append       bool
	StdoutMirror bool
	MirrorOut    io.Writer
	MappingPath  string
	MaxLine      bytesize.ByteSize // 0: lineio.DefaultMaxLine
	Logger       *rowlog.Logger
}

// Merger runs a k-way timestamp-ordered merge of Config.Streams.
type Merger struct {
	cfg Config
	pl  pipeline.Pipeline
	cm  *chunkmap.ChunkMap
}

// New constructs a Merger, resuming from an existing mapping file when
// cfg.Append is set, and rejecting duplicate tags up front (spec.md §3:
// "unique within a merge operation").
func New(cfg Config) (*Merger, error) {
	if len(cfg.Streams) == 0 {
		return nil, ErrNoStreams
	}
	seen := make(map[string]struct{}, len(cfg.Streams))
	for _, s := range cfg.Streams {
		if _, dup := seen[s.Tag]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTag, s.Tag)
		}
		seen[s.Tag] = struct{}{}
	}

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
	return &Merger{cfg: cfg, cm: cm}, nil
}

// entry is one input's merge-time state. It is heap-resident exactly
// when headLine is non-nil.
type entry struct {
	tag       string
	priority  int
	reader    *lineio.Reader
	spec      *tsformat.FormatSpec
	headLine  *lineio.Line
	headTS    int64
	headHasTS bool
}

// advance pulls lines from the entry's reader until one yields a
// timestamp, carrying every untimestamped line it crosses along the way.
// A stream whose remaining content has no timestamped line at all is
// fully carried and marked not-ok. ctx is checked between reads so a
// stream stuck scanning a very large untimestamped run can still be
// cancelled; pass context.Background() when no cancellation applies.
func (e *entry) advance(ctx context.Context) (carried []lineio.Line, ok bool, err error) {
	e.headLine, e.headHasTS = nil, false
	for {
		select {
		case <-ctx.Done():
			return carried, false, ctx.Err()
		default:
		}
		ln, rerr := e.reader.Next()
		if rerr == io.EOF {
			return carried, false, nil
		}
		if rerr != nil {
			return carried, false, rerr
		}
		ts, matched, terr := e.spec.Extract(ln.Bytes)
		if terr != nil {
			return carried, false, terr
		}
		if matched {
			line := ln
			e.headLine = &line
			e.headTS = ts
			e.headHasTS = true
			return carried, true, nil
		}
		carried = append(carried, ln)
	}
}

// heapItem is the heap-resident wrapper around an entry.
type heapItem struct{ e *entry }

type minHeap []*heapItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	a, b := h[i].e, h[j].e
	if a.headTS != b.headTS {
		return a.headTS < b.headTS
	}
	return a.priority < b.priority
}
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(*heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Result summarizes a completed (or cancelled) run.
type Result struct {
	RowsWritten int64
	State       pipeline.State
}

// Run drains every configured stream, interleaving lines by timestamp
// into dst, until all streams are exhausted or cancel is closed.
func (mg *Merger) Run(ctx context.Context, dst io.Writer, cancel <-chan struct{}) (Result, error) {
	if err := mg.pl.Start(); err != nil {
		return Result{}, err
	}

	var readerOpts []lineio.Option
	if mg.cfg.MaxLine != 0 {
		readerOpts = append(readerOpts, lineio.WithMaxLine(mg.cfg.MaxLine))
	}
	entries := make([]*entry, len(mg.cfg.Streams))
	for i, s := range mg.cfg.Streams {
		entries[i] = &entry{
			tag:      s.Tag,
			priority: i,
			reader:   lineio.NewReader(s.Source, readerOpts...),
			spec:     s.Spec,
		}
	}

	// Initialize every stream's head in parallel (spec.md §4.6): pull
	// lines until one yields a timestamp. gctx is cancelled the moment any
	// goroutine returns an error, and carries the caller's ctx cancellation
	// too, so a stream stuck scanning an unbounded untimestamped run is
	// still interruptible.
	g, gctx := errgroup.WithContext(ctx)
	initCarry := make([][]lineio.Line, len(entries))
	for i, e := range entries {
		i, e := i, e
		g.Go(func() error {
			carried, _, err := e.advance(gctx)
			initCarry[i] = carried
			if err != nil && mg.cfg.Logger != nil {
				mg.cfg.Logger.Warn("stream %q: %v", e.tag, err)
			}
			return nil // per-stream failures retire the stream, not the whole merge
		})
	}
	_ = g.Wait()

	w := rowwrite.New(dst, mg.cfg.Delimiter, mg.cm.NextByte())
	row := mg.cm.NextRow()

	h := &minHeap{}
	heap.Init(h)
	for _, e := range entries {
		if e.headHasTS {
			heap.Push(h, &heapItem{e: e})
		}
	}

	var pendingCarry []lineio.Line
	for _, c := range initCarry {
		pendingCarry = append(pendingCarry, c...)
	}

	runErr := mg.loop(ctx, h, pendingCarry, w, cancel, &row)

	if cerr := mg.cm.CloseOpenChunk(); cerr != nil && runErr == nil {
		runErr = cerr
	}
	if ferr := w.Flush(); ferr != nil && runErr == nil {
		runErr = ferr
	}
	if merr := mg.cm.Flush(); merr != nil && runErr == nil {
		runErr = merr
	}

	if runErr != nil {
		mg.pl.FinishErrored()
		return Result{RowsWritten: row, State: mg.pl.State()}, runErr
	}

	if err := mg.pl.BeginFlush(); err != nil {
		return Result{RowsWritten: row, State: mg.pl.State()}, err
	}
	select {
	case <-cancel:
		mg.pl.FinishCancelled()
	default:
		mg.pl.FinishClosed()
	}
	return Result{RowsWritten: row, State: mg.pl.State()}, nil
}

// loop repeatedly pops the lowest (timestamp, priority) entry, emits its
// head line, then advances that stream and reinserts it if it produced
// another timestamped line. A line crossed while advancing a stream that
// already has an established head carries onto the row just emitted for
// that stream. leadingCarry — content from streams that never established
// a timestamped head at all, plus any lines a stream crossed before its
// very first match — has no "most recently emitted row" to attach to yet,
// so it sinks to the end: it is held until every timestamped stream is
// exhausted and attached to the last row emitted overall.
func (mg *Merger) loop(ctx context.Context, h *minHeap, leadingCarry []lineio.Line, w *rowwrite.Writer, cancel <-chan struct{}, row *int64) error {
	haveEmitted := false
	var pending []lineio.Line

	flushPending := func() error {
		if !haveEmitted {
			return nil // nothing emitted yet to attach these to; dropped
		}
		for _, cl := range pending {
			if err := mg.carry(w, *row-1, cl); err != nil {
				return err
			}
		}
		pending = nil
		return nil
	}

	for h.Len() > 0 {
		select {
		case <-cancel:
			return nil
		default:
		}

		item := heap.Pop(h).(*heapItem)
		e := item.e
		ln := e.headLine
		ts := e.headTS
		tagIdx := int64(e.priority)

		firstByte := w.Offset()
		if err := mg.cm.BeginRow(*row, firstByte, &ts, &tagIdx); err != nil {
			return err
		}
		_, lastByte, err := w.WriteRow(e.tag, *row, ln.Bytes, ln.Term.TerminatorBytes())
		if err != nil {
			return fmt.Errorf("merge: write failed: %w", err)
		}
		if err := mg.cm.EndRow(*row, lastByte, &ts, &tagIdx); err != nil {
			return err
		}
		*row++
		haveEmitted = true

		carried, ok, err := e.advance(ctx)
		if err != nil && mg.cfg.Logger != nil {
			mg.cfg.Logger.Warn("stream %q: %v", e.tag, err)
		}
		pending = append(pending, carried...)
		if err := flushPending(); err != nil {
			return err
		}
		if ok {
			heap.Push(h, &heapItem{e: e})
		}
	}

	if !haveEmitted {
		return nil // no row was ever emitted; nothing to attach leadingCarry to
	}
	for _, cl := range leadingCarry {
		if err := mg.carry(w, *row-1, cl); err != nil {
			return err
		}
	}
	return nil
}

// carry attaches ln to targetRow's byte range in the output and mapping,
// without allocating a new row number: the continuation mechanism
// spec.md §4.6 describes for untimestamped lines.
func (mg *Merger) carry(w *rowwrite.Writer, targetRow int64, ln lineio.Line) error {
	_, lastByte, err := w.WriteRow("", targetRow, ln.Bytes, ln.Term.TerminatorBytes())
	if err != nil {
		return fmt.Errorf("merge: carry write failed: %w", err)
	}
	return mg.cm.ExtendLast(lastByte, nil, nil)
}

// Chunks exposes the accumulated chunk map.
func (mg *Merger) Chunks() []chunkmap.Chunk {
	return mg.cm.Chunks()
}
