/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Command lineindexer is a thin driver around the index/merge engine: it
// is explicitly not the CLI front end (flag-parsing policy beyond basic
// wiring lives elsewhere per spec.md §1); it exists to give the engine a
// runnable entry point the way singleFile/main.go and fileFollow/main.go
// do for gravwell's own ingesters.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/inhies/go-bytesize"

	"github.com/gravwell/lineindexer/discover"
	"github.com/gravwell/lineindexer/index"
	"github.com/gravwell/lineindexer/internal/options"
	"github.com/gravwell/lineindexer/internal/rowlog"
	"github.com/gravwell/lineindexer/lineio"
	"github.com/gravwell/lineindexer/merge"
	"github.com/gravwell/lineindexer/mergeconfig"
	"github.com/gravwell/lineindexer/tsformat"
	"github.com/gravwell/lineindexer/utils"
)

var (
	inPattern   = flag.String("i", "", "Input file glob to index (single-stream mode)")
	tag         = flag.String("tag", "", "Source tag for single-stream mode")
	outPath     = flag.String("o", "", "Output file path")
	mappingPath = flag.String("mapping", "", "Mapping file path (default <o>.mapping.json)")
	chunkSize   = flag.Int64("chunk-size", 0, "Rows per chunk (0: use LINEINDEXER_CHUNK_SIZE or default 10000)")
	delim       = flag.String("delim", "\t", "Single-byte output delimiter")
	appendMode  = flag.Bool("a", false, "Append to an existing output/mapping pair")
	mirror      = flag.Bool("mirror", false, "Mirror closed-chunk notifications to stdout")
	verbose     = flag.Bool("verbose", false, "Log every indexed/merged row")
	mergeCfg    = flag.String("merge-config", "", "Merge config JSON file (enables merge mode)")

	fmtSpec    = flag.String("f", "", "Validate a timestamp format (used with -x)")
	fmtExample = flag.String("x", "", "Example line to test -f against")
)

// applyEnvOverrides fills in any flag operators left at its zero value from
// the environment, following the don't-clobber-a-set-value convention
// options uses: a flag set to a non-zero value (true, for a bool) wins over
// the environment, which in turn wins over the hardcoded default. A flag
// given explicitly as 0 or false is treated as unset.
func applyEnvOverrides() (bytesize.ByteSize, error) {
	if err := options.LoadEnvVarInt64(chunkSize, "LINEINDEXER_CHUNK_SIZE", 10000); err != nil {
		return 0, fmt.Errorf("LINEINDEXER_CHUNK_SIZE: %w", err)
	}
	if err := options.LoadEnvVarBool(mirror, "LINEINDEXER_MIRROR", *mirror); err != nil {
		return 0, fmt.Errorf("LINEINDEXER_MIRROR: %w", err)
	}
	if err := options.LoadEnvVarBool(verbose, "LINEINDEXER_VERBOSE", *verbose); err != nil {
		return 0, fmt.Errorf("LINEINDEXER_VERBOSE: %w", err)
	}
	var maxLine bytesize.ByteSize
	if err := options.LoadEnvVarSize(&maxLine, "LINEINDEXER_MAX_LINE", lineio.DefaultMaxLine); err != nil {
		return 0, fmt.Errorf("LINEINDEXER_MAX_LINE: %w", err)
	}
	return maxLine, nil
}

func main() {
	flag.Parse()

	if *fmtSpec != "" {
		testFormat(*fmtSpec, *fmtExample)
		return
	}

	maxLine, err := applyEnvOverrides()
	if err != nil {
		log.Fatalf("invalid environment override: %v", err)
	}

	logger := rowlog.New(os.Stderr)
	if *verbose {
		logger.SetLevel(rowlog.DEBUG)
	} else {
		logger.SetLevel(rowlog.INFO)
	}

	if *outPath == "" {
		log.Fatal("output path (-o) is required")
	}
	mp := *mappingPath
	if mp == "" {
		mp = *outPath + ".mapping.json"
	}
	delimByte, err := singleByte(*delim)
	if err != nil {
		log.Fatalf("invalid -delim: %v", err)
	}

	cancel := utils.GetQuitChannel()
	abort := make(chan struct{})
	go func() {
		<-cancel
		close(abort)
	}()

	out, err := os.OpenFile(*outPath, os.O_CREATE|os.O_WRONLY|appendFlag(*appendMode), 0644)
	if err != nil {
		log.Fatalf("failed to open output %s: %v", *outPath, err)
	}
	defer out.Close()

	var chunkCount int
	if *mergeCfg != "" {
		chunkCount, err = runMerge(*mergeCfg, mp, delimByte, maxLine, out, abort, logger)
	} else {
		chunkCount, err = runIndex(mp, delimByte, maxLine, out, abort, logger)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}
	fmt.Printf("wrote %d chunks to %s\n", chunkCount, mp)
}

func testFormat(format, example string) {
	spec, err := tsformat.Compile(format, tsformat.Defaults{})
	if err != nil {
		log.Fatalf("invalid format: %v", err)
	}
	if example == "" {
		fmt.Println("format compiled successfully")
		return
	}
	_, matched, err := spec.Extract([]byte(example))
	if err != nil {
		log.Fatalf("extraction error: %v", err)
	}
	fmt.Printf("match: %t\n", matched)
}

func runIndex(mappingPath string, delimByte byte, maxLine bytesize.ByteSize, out *os.File, abort chan struct{}, logger *rowlog.Logger) (int, error) {
	if *inPattern == "" || *tag == "" {
		return 0, fmt.Errorf("single-stream mode requires -i and -tag")
	}
	matches, err := doublestar.FilepathGlob(*inPattern)
	if err != nil {
		return 0, fmt.Errorf("invalid glob %q: %w", *inPattern, err)
	}
	if len(matches) != 1 {
		return 0, fmt.Errorf("glob %q must match exactly one file, matched %d", *inPattern, len(matches))
	}

	in, err := os.Open(matches[0])
	if err != nil {
		return 0, fmt.Errorf("failed to open %s: %w", matches[0], err)
	}
	defer in.Close()

	ix, err := index.New(index.Config{
		Tag:          *tag,
		ChunkSize:    *chunkSize,
		Delimiter:    delimByte,
		Append:       *appendMode,
		StdoutMirror: *mirror,
		MappingPath:  mappingPath,
		Logger:       logger,
	})
	if err != nil {
		return 0, err
	}

	src := lineio.NewReader(in, lineio.WithMaxLine(maxLine))
	res, err := ix.Run(src, out, abort)
	if err != nil {
		return 0, err
	}
	logger.Info("indexed %d rows, final state %s", res.RowsWritten, res.State)
	return len(ix.Chunks()), nil
}

func runMerge(cfgPath, mappingPath string, delimByte byte, maxLine bytesize.ByteSize, out *os.File, abort chan struct{}, logger *rowlog.Logger) (int, error) {
	svc := discover.New()
	entries, err := mergeconfig.Load(cfgPath, svc, nil)
	if err != nil {
		return 0, err
	}

	streams := make([]merge.Stream, 0, len(entries))
	var closers []*os.File
	for _, e := range entries {
		f, err := os.Open(e.Path)
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
			return 0, fmt.Errorf("failed to open %s: %w", e.Path, err)
		}
		closers = append(closers, f)
		streams = append(streams, merge.Stream{Tag: e.Tag, Source: f, Spec: e.Spec})
	}
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	mg, err := merge.New(merge.Config{
		Streams:      streams,
		ChunkSize:    *chunkSize,
		Delimiter:    delimByte,
		Append:       *appendMode,
		StdoutMirror: *mirror,
		MappingPath:  mappingPath,
		MaxLine:      maxLine,
		Logger:       logger,
	})
	if err != nil {
		return 0, err
	}

	res, err := mg.Run(context.Background(), out, abort)
	if err != nil {
		return 0, err
	}
	logger.Info("merged %d rows, final state %s", res.RowsWritten, res.State)
	return len(mg.Chunks()), nil
}

func singleByte(s string) (byte, error) {
	if s == `\t` || s == "" {
		return '\t', nil
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("delimiter must be exactly one byte, got %q", s)
	}
	return s[0], nil
}

func appendFlag(appendMode bool) int {
	if appendMode {
		return os.O_APPEND
	}
	return os.O_TRUNC
}
