/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package mergeconfig loads and validates the JSON merge config named in
// spec.md §6: an array of per-file entries describing the path, tag and
// timestamp format to use in a merge. An entry missing "format" defers
// to discover for format detection; an entry missing "tag" gets one from
// discover's tag derivation.
package mergeconfig

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"

	"github.com/gravwell/lineindexer/discover"
	"github.com/gravwell/lineindexer/tsformat"
)

// ErrConfigRead is a sentinel wrapped by I/O failures reading the config
// file itself, distinct from a JSON decode failure.
var ErrConfigRead = fmt.Errorf("mergeconfig: failed to read config")

// rawEntry mirrors the on-disk JSON shape from spec.md §6. Unknown keys
// are ignored by encoding/json-compatible unmarshal semantics by default.
type rawEntry struct {
	Path   string `json:"path"`
	Tag    string `json:"tag"`
	Format string `json:"format"`
	Year   *int   `json:"year"`
	Offset *int   `json:"offset"`
}

// Entry is one fully resolved merge input: a compiled format spec ready
// to hand to merge.Stream, with format/tag filled in by discovery when
// the config didn't supply them.
type Entry struct {
	Path       string
	Tag        string
	Spec       *tsformat.FormatSpec
	Discovered bool // true if the format came from discovery, not the config; a derived tag does not set it
}

// Load reads and parses a merge config file at path. openFile opens each
// entry's input file for discovery sampling when its format is omitted;
// pass nil to use os.Open.
func Load(path string, svc *discover.Service, openFile func(string) (io.ReadCloser, error)) ([]Entry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigRead, err)
	}
	return Parse(b, svc, openFile)
}

// Parse decodes raw merge-config JSON bytes into resolved Entries.
func Parse(b []byte, svc *discover.Service, openFile func(string) (io.ReadCloser, error)) ([]Entry, error) {
	var raws []rawEntry
	if err := json.Unmarshal(b, &raws); err != nil {
		return nil, fmt.Errorf("mergeconfig: malformed config: %w", err)
	}
	if openFile == nil {
		openFile = func(p string) (io.ReadCloser, error) { return os.Open(p) }
	}
	if svc == nil {
		svc = discover.New()
	}

	paths := make([]string, len(raws))
	tags := make([]string, len(raws))
	for i, r := range raws {
		paths[i] = r.Path
		tags[i] = r.Tag
	}
	tags = discover.UniqueTags(paths, tags)

	entries := make([]Entry, len(raws))
	for i, r := range raws {
		e := Entry{Path: r.Path, Tag: tags[i]}

		defaults := tsformat.Defaults{}
		if r.Year != nil {
			defaults.Year = *r.Year
		}
		if r.Offset != nil {
			defaults.TZOffsetMinutes = *r.Offset
		}

		if r.Format != "" {
			spec, err := tsformat.Compile(r.Format, defaults)
			if err != nil {
				return nil, fmt.Errorf("mergeconfig: %s: %w", r.Path, err)
			}
			e.Spec = spec
		} else {
			f, err := openFile(r.Path)
			if err != nil {
				return nil, fmt.Errorf("mergeconfig: %s: %w", r.Path, err)
			}
			res := svc.Detect(r.Path, f)
			f.Close()
			if !res.SampleMatch {
				return nil, fmt.Errorf("mergeconfig: %s: %w", r.Path, tsformat.ErrNoFormatDetected)
			}
			if r.Year != nil || r.Offset != nil {
				// The catalog spec was compiled with the current date as its
				// default; recompile against this entry's own year/offset so a
				// detected MM-DD-style format still dates correctly.
				spec, err := tsformat.Compile(res.Format, defaults)
				if err != nil {
					return nil, fmt.Errorf("mergeconfig: %s: %w", r.Path, err)
				}
				e.Spec = spec
			} else {
				e.Spec = res.Spec
			}
			e.Discovered = true
		}
		entries[i] = e
	}
	return entries, nil
}
