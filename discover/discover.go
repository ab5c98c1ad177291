/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package discover samples a candidate input file and proposes a
// timestamp format for it by trying tsformat's detection catalog,
// filling in the per-file (format?, sample_match?) report a merge config
// loader needs when an entry omits "format".
package discover

import (
	"bufio"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gosimple/slug"

	"github.com/gravwell/lineindexer/tsformat"
)

// DefaultSampleLines is how many non-empty lines DiscoveryService reads
// before giving up on detection, per spec.md §4.7.
const DefaultSampleLines = 64

// Result is one file's detection outcome.
type Result struct {
	Path        string
	FormatName  string // catalog entry name, empty if no match
	Format      string // catalog entry's specifier string, for recompiling with caller-supplied Defaults
	Spec        *tsformat.FormatSpec
	SampleMatch bool
	LinesRead   int
}

// Service samples candidate inputs and proposes timestamp formats.
type Service struct {
	sampleLines int
}

// Option configures a Service at construction.
type Option func(*Service)

// WithSampleLines overrides DefaultSampleLines.
func WithSampleLines(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.sampleLines = n
		}
	}
}

// New constructs a Service.
func New(opts ...Option) *Service {
	s := &Service{sampleLines: DefaultSampleLines}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Detect reads up to the service's sample line count from src, skipping
// blank lines, and tries tsformat.Detect against each non-empty line
// until one matches or the sample is exhausted.
func (s *Service) Detect(path string, src io.Reader) Result {
	res := Result{Path: path}
	sc := bufio.NewScanner(src)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for res.LinesRead < s.sampleLines && sc.Scan() {
		line := sc.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		res.LinesRead++
		if name, format, spec, ok := tsformat.Detect(line); ok {
			res.FormatName = name
			res.Format = format
			res.Spec = spec
			res.SampleMatch = true
			return res
		}
	}
	return res
}

// DefaultTag derives a short, printable SourceTag from a file's basename
// when a merge config entry doesn't supply one, normalizing it through
// gosimple/slug so it stays filesystem-safe and free of whitespace.
func DefaultTag(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	tag := slug.Make(base)
	if tag == "" {
		tag = "stream"
	}
	return tag
}

// UniqueTags assigns DefaultTag to every path lacking one and disambiguates
// collisions by appending "-2", "-3", ... in input order, preserving the
// per-merge tag-uniqueness invariant from spec.md §3.
func UniqueTags(paths []string, existing []string) []string {
	out := make([]string, len(paths))
	copy(out, existing)
	seen := make(map[string]int, len(paths))
	for i, p := range paths {
		tag := out[i]
		if tag == "" {
			tag = DefaultTag(p)
		}
		base := tag
		for {
			seen[tag]++
			if seen[tag] == 1 {
				break
			}
			tag = base + "-" + strconv.Itoa(seen[tag])
		}
		out[i] = tag
	}
	return out
}
