/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package tsformat compiles a small date-format specifier language
// (YYYY, MM, DD, hh, mm, ss, s, TZD, plus literal separators) into a
// matcher that locates and extracts epoch milliseconds from arbitrary
// positions within a line.
package tsformat

import (
	"errors"
	"fmt"
)

// ErrNoFormatDetected is returned by callers of Detect/DiscoveryService
// when no catalog entry matches any sampled line.
var ErrNoFormatDetected = errors.New("tsformat: no catalog format matched the sample")

// FormatError indicates a problem with a format string at compile time:
// an unknown specifier, a duplicate specifier, or an ambiguous literal
// sequence.
type FormatError struct {
	Pos int
	Msg string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("format error at position %d: %s", e.Pos, e.Msg)
}

func newFormatError(pos int, msg string) error {
	return &FormatError{Pos: pos, Msg: msg}
}
