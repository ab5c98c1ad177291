/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tsformat

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Field identifies which piece of a timestamp a capture group feeds.
type Field int

const (
	FieldYear Field = iota
	FieldMonth
	FieldDay
	FieldHour
	FieldMinute
	FieldSecond
	FieldFraction
	FieldTZOffset
)

func (f Field) String() string {
	switch f {
	case FieldYear:
		return "year"
	case FieldMonth:
		return "month"
	case FieldDay:
		return "day"
	case FieldHour:
		return "hour"
	case FieldMinute:
		return "minute"
	case FieldSecond:
		return "second"
	case FieldFraction:
		return "fraction"
	case FieldTZOffset:
		return "tz_offset_minutes"
	}
	return "unknown"
}

// specifier is one entry of the specifier mini-language: a literal token
// in the format string and the field + regex fragment it compiles to.
type specifier struct {
	token   string
	field   Field
	pattern string
	digit   bool // true if the pattern only ever matches decimal digits
}

// specifiers is ordered longest-token-first so the tokenizer can match
// greedily without needing lookahead.
var specifiers = []specifier{
	{token: "YYYY", field: FieldYear, pattern: `\d{4}`, digit: true},
	{token: "TZD", field: FieldTZOffset, pattern: `(?:Z|[+-]\d{2}:\d{2}|[+-]\d{4})`, digit: false},
	{token: "MM", field: FieldMonth, pattern: `(?:0[1-9]|1[0-2])`, digit: true},
	{token: "DD", field: FieldDay, pattern: `(?:0[1-9]|[12]\d|3[01])`, digit: true},
	{token: "hh", field: FieldHour, pattern: `(?:[01]\d|2[0-3])`, digit: true},
	{token: "mm", field: FieldMinute, pattern: `[0-5]\d`, digit: true},
	{token: "ss", field: FieldSecond, pattern: `[0-5]\d`, digit: true},
	{token: "s", field: FieldFraction, pattern: `\d+`, digit: true},
}

// specifierWordChars is the set of letters that can appear inside a
// specifier token; any maximal run of these that doesn't exactly match a
// known token is an unknown specifier, not a literal.
const specifierWordChars = "YMDhms" + "TZ"

func isSpecifierWordChar(r rune) bool {
	return strings.ContainsRune(specifierWordChars, r)
}

// isLiteralT reports whether runes[i] is a 'T' that does not begin the TZD
// specifier, such as the ISO 8601 date/time separator in "DDThh"; such a
// 'T' is a literal separator.
func isLiteralT(runes []rune, i int) bool {
	return runes[i] == 'T' && !strings.HasPrefix(string(runes[i:]), "TZD")
}

// Defaults supplies any field the format string doesn't itself capture.
type Defaults struct {
	Year            int // e.g. 2019, used when the format has no YYYY
	Month           int // 1-12
	Day             int // 1-31
	TZOffsetMinutes int // positive east of UTC
}

// FormatSpec is the compiled (regex, field_map, defaults) triple from
// spec.md's DateFormatCompiler.
type FormatSpec struct {
	Source   string
	Regex    *regexp.Regexp
	fieldMap map[int]Field // capture group index -> field
	Defaults Defaults
}

// Compile translates a format string written in the specifier language
// into a FormatSpec. The produced regex is anchored by search, not to
// line start, so the timestamp may appear anywhere in the line.
func Compile(format string, defaults Defaults) (*FormatSpec, error) {
	if format == "" {
		return nil, newFormatError(0, "empty format")
	}

	var b strings.Builder
	fieldMap := make(map[int]Field)
	seen := make(map[Field]bool)
	group := 0

	runes := []rune(format)
	byteOff := 0
	for i := 0; i < len(runes); {
		r := runes[i]
		if !isSpecifierWordChar(r) || isLiteralT(runes, i) {
			// literal separator rune: escape for regex safety.
			b.WriteString(regexp.QuoteMeta(string(r)))
			byteOff += len(string(r))
			i++
			continue
		}

		// a maximal run of specifier-alphabet characters has no literal
		// separators inside it, so it must tokenize entirely into known
		// specifiers or the whole run is rejected.
		j := i
		for j < len(runes) && isSpecifierWordChar(runes[j]) && !isLiteralT(runes, j) {
			j++
		}
		toks, err := tokenizeRun(runes, i, j)
		if err != nil {
			return nil, newFormatError(byteOff, err.Error())
		}
		if err := checkFractionAdjacency(toks); err != nil {
			return nil, newFormatError(byteOff, err.Error())
		}
		for _, sp := range toks {
			if seen[sp.field] {
				return nil, newFormatError(byteOff, "duplicate specifier "+sp.token)
			}
			seen[sp.field] = true
			group++
			fieldMap[group] = sp.field
			b.WriteString("(")
			b.WriteString(sp.pattern)
			b.WriteString(")")
			byteOff += len(sp.token)
		}
		i = j
	}

	rx, err := regexp.Compile(b.String())
	if err != nil {
		return nil, newFormatError(0, "internal regex build failure: "+err.Error())
	}
	return &FormatSpec{
		Source:   format,
		Regex:    rx,
		fieldMap: fieldMap,
		Defaults: defaults,
	}, nil
}

// tokenizeRun greedily decomposes runes[start:end] — a maximal run of
// specifier-alphabet characters with no literal separators inside it —
// into a sequence of known specifier tokens. Any leftover that can't be
// matched is an unknown specifier.
func tokenizeRun(runes []rune, start, end int) ([]specifier, error) {
	var toks []specifier
	for i := start; i < end; {
		sp, tokLen, ok := matchSpecifier(runes[:end], i)
		if !ok {
			return nil, fmt.Errorf("unknown specifier %s", string(runes[i:end]))
		}
		toks = append(toks, sp)
		i += tokLen
	}
	return toks, nil
}

// matchSpecifier tries each known specifier token at runes[i:], longest
// first (specifiers is already ordered that way), and returns the match
// plus how many runes it consumed. Matching is bounded to the caller's
// slice so it never reaches past a literal separator or the format end.
func matchSpecifier(runes []rune, i int) (specifier, int, bool) {
	remaining := string(runes[i:])
	for _, sp := range specifiers {
		if strings.HasPrefix(remaining, sp.token) {
			return sp, len([]rune(sp.token)), true
		}
	}
	return specifier{}, 0, false
}

// checkFractionAdjacency rejects a tokenized run in which the variable-
// length fraction specifier ("s", one-or-more digits) sits next to any
// other digit-producing specifier with no literal separator between them:
// the compiled regex would greedily let "s" steal digits that belong to
// its neighbor, making the split ambiguous.
func checkFractionAdjacency(toks []specifier) error {
	for i, sp := range toks {
		if sp.field != FieldFraction {
			continue
		}
		if i > 0 && toks[i-1].digit {
			return errAmbiguousFraction
		}
		if i+1 < len(toks) && toks[i+1].digit {
			return errAmbiguousFraction
		}
	}
	return nil
}

var errAmbiguousFraction = errors.New("ambiguous fractional seconds: no literal separator next to 's'")
