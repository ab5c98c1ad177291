/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tsformat

import (
	"strconv"
	"time"
)

// Extract locates a FormatSpec's pattern anywhere within line and returns
// the epoch milliseconds it encodes. ok is false when the pattern does not
// appear in line at all (spec.md's "Absent" outcome); a FormatMismatch
// (the pattern appears but one of its captured fields is out of range,
// e.g. a parsed-but-invalid combination) is reported via the returned
// error, leaving ok false.
func (fs *FormatSpec) Extract(line []byte) (ms int64, ok bool, err error) {
	loc := fs.Regex.FindSubmatchIndex(line)
	if loc == nil {
		return 0, false, nil
	}

	year := fs.Defaults.Year
	month := fs.Defaults.Month
	day := fs.Defaults.Day
	hour, minute, second := 0, 0, 0
	var fracDigits string
	tzMinutes := fs.Defaults.TZOffsetMinutes

	for group, field := range fs.fieldMap {
		start, end := loc[2*group], loc[2*group+1]
		if start < 0 || end < 0 {
			continue
		}
		text := string(line[start:end])
		switch field {
		case FieldYear:
			year, err = strconv.Atoi(text)
		case FieldMonth:
			month, err = strconv.Atoi(text)
		case FieldDay:
			day, err = strconv.Atoi(text)
		case FieldHour:
			hour, err = strconv.Atoi(text)
		case FieldMinute:
			minute, err = strconv.Atoi(text)
		case FieldSecond:
			second, err = strconv.Atoi(text)
		case FieldFraction:
			fracDigits = text
		case FieldTZOffset:
			tzMinutes, err = parseTZOffset(text)
		}
		if err != nil {
			return 0, false, newFormatError(start, "malformed "+field.String()+" value "+text)
		}
	}

	if month < 1 || month > 12 || day < 1 || day > 31 {
		return 0, false, newFormatError(loc[0], "field out of range in matched timestamp")
	}

	t := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	epochMs := t.UnixMilli()
	epochMs += int64(parseFracMillis(fracDigits))
	epochMs -= int64(tzMinutes) * 60_000

	return epochMs, true, nil
}

// parseFracMillis truncates a variable-length fractional-seconds capture
// (e.g. "123456" for microseconds) down to milliseconds, right-padding
// with zeros or truncating as needed so "5" (tenths) and "500000" (microseconds) both
// resolve to the intended magnitude.
func parseFracMillis(digits string) int {
	if digits == "" {
		return 0
	}
	switch {
	case len(digits) >= 3:
		digits = digits[:3]
	case len(digits) == 2:
		digits += "0"
	case len(digits) == 1:
		digits += "00"
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return v
}

// parseTZOffset converts a TZD capture ("Z", "+05:30", "-0400" ...) into
// minutes east of UTC.
func parseTZOffset(text string) (int, error) {
	if text == "Z" || text == "" {
		return 0, nil
	}
	sign := 1
	if text[0] == '-' {
		sign = -1
	}
	text = text[1:]
	text = stripColon(text)
	if len(text) != 4 {
		return 0, &FormatError{Msg: "malformed timezone offset"}
	}
	hh, err := strconv.Atoi(text[:2])
	if err != nil {
		return 0, err
	}
	mm, err := strconv.Atoi(text[2:])
	if err != nil {
		return 0, err
	}
	return sign * (hh*60 + mm), nil
}

func stripColon(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
