/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tsformat

import "time"

// CompiledFormat pairs a catalog entry's source format string with its
// compiled FormatSpec, so callers (notably discover.DiscoveryService) can
// report which named catalog entry matched a sample line, and recompile
// it with their own Defaults rather than the catalog's current-time seed.
type CompiledFormat struct {
	Name   string
	Format string
	Spec   *FormatSpec
}

var catalog []CompiledFormat

func init() {
	now := time.Now().UTC()
	defaults := Defaults{Year: now.Year(), Month: int(now.Month()), Day: now.Day()}

	seed := []struct {
		name   string
		format string
	}{
		{"iso8601-tz", "YYYY-MM-DDThh:mm:ssTZD"},
		{"iso8601-frac-tz", "YYYY-MM-DDThh:mm:ss.sTZD"},
		{"iso8601", "YYYY-MM-DD hh:mm:ss"},
		{"iso8601-frac", "YYYY-MM-DD hh:mm:ss.s"},
		{"syslog-frac-tz", "MM-DD hh:mm:ss.sTZD"},
		{"us-date-time", "MM-DD-YYYY hh:mm:ss.s"},
		{"us-date-time-plain", "MM-DD-YYYY hh:mm:ss"},
	}
	for _, s := range seed {
		spec, err := Compile(s.format, defaults)
		if err != nil {
			// every seed format is a literal constant above; a compile
			// failure here means the catalog itself is broken.
			panic("tsformat: catalog entry " + s.name + " failed to compile: " + err.Error())
		}
		catalog = append(catalog, CompiledFormat{Name: s.name, Format: s.format, Spec: spec})
	}
}

// Catalog returns the built-in detection catalog, in the fixed order
// Detect tries them.
func Catalog() []CompiledFormat {
	out := make([]CompiledFormat, len(catalog))
	copy(out, catalog)
	return out
}

// Detect tries each catalog entry in order against sample and returns the
// first one whose pattern matches and whose extracted fields are valid.
// It reports the matched entry's name and format string alongside the
// spec so callers can surface which pattern was picked, or recompile it
// with Defaults of their own.
func Detect(sample []byte) (name, format string, spec *FormatSpec, ok bool) {
	for _, cf := range catalog {
		if _, matched, err := cf.Spec.Extract(sample); matched && err == nil {
			return cf.Name, cf.Format, cf.Spec, true
		}
	}
	return "", "", nil, false
}

// ValidateFormatOverride compiles spec with default field values and
// returns an error if the format string itself is invalid, without
// requiring a sample line: a fail-fast check on a user-supplied format
// override before a pipeline run starts.
func ValidateFormatOverride(spec string) error {
	_, err := Compile(spec, Defaults{})
	return err
}
