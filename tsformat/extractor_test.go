/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package tsformat

import (
	"testing"
	"time"
)

func TestExtractBasic(t *testing.T) {
	spec, err := Compile("YYYY-MM-DD hh:mm:ss", Defaults{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	ms, ok, err := spec.Extract([]byte("2020-05-17 13:45:09 some log message here"))
	if err != nil {
		t.Fatalf("Extract error: %v", err)
	}
	if !ok {
		t.Fatal("expected a match")
	}
	want := time.Date(2020, 5, 17, 13, 45, 9, 0, time.UTC).UnixMilli()
	if ms != want {
		t.Errorf("got %d, want %d", ms, want)
	}
}

func TestExtractAbsent(t *testing.T) {
	spec, err := Compile("YYYY-MM-DD hh:mm:ss", Defaults{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, ok, err := spec.Extract([]byte("no timestamp in this line at all"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected no match")
	}
}

func TestExtractWithFraction(t *testing.T) {
	spec, err := Compile("YYYY-MM-DD hh:mm:ss.s", Defaults{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	ms, ok, err := spec.Extract([]byte("2020-05-17 13:45:09.250 payload"))
	if err != nil || !ok {
		t.Fatalf("Extract failed: ok=%v err=%v", ok, err)
	}
	want := time.Date(2020, 5, 17, 13, 45, 9, 250_000_000, time.UTC).UnixMilli()
	if ms != want {
		t.Errorf("got %d, want %d", ms, want)
	}
}

func TestExtractWithTZOffset(t *testing.T) {
	spec, err := Compile("YYYY-MM-DDThh:mm:ssTZD", Defaults{})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	ms, ok, err := spec.Extract([]byte("2020-05-17T13:45:09-04:00"))
	if err != nil || !ok {
		t.Fatalf("Extract failed: ok=%v err=%v", ok, err)
	}
	want := time.Date(2020, 5, 17, 13, 45, 9, 0, time.UTC).Add(4 * time.Hour).UnixMilli()
	if ms != want {
		t.Errorf("got %d, want %d", ms, want)
	}
}

func TestExtractMidLine(t *testing.T) {
	spec, err := Compile("MM-DD hh:mm:ss", Defaults{Year: 2021})
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	ms, ok, err := spec.Extract([]byte("host1 sshd[203]: 06-01 09:30:00 connection closed"))
	if err != nil || !ok {
		t.Fatalf("Extract failed: ok=%v err=%v", ok, err)
	}
	want := time.Date(2021, 6, 1, 9, 30, 0, 0, time.UTC).UnixMilli()
	if ms != want {
		t.Errorf("got %d, want %d", ms, want)
	}
}
