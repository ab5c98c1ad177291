/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package rowlog

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.SetLevel(WARN)
	l.Info("should not appear")
	l.Warn("should appear %d", 1)
	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Error("INFO line was emitted despite WARN level filter")
	}
	if !strings.Contains(out, "should appear 1") {
		t.Errorf("WARN line missing from output: %q", out)
	}
}

func TestOperationIDTagsLines(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	l.Info("hello")
	if !strings.Contains(buf.String(), l.OperationID().String()) {
		t.Error("log line does not contain the operation id")
	}
}

func TestNilLoggerIsSilentAndSafe(t *testing.T) {
	var l *Logger
	l.Info("this must not panic")
	l.Warn("nor this")
	if l.OperationID().String() == "" {
		t.Error("OperationID on nil logger should still return a printable value")
	}
}

func TestAddWriterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	l := New(&a)
	if err := l.AddWriter(&b); err != nil {
		t.Fatalf("AddWriter failed: %v", err)
	}
	l.Info("fanned out")
	if !strings.Contains(a.String(), "fanned out") || !strings.Contains(b.String(), "fanned out") {
		t.Error("both writers should have received the line")
	}
}
