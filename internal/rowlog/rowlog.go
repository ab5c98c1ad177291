/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package rowlog provides the leveled logger every engine component is
// built around: the concrete type behind the external textual
// progress/diagnostic sink. The stdout chunk-mirror side channel is not
// part of it; chunkmap writes mirrored chunks to its own io.Writer.
package rowlog

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Level int

const (
	OFF Level = iota
	DEBUG
	INFO
	WARN
	ERROR
)

func (l Level) String() string {
	switch l {
	case OFF:
		return "OFF"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	}
	return "UNKNOWN"
}

var ErrNotOpen = errors.New("rowlog: logger is not open")

// Logger is a small multi-writer leveled logger. A nil *Logger is valid
// and silences all output, so callers never have to branch on whether
// logging was configured.
type Logger struct {
	mtx  sync.Mutex
	wtrs []io.Writer
	lvl  Level
	opID uuid.UUID
	hot  bool
}

// New wraps wtr (plus any additional writers) at level INFO, tagging
// every line with a fresh per-run operation id.
func New(wtr io.Writer, extra ...io.Writer) *Logger {
	l := &Logger{
		wtrs: append([]io.Writer{wtr}, extra...),
		lvl:  INFO,
		opID: uuid.New(),
		hot:  true,
	}
	return l
}

// AddWriter attaches an additional writer that receives every line
// already-open writers receive.
func (l *Logger) AddWriter(w io.Writer) error {
	if l == nil {
		return nil
	}
	if w == nil {
		return errors.New("rowlog: nil writer")
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot {
		return ErrNotOpen
	}
	l.wtrs = append(l.wtrs, w)
	return nil
}

// SetLevel changes the minimum level that is written out.
func (l *Logger) SetLevel(lvl Level) {
	if l == nil {
		return
	}
	l.mtx.Lock()
	l.lvl = lvl
	l.mtx.Unlock()
}

// OperationID returns the UUID tagging every line this logger emits,
// letting concurrent runs be told apart in a shared log file.
func (l *Logger) OperationID() uuid.UUID {
	if l == nil {
		return uuid.Nil
	}
	return l.opID
}

func (l *Logger) Debug(f string, args ...interface{}) { l.output(DEBUG, f, args...) }
func (l *Logger) Info(f string, args ...interface{})  { l.output(INFO, f, args...) }
func (l *Logger) Warn(f string, args ...interface{})  { l.output(WARN, f, args...) }
func (l *Logger) Error(f string, args ...interface{}) { l.output(ERROR, f, args...) }

func (l *Logger) output(lvl Level, f string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mtx.Lock()
	defer l.mtx.Unlock()
	if !l.hot || lvl < l.lvl {
		return
	}
	ts := time.Now().UTC().Format(time.RFC3339)
	line := fmt.Sprintf("%s [%s] %s %s\n", ts, l.opID, lvl, fmt.Sprintf(f, args...))
	for _, w := range l.wtrs {
		io.WriteString(w, line)
	}
}
