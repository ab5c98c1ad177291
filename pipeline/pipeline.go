/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package pipeline implements the state machine shared by Indexer and
// Merger: Idle -> Running -> (Flushing -> Closed) | Cancelled | Errored.
// Flushing always runs, even after a Cancel, so partially written output
// and its chunk map stay consistent.
package pipeline

import (
	"errors"
	"sync/atomic"
)

type State int32

const (
	Idle State = iota
	Running
	Flushing
	Closed
	Cancelled
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Running:
		return "Running"
	case Flushing:
		return "Flushing"
	case Closed:
		return "Closed"
	case Cancelled:
		return "Cancelled"
	case Errored:
		return "Errored"
	}
	return "Unknown"
}

var (
	ErrAlreadyRunning  = errors.New("pipeline: already running")
	ErrNotRunning      = errors.New("pipeline: not running")
	ErrAlreadyFinished = errors.New("pipeline: already in a terminal state")
)

// Pipeline is a small explicit-transition state holder. Zero value is
// Idle and ready to use.
type Pipeline struct {
	state   int32
	abortCh chan struct{}
}

// Start transitions Idle -> Running, arming the cancellation channel.
func (p *Pipeline) Start() error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(Idle), int32(Running)) {
		return ErrAlreadyRunning
	}
	p.abortCh = make(chan struct{})
	return nil
}

// Cancel requests cancellation of a Running pipeline. It is idempotent:
// calling it more than once, or after the pipeline has already reached a
// terminal state, is a no-op. Cancel does not itself move the state to
// Cancelled — the caller's run loop observes AbortChannel and transitions
// via BeginFlush and FinishCancelled once it has stopped producing new rows, so Flushing
// can still run against whatever was already produced.
func (p *Pipeline) Cancel() {
	if atomic.LoadInt32(&p.state) != int32(Running) {
		return
	}
	select {
	case <-p.abortCh:
		// already closed
	default:
		close(p.abortCh)
	}
}

// AbortChannel is closed once Cancel has been called; a run loop selects
// on it alongside its normal input-ready case.
func (p *Pipeline) AbortChannel() <-chan struct{} {
	return p.abortCh
}

// BeginFlush transitions Running -> Flushing. Called whether the run
// loop stopped normally (end of input) or via cancellation.
func (p *Pipeline) BeginFlush() error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(Running), int32(Flushing)) {
		return ErrNotRunning
	}
	return nil
}

// FinishClosed transitions Flushing -> Closed, the normal terminal state.
func (p *Pipeline) FinishClosed() error {
	return p.finish(Closed)
}

// FinishCancelled transitions Flushing -> Cancelled: the run loop stopped
// early because Cancel was called, but its Flushing pass completed.
func (p *Pipeline) FinishCancelled() error {
	return p.finish(Cancelled)
}

// FinishErrored transitions Running or Flushing -> Errored: a call is
// valid from either state since an error can occur before or during the
// flush pass.
func (p *Pipeline) FinishErrored() error {
	for {
		cur := atomic.LoadInt32(&p.state)
		if State(cur) != Running && State(cur) != Flushing {
			return ErrAlreadyFinished
		}
		if atomic.CompareAndSwapInt32(&p.state, cur, int32(Errored)) {
			return nil
		}
	}
}

func (p *Pipeline) finish(target State) error {
	if !atomic.CompareAndSwapInt32(&p.state, int32(Flushing), int32(target)) {
		return ErrNotRunning
	}
	return nil
}

// State returns the current state.
func (p *Pipeline) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Terminal reports whether the pipeline has reached an absorbing state.
func (p *Pipeline) Terminal() bool {
	switch p.State() {
	case Closed, Cancelled, Errored:
		return true
	}
	return false
}
