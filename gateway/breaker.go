//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package gateway

import (
	"sync"
	"time"
)

const (
	breakerFailureThreshold  = 5
	breakerOpenWindow        = 60 * time.Second
	breakerHalfOpenSuccesses = 2
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is a per-model circuit breaker. All transitions happen under mu.
type breaker struct {
	mu sync.Mutex

	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenSuccesses   int

	now func() time.Time
}

func newBreaker() *breaker {
	return &breaker{now: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose window has
// elapsed moves to half-open and admits the probe.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed, stateHalfOpen:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= breakerOpenWindow {
			b.state = stateHalfOpen
			b.halfOpenSuccesses = 0
			return true
		}
		return false
	}
	return true
}

// Success records a successful call. Two half-open successes close the
// breaker; returns true when the breaker transitioned from open to closed.
func (b *breaker) Success() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateClosed:
		b.consecutiveFailures = 0
	case stateHalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= breakerHalfOpenSuccesses {
			b.state = stateClosed
			b.consecutiveFailures = 0
			b.halfOpenSuccesses = 0
			return true
		}
	}
	return false
}

// Failure records a failed call; returns true when the breaker opened.
func (b *breaker) Failure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateHalfOpen:
		b.state = stateOpen
		b.openedAt = b.now()
		b.consecutiveFailures = breakerFailureThreshold
		return true
	case stateClosed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= breakerFailureThreshold {
			b.state = stateOpen
			b.openedAt = b.now()
			return true
		}
	}
	return false
}

// Open reports whether the breaker currently rejects calls.
func (b *breaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == stateOpen && b.now().Sub(b.openedAt) < breakerOpenWindow
}
