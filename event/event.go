//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the validated stream event emitted by the engine.
package event

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type enumerates the stream event kinds.
type Type string

// Stream event types.
const (
	TypeStatus   Type = "status"
	TypeMetadata Type = "metadata"
	TypeToken    Type = "token"
	TypeSources  Type = "sources"
	TypeError    Type = "error"
	TypeDone     Type = "done"
)

var validTypes = map[Type]struct{}{
	TypeStatus:   {},
	TypeMetadata: {},
	TypeToken:    {},
	TypeSources:  {},
	TypeError:    {},
	TypeDone:     {},
}

// Validation errors.
var (
	ErrUnknownType        = errors.New("event: unknown event type")
	ErrMissingCorrelation = errors.New("event: missing correlation id")
	ErrMissingData        = errors.New("event: missing data")
)

// Event is one element of the query stream.
type Event struct {
	// Type tags the payload shape.
	Type Type `json:"type"`
	// Data carries the payload: a token string, a metadata map, a sources
	// slice, or an error message.
	Data any `json:"data"`
	// Timestamp is the emit time.
	Timestamp time.Time `json:"timestamp"`
	// CorrelationID ties the event to its query.
	CorrelationID string `json:"correlation_id"`
}

// New creates an event stamped with the current time.
func New(correlationID string, typ Type, data any) *Event {
	return &Event{
		Type:          typ,
		Data:          data,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// NewCorrelationID returns a fresh query correlation id.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Validate checks the event schema before emission.
func (e *Event) Validate() error {
	if e == nil {
		return errors.New("event: nil event")
	}
	if _, ok := validTypes[e.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	if e.CorrelationID == "" {
		return ErrMissingCorrelation
	}
	// Done events may carry an empty payload map but never nil data for
	// the payload-bearing types.
	switch e.Type {
	case TypeToken:
		if _, ok := e.Data.(string); !ok {
			return fmt.Errorf("event: token data must be a string, got %T", e.Data)
		}
	case TypeStatus:
		if _, ok := e.Data.(string); !ok {
			return fmt.Errorf("event: status data must be a string, got %T", e.Data)
		}
	case TypeMetadata, TypeSources, TypeError, TypeDone:
		if e.Data == nil {
			return ErrMissingData
		}
	}
	return nil
}

// NewStatus creates a status event.
func NewStatus(correlationID, stage string) *Event {
	return New(correlationID, TypeStatus, stage)
}

// NewMetadata creates a metadata event.
func NewMetadata(correlationID string, data map[string]any) *Event {
	return New(correlationID, TypeMetadata, data)
}

// NewToken creates a token event.
func NewToken(correlationID, token string) *Event {
	return New(correlationID, TypeToken, token)
}

// NewSources creates a sources event.
func NewSources(correlationID string, sources []map[string]any) *Event {
	return New(correlationID, TypeSources, sources)
}

// NewError creates an error event.
func NewError(correlationID, message string) *Event {
	return New(correlationID, TypeError, map[string]any{"message": message})
}

// NewDone creates a terminating done event.
func NewDone(correlationID string, elapsed time.Duration) *Event {
	return New(correlationID, TypeDone, map[string]any{
		"elapsed_seconds": elapsed.Seconds(),
	})
}
