//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package engine

import (
	"context"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-rag-go/event"
	"trpc.group/trpc-go/trpc-rag-go/gate"
	"trpc.group/trpc-go/trpc-rag-go/log"
)

// Streaming limits.
const (
	// maxEventErrors bounds malformed events per stream before it aborts.
	maxEventErrors = 10
	// gateTokenDelay paces gate answers so instant replies still read as
	// a stream.
	gateTokenDelay = 15 * time.Millisecond
	// streamBuffer keeps the producer slightly ahead of a slow consumer.
	streamBuffer = 8
)

// StreamQuery runs one query and emits its progress as a validated event
// stream. The channel is closed when the query finishes, fails, or the
// context is cancelled. Validation failures surface synchronously.
func (e *Engine) StreamQuery(ctx context.Context, query *Query) (<-chan *event.Event, error) {
	if query == nil || (strings.TrimSpace(query.Text) == "" && len(query.Images) == 0) {
		return nil, ErrEmptyQuery
	}
	ch := make(chan *event.Event, streamBuffer)
	go e.stream(ctx, query, ch)
	return ch, nil
}

// stream is the single producer for one query's event channel.
func (e *Engine) stream(ctx context.Context, query *Query, ch chan<- *event.Event) {
	defer close(ch)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("engine: stream panic: %v", r)
		}
	}()

	start := time.Now()
	correlationID := event.NewCorrelationID()
	emitter := &eventEmitter{ctx: ctx, ch: ch, correlationID: correlationID}

	result, err := e.process(ctx, query, func(stage string) {
		emitter.emit(event.NewStatus(correlationID, stage))
	})
	if err != nil {
		emitter.emit(event.NewError(correlationID, err.Error()))
		emitter.emit(event.NewDone(correlationID, time.Since(start)))
		return
	}

	metadata := map[string]any{
		"model_used":          result.ModelUsed,
		"cache_hit":           result.CacheHit,
		"verification_status": result.VerificationStatus,
		"document_count":      result.DocumentCount,
	}
	if len(result.Entities) > 0 {
		metadata["entities"] = result.Entities
	}
	if !emitter.emit(event.NewMetadata(correlationID, metadata)) {
		return
	}

	// Gate answers arrive whole; pace them out.
	delay := time.Duration(0)
	if isGateAnswer(result.ModelUsed) {
		delay = gateTokenDelay
	}
	for _, token := range tokenize(result.Answer) {
		if !emitter.emit(event.NewToken(correlationID, token)) {
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}

	if len(result.Sources) > 0 {
		if !emitter.emit(event.NewSources(correlationID, result.Sources)) {
			return
		}
	}
	emitter.emit(event.NewDone(correlationID, time.Since(start)))
}

// eventEmitter sends validated events and tracks malformed ones. Once the
// reject count reaches maxEventErrors it emits one terminal error and
// refuses further sends.
type eventEmitter struct {
	ctx           context.Context
	ch            chan<- *event.Event
	correlationID string
	errorCount    int
	aborted       bool
}

// emit returns false when the stream should stop.
func (s *eventEmitter) emit(ev *event.Event) bool {
	if s.aborted {
		return false
	}
	if err := ev.Validate(); err != nil {
		s.errorCount++
		log.Warnf("engine: dropped malformed %s event: %v", ev.Type, err)
		if s.errorCount >= maxEventErrors {
			s.aborted = true
			s.send(event.NewError(s.correlationID, "stream aborted: too many malformed events"))
			return false
		}
		s.send(event.NewError(s.correlationID, err.Error()))
		return true
	}
	return s.send(ev)
}

func (s *eventEmitter) send(ev *event.Event) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.ctx.Done():
		s.aborted = true
		return false
	}
}

var gateNames = map[string]struct{}{
	gate.GateSecurity:      {},
	gate.GateGreeting:      {},
	gate.GateCasual:        {},
	gate.GateIdentity:      {},
	gate.GateClarification: {},
}

func isGateAnswer(modelUsed string) bool {
	if _, ok := gateNames[modelUsed]; ok {
		return true
	}
	return strings.HasPrefix(modelUsed, gate.GateOutOfDomainPrefix)
}

// tokenize splits an answer into whitespace-preserving word chunks.
func tokenize(answer string) []string {
	if answer == "" {
		return nil
	}
	return strings.SplitAfter(answer, " ")
}
