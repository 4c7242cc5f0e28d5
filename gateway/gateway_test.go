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
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/model"
)

type scriptedModel struct {
	name    string
	reply   string
	err     error
	inband  *model.ResponseError
	usage   *model.Usage
	calls   int
	lastReq *model.Request
}

func (s *scriptedModel) Info() model.Info { return model.Info{Name: s.name} }

func (s *scriptedModel) GenerateContent(_ context.Context, req *model.Request) (<-chan *model.Response, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan *model.Response, 1)
	rsp := &model.Response{Done: true}
	if s.inband != nil {
		rsp.Error = s.inband
	} else {
		rsp.Choices = []model.Choice{
			{Message: model.Message{Role: model.RoleAssistant, Content: s.reply}},
		}
		rsp.Usage = s.usage
	}
	ch <- rsp
	close(ch)
	return ch, nil
}

func newTestGateway(primary, secondary *scriptedModel) *Gateway {
	return New(
		WithModel("primary", primary, Price{InputPerMillion: 3, OutputPerMillion: 15}),
		WithModel("cheap", secondary, Price{InputPerMillion: 0.15, OutputPerMillion: 0.6}),
		WithTier("premium", "primary", "cheap"),
	)
}

func TestSend_PrimarySucceeds(t *testing.T) {
	primary := &scriptedModel{name: "primary", reply: "answer",
		usage: &model.Usage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500}}
	cheap := &scriptedModel{name: "cheap", reply: "cheap answer"}
	g := newTestGateway(primary, cheap)

	tracker := &CostTracker{}
	result, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
		Tracker:  tracker,
	})
	require.NoError(t, err)
	require.Equal(t, "answer", result.Text)
	require.Equal(t, "primary", result.ModelName)
	require.Zero(t, cheap.calls)
	// 1000 in at $3/M + 500 out at $15/M.
	require.InDelta(t, 0.0105, tracker.CostUSD, 1e-9)
	require.Equal(t, 1, tracker.Depth)
}

func TestSend_FallsBackOnError(t *testing.T) {
	primary := &scriptedModel{name: "primary", err: errors.New("connection refused")}
	cheap := &scriptedModel{name: "cheap", reply: "fallback answer"}
	g := newTestGateway(primary, cheap)

	tracker := &CostTracker{}
	result, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
		Tracker:  tracker,
	})
	require.NoError(t, err)
	require.Equal(t, "fallback answer", result.Text)
	require.Equal(t, 2, tracker.Depth)
}

func TestSend_FallsBackOnInBandQuotaError(t *testing.T) {
	code := "rate_limit_exceeded"
	primary := &scriptedModel{name: "primary",
		inband: &model.ResponseError{Message: "slow down", Code: &code}}
	cheap := &scriptedModel{name: "cheap", reply: "ok"}
	g := newTestGateway(primary, cheap)

	result, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
	})
	require.NoError(t, err)
	require.Equal(t, "cheap", result.ModelName)
}

func TestSend_AllFail(t *testing.T) {
	primary := &scriptedModel{name: "primary", err: errors.New("down")}
	cheap := &scriptedModel{name: "cheap", err: errors.New("also down")}
	g := newTestGateway(primary, cheap)

	_, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
	})
	require.ErrorIs(t, err, ErrAllModelsFailed)
}

func TestSend_CostBudgetAborts(t *testing.T) {
	primary := &scriptedModel{name: "primary", reply: "never reached"}
	cheap := &scriptedModel{name: "cheap", reply: "never reached"}
	g := newTestGateway(primary, cheap)

	tracker := &CostTracker{CostUSD: 0.11}
	_, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
		Tracker:  tracker,
	})
	require.ErrorIs(t, err, ErrAllModelsFailed)
	require.Zero(t, primary.calls)
}

func TestSend_DepthBudgetAborts(t *testing.T) {
	primary := &scriptedModel{name: "primary", err: errors.New("down")}
	cheap := &scriptedModel{name: "cheap", reply: "never reached"}
	g := New(
		WithModel("primary", primary, Price{InputPerMillion: 3, OutputPerMillion: 15}),
		WithModel("cheap", cheap, Price{InputPerMillion: 0.15, OutputPerMillion: 0.6}),
		WithTier("premium", "primary", "cheap"),
		WithMaxFallbackDepth(1),
	)

	tracker := &CostTracker{}
	_, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
		Tracker:  tracker,
	})
	require.ErrorIs(t, err, ErrAllModelsFailed)
	require.Equal(t, 1, primary.calls)
	require.Zero(t, cheap.calls)
	require.Equal(t, 1, tracker.Depth)
}

func TestSend_UnknownTierUsesCheapest(t *testing.T) {
	primary := &scriptedModel{name: "primary", reply: "expensive"}
	cheap := &scriptedModel{name: "cheap", reply: "cheap answer"}
	g := newTestGateway(primary, cheap)

	result, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "no-such-tier",
	})
	require.NoError(t, err)
	require.Equal(t, "cheap", result.ModelName)
}

func TestSend_SystemPromptPrepended(t *testing.T) {
	primary := &scriptedModel{name: "primary", reply: "ok"}
	cheap := &scriptedModel{name: "cheap", reply: "ok"}
	g := newTestGateway(primary, cheap)

	_, err := g.Send(context.Background(), SendRequest{
		Messages:     []model.Message{model.NewUserMessage("q")},
		SystemPrompt: "be precise",
		Tier:         "premium",
	})
	require.NoError(t, err)
	require.Len(t, primary.lastReq.Messages, 2)
	require.Equal(t, model.RoleSystem, primary.lastReq.Messages[0].Role)
}

func TestBreakerOpensAfterFiveFailures(t *testing.T) {
	primary := &scriptedModel{name: "primary", err: errors.New("down")}
	cheap := &scriptedModel{name: "cheap", reply: "ok"}
	g := newTestGateway(primary, cheap)

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := g.Send(context.Background(), SendRequest{
			Messages: []model.Message{model.NewUserMessage("q")},
			Tier:     "premium",
		})
		require.NoError(t, err)
	}
	require.True(t, g.BreakerOpen("primary"))
	calls := primary.calls

	// Open breaker skips the model entirely.
	_, err := g.Send(context.Background(), SendRequest{
		Messages: []model.Message{model.NewUserMessage("q")},
		Tier:     "premium",
	})
	require.NoError(t, err)
	require.Equal(t, calls, primary.calls)
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := newBreaker()
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < breakerFailureThreshold; i++ {
		b.Failure()
	}
	require.False(t, b.Allow())

	// Window elapses, probe admitted.
	now = now.Add(breakerOpenWindow + time.Second)
	require.True(t, b.Allow())
	require.False(t, b.Success())
	require.True(t, b.Allow())
	require.True(t, b.Success())
	require.False(t, b.Open())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newBreaker()
	now := time.Now()
	b.now = func() time.Time { return now }

	for i := 0; i < breakerFailureThreshold; i++ {
		b.Failure()
	}
	now = now.Add(breakerOpenWindow + time.Second)
	require.True(t, b.Allow())
	require.True(t, b.Failure())
	require.False(t, b.Allow())
}

func TestHealthCheck(t *testing.T) {
	primary := &scriptedModel{name: "primary", reply: "pong"}
	cheap := &scriptedModel{name: "cheap", err: errors.New("down")}
	g := newTestGateway(primary, cheap)

	health := g.HealthCheck(context.Background())
	require.True(t, health["primary"])
	require.False(t, health["cheap"])
}
