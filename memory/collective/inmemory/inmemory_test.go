//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/memory/collective"
)

const factContent = "KITAS extension requires a sponsor letter"

func TestPromotionAtThreeDistinctUsers(t *testing.T) {
	s := New()
	ctx := context.Background()

	fact, err := s.AddContribution(ctx, "user-1", factContent, "process", nil)
	require.NoError(t, err)
	require.Equal(t, 1, fact.SourceCount)
	require.False(t, fact.IsPromoted)

	fact, err = s.AddContribution(ctx, "user-2", factContent, "process", nil)
	require.NoError(t, err)
	require.Equal(t, 2, fact.SourceCount)
	require.False(t, fact.IsPromoted)

	fact, err = s.AddContribution(ctx, "user-3", factContent, "process", nil)
	require.NoError(t, err)
	require.Equal(t, 3, fact.SourceCount)
	require.True(t, fact.IsPromoted)

	// A fourth distinct user keeps counting.
	fact, err = s.AddContribution(ctx, "user-4", factContent, "process", nil)
	require.NoError(t, err)
	require.Equal(t, 4, fact.SourceCount)
	require.True(t, fact.IsPromoted)
}

func TestRepeatContributionIsNoOp(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.AddContribution(ctx, "user-1", factContent, "process", nil)
	require.NoError(t, err)
	again, err := s.AddContribution(ctx, "user-1", factContent, "process", nil)
	require.NoError(t, err)
	require.Equal(t, first.SourceCount, again.SourceCount)
	require.Equal(t, first.ID, again.ID)
}

func TestHashDedupIgnoresCaseAndSpace(t *testing.T) {
	s := New()
	ctx := context.Background()

	first, err := s.AddContribution(ctx, "user-1", factContent, "process", nil)
	require.NoError(t, err)
	second, err := s.AddContribution(ctx, "user-2", "  "+factContent+"  ", "process", nil)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 2, second.SourceCount)
}

func TestRefuteRemovesLowConfidenceFact(t *testing.T) {
	s := New()
	ctx := context.Background()

	fact, err := s.AddContribution(ctx, "user-1", factContent, "process", nil)
	require.NoError(t, err)

	// Enough distinct refuters push smoothed confidence below 0.2.
	for i := 0; i < 9; i++ {
		refuter := string(rune('a' + i))
		err = s.RefuteFact(ctx, "refuter-"+refuter, fact.ID)
		if err != nil {
			require.ErrorIs(t, err, collective.ErrFactNotFound)
			break
		}
	}
	_, exists := s.GetFact(fact.ID)
	require.False(t, exists)
}

func TestRefuteUnknownFact(t *testing.T) {
	s := New()
	err := s.RefuteFact(context.Background(), "user-1", "no-such-id")
	require.ErrorIs(t, err, collective.ErrFactNotFound)
}

func TestGetCollectiveContext_OrderAndFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	promote := func(content, category string, users int) {
		for i := 0; i < users; i++ {
			_, err := s.AddContribution(ctx, "user-"+content+string(rune('0'+i)), content, category, nil)
			require.NoError(t, err)
		}
	}
	promote("fact A", "process", 3)
	promote("fact B", "process", 5)
	promote("fact C", "pricing", 4)
	promote("unpromoted", "process", 2)

	facts, err := s.GetCollectiveContext(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	// Higher source count means higher smoothed confidence.
	require.Equal(t, "fact B", facts[0].Content)

	facts, err = s.GetCollectiveContext(ctx, "pricing", 0)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "fact C", facts[0].Content)
}

func TestValidation(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.AddContribution(ctx, "", factContent, "", nil)
	require.ErrorIs(t, err, collective.ErrUserIDRequired)
	_, err = s.AddContribution(ctx, "user-1", "   ", "", nil)
	require.ErrorIs(t, err, collective.ErrContentRequired)
}
