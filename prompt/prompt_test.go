//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package prompt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/memory"
)

func TestBuild_ContainsCoreSections(t *testing.T) {
	b := New()
	prompt := b.Build(context.Background(), BuildInput{
		UserID: "u",
		Query:  "what is the fee for an E33G visa?",
	})
	require.Contains(t, prompt, "Your role is fixed")
	require.Contains(t, prompt, "<user_memory>")
	require.Contains(t, prompt, "<verified_data>")
	require.Contains(t, prompt, "ABSTAIN")
	require.Contains(t, prompt, "[n] markers")
}

func TestBuild_UserMemoryBlock(t *testing.T) {
	b := New()
	uc := &memory.UserContext{
		Profile:         &memory.Profile{Name: "Marco", Role: "founder", Department: "ops"},
		Facts:           []memory.Fact{{Content: "Prefers English"}},
		CollectiveFacts: []string{"KITAS extension requires a sponsor letter"},
		TimelineSummary: "Asked about visas",
	}
	prompt := b.Build(context.Background(), BuildInput{
		UserID:      "marco@example.com",
		Query:       "hi",
		UserContext: uc,
	})
	require.Contains(t, prompt, "Name: Marco")
	require.Contains(t, prompt, "Prefers English")
	require.Contains(t, prompt, "sponsor letter")
	require.Contains(t, prompt, "Asked about visas")
}

func TestBuild_CacheIdempotence(t *testing.T) {
	b := New()
	input := BuildInput{
		UserID:      "u",
		Query:       "how much is company setup?",
		UserContext: &memory.UserContext{Facts: []memory.Fact{{Content: "x"}}},
	}
	first := b.Build(context.Background(), input)
	second := b.Build(context.Background(), input)
	require.Equal(t, first, second)
}

func TestBuild_CacheKeyChangesWithFactCount(t *testing.T) {
	b := New()
	base := BuildInput{UserID: "u", Query: "hello"}
	withFact := base
	withFact.UserContext = &memory.UserContext{Facts: []memory.Fact{{Content: "Prefers English"}}}

	plain := b.Build(context.Background(), base)
	enriched := b.Build(context.Background(), withFact)
	require.NotEqual(t, plain, enriched)
	require.Contains(t, enriched, "Prefers English")
}

func TestBuild_CacheExpires(t *testing.T) {
	b := New(WithCacheTTL(10 * time.Millisecond))
	input := BuildInput{UserID: "u", Query: "hello"}
	first := b.Build(context.Background(), input)
	time.Sleep(20 * time.Millisecond)
	second := b.Build(context.Background(), input)
	require.Equal(t, first, second)
}

func TestBuild_CreatorPersona(t *testing.T) {
	b := New()
	prompt := b.Build(context.Background(), BuildInput{
		UserID:      "r@example.com",
		Query:       "status?",
		UserContext: &memory.UserContext{Profile: &memory.Profile{Name: CreatorName}},
	})
	require.Contains(t, prompt, "engineer who built you")
}

func TestBuild_TeamPersona(t *testing.T) {
	b := New()
	prompt := b.Build(context.Background(), BuildInput{
		UserID: "dea" + TeamEmailDomain,
		Query:  "list clients",
	})
	require.Contains(t, prompt, "team member")
}

func TestBuild_DeepThink(t *testing.T) {
	b := New()
	prompt := b.Build(context.Background(), BuildInput{
		UserID:    "u",
		Query:     "compare E28A and E33G",
		DeepThink: true,
	})
	require.Contains(t, prompt, "step by step")
}

func TestBuild_LanguageProtocol(t *testing.T) {
	b := New()
	prompt := b.Build(context.Background(), BuildInput{
		UserID: "u",
		Query:  "quanto costa il visto per lavorare in Indonesia e quali sono i requisiti",
	})
	require.Contains(t, prompt, "Answer in Italian")
}
