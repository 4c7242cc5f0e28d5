//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package language detects the language of a query with deliberately cheap
// heuristics: Unicode script ranges first, then small word lists for the
// Latin-script languages the assistant commonly sees. Detection is imprecise
// by design; callers that need precision must use an external service.
package language

import (
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Info describes the detected language of a text.
type Info struct {
	// Tag is the canonical language tag, language.Und when unknown.
	Tag language.Tag
	// Code is the ISO 639-1 code, empty when unknown.
	Code string
	// Name is the English display name, empty when unknown.
	Name string
	// Confident reports whether the detection is trustworthy enough to pick
	// canned responses in that language. Mixed-script and unmatched inputs
	// are not confident.
	Confident bool
}

// Und is the unknown-language result.
var Und = Info{Tag: language.Und}

var wordLists = map[string][]string{
	"it": {"ciao", "grazie", "come", "sono", "dove", "quanto", "quale", "posso", "vorrei", "buongiorno"},
	"id": {"apa", "bagaimana", "berapa", "yang", "untuk", "dengan", "saya", "bisa", "tidak", "terima", "kasih", "halo"},
	"es": {"hola", "gracias", "como", "donde", "cuanto", "puedo", "quiero", "buenos", "dias"},
	"de": {"hallo", "danke", "wie", "was", "ich", "nicht", "bitte", "kann", "möchte"},
	"fr": {"bonjour", "merci", "comment", "pourquoi", "combien", "je", "voudrais", "salut"},
	"nl": {"hallo", "hoe", "wat", "dank", "waarom", "kunnen", "graag"},
	"en": {"hello", "hi", "thanks", "how", "what", "where", "which", "can", "could", "please"},
}

// Detect returns the dominant language of text. Script ranges win over word
// lists; when scripts are mixed the dominant script is preferred.
func Detect(text string) Info {
	if strings.TrimSpace(text) == "" {
		return Und
	}

	var kana, hangul, cyrillic, arabic, han, latin int
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Hiragana, unicode.Katakana):
			kana++
		case unicode.In(r, unicode.Hangul):
			hangul++
		case unicode.In(r, unicode.Cyrillic):
			cyrillic++
		case unicode.In(r, unicode.Arabic):
			arabic++
		case unicode.In(r, unicode.Han):
			han++
		case unicode.In(r, unicode.Latin):
			latin++
		}
	}

	// Kana implies Japanese even when Han characters dominate the count.
	if kana > 0 && kana >= hangul && kana >= cyrillic && kana >= arabic {
		return mk(language.Japanese, true)
	}
	best, bestCount := language.Und, 0
	for _, c := range []struct {
		tag   language.Tag
		count int
	}{
		{language.Korean, hangul},
		{language.Russian, cyrillic},
		{language.Arabic, arabic},
		{language.Chinese, han},
	} {
		if c.count > bestCount {
			best, bestCount = c.tag, c.count
		}
	}
	if bestCount > 0 && bestCount >= latin {
		return mk(best, true)
	}
	if latin == 0 {
		return Und
	}

	return detectLatin(text)
}

// detectLatin scores the Latin-script word lists and returns the best hit.
func detectLatin(text string) Info {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Und
	}
	bestCode, bestScore := "", 0
	for code, words := range wordLists {
		score := 0
		for _, w := range words {
			if _, ok := tokens[w]; ok {
				score++
			}
		}
		// Deterministic tie-break so repeated calls agree.
		if score > bestScore || (score == bestScore && score > 0 && code < bestCode) {
			bestCode, bestScore = code, score
		}
	}
	if bestScore == 0 {
		return Und
	}
	tag, err := language.Parse(bestCode)
	if err != nil {
		return Und
	}
	// A single matched word on a long query is weak evidence.
	return mk(tag, bestScore > 1 || len(tokens) <= 4)
}

func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		tokens[f] = struct{}{}
	}
	return tokens
}

func mk(tag language.Tag, confident bool) Info {
	base, _ := tag.Base()
	return Info{
		Tag:       tag,
		Code:      base.String(),
		Name:      display.English.Tags().Name(tag),
		Confident: confident,
	}
}
