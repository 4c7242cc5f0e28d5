//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

// Package entity extracts domain entities from query text with regex and
// word-list heuristics. It is intentionally shallow; higher-precision
// extraction belongs to an external service.
package entity

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	visaCodePattern = regexp.MustCompile(`(?i)\b(E\d{2}[a-z]?|C\d{3}[a-z]?)\b`)
	permitPattern   = regexp.MustCompile(`(?i)\b(KITAS|KITAP)\b`)
	// Matches "USD 25,000", "$25k", "10 billion IDR", "Rp 500.000".
	budgetPattern = regexp.MustCompile(
		`(?i)(USD|IDR|EUR|SGD|AUD|Rp\.?|\$|€)\s*([\d.,]+)\s*(k|rb|juta|million|billion|miliar)?` +
			`|([\d.,]+)\s*(k|rb|juta|million|billion|miliar)?\s*(USD|IDR|EUR|SGD|AUD|rupiah|dollars?)`,
	)
)

var nationalities = []string{
	"american", "australian", "british", "canadian", "chinese", "dutch",
	"french", "german", "indian", "indonesian", "italian", "japanese",
	"korean", "malaysian", "russian", "singaporean", "spanish", "thai",
	"ukrainian", "vietnamese",
}

var currencyAliases = map[string]string{
	"$": "USD", "€": "EUR", "rp": "IDR", "rp.": "IDR",
	"rupiah": "IDR", "dollar": "USD", "dollars": "USD",
}

var multipliers = map[string]float64{
	"k": 1e3, "rb": 1e3, "juta": 1e6, "million": 1e6,
	"billion": 1e9, "miliar": 1e9,
}

// Budget is a normalized monetary amount.
type Budget struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// Extract returns the entities found in the query. Keys present only when
// matched: "visa_codes" []string, "permits" []string,
// "nationalities" []string, "budget" Budget.
func Extract(query string) map[string]any {
	entities := make(map[string]any)

	if codes := visaCodePattern.FindAllString(query, -1); len(codes) > 0 {
		entities["visa_codes"] = uniqueUpper(codes)
	}
	if permits := permitPattern.FindAllString(query, -1); len(permits) > 0 {
		entities["permits"] = uniqueUpper(permits)
	}
	if found := matchNationalities(query); len(found) > 0 {
		entities["nationalities"] = found
	}
	if budget, ok := matchBudget(query); ok {
		entities["budget"] = budget
	}
	return entities
}

func uniqueUpper(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		upper := strings.ToUpper(v)
		if _, ok := seen[upper]; ok {
			continue
		}
		seen[upper] = struct{}{}
		result = append(result, upper)
	}
	return result
}

func matchNationalities(query string) []string {
	lower := strings.ToLower(query)
	var found []string
	for _, nat := range nationalities {
		if containsWord(lower, nat) {
			found = append(found, nat)
		}
	}
	return found
}

func containsWord(text, word string) bool {
	idx := 0
	for {
		pos := strings.Index(text[idx:], word)
		if pos < 0 {
			return false
		}
		start := idx + pos
		end := start + len(word)
		beforeOK := start == 0 || !isLetter(text[start-1])
		afterOK := end == len(text) || !isLetter(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func matchBudget(query string) (Budget, bool) {
	match := budgetPattern.FindStringSubmatch(query)
	if match == nil {
		return Budget{}, false
	}
	var currency, number, scale string
	if match[1] != "" {
		currency, number, scale = match[1], match[2], match[3]
	} else {
		number, scale, currency = match[4], match[5], match[6]
	}
	amount, err := parseAmount(number)
	if err != nil {
		return Budget{}, false
	}
	if mult, ok := multipliers[strings.ToLower(scale)]; ok {
		amount *= mult
	}
	return Budget{Amount: amount, Currency: normalizeCurrency(currency)}, true
}

func parseAmount(raw string) (float64, error) {
	cleaned := strings.NewReplacer(",", "", ".", "").Replace(raw)
	// Keep a trailing decimal part when the raw text looks like "2.5".
	if dot := strings.LastIndex(raw, "."); dot >= 0 && len(raw)-dot <= 3 && !strings.Contains(raw, ",") {
		cleaned = strings.ReplaceAll(raw, ",", "")
		return strconv.ParseFloat(cleaned, 64)
	}
	return strconv.ParseFloat(cleaned, 64)
}

func normalizeCurrency(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := currencyAliases[lower]; ok {
		return canonical
	}
	return strings.ToUpper(lower)
}
