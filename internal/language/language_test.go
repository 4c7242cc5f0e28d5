//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package language

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectScripts(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{name: "japanese kana", text: "ビザの更新はどうすればいいですか", code: "ja"},
		{name: "japanese mixed han", text: "会社設立の手続きを教えてください", code: "ja"},
		{name: "korean", text: "비자 연장은 어떻게 하나요", code: "ko"},
		{name: "russian", text: "как продлить визу", code: "ru"},
		{name: "arabic", text: "كيف أجدد التأشيرة", code: "ar"},
		{name: "chinese", text: "如何申请工作签证", code: "zh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Detect(tt.text)
			require.Equal(t, tt.code, info.Code)
			require.True(t, info.Confident)
		})
	}
}

func TestDetectLatin(t *testing.T) {
	tests := []struct {
		name string
		text string
		code string
	}{
		{name: "italian greeting", text: "Ciao! Come stai?", code: "it"},
		{name: "italian question", text: "Quanto costa il visto e dove posso pagarlo?", code: "it"},
		{name: "indonesian", text: "Bagaimana cara memperpanjang visa saya?", code: "id"},
		{name: "english", text: "How can I extend my visa, please?", code: "en"},
		{name: "spanish", text: "Hola, cuanto cuesta el visado?", code: "es"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Detect(tt.text)
			require.Equal(t, tt.code, info.Code)
		})
	}
}

func TestDetectUnknown(t *testing.T) {
	require.Equal(t, Und, Detect(""))
	require.Equal(t, Und, Detect("   "))
	require.Equal(t, Und, Detect("12345 !!!"))

	// Unmatched Latin words stay unknown rather than guessing.
	info := Detect("xyzzy plugh quux")
	require.Empty(t, info.Code)
	require.False(t, info.Confident)
}

func TestDetectMixedPrefersDominantScript(t *testing.T) {
	// A short Latin tail must not override the dominant script.
	info := Detect("ビザ KITAS の費用はいくらですか")
	require.Equal(t, "ja", info.Code)
}

func TestDetectName(t *testing.T) {
	require.Equal(t, "Italian", Detect("Ciao, come posso aiutarti? Grazie mille.").Name)
}
