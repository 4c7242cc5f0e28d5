//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	corr := NewCorrelationID()
	tests := []struct {
		name    string
		event   *Event
		wantErr error
	}{
		{name: "status", event: NewStatus(corr, "searching")},
		{name: "metadata", event: NewMetadata(corr, map[string]any{"intent": "legal"})},
		{name: "token", event: NewToken(corr, "hello")},
		{name: "sources", event: NewSources(corr, []map[string]any{{"title": "doc"}})},
		{name: "error", event: NewError(corr, "boom")},
		{name: "done", event: NewDone(corr, 250*time.Millisecond)},
		{
			name:    "unknown type",
			event:   &Event{Type: "progress", Data: "x", CorrelationID: corr},
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing correlation",
			event:   &Event{Type: TypeToken, Data: "x"},
			wantErr: ErrMissingCorrelation,
		},
		{
			name:    "nil metadata data",
			event:   &Event{Type: TypeMetadata, CorrelationID: corr},
			wantErr: ErrMissingData,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.event.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestValidate_TokenTypeMismatch(t *testing.T) {
	e := &Event{Type: TypeToken, Data: 42, CorrelationID: NewCorrelationID()}
	require.Error(t, e.Validate())
}

func TestNew_StampsTimestamp(t *testing.T) {
	before := time.Now()
	e := NewToken(NewCorrelationID(), "t")
	require.False(t, e.Timestamp.Before(before))
	require.NoError(t, e.Validate())
}
