//
// Tencent is pleased to support the open source community by making trpc-rag-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-rag-go is licensed under the Apache License Version 2.0.
//
//

package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/memory"
)

type recordedCall struct {
	sql  string
	args []any
}

// fakeClient routes queries by table and records every Exec.
type fakeClient struct {
	profileRow  *fakeRow
	factRows    [][]any
	episodeRows [][]any
	execs       []recordedCall
	execErr     error
}

func (c *fakeClient) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.execs = append(c.execs, recordedCall{sql: sql, args: args})
	return pgconn.CommandTag{}, c.execErr
}

func (c *fakeClient) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	switch {
	case strings.Contains(sql, "FROM user_facts"):
		return &fakeRows{rows: c.factRows}, nil
	case strings.Contains(sql, "FROM user_episodes"):
		return &fakeRows{rows: c.episodeRows}, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (c *fakeClient) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, "FROM user_profiles") {
		if c.profileRow != nil {
			return c.profileRow
		}
		return &fakeRow{err: pgx.ErrNoRows}
	}
	return &fakeRow{err: fmt.Errorf("unexpected query row: %s", sql)}
}

func (c *fakeClient) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("transactions are not used here")
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) Close() {}

type fakeRow struct {
	values []any
	err    error
}

func (r *fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

type fakeRows struct {
	rows    [][]any
	current []any
}

func (r *fakeRows) Next() bool {
	if len(r.rows) == 0 {
		return false
	}
	r.current = r.rows[0]
	r.rows = r.rows[1:]
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return scanInto(dest, r.current)
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.current, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

// scanInto copies scripted values into scan destinations, allocating
// through pointer targets for nullable columns.
func scanInto(dest []any, values []any) error {
	if len(dest) != len(values) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(values))
	}
	for i, value := range values {
		target := reflect.ValueOf(dest[i]).Elem()
		if value == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		from := reflect.ValueOf(value)
		switch {
		case from.Type().AssignableTo(target.Type()):
			target.Set(from)
		case target.Kind() == reflect.Pointer && from.Type().AssignableTo(target.Type().Elem()):
			boxed := reflect.New(target.Type().Elem())
			boxed.Elem().Set(from)
			target.Set(boxed)
		case from.Type().ConvertibleTo(target.Type()):
			target.Set(from.Convert(target.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %s", value, target.Type())
		}
	}
	return nil
}

func newTestBackend(t *testing.T, client *fakeClient) *Backend {
	t.Helper()
	b, err := New(context.Background(), WithClient(client))
	require.NoError(t, err)
	return b
}

func TestFetchContext_CompositeRead(t *testing.T) {
	now := time.Now()
	client := &fakeClient{
		profileRow: &fakeRow{values: []any{
			"Marco Rossi", "founder", "operations", "it", "prefers email", "marco@example.com",
			7,
			[]byte(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"},{"role":"user","content":"again"}]`),
		}},
		factRows: [][]any{
			{"f1", "Runs a villa rental business", "business", 0.9, "conversation", now},
			{"f2", "Holds a C1 visa", nil, nil, nil, now},
		},
		episodeRows: [][]any{
			{"Asked about KITAS renewal"},
			{"Asked about company setup"},
		},
	}
	b := newTestBackend(t, client)

	userCtx, err := b.FetchContext(context.Background(), "user-42",
		memory.ContextOptions{SessionID: "s1", HistoryLimit: 2})
	require.NoError(t, err)

	require.Equal(t, "user-42", userCtx.Profile.ID)
	require.Equal(t, "Marco Rossi", userCtx.Profile.Name)
	require.Equal(t, "it", userCtx.Profile.LanguagePref)
	require.Equal(t, "marco@example.com", userCtx.Profile.Email)

	// HistoryLimit trims from the front.
	require.Len(t, userCtx.History, 2)
	require.Equal(t, "hello", userCtx.History[0].Content)
	require.Equal(t, "again", userCtx.History[1].Content)

	require.Len(t, userCtx.Facts, 2)
	require.Equal(t, "Runs a villa rental business", userCtx.Facts[0].Content)
	require.Equal(t, 0.9, userCtx.Facts[0].Confidence)
	require.Zero(t, userCtx.Facts[1].Confidence)

	// Episodes come back newest-first and are presented oldest-first.
	require.Equal(t, "Asked about company setup\nAsked about KITAS renewal",
		userCtx.TimelineSummary)
}

func TestFetchContext_UnknownUser(t *testing.T) {
	b := newTestBackend(t, &fakeClient{})

	userCtx, err := b.FetchContext(context.Background(), "ghost", memory.ContextOptions{})
	require.NoError(t, err)
	require.Nil(t, userCtx.Profile)
	require.Empty(t, userCtx.History)
	require.Empty(t, userCtx.Facts)
}

func TestAddFact(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(t, client)

	err := b.AddFact(context.Background(), "", memory.Fact{Content: "something"})
	require.ErrorIs(t, err, memory.ErrUserKeyRequired)

	err = b.AddFact(context.Background(), "user-42", memory.Fact{Content: "   "})
	require.ErrorIs(t, err, memory.ErrFactContentRequired)

	err = b.AddFact(context.Background(), "user-42", memory.Fact{Content: "Holds a C1 visa"})
	require.NoError(t, err)
	require.Len(t, client.execs, 1)
	insert := client.execs[0]
	require.Contains(t, insert.sql, "INSERT INTO user_facts")
	require.Contains(t, insert.sql, "ON CONFLICT (user_id, content) DO NOTHING")
	require.NotEmpty(t, insert.args[0])
	require.Equal(t, "user-42", insert.args[1])
	require.Equal(t, "Holds a C1 visa", insert.args[2])
}

func TestAddFact_KeepsProvidedID(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(t, client)

	err := b.AddFact(context.Background(), "user-42",
		memory.Fact{ID: "fixed-id", Content: "Holds a C1 visa"})
	require.NoError(t, err)
	require.Equal(t, "fixed-id", client.execs[0].args[0])
}

func TestIncrementConversationCount(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(t, client)

	require.NoError(t, b.IncrementConversationCount(context.Background(), "user-42"))
	require.Len(t, client.execs, 1)
	require.Contains(t, client.execs[0].sql, "UPDATE user_profiles")
	require.Equal(t, []any{"user-42"}, client.execs[0].args)
}

func TestSaveEpisode(t *testing.T) {
	client := &fakeClient{}
	b := newTestBackend(t, client)

	require.NoError(t, b.SaveEpisode(context.Background(), "user-42", "Asked about taxes"))
	require.Len(t, client.execs, 1)
	require.Contains(t, client.execs[0].sql, "INSERT INTO user_episodes")
	require.Equal(t, "Asked about taxes", client.execs[0].args[2])
}

func TestSaveEpisode_ExecError(t *testing.T) {
	client := &fakeClient{execErr: errors.New("connection reset")}
	b := newTestBackend(t, client)

	err := b.SaveEpisode(context.Background(), "user-42", "Asked about taxes")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
}
