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
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-rag-go/memory/collective"
)

type recordedCall struct {
	sql  string
	args []any
}

// fakeDB scripts the row each statement family returns and records every
// statement executed inside the transaction.
type fakeDB struct {
	factByHash  []any
	endorsed    bool
	recount     []any
	factByID    []any
	contextRows [][]any
	execs       []recordedCall
	commits     int
	rollbacks   int
}

func (db *fakeDB) row(sql string) pgx.Row {
	switch {
	case strings.Contains(sql, "content_hash = $1"):
		if db.factByHash == nil {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		return &fakeRow{values: db.factByHash}
	case strings.Contains(sql, "SELECT EXISTS"):
		return &fakeRow{values: []any{db.endorsed}}
	case strings.Contains(sql, "COUNT(DISTINCT"):
		return &fakeRow{values: db.recount}
	case strings.Contains(sql, "WHERE id = $1 FOR UPDATE"):
		if db.factByID == nil {
			return &fakeRow{err: pgx.ErrNoRows}
		}
		return &fakeRow{values: db.factByID}
	}
	return &fakeRow{err: fmt.Errorf("unexpected query row: %s", sql)}
}

func (db *fakeDB) exec(sql string, args []any) (pgconn.CommandTag, error) {
	db.execs = append(db.execs, recordedCall{sql: sql, args: args})
	return pgconn.CommandTag{}, nil
}

func (db *fakeDB) execsContaining(fragment string) []recordedCall {
	var matched []recordedCall
	for _, call := range db.execs {
		if strings.Contains(call.sql, fragment) {
			matched = append(matched, call)
		}
	}
	return matched
}

type fakeClient struct {
	db *fakeDB
}

func (c *fakeClient) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return c.db.exec(sql, args)
}

func (c *fakeClient) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "FROM collective_memories") {
		return &fakeRows{rows: c.db.contextRows}, nil
	}
	return nil, fmt.Errorf("unexpected query: %s", sql)
}

func (c *fakeClient) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return c.db.row(sql)
}

func (c *fakeClient) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: c.db}, nil
}

func (c *fakeClient) Ping(context.Context) error { return nil }

func (c *fakeClient) Close() {}

type fakeTx struct {
	db *fakeDB
}

func (t *fakeTx) Begin(context.Context) (pgx.Tx, error) { return t, nil }

func (t *fakeTx) Commit(context.Context) error {
	t.db.commits++
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	t.db.rollbacks++
	return nil
}

func (t *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, fmt.Errorf("copy from is not scripted")
}

func (t *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) LargeObjects() pgx.LargeObjects { return pgx.LargeObjects{} }

func (t *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, fmt.Errorf("prepare is not scripted")
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return t.db.exec(sql, args)
}

func (t *fakeTx) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	return nil, fmt.Errorf("unexpected tx query: %s", sql)
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return t.db.row(sql)
}

func (t *fakeTx) Conn() *pgx.Conn { return nil }

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

func newTestService(t *testing.T, db *fakeDB) *Service {
	t.Helper()
	s, err := New(context.Background(), WithClient(&fakeClient{db: db}))
	require.NoError(t, err)
	return s
}

func TestAddContribution_NewFact(t *testing.T) {
	db := &fakeDB{}
	s := newTestService(t, db)

	content := "KITAS renewal takes five working days"
	fact, err := s.AddContribution(context.Background(), "user-1", content, "visa", nil)
	require.NoError(t, err)

	require.NotEmpty(t, fact.ID)
	require.Equal(t, content, fact.Content)
	require.Equal(t, collective.HashContent(content), fact.ContentHash)
	require.Equal(t, 1, fact.SourceCount)
	require.InDelta(t, collective.Confidence(1, 0), fact.Confidence, 1e-9)
	require.False(t, fact.IsPromoted)

	require.Len(t, db.execsContaining("INSERT INTO collective_memories"), 1)
	require.Len(t, db.execsContaining("'contribute'"), 1)
	require.Equal(t, 1, db.commits)
}

func TestAddContribution_SecondUserConfirms(t *testing.T) {
	db := &fakeDB{
		factByHash: []any{"m1", "KITAS renewal takes five working days", "visa",
			collective.Confidence(1, 0), 1, false},
		recount: []any{2, 0},
	}
	s := newTestService(t, db)

	fact, err := s.AddContribution(context.Background(), "user-2",
		"KITAS renewal takes five working days", "visa", nil)
	require.NoError(t, err)

	require.Equal(t, 2, fact.SourceCount)
	require.InDelta(t, collective.Confidence(2, 0), fact.Confidence, 1e-9)
	require.False(t, fact.IsPromoted)

	require.Len(t, db.execsContaining("'confirm'"), 1)
	updates := db.execsContaining("UPDATE collective_memories")
	require.Len(t, updates, 1)
	require.Equal(t, 2, updates[0].args[1])
	require.Equal(t, 1, db.commits)
}

func TestAddContribution_ThirdDistinctUserPromotes(t *testing.T) {
	db := &fakeDB{
		factByHash: []any{"m1", "KITAS renewal takes five working days", "visa",
			collective.Confidence(2, 0), 2, false},
		recount: []any{collective.PromotionThreshold, 0},
	}
	s := newTestService(t, db)

	fact, err := s.AddContribution(context.Background(), "user-3",
		"KITAS renewal takes five working days", "visa", nil)
	require.NoError(t, err)

	require.True(t, fact.IsPromoted)
	require.Equal(t, collective.PromotionThreshold, fact.SourceCount)
	updates := db.execsContaining("UPDATE collective_memories")
	require.Len(t, updates, 1)
	require.Equal(t, true, updates[0].args[3])
}

func TestAddContribution_RepeatEndorsementIsNoOp(t *testing.T) {
	db := &fakeDB{
		factByHash: []any{"m1", "KITAS renewal takes five working days", "visa",
			collective.Confidence(2, 0), 2, false},
		endorsed: true,
	}
	s := newTestService(t, db)

	fact, err := s.AddContribution(context.Background(), "user-2",
		"KITAS renewal takes five working days", "visa", nil)
	require.NoError(t, err)

	// Counts are untouched and nothing is written.
	require.Equal(t, 2, fact.SourceCount)
	require.Empty(t, db.execs)
	require.Equal(t, 1, db.commits)
}

func TestAddContribution_Validation(t *testing.T) {
	s := newTestService(t, &fakeDB{})

	_, err := s.AddContribution(context.Background(), "", "content", "", nil)
	require.ErrorIs(t, err, collective.ErrUserIDRequired)

	_, err = s.AddContribution(context.Background(), "user-1", "   ", "", nil)
	require.ErrorIs(t, err, collective.ErrContentRequired)
}

func TestRefuteFact_DeletesBelowRemovalThreshold(t *testing.T) {
	db := &fakeDB{
		factByID: []any{"m1", "hash", 0.5},
		recount:  []any{0, 4},
	}
	s := newTestService(t, db)

	require.NoError(t, s.RefuteFact(context.Background(), "user-9", "m1"))
	require.Len(t, db.execsContaining("'refute'"), 1)
	require.Len(t, db.execsContaining("DELETE FROM collective_memories"), 1)
	require.Equal(t, 1, db.commits)
}

func TestRefuteFact_KeepsFactAboveThreshold(t *testing.T) {
	db := &fakeDB{
		factByID: []any{"m1", "hash", 0.75},
		recount:  []any{2, 1},
	}
	s := newTestService(t, db)

	require.NoError(t, s.RefuteFact(context.Background(), "user-9", "m1"))
	require.Empty(t, db.execsContaining("DELETE FROM collective_memories"))
	updates := db.execsContaining("UPDATE collective_memories")
	require.Len(t, updates, 1)
	require.InDelta(t, collective.Confidence(2, 1), updates[0].args[2], 1e-9)
}

func TestRefuteFact_UnknownFact(t *testing.T) {
	db := &fakeDB{}
	s := newTestService(t, db)

	err := s.RefuteFact(context.Background(), "user-9", "missing")
	require.ErrorIs(t, err, collective.ErrFactNotFound)
	require.Zero(t, db.commits)
}

func TestGetCollectiveContext(t *testing.T) {
	now := time.Now()
	db := &fakeDB{
		contextRows: [][]any{
			{"m1", "KITAS renewal takes five working days", "h1", "visa",
				0.9, 5, true, now, now, []byte(`{"region":"bali"}`)},
			{"m2", "PT PMA setup needs a notary", "h2", nil,
				0.8, 3, true, now, now, nil},
		},
	}
	s := newTestService(t, db)

	facts, err := s.GetCollectiveContext(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, facts, 2)

	require.Equal(t, "m1", facts[0].ID)
	require.Equal(t, "visa", facts[0].Category)
	require.Equal(t, map[string]any{"region": "bali"}, facts[0].Metadata)
	require.Equal(t, 5, facts[0].SourceCount)

	require.Empty(t, facts[1].Category)
	require.Nil(t, facts[1].Metadata)
}
