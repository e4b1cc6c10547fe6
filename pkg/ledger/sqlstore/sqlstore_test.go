package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qontrek/civos/pkg/contracts"
	"github.com/qontrek/civos/pkg/ledger"
)

func TestSQLiteRoundTripPreservesChain(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	l := ledger.New(ledger.WithSink(store))
	_, err = l.Append(ctx, contracts.ProofEntryInput{
		Type:   "quote_generated",
		Actor:  contracts.ActorAI,
		Action: "generate_quote",
		Classification: &contracts.ClassificationResult{
			Type: contracts.TypeB, Confidence: 0.76, Reason: "Generate/send action requires confirmation",
			Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC),
		},
		Context: map[string]any{"quote_id": "quote_1", "panels": 12},
	})
	require.NoError(t, err)
	_, err = l.Append(ctx, contracts.ProofEntryInput{
		Type: "quote_confirmed", Actor: contracts.ActorHuman, Action: "confirm_quote",
	})
	require.NoError(t, err)

	loaded, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "quote_1", loaded[0].Context["quote_id"])
	assert.Nil(t, loaded[1].Classification)

	restored := ledger.New()
	n, err := restored.Restore(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, l.Head(), restored.Head())
}

func TestSQLiteRejectsDuplicateSequence(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	e := contracts.ProofEntry{ID: "proof_1", Sequence: 1, Type: "t", Actor: contracts.ActorSystem, PrevHash: ledger.GenesisHash, ContentHash: "sha256:x"}
	require.NoError(t, store.Write(ctx, e))
	e.ID = "proof_2"
	assert.Error(t, store.Write(ctx, e))
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "")
	assert.Error(t, err)
}

func TestPostgresWrite(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(db)
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	e := contracts.ProofEntry{
		ID: "proof_1", Sequence: 1, Type: "action_proposed", Timestamp: ts,
		Actor: contracts.ActorAI, Action: "generate_quote",
		PrevHash: ledger.GenesisHash, ContentHash: "sha256:abc",
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO proof_entries")).
		WithArgs(int64(1), "proof_1", "action_proposed", "2026-03-01T09:00:00Z", "ai", "generate_quote",
			sqlmock.AnyArg(), sqlmock.AnyArg(), ledger.GenesisHash, "sha256:abc").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Write(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresWriteErrorIsWrapped(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	boom := errors.New("connection reset")
	mock.ExpectExec("INSERT INTO proof_entries").WillReturnError(boom)

	err = New(db).Write(context.Background(), contracts.ProofEntry{ID: "proof_1", Sequence: 1, Actor: contracts.ActorAI})
	assert.ErrorIs(t, err, boom)
}

func TestPostgresLoadAll(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	rows := sqlmock.NewRows([]string{"seq", "id", "type", "ts", "actor", "action", "classification", "context", "prev_hash", "content_hash"}).
		AddRow(1, "proof_1", "action_proposed", "2026-03-01T09:00:00Z", "ai", "generate_quote",
			`{"type":"B","confidence":0.76,"reason":"r","timestamp":"2026-03-01T09:00:00Z","frozen":true}`,
			`{"quote_id":"q1"}`, "genesis", "sha256:abc").
		AddRow(2, "proof_2", "action_confirmed", "2026-03-01T09:00:05Z", "human", "confirm_quote", nil, nil, "sha256:abc", "sha256:def")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT seq, id, type, ts, actor, action, classification, context, prev_hash, content_hash FROM proof_entries ORDER BY seq")).
		WillReturnRows(rows)

	entries, err := New(db).LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, contracts.TypeB, entries[0].Classification.Type)
	assert.True(t, entries[0].Classification.Frozen)
	assert.Equal(t, "q1", entries[0].Context["quote_id"])
	assert.Equal(t, contracts.ActorHuman, entries[1].Actor)
	assert.Nil(t, entries[1].Context)
}
