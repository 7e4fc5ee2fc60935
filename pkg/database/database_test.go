package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ramsey-B/wingfox/pkg/database"
)

func newMockDB(t *testing.T) (database.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = raw.Close() })
	return database.NewDatabaseInstance(sqlx.NewDb(raw, "sqlmock"), zap.NewNop()), mock
}

func TestWithTxCommits(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE matches").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		assert.True(t, database.InTx(ctx))
		_, err := db.Conn(ctx).ExecContext(ctx, "UPDATE matches SET status = 'x'")
		return err
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTxNestedJoinsOuter(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectBegin()
	mock.ExpectCommit()

	err := db.WithTx(context.Background(), func(ctx context.Context) error {
		return db.WithTx(ctx, func(inner context.Context) error {
			assert.True(t, database.InTx(inner))
			return nil
		})
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJSONBScan(t *testing.T) {
	var j database.JSONB[map[string]float64]
	require.NoError(t, j.Scan([]byte(`{"layer1":0.5}`)))
	assert.Equal(t, 0.5, j.Data["layer1"])

	require.NoError(t, j.Scan(`{"layer2":0.7}`))
	assert.Equal(t, 0.7, j.Data["layer2"])

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j.Data)

	assert.Error(t, j.Scan(42))
}

func TestUnwrap(t *testing.T) {
	raw, _, err := sqlmock.New()
	require.NoError(t, err)
	defer raw.Close()

	pool := sqlx.NewDb(raw, "sqlmock")
	got, err := database.Unwrap(database.NewDatabaseInstance(pool, zap.NewNop()))
	require.NoError(t, err)
	assert.Same(t, pool, got)

	_, err = database.Unwrap(nil)
	assert.Error(t, err)
}

func TestInsertBuilderOnConflict(t *testing.T) {
	ib := database.NewInsertBuilder()
	ib.InsertInto("feature_scores").
		Cols("match_id", "feature_id", "raw_score", "updated_at").
		Values("m-1", 7, 0.4, database.Now())
	ub := ib.OnConflict("match_id", "feature_id")
	ub.Set(ub.Assign("raw_score", database.Excluded("raw_score")), ub.Assign("updated_at", database.Now()))
	ib.Returning("updated_at")

	query, args := ib.Build()
	assert.Equal(t, "INSERT INTO feature_scores (match_id, feature_id, raw_score, updated_at) VALUES ($1, $2, $3, NOW()) "+
		"ON CONFLICT (match_id, feature_id) DO UPDATE SET raw_score = EXCLUDED.raw_score, updated_at = NOW() "+
		"RETURNING updated_at", query)
	assert.Equal(t, []any{"m-1", 7, 0.4}, args)
}

func TestUpdateBuilderCoalesce(t *testing.T) {
	var missing *float64
	ub := database.NewUpdateBuilder()
	ub.Update("matches").
		Set(ub.Coalesce("profile_score", missing), ub.Assign("final_score", 62)).
		Where(ub.Equal("id", "m-1"))

	query, args := ub.Build()
	assert.Equal(t, "UPDATE matches SET profile_score = COALESCE($1, profile_score), final_score = $2 WHERE id = $3", query)
	require.Len(t, args, 3)
	assert.Nil(t, args[0])
	assert.Equal(t, []any{62, "m-1"}, args[1:])
}

func TestStructSelectFromSkipsUntaggedColumns(t *testing.T) {
	type row struct {
		ID    string   `db:"id"`
		Name  string   `db:"name"`
		Extra []string `db:"-"`
	}

	sb := database.NewStruct(new(row)).SelectFrom("rows")
	sb.Where(sb.Equal("id", "r-1"))
	sb.OrderBy("name").Asc()
	sb.Limit(5)

	query, args := sb.Build()
	assert.Equal(t, "SELECT rows.id, rows.name FROM rows WHERE id = $1 ORDER BY name ASC LIMIT $2", query)
	assert.Equal(t, []any{"r-1", 5}, args)
}
