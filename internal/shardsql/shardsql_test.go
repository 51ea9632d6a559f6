// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package shardsql

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIndex creates a minimal index database for the named shard and
// returns the shard path it belongs to.
func writeIndex(t *testing.T, dir, shardName, recordedName string) string {
	t.Helper()
	shardPath := filepath.Join(dir, shardName)

	db, err := sql.Open("sqlite", "file:"+shardPath+".db")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Exec("CREATE TABLE SHARD_NAME(NAME TEXT);")
	require.NoError(t, err)
	_, err = db.Exec("INSERT INTO SHARD_NAME(NAME) VALUES(?);", recordedName)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE INDEXES(
		ROW_ID INTEGER PRIMARY KEY, ROW_GROUP_ID INTEGER,
		PAGE_ID_BLOB INTEGER, PAGE_OFFSET_BLOB INTEGER, PAGE_OFFSET_BLOB_END INTEGER,
		cls_0 INTEGER, note_0 TEXT);`)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = db.Exec("INSERT INTO INDEXES VALUES(?,0,0,?,?,?,?);",
			i, i*10, i*10+8, i%2, nil)
		require.NoError(t, err)
	}
	return shardPath
}

func TestOpenVerifiesShardName(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	good := writeIndex(t, dir, "ds-00.mr", "ds-00.mr")
	db, err := Open(ctx, good)
	require.NoError(t, err)
	assert.Equal(t, good+".db", db.Path())
	require.NoError(t, db.Close())

	bad := writeIndex(t, dir, "ds-01.mr", "something-else.mr")
	_, err = Open(ctx, bad)
	assert.ErrorIs(t, err, ErrShardNameMismatch)
}

func TestOpenMissingDatabase(t *testing.T) {
	// modernc's driver defers file access, so the failure surfaces on the
	// SHARD_NAME probe rather than at sql.Open.
	_, err := Open(context.Background(), filepath.Join(t.TempDir(), "nope.mr"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestQueryStringsAndNulls(t *testing.T) {
	ctx := context.Background()
	shardPath := writeIndex(t, t.TempDir(), "ds-00.mr", "ds-00.mr")
	db, err := Open(ctx, shardPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	records, err := db.Query(ctx, "SELECT ROW_ID, PAGE_OFFSET_BLOB, note_0 FROM INDEXES ORDER BY ROW_ID;")
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"0", "0", ""}, records[0])
	assert.Equal(t, []string{"3", "30", ""}, records[3])
}

func TestQueryWithCriteria(t *testing.T) {
	ctx := context.Background()
	shardPath := writeIndex(t, t.TempDir(), "ds-00.mr", "ds-00.mr")
	db, err := Open(ctx, shardPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	records, err := db.QueryWithCriteria(ctx,
		"SELECT ROW_ID FROM INDEXES WHERE cls_0 = :criteria ORDER BY ROW_ID;", "1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "1", records[0][0])
	assert.Equal(t, "3", records[1][0])
}

func TestQueryBadSQL(t *testing.T) {
	ctx := context.Background()
	shardPath := writeIndex(t, t.TempDir(), "ds-00.mr", "ds-00.mr")
	db, err := Open(ctx, shardPath)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	_, err = db.Query(ctx, "SELECT nope FROM missing;")
	assert.ErrorIs(t, err, ErrQuery)
}

func TestCloseIdempotent(t *testing.T) {
	shardPath := writeIndex(t, t.TempDir(), "ds-00.mr", "ds-00.mr")
	db, err := Open(context.Background(), shardPath)
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}
