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

package reader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/mindrecord/testhelpers"
)

// openOnly opens without launching, for poking at the label resolver.
func openOnly(t *testing.T, ds testhelpers.Dataset, columns []string) *Reader {
	t.Helper()
	path := testhelpers.WriteDataset(t, t.TempDir(), ds)
	r, err := Open(context.Background(), path, Options{NConsumer: 2, SelectedColumns: columns})
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func labelsDataset() testhelpers.Dataset {
	return testhelpers.Dataset{
		Name:        "labels",
		Shards:      1,
		Fields:      map[string]string{"n": "int32", "f": "float64", "s": "string"},
		IndexFields: []string{"n", "f", "s"},
		Rows: []testhelpers.Row{
			{Blob: []byte("one"), Labels: map[string]any{"n": int64(1), "f": 1.5, "s": "x"}},
			{Blob: []byte("two"), Labels: map[string]any{"n": int64(2), "f": 2.5, "s": "y"}},
		},
	}
}

func TestCastLabelTypes(t *testing.T) {
	r := openOnly(t, labelsDataset(), []string{"n"})

	v, err := r.castLabel("n", "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = r.castLabel("f", "2.25")
	require.NoError(t, err)
	assert.Equal(t, 2.25, v)

	v, err = r.castLabel("s", "plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	_, err = r.castLabel("n", "not-a-number")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCriteriaClause(t *testing.T) {
	r := openOnly(t, labelsDataset(), []string{"n"})

	clause, bind, err := r.criteriaClause(Criteria{Field: "n", Value: "3"})
	require.NoError(t, err)
	assert.False(t, bind)
	assert.Equal(t, " AND n_0 = 3", clause)

	clause, bind, err = r.criteriaClause(Criteria{Field: "s", Value: "hello"})
	require.NoError(t, err)
	assert.True(t, bind)
	assert.Equal(t, " AND s_0 = :criteria", clause)

	// A non-numeric value on a numeric field never reaches the SQL text.
	_, _, err = r.criteriaClause(Criteria{Field: "n", Value: "1; DROP TABLE INDEXES"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestCheckIfColumnInIndex(t *testing.T) {
	r := openOnly(t, labelsDataset(), nil)

	r.checkIfColumnInIndex([]string{"n", "f"})
	assert.True(t, r.allInIndex)

	r.checkIfColumnInIndex(nil)
	assert.False(t, r.allInIndex)

	r.checkIfColumnInIndex([]string{"n", "missing"})
	assert.False(t, r.allInIndex)
}

func TestImageOffsetsSkipPrefix(t *testing.T) {
	r := openOnly(t, labelsDataset(), []string{"n"})

	offsets, err := r.imageOffsets(context.Background(), 0, 0, nil)
	require.NoError(t, err)
	require.Len(t, offsets, 2)
	// First record: length prefix at 0, payload "one" at [8, 11).
	assert.Equal(t, [2]uint64{8, 11}, offsets[0])
	// Second record follows immediately: prefix at 11, payload at [19, 22).
	assert.Equal(t, [2]uint64{19, 22}, offsets[1])
}
