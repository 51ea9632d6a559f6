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

package blobio

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeShards(t *testing.T, contents ...string) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, len(contents))
	for i, c := range contents {
		paths[i] = filepath.Join(dir, "shard-"+string(rune('0'+i))+".mr")
		require.NoError(t, os.WriteFile(paths[i], []byte(c), 0o644))
	}
	return paths
}

func TestFilesReadAt(t *testing.T) {
	paths := writeShards(t, "hello world", "goodbye")
	f, err := Open(paths)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	got, err := f.ReadAt(0, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(got))

	got, err = f.ReadAt(1, 0, 7)
	require.NoError(t, err)
	assert.Equal(t, "goodbye", string(got))
}

func TestFilesShortReadFails(t *testing.T) {
	paths := writeShards(t, "tiny")
	f, err := Open(paths)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.ReadAt(0, 0, 100)
	assert.ErrorIs(t, err, ErrRead)

	// The failing read closed the handle; later reads fail too.
	_, err = f.ReadAt(0, 0, 1)
	assert.ErrorIs(t, err, ErrRead)
}

func TestOpenMissingShard(t *testing.T) {
	paths := writeShards(t, "one")
	paths = append(paths, filepath.Join(t.TempDir(), "missing.mr"))
	_, err := Open(paths)
	assert.ErrorIs(t, err, ErrOpen)
}

func TestGridIsolatedWorkers(t *testing.T) {
	paths := writeShards(t, "abcdefghij", "klmnopqrst")
	const workers = 4
	g, err := OpenGrid(paths, workers)
	require.NoError(t, err)
	defer func() { _ = g.Close() }()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				got, err := g.ReadAt(w, i%2, int64(i%5), 3)
				assert.NoError(t, err)
				assert.Len(t, got, 3)
			}
		}()
	}
	wg.Wait()
}

func TestGridCloseIdempotent(t *testing.T) {
	paths := writeShards(t, "data")
	g, err := OpenGrid(paths, 2)
	require.NoError(t, err)
	require.NoError(t, g.Close())
	require.NoError(t, g.Close())
}

func TestReadRange(t *testing.T) {
	paths := writeShards(t, "0123456789")
	got, err := ReadRange(paths[0], 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", string(got))

	_, err = ReadRange(paths[0], 8, 5)
	assert.ErrorIs(t, err, ErrRead)

	_, err = ReadRange(filepath.Join(t.TempDir(), "gone"), 0, 1)
	assert.ErrorIs(t, err, ErrOpen)
}
