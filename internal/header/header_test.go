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

package header

import (
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHeaderFile(t *testing.T, dir, name string, doc map[string]any, headerSize int) string {
	t.Helper()
	raw, err := json.Marshal(doc)
	require.NoError(t, err)

	region := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(region[:8], uint64(len(raw)))
	copy(region[8:], raw)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, region, 0o644))
	return path
}

func sampleDoc() map[string]any {
	return map[string]any{
		"header_size":     4096,
		"page_size":       8192,
		"shard_count":     2,
		"shard_addresses": []string{"ds-00.mr", "ds-01.mr"},
		"schema": []map[string]any{{
			"schema_id":   0,
			"fields":      map[string]string{"l": "int32", "data": "bytes"},
			"blob_fields": []string{"data"},
		}},
		"index_fields": []map[string]any{{"schema_id": 0, "field": "l"}},
		"pages": [][]map[string]any{
			{
				{"page_id": 0, "page_type_id": 0, "page_type": "BLOB", "start_row_id": 0, "end_row_id": 3, "page_size": 100},
				{"page_id": 1, "page_type_id": 0, "page_type": "RAW", "start_row_id": 0, "end_row_id": 3, "page_size": 50},
			},
			{},
		},
	}
}

func TestBuildParsesHeader(t *testing.T) {
	dir := t.TempDir()
	path := writeHeaderFile(t, dir, "ds-00.mr", sampleDoc(), 4096)

	h, err := Build(path)
	require.NoError(t, err)

	assert.Equal(t, uint64(4096), h.HeaderSize())
	assert.Equal(t, uint64(8192), h.PageSize())
	assert.Equal(t, 2, h.ShardCount())
	assert.Equal(t, []string{"data"}, h.BlobFields())
	require.Len(t, h.IndexFields(), 1)
	assert.Equal(t, "l", h.IndexFields()[0].Field)

	addrs := h.ShardAddresses()
	require.Len(t, addrs, 2)
	assert.Equal(t, filepath.Join(dir, "ds-00.mr"), addrs[0])
	assert.Equal(t, filepath.Join(dir, "ds-01.mr"), addrs[1])
}

func TestPageLookups(t *testing.T) {
	path := writeHeaderFile(t, t.TempDir(), "ds-00.mr", sampleDoc(), 4096)
	h, err := Build(path)
	require.NoError(t, err)

	assert.Equal(t, 1, h.LastPageID(0))
	assert.Equal(t, -1, h.LastPageID(1))
	assert.Equal(t, -1, h.LastPageID(99))

	page, err := h.Page(0, 1)
	require.NoError(t, err)
	assert.Equal(t, PageTypeRaw, page.Type)
	assert.Equal(t, uint64(50), page.Size)

	_, err = h.Page(0, 9)
	assert.ErrorIs(t, err, ErrNoPage)

	blob, err := h.PageByGroup(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, blob.ID)
	assert.Equal(t, PageTypeBlob, blob.Type)

	_, err = h.PageByGroup(5, 0)
	assert.ErrorIs(t, err, ErrNoPage)
}

func TestBuildRejectsInconsistentShardCount(t *testing.T) {
	doc := sampleDoc()
	doc["shard_count"] = 3
	path := writeHeaderFile(t, t.TempDir(), "bad.mr", doc, 4096)
	_, err := Build(path)
	assert.ErrorIs(t, err, ErrBuild)
}

func TestBuildRejectsOversizedJSON(t *testing.T) {
	doc := sampleDoc()
	doc["header_size"] = 16 // smaller than the JSON itself
	path := writeHeaderFile(t, t.TempDir(), "bad.mr", doc, 4096)
	_, err := Build(path)
	assert.ErrorIs(t, err, ErrBuild)
}

func TestBuildRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junk.mr")
	require.NoError(t, os.WriteFile(path, []byte("not a shard"), 0o644))
	_, err := Build(path)
	assert.ErrorIs(t, err, ErrBuild)
}
