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

// Package testhelpers builds small MindRecord datasets on disk — shard
// files plus sidecar SQLite index databases — so package tests exercise
// the full read path without fixture checkins.
package testhelpers

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/cardinalhq/mindrecord/internal/rowcodec"
)

// Row is one logical record: an opaque blob payload plus its label map.
// Use int64/float64/string label values; those are the types the reader
// produces after decode.
type Row struct {
	Blob   []byte
	Labels map[string]any
}

// Dataset describes a dataset to write. Rows distribute across shards in
// contiguous chunks; each shard splits its rows into groups of RowsPerPage
// (default: all rows in one group), one BLOB page and one RAW page per
// group.
type Dataset struct {
	Name        string
	Shards      int
	PageSize    uint64
	HeaderSize  uint64
	RowsPerPage int
	Fields      map[string]string // label field name → int32|int64|float32|float64|string
	BlobField   string            // defaults to "data"
	IndexFields []string          // fields projected into the index databases
	Rows        []Row
	Codec       rowcodec.Codec // defaults to rowcodec.MsgPack
}

// pageMeta mirrors internal/header's page JSON shape.
type pageMeta struct {
	ID         int    `json:"page_id"`
	TypeID     int    `json:"page_type_id"`
	Type       string `json:"page_type"`
	StartRowID uint64 `json:"start_row_id"`
	EndRowID   uint64 `json:"end_row_id"`
	Size       uint64 `json:"page_size"`
}

type indexRow struct {
	rowGroupID    int
	pageIDBlob    int
	blobStart     uint64
	blobEnd       uint64
	pageIDRaw     int
	rawStart      uint64
	rawEnd        uint64
	indexedValues map[string]any
}

// WriteDataset writes the dataset under dir and returns the path of the
// first shard file.
func WriteDataset(t *testing.T, dir string, ds Dataset) string {
	t.Helper()

	if ds.Shards <= 0 {
		ds.Shards = 1
	}
	if ds.PageSize == 0 {
		ds.PageSize = 1 << 15
	}
	if ds.HeaderSize == 0 {
		ds.HeaderSize = 1 << 14
	}
	if ds.BlobField == "" {
		ds.BlobField = "data"
	}
	if ds.Codec == nil {
		ds.Codec = rowcodec.MsgPack()
	}

	basenames := make([]string, ds.Shards)
	for i := range basenames {
		basenames[i] = fmt.Sprintf("%s-%02d.mr", ds.Name, i)
	}

	shardRows := splitRows(ds.Rows, ds.Shards)
	allPages := make([][]pageMeta, ds.Shards)
	shardBodies := make([][]byte, ds.Shards)
	shardIndex := make([][]indexRow, ds.Shards)

	for shard := 0; shard < ds.Shards; shard++ {
		pages, body, index := buildShard(t, ds, shardRows[shard])
		allPages[shard] = pages
		shardBodies[shard] = body
		shardIndex[shard] = index
	}

	headerJSON := buildHeaderJSON(t, ds, basenames, allPages)
	if uint64(len(headerJSON))+8 > ds.HeaderSize {
		t.Fatalf("header json (%d bytes) exceeds header size %d", len(headerJSON), ds.HeaderSize)
	}

	for shard := 0; shard < ds.Shards; shard++ {
		path := filepath.Join(dir, basenames[shard])
		writeShardFile(t, path, ds.HeaderSize, headerJSON, shardBodies[shard])
		writeIndexDB(t, path, basenames[shard], ds, shardIndex[shard])
	}
	return filepath.Join(dir, basenames[0])
}

func splitRows(rows []Row, shards int) [][]Row {
	out := make([][]Row, shards)
	per := (len(rows) + shards - 1) / shards
	for i := range out {
		lo := i * per
		hi := min(lo+per, len(rows))
		if lo < hi {
			out[i] = rows[lo:hi]
		}
	}
	return out
}

// buildShard lays the shard's rows into alternating BLOB and RAW pages
// and records the per-row index entries.
func buildShard(t *testing.T, ds Dataset, rows []Row) ([]pageMeta, []byte, []indexRow) {
	t.Helper()

	perPage := ds.RowsPerPage
	if perPage <= 0 {
		perPage = len(rows)
		if perPage == 0 {
			perPage = 1
		}
	}

	var pages []pageMeta
	var body []byte
	var index []indexRow

	for group := 0; group*perPage < len(rows); group++ {
		chunk := rows[group*perPage : min((group+1)*perPage, len(rows))]

		blobPage := make([]byte, 0, ds.PageSize)
		rawPage := make([]byte, 0, ds.PageSize)
		blobPageID := 2 * group
		rawPageID := 2*group + 1

		for _, row := range chunk {
			blobStart := uint64(len(blobPage))
			blobPage = appendRecord(blobPage, row.Blob)
			blobEnd := uint64(len(blobPage))

			payload, err := ds.Codec.Encode(row.Labels)
			if err != nil {
				t.Fatalf("encode labels: %v", err)
			}
			rawStart := uint64(len(rawPage))
			rawPage = appendRecord(rawPage, payload)
			rawEnd := uint64(len(rawPage))

			indexed := make(map[string]any, len(ds.IndexFields))
			for _, f := range ds.IndexFields {
				indexed[f] = row.Labels[f]
			}
			index = append(index, indexRow{
				rowGroupID:    group,
				pageIDBlob:    blobPageID,
				blobStart:     blobStart,
				blobEnd:       blobEnd,
				pageIDRaw:     rawPageID,
				rawStart:      rawStart,
				rawEnd:        rawEnd,
				indexedValues: indexed,
			})
		}

		if uint64(len(blobPage)) > ds.PageSize || uint64(len(rawPage)) > ds.PageSize {
			t.Fatalf("group %d overflows page size %d (blob %d, raw %d)",
				group, ds.PageSize, len(blobPage), len(rawPage))
		}

		startRow := uint64(group * perPage)
		pages = append(pages,
			pageMeta{ID: blobPageID, TypeID: group, Type: "BLOB",
				StartRowID: startRow, EndRowID: startRow + uint64(len(chunk)), Size: uint64(len(blobPage))},
			pageMeta{ID: rawPageID, TypeID: group, Type: "RAW",
				StartRowID: startRow, EndRowID: startRow + uint64(len(chunk)), Size: uint64(len(rawPage))},
		)
		body = append(body, padTo(blobPage, ds.PageSize)...)
		body = append(body, padTo(rawPage, ds.PageSize)...)
	}
	return pages, body, index
}

func appendRecord(page, payload []byte) []byte {
	var prefix [8]byte
	binary.LittleEndian.PutUint64(prefix[:], uint64(len(payload)))
	page = append(page, prefix[:]...)
	return append(page, payload...)
}

func padTo(page []byte, size uint64) []byte {
	out := make([]byte, size)
	copy(out, page)
	return out
}

func buildHeaderJSON(t *testing.T, ds Dataset, basenames []string, pages [][]pageMeta) []byte {
	t.Helper()

	fields := make(map[string]string, len(ds.Fields)+1)
	for k, v := range ds.Fields {
		fields[k] = v
	}
	fields[ds.BlobField] = "bytes"

	indexFields := make([]map[string]any, 0, len(ds.IndexFields))
	sorted := append([]string(nil), ds.IndexFields...)
	sort.Strings(sorted)
	for _, f := range sorted {
		indexFields = append(indexFields, map[string]any{"schema_id": 0, "field": f})
	}

	doc := map[string]any{
		"header_size":     ds.HeaderSize,
		"page_size":       ds.PageSize,
		"shard_count":     ds.Shards,
		"shard_addresses": basenames,
		"schema": []map[string]any{{
			"schema_id":   0,
			"fields":      fields,
			"blob_fields": []string{ds.BlobField},
		}},
		"index_fields": indexFields,
		"pages":        pages,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	return raw
}

func writeShardFile(t *testing.T, path string, headerSize uint64, headerJSON, body []byte) {
	t.Helper()

	region := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(region[:8], uint64(len(headerJSON)))
	copy(region[8:], headerJSON)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create shard file: %v", err)
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(region); err != nil {
		t.Fatalf("write header: %v", err)
	}
	if _, err := f.Write(body); err != nil {
		t.Fatalf("write pages: %v", err)
	}
}

func writeIndexDB(t *testing.T, shardPath, basename string, ds Dataset, rows []indexRow) {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+shardPath+".db")
	if err != nil {
		t.Fatalf("open index db: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec("CREATE TABLE SHARD_NAME(NAME TEXT);"); err != nil {
		t.Fatalf("create SHARD_NAME: %v", err)
	}
	if _, err := db.Exec("INSERT INTO SHARD_NAME(NAME) VALUES(?);", basename); err != nil {
		t.Fatalf("insert SHARD_NAME: %v", err)
	}

	cols := []string{
		"ROW_ID INTEGER PRIMARY KEY",
		"ROW_GROUP_ID INTEGER",
		"PAGE_ID_BLOB INTEGER",
		"PAGE_OFFSET_BLOB INTEGER",
		"PAGE_OFFSET_BLOB_END INTEGER",
		"PAGE_ID_RAW INTEGER",
		"PAGE_OFFSET_RAW INTEGER",
		"PAGE_OFFSET_RAW_END INTEGER",
	}
	sorted := append([]string(nil), ds.IndexFields...)
	sort.Strings(sorted)
	for _, f := range sorted {
		cols = append(cols, fmt.Sprintf("%s_0 %s", f, sqliteType(ds.Fields[f])))
	}
	if _, err := db.Exec("CREATE TABLE INDEXES(" + strings.Join(cols, ", ") + ");"); err != nil {
		t.Fatalf("create INDEXES: %v", err)
	}

	for rowID, row := range rows {
		names := []string{
			"ROW_ID", "ROW_GROUP_ID",
			"PAGE_ID_BLOB", "PAGE_OFFSET_BLOB", "PAGE_OFFSET_BLOB_END",
			"PAGE_ID_RAW", "PAGE_OFFSET_RAW", "PAGE_OFFSET_RAW_END",
		}
		args := []any{
			rowID, row.rowGroupID,
			row.pageIDBlob, row.blobStart, row.blobEnd,
			row.pageIDRaw, row.rawStart, row.rawEnd,
		}
		for _, f := range sorted {
			names = append(names, f+"_0")
			args = append(args, row.indexedValues[f])
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(args)), ",")
		stmt := "INSERT INTO INDEXES(" + strings.Join(names, ",") + ") VALUES(" + placeholders + ");"
		if _, err := db.Exec(stmt, args...); err != nil {
			t.Fatalf("insert index row %d: %v", rowID, err)
		}
	}
}

func sqliteType(fieldType string) string {
	switch fieldType {
	case "int32", "int64":
		return "INTEGER"
	case "float32", "float64":
		return "REAL"
	default:
		return "TEXT"
	}
}
