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

// Package header parses the fixed-size JSON header at the front of a
// MindRecord shard file and exposes the page directory, schemas, and
// indexed-field metadata shared by every shard of a dataset.
package header

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Page types stored in the directory. BLOB pages hold opaque record
// payloads; RAW pages hold the self-describing label records.
const (
	PageTypeBlob = "BLOB"
	PageTypeRaw  = "RAW"
)

// lenPrefixSize is the u64 little-endian length prefix in front of the
// header JSON, matching the framing used for records inside pages.
const lenPrefixSize = 8

// maxHeaderJSON bounds the header body allocation so a corrupt length
// prefix cannot drive an absurd read.
const maxHeaderJSON = 64 << 20

var (
	// ErrBuild indicates the header region could not be parsed.
	ErrBuild = errors.New("header: build failed")
	// ErrNoPage indicates a page or group lookup missed the directory.
	ErrNoPage = errors.New("header: page not found")
)

// Page describes one fixed-size region of a shard file. StartRowID and
// EndRowID bound the logical rows of a BLOB page; Size is the number of
// bytes actually used within the page region.
type Page struct {
	ID         int    `json:"page_id"`
	TypeID     int    `json:"page_type_id"`
	Type       string `json:"page_type"`
	StartRowID uint64 `json:"start_row_id"`
	EndRowID   uint64 `json:"end_row_id"`
	Size       uint64 `json:"page_size"`
}

// Schema declares the typed fields of the dataset's records. Field types
// are one of int32, int64, float32, float64, string, bytes.
type Schema struct {
	ID         int               `json:"schema_id"`
	Fields     map[string]string `json:"fields"`
	BlobFields []string          `json:"blob_fields"`
}

// IndexField names a schema field that the writer projected into the
// sidecar index database as a queryable column.
type IndexField struct {
	SchemaID int    `json:"schema_id"`
	Field    string `json:"field"`
}

// fileHeader is the JSON shape stored at the front of every shard file.
type fileHeader struct {
	HeaderSize     uint64       `json:"header_size"`
	PageSize       uint64       `json:"page_size"`
	ShardCount     int          `json:"shard_count"`
	ShardAddresses []string     `json:"shard_addresses"`
	Schemas        []Schema     `json:"schema"`
	IndexFields    []IndexField `json:"index_fields"`
	Pages          [][]Page     `json:"pages"`
}

// Header is the parsed dataset header. All shards of a dataset carry an
// identical copy, so Build reads only the file it is given and resolves
// sibling shard paths relative to it.
type Header struct {
	headerSize     uint64
	pageSize       uint64
	shardCount     int
	shardAddresses []string
	schemas        []Schema
	indexFields    []IndexField
	pages          [][]Page
}

// Build reads and validates the header region of the shard file at path.
func Build(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrBuild, path, err)
	}
	defer func() { _ = f.Close() }()

	var prefix [lenPrefixSize]byte
	if _, err := f.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("%w: read length prefix: %w", ErrBuild, err)
	}
	jsonLen := binary.LittleEndian.Uint64(prefix[:])
	if jsonLen == 0 || jsonLen > maxHeaderJSON {
		return nil, fmt.Errorf("%w: implausible header length %d", ErrBuild, jsonLen)
	}

	raw := make([]byte, jsonLen)
	if _, err := f.ReadAt(raw, lenPrefixSize); err != nil {
		return nil, fmt.Errorf("%w: read header body: %w", ErrBuild, err)
	}

	var fh fileHeader
	if err := json.Unmarshal(raw, &fh); err != nil {
		return nil, fmt.Errorf("%w: decode header json: %w", ErrBuild, err)
	}
	if fh.HeaderSize == 0 || fh.PageSize == 0 {
		return nil, fmt.Errorf("%w: header_size and page_size must be positive", ErrBuild)
	}
	if jsonLen+lenPrefixSize > fh.HeaderSize {
		return nil, fmt.Errorf("%w: header json (%d bytes) overflows header region (%d bytes)",
			ErrBuild, jsonLen, fh.HeaderSize)
	}
	if fh.ShardCount != len(fh.ShardAddresses) || fh.ShardCount != len(fh.Pages) {
		return nil, fmt.Errorf("%w: shard_count %d does not match addresses (%d) or page lists (%d)",
			ErrBuild, fh.ShardCount, len(fh.ShardAddresses), len(fh.Pages))
	}

	dir := filepath.Dir(path)
	addrs := make([]string, len(fh.ShardAddresses))
	for i, a := range fh.ShardAddresses {
		addrs[i] = filepath.Join(dir, filepath.Base(a))
	}

	pages := make([][]Page, len(fh.Pages))
	for shard, ps := range fh.Pages {
		sorted := append([]Page(nil), ps...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
		pages[shard] = sorted
	}

	return &Header{
		headerSize:     fh.HeaderSize,
		pageSize:       fh.PageSize,
		shardCount:     fh.ShardCount,
		shardAddresses: addrs,
		schemas:        fh.Schemas,
		indexFields:    fh.IndexFields,
		pages:          pages,
	}, nil
}

// HeaderSize returns the byte size of the header region.
func (h *Header) HeaderSize() uint64 { return h.headerSize }

// PageSize returns the fixed byte size of each page region.
func (h *Header) PageSize() uint64 { return h.pageSize }

// ShardCount returns the number of shards in the dataset.
func (h *Header) ShardCount() int { return h.shardCount }

// ShardAddresses returns the resolved paths of every shard file.
func (h *Header) ShardAddresses() []string { return h.shardAddresses }

// Schemas returns the dataset's record schemas.
func (h *Header) Schemas() []Schema { return h.schemas }

// IndexFields returns the fields present as index-database columns.
func (h *Header) IndexFields() []IndexField { return h.indexFields }

// BlobFields returns the blob field names of the first schema. MindRecord
// datasets carry one schema in practice; additional schemas share blob
// layout with the first.
func (h *Header) BlobFields() []string {
	if len(h.schemas) == 0 {
		return nil
	}
	return h.schemas[0].BlobFields
}

// LastPageID returns the highest page id in the shard, or -1 when the
// shard has no pages.
func (h *Header) LastPageID(shardID int) int {
	if shardID < 0 || shardID >= len(h.pages) || len(h.pages[shardID]) == 0 {
		return -1
	}
	ps := h.pages[shardID]
	return ps[len(ps)-1].ID
}

// Page returns the page with the given id in the shard.
func (h *Header) Page(shardID, pageID int) (Page, error) {
	if shardID < 0 || shardID >= len(h.pages) {
		return Page{}, fmt.Errorf("%w: shard %d", ErrNoPage, shardID)
	}
	for _, p := range h.pages[shardID] {
		if p.ID == pageID {
			return p, nil
		}
	}
	return Page{}, fmt.Errorf("%w: shard %d page %d", ErrNoPage, shardID, pageID)
}

// PageByGroup returns the BLOB page whose type id equals the row group id.
func (h *Header) PageByGroup(groupID, shardID int) (Page, error) {
	if shardID < 0 || shardID >= len(h.pages) {
		return Page{}, fmt.Errorf("%w: shard %d", ErrNoPage, shardID)
	}
	for _, p := range h.pages[shardID] {
		if p.Type == PageTypeBlob && p.TypeID == groupID {
			return p, nil
		}
	}
	return Page{}, fmt.Errorf("%w: shard %d group %d", ErrNoPage, shardID, groupID)
}
