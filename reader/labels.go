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
	"fmt"
	"strconv"
	"strings"

	"github.com/cardinalhq/mindrecord/internal/blobio"
)

// Criteria is a single (field, value) filter. The category planner uses it
// to select the rows of one class.
type Criteria struct {
	Field string
	Value string
}

// checkIfColumnInIndex records which schema each selected column was
// indexed under and whether every selected column is available as an index
// column. An empty selection never counts as all-in-index: the caller
// wants full label maps, which only the raw page provides.
func (r *Reader) checkIfColumnInIndex(columns []string) {
	r.columnSchemaID = make(map[string]int)
	for _, f := range r.hdr.IndexFields() {
		r.columnSchemaID[f.Field] = f.SchemaID
	}
	if len(columns) == 0 {
		r.allInIndex = false
		return
	}
	for _, col := range columns {
		if _, ok := r.columnSchemaID[col]; !ok {
			r.allInIndex = false
			return
		}
	}
	r.allInIndex = true
}

// fieldType returns the declared schema type of a field, or "" when the
// field is in no schema.
func (r *Reader) fieldType(field string) string {
	for _, s := range r.hdr.Schemas() {
		if t, ok := s.Fields[field]; ok {
			return t
		}
	}
	return ""
}

// indexColumn returns the on-disk column name <field>_<schemaID>.
func (r *Reader) indexColumn(field string) string {
	return fmt.Sprintf("%s_%d", field, r.columnSchemaID[field])
}

// castLabel converts an index cell to its schema type. Index columns store
// strings; numeric fields cast to int64/float64 to match the raw-page
// decoder's normalization.
func (r *Reader) castLabel(field, value string) (any, error) {
	switch r.fieldType(field) {
	case "int32", "int64":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s value %q: %w", ErrDecode, field, value, err)
		}
		return n, nil
	case "float32", "float64":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: field %s value %q: %w", ErrDecode, field, value, err)
		}
		return f, nil
	default:
		return value, nil
	}
}

// criteriaClause renders the criteria as a SQL fragment. Numeric fields
// interpolate the value unquoted after validating it parses; other types
// bind via :criteria. The second return reports whether binding is needed.
func (r *Reader) criteriaClause(c Criteria) (string, bool, error) {
	col := r.indexColumn(c.Field)
	if _, numeric := numberFieldTypes[r.fieldType(c.Field)]; numeric {
		if _, err := strconv.ParseFloat(c.Value, 64); err != nil {
			return "", false, fmt.Errorf("%w: criteria %s=%q is not numeric", ErrDecode, c.Field, c.Value)
		}
		return " AND " + col + " = " + c.Value, false, nil
	}
	return " AND " + col + " = :criteria", true, nil
}

// imageOffsets returns the [blobStart, blobEnd] pairs of every row of the
// BLOB page, with the length prefix already skipped on the start offset.
func (r *Reader) imageOffsets(ctx context.Context, pageID, shardID int, criteria *Criteria) ([][2]uint64, error) {
	stmt := "SELECT PAGE_OFFSET_BLOB, PAGE_OFFSET_BLOB_END FROM INDEXES WHERE PAGE_ID_BLOB = " + strconv.Itoa(pageID)
	records, err := r.queryPage(ctx, shardID, stmt, criteria)
	if err != nil {
		return nil, err
	}

	offsets := make([][2]uint64, len(records))
	for i, rec := range records {
		start, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: blob offset %q: %w", ErrDecode, rec[0], err)
		}
		end, err := strconv.ParseUint(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: blob offset %q: %w", ErrDecode, rec[1], err)
		}
		offsets[i] = [2]uint64{start + Int64Len, end}
	}
	return offsets, nil
}

// getLabels resolves the label maps for every row of the BLOB page, either
// from the index columns alone or through the raw page.
func (r *Reader) getLabels(ctx context.Context, pageID, shardID int, columns []string, criteria *Criteria) ([]map[string]any, error) {
	if !r.allInIndex {
		return r.getLabelsFromPage(ctx, pageID, shardID, columns, criteria)
	}

	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = r.indexColumn(c)
	}
	stmt := "SELECT " + strings.Join(cols, ",") +
		" FROM INDEXES WHERE PAGE_ID_BLOB = " + strconv.Itoa(pageID)
	records, err := r.queryPage(ctx, shardID, stmt, criteria)
	if err != nil {
		return nil, err
	}

	labels := make([]map[string]any, len(records))
	for i, rec := range records {
		m := make(map[string]any, len(columns))
		for j, col := range columns {
			v, err := r.castLabel(col, rec[j])
			if err != nil {
				return nil, err
			}
			m[col] = v
		}
		labels[i] = m
	}
	return labels, nil
}

// getLabelsFromPage fetches the RAW record locations of the page's rows
// and decodes each record from the shard file.
func (r *Reader) getLabelsFromPage(ctx context.Context, pageID, shardID int, columns []string, criteria *Criteria) ([]map[string]any, error) {
	stmt := "SELECT PAGE_ID_RAW, PAGE_OFFSET_RAW, PAGE_OFFSET_RAW_END FROM INDEXES WHERE PAGE_ID_BLOB = " +
		strconv.Itoa(pageID)
	records, err := r.queryPage(ctx, shardID, stmt, criteria)
	if err != nil {
		return nil, err
	}
	return r.labelsFromBinaryFile(shardID, columns, records)
}

// labelsFromBinaryFile reads and decodes one RAW record per
// (PAGE_ID_RAW, PAGE_OFFSET_RAW, PAGE_OFFSET_RAW_END) triple.
func (r *Reader) labelsFromBinaryFile(shardID int, columns []string, labelOffsets [][]string) ([]map[string]any, error) {
	fh, err := blobio.OpenFile(r.filePaths[shardID])
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	defer func() { _ = fh.Close() }()

	labels := make([]map[string]any, len(labelOffsets))
	for i, rec := range labelOffsets {
		rawPageID, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%w: raw page id %q: %w", ErrDecode, rec[0], err)
		}
		start, err := strconv.ParseUint(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: raw offset %q: %w", ErrDecode, rec[1], err)
		}
		end, err := strconv.ParseUint(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: raw offset %q: %w", ErrDecode, rec[2], err)
		}
		labelStart := start + Int64Len

		off := int64(r.pageSize*uint64(rawPageID) + r.headerSize + labelStart)
		raw, err := fh.ReadAt(off, int(end-labelStart))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}

		record, err := r.codec.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
		labels[i] = projectColumns(record, columns)
	}
	return labels, nil
}

// queryPage runs a page-scoped index query, appending the criteria clause
// when present.
func (r *Reader) queryPage(ctx context.Context, shardID int, stmt string, criteria *Criteria) ([][]string, error) {
	if criteria == nil {
		records, err := r.dbs[shardID].Query(ctx, stmt+";")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIO, err)
		}
		return records, nil
	}
	clause, bind, err := r.criteriaClause(*criteria)
	if err != nil {
		return nil, err
	}
	stmt += clause + ";"
	var records [][]string
	if bind {
		records, err = r.dbs[shardID].QueryWithCriteria(ctx, stmt, criteria.Value)
	} else {
		records, err = r.dbs[shardID].Query(ctx, stmt)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return records, nil
}

// projectColumns restricts a decoded record to the selected columns; an
// empty selection keeps the full record.
func projectColumns(record map[string]any, columns []string) map[string]any {
	if len(columns) == 0 {
		return record
	}
	out := make(map[string]any, len(columns))
	for _, col := range columns {
		if v, ok := record[col]; ok {
			out[col] = v
		}
	}
	return out
}
