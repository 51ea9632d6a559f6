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
	"sort"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/cardinalhq/mindrecord/internal/blobio"
	"github.com/cardinalhq/mindrecord/internal/header"
	"github.com/cardinalhq/mindrecord/internal/logctx"
)

// RowGroupSummary describes one BLOB page's worth of rows.
type RowGroupSummary struct {
	ShardID    int
	PageTypeID int
	StartRowID uint64
	RowCount   uint64
}

// readRowGroupSummary enumerates every BLOB page of every shard.
func (r *Reader) readRowGroupSummary() ([]RowGroupSummary, error) {
	if r.shardCount <= 0 {
		return nil, nil
	}
	if r.shardCount > MaxShardCount {
		return nil, fmt.Errorf("%w: %d shards exceeds %d", ErrCapacityExceeded, r.shardCount, MaxShardCount)
	}

	var summary []RowGroupSummary
	for shardID := 0; shardID < r.shardCount; shardID++ {
		lastPageID := r.hdr.LastPageID(shardID)
		if lastPageID == -1 {
			continue
		}
		for pageID := 0; pageID <= lastPageID; pageID++ {
			page, err := r.hdr.Page(shardID, pageID)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrFormatMismatch, err)
			}
			if page.Type != header.PageTypeBlob {
				continue
			}
			if page.StartRowID > page.EndRowID {
				return nil, fmt.Errorf("%w: shard %d page %d rows [%d, %d)",
					ErrFormatMismatch, shardID, pageID, page.StartRowID, page.EndRowID)
			}
			summary = append(summary, RowGroupSummary{
				ShardID:    shardID,
				PageTypeID: page.TypeID,
				StartRowID: page.StartRowID,
				RowCount:   page.EndRowID - page.StartRowID,
			})
		}
	}
	return summary, nil
}

// rowGroupBrief is everything block-mode needs to stream one page.
type rowGroupBrief struct {
	fileName   string
	pageLength uint64
	pageOffset uint64
	offsets    [][2]uint64
	labels     []map[string]any
}

// readRowGroupBrief locates the group's BLOB page and resolves its row
// offsets and labels.
func (r *Reader) readRowGroupBrief(ctx context.Context, groupID, shardID int, columns []string) (*rowGroupBrief, error) {
	page, err := r.pageByGroup(groupID, shardID)
	if err != nil {
		return nil, err
	}
	offsets, err := r.imageOffsets(ctx, page.ID, shardID, nil)
	if err != nil {
		return nil, err
	}
	labels, err := r.getLabels(ctx, page.ID, shardID, columns, nil)
	if err != nil {
		return nil, err
	}
	return &rowGroupBrief{
		fileName:   r.filePaths[shardID],
		pageLength: page.Size,
		pageOffset: r.pageSize*uint64(page.ID) + r.headerSize,
		offsets:    offsets,
		labels:     labels,
	}, nil
}

// readRowGroupCriteria is readRowGroupBrief restricted to the rows
// matching a category criteria.
func (r *Reader) readRowGroupCriteria(ctx context.Context, groupID, shardID int, criteria Criteria, columns []string) (*rowGroupBrief, error) {
	if err := r.checkColumnList([]string{criteria.Field}); err != nil {
		return nil, err
	}
	page, err := r.pageByGroup(groupID, shardID)
	if err != nil {
		return nil, err
	}
	offsets, err := r.imageOffsets(ctx, page.ID, shardID, &criteria)
	if err != nil {
		return nil, err
	}
	labels, err := r.getLabels(ctx, page.ID, shardID, columns, &criteria)
	if err != nil {
		return nil, err
	}
	return &rowGroupBrief{
		fileName:   r.filePaths[shardID],
		pageLength: page.Size,
		pageOffset: r.pageSize*uint64(page.ID) + r.headerSize,
		offsets:    offsets,
		labels:     labels,
	}, nil
}

// pageByGroup serialises header directory lookups across workers.
func (r *Reader) pageByGroup(groupID, shardID int) (header.Page, error) {
	r.shardLocker.Lock()
	defer r.shardLocker.Unlock()
	page, err := r.hdr.PageByGroup(groupID, shardID)
	if err != nil {
		return header.Page{}, fmt.Errorf("%w: %w", ErrFormatMismatch, err)
	}
	return page, nil
}

// shardRows is one shard's slice of the row-mode plan: per-row
// (group, blobStart, blobEnd) plus the row's labels.
type shardRows struct {
	offsets [][3]uint64
	labels  []map[string]any
}

// readAllRowGroup enumerates every row of every shard, one index query per
// shard in parallel.
func (r *Reader) readAllRowGroup(ctx context.Context, columns []string) ([]shardRows, error) {
	fields := "ROW_GROUP_ID, PAGE_OFFSET_BLOB, PAGE_OFFSET_BLOB_END"
	if r.allInIndex {
		cols := make([]string, len(columns))
		for i, c := range columns {
			cols[i] = r.indexColumn(c)
		}
		if len(cols) > 0 {
			fields += ", " + strings.Join(cols, ", ")
		}
	} else {
		fields += ", PAGE_ID_RAW, PAGE_OFFSET_RAW, PAGE_OFFSET_RAW_END"
	}
	stmt := "SELECT " + fields + " FROM INDEXES ORDER BY ROW_ID;"

	perShard := make([]shardRows, r.shardCount)
	g, gctx := errgroup.WithContext(ctx)
	for shardID := 0; shardID < r.shardCount; shardID++ {
		g.Go(func() error {
			rows, err := r.readAllRowsInShard(gctx, shardID, stmt, columns)
			if err != nil {
				return err
			}
			perShard[shardID] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return perShard, nil
}

// readAllRowsInShard runs the enumeration query against one shard's index
// and converts every record into plan offsets plus labels.
func (r *Reader) readAllRowsInShard(ctx context.Context, shardID int, stmt string, columns []string) (shardRows, error) {
	records, err := r.dbs[shardID].Query(ctx, stmt)
	if err != nil {
		return shardRows{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	logctx.FromContext(ctx).Debug("Enumerated shard index",
		"shard", shardID, "rows", len(records))

	var fh *blobio.File
	if !r.allInIndex {
		fh, err = blobio.OpenFile(r.filePaths[shardID])
		if err != nil {
			return shardRows{}, fmt.Errorf("%w: %w", ErrIO, err)
		}
		defer func() { _ = fh.Close() }()
	}

	rows := shardRows{
		offsets: make([][3]uint64, 0, len(records)),
		labels:  make([]map[string]any, 0, len(records)),
	}
	for _, rec := range records {
		groupID, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return shardRows{}, fmt.Errorf("%w: row group id %q: %w", ErrDecode, rec[0], err)
		}
		start, err := strconv.ParseUint(rec[1], 10, 64)
		if err != nil {
			return shardRows{}, fmt.Errorf("%w: blob offset %q: %w", ErrDecode, rec[1], err)
		}
		end, err := strconv.ParseUint(rec[2], 10, 64)
		if err != nil {
			return shardRows{}, fmt.Errorf("%w: blob offset %q: %w", ErrDecode, rec[2], err)
		}
		rows.offsets = append(rows.offsets, [3]uint64{groupID, start + Int64Len, end})

		labels, err := r.convertLabels(rec, columns, fh)
		if err != nil {
			return shardRows{}, err
		}
		rows.labels = append(rows.labels, labels)
	}
	return rows, nil
}

// convertLabels builds one row's label map from an enumeration record:
// typed casts of the appended index columns when all-in-index, otherwise a
// raw record decode through the shard file.
func (r *Reader) convertLabels(rec []string, columns []string, fh *blobio.File) (map[string]any, error) {
	const baseFields = 3

	if r.allInIndex {
		labels := make(map[string]any, len(columns))
		for j, col := range columns {
			v, err := r.castLabel(col, rec[baseFields+j])
			if err != nil {
				return nil, err
			}
			labels[col] = v
		}
		return labels, nil
	}

	rawPageID, err := strconv.Atoi(rec[baseFields])
	if err != nil {
		return nil, fmt.Errorf("%w: raw page id %q: %w", ErrDecode, rec[baseFields], err)
	}
	rawStart, err := strconv.ParseUint(rec[baseFields+1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: raw offset %q: %w", ErrDecode, rec[baseFields+1], err)
	}
	rawEnd, err := strconv.ParseUint(rec[baseFields+2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: raw offset %q: %w", ErrDecode, rec[baseFields+2], err)
	}
	labelStart := rawStart + Int64Len

	off := int64(r.pageSize*uint64(rawPageID) + r.headerSize + labelStart)
	raw, err := fh.ReadAt(off, int(rawEnd-labelStart))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	record, err := r.codec.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return projectColumns(record, columns), nil
}

// createTasksByBlock plans one task per BLOB page carrying its row count.
func (r *Reader) createTasksByBlock(summary []RowGroupSummary) {
	r.checkIfColumnInIndex(r.selectedColumns)
	for _, rg := range summary {
		r.tasks.Insert(rg.ShardID, rg.PageTypeID, []uint64{rg.RowCount}, nil)
	}
}

// createTasksByCategory plans balanced sampling for the first Category
// operator, one sublist per category value combined round-robin. Returns
// false when no category operator is present.
func (r *Reader) createTasksByCategory(ctx context.Context, summary []RowGroupSummary) (bool, error) {
	r.checkIfColumnInIndex(r.selectedColumns)

	var category *Category
	for _, op := range r.operators {
		if c, ok := op.(*Category); ok {
			category = c
			break
		}
	}
	if category == nil {
		return false, nil
	}

	criteria := category.criteria()
	categoryTasks := make([]TaskList, len(criteria))
	for i, c := range criteria {
		for _, rg := range summary {
			brief, err := r.readRowGroupCriteria(ctx, rg.PageTypeID, rg.ShardID, c, r.selectedColumns)
			if err != nil {
				return true, err
			}
			for row, off := range brief.offsets {
				categoryTasks[i].Insert(rg.ShardID, rg.PageTypeID,
					[]uint64{off[0], off[1]}, brief.labels[row])
			}
		}
		logctx.FromContext(ctx).Debug("Planned category tasks",
			"category", c.Value, "tasks", categoryTasks[i].Size())
	}
	r.tasks = Combine(categoryTasks)
	return true, nil
}

// createTasksByRow plans one task per logical row across every shard.
func (r *Reader) createTasksByRow(ctx context.Context) error {
	r.checkIfColumnInIndex(r.selectedColumns)
	perShard, err := r.readAllRowGroup(ctx, r.selectedColumns)
	if err != nil {
		return err
	}
	for shardID := range perShard {
		rows := perShard[shardID]
		for i, off := range rows.offsets {
			r.tasks.Insert(shardID, int(off[0]), []uint64{off[1], off[2]}, rows.labels[i])
		}
	}
	return nil
}

// createTasks selects the planning strategy, applies the remaining
// operators in declaration order, and finalises the permutation.
func (r *Reader) createTasks(ctx context.Context) error {
	summary, err := r.readRowGroupSummary()
	if err != nil {
		return err
	}
	sort.Slice(summary, func(i, j int) bool {
		if summary[i].PageTypeID != summary[j].PageTypeID {
			return summary[i].PageTypeID < summary[j].PageTypeID
		}
		return summary[i].ShardID < summary[j].ShardID
	})

	r.tasks = TaskList{}
	if r.blockReader {
		r.createTasksByBlock(summary)
	} else {
		planned, err := r.createTasksByCategory(ctx, summary)
		if err != nil {
			return err
		}
		if !planned {
			if err := r.createTasksByRow(ctx); err != nil {
				return err
			}
		}
	}

	for _, op := range r.operators {
		if _, ok := op.(*Category); ok {
			continue
		}
		if _, ok := op.(*Shuffle); ok && r.blockReader {
			continue
		}
		if err := op.Apply(&r.tasks); err != nil {
			return err
		}
	}

	if len(r.tasks.Permutation) == 0 {
		r.tasks.MakePerm()
	}
	if r.blockReader {
		r.numRows = r.tasks.SizeOfRows()
		r.numBlocks = r.tasks.Size()
	} else {
		r.numRows = int64(r.tasks.Size())
		r.numBlocks = 0
	}
	logctx.FromContext(ctx).Info("Planned reader tasks",
		"rows", r.numRows, "blocks", r.numBlocks, "tasks", r.tasks.Size())
	return nil
}
