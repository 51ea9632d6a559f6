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

// Package reader streams a MindRecord dataset to a single consumer.
//
// A dataset is N shard files plus N sidecar SQLite index databases. Open
// builds the shard header, verifies and opens every index database, and
// prepares file handles; Launch plans the task list (row, category, or
// block strategy) and starts the worker pool; GetNext delivers
// (blob, labels) pairs in strict planned order with bounded buffering.
package reader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/mindrecord/internal/blobio"
	"github.com/cardinalhq/mindrecord/internal/header"
	"github.com/cardinalhq/mindrecord/internal/logctx"
	"github.com/cardinalhq/mindrecord/internal/rowcodec"
	"github.com/cardinalhq/mindrecord/internal/shardsql"
)

// Options configures Open.
type Options struct {
	// NConsumer is the requested worker count, clamped to
	// [MinConsumerCount, min(MaxConsumerCount, GOMAXPROCS)].
	NConsumer int

	// SelectedColumns are the label fields to resolve per row. Blob
	// fields are stripped; an empty selection yields full label maps.
	SelectedColumns []string

	// Operators transform the task plan in declaration order.
	Operators []Operator

	// BlockReader selects block-mode streaming (one task per page).
	BlockReader bool

	// Codec decodes RAW records. Defaults to rowcodec.MsgPack.
	Codec rowcodec.Codec
}

// Reader is a parallel sharded dataset reader. It is not safe for
// concurrent consumers; one goroutine calls GetNext.
type Reader struct {
	id    string
	hdr   *header.Header
	codec rowcodec.Codec

	headerSize uint64
	pageSize   uint64
	shardCount int
	filePaths  []string
	dbs        []*shardsql.DB

	files *blobio.Files // block-mode: one handle per shard
	grid  *blobio.Grid  // row-mode: per-worker duplicates

	selectedColumns []string
	operators       []Operator
	blockReader     bool
	nConsumer       int

	allInIndex     bool
	columnSchemaID map[string]int

	numRows   int64
	numBlocks int

	tasks TaskList

	// shardLocker serialises header page-directory lookups.
	shardLocker sync.Mutex

	// Delivery coordination. taskID is the shared work counter; the other
	// fields below are guarded by mu, except that a block-mode worker fills
	// its own deliveryBlock and buf slot without holding it.
	mu         sync.Mutex
	cvDelivery *sync.Cond
	cvIterator *sync.Cond
	interrupt  bool
	failure    error
	taskID     atomic.Int64
	deliverID  int
	rowID      int

	deliveryMap   map[int][]Row
	deliveryBlock []*blockEntry
	blockSet      mapset.Set[int]
	buf           [][]byte

	wg       sync.WaitGroup
	launched bool

	closeOnce sync.Once
	closeErr  error
}

// Open opens the dataset whose first shard (or any shard) lives at path.
func Open(ctx context.Context, path string, opts Options) (*Reader, error) {
	r := &Reader{
		id:    uuid.New().String(),
		codec: opts.Codec,
	}
	if r.codec == nil {
		r.codec = rowcodec.MsgPack()
	}
	r.cvDelivery = sync.NewCond(&r.mu)
	r.cvIterator = sync.NewCond(&r.mu)
	r.deliveryMap = make(map[int][]Row)
	r.blockSet = mapset.NewThreadUnsafeSet[int]()

	ctx = logctx.WithAttrs(ctx, "reader", r.id)
	if err := r.init(ctx, path); err != nil {
		_ = r.Close()
		return nil, err
	}

	r.nConsumer = clampConsumers(opts.NConsumer)
	r.operators = opts.Operators
	r.blockReader = opts.BlockReader

	// Blob fields stream as payload bytes, never as labels.
	blobFields := r.hdr.BlobFields()
	for _, col := range opts.SelectedColumns {
		if !slices.Contains(blobFields, col) {
			r.selectedColumns = append(r.selectedColumns, col)
		}
	}
	if err := r.checkColumnList(r.selectedColumns); err != nil {
		_ = r.Close()
		return nil, err
	}

	var err error
	if r.blockReader {
		r.files, err = blobio.Open(r.filePaths)
		if err == nil {
			r.deliveryBlock = make([]*blockEntry, NumPageInBuffer)
			r.buf = make([][]byte, NumPageInBuffer)
			for i := range r.buf {
				r.buf[i] = make([]byte, r.pageSize)
			}
		}
	} else {
		r.grid, err = blobio.OpenGrid(r.filePaths, r.nConsumer)
	}
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	logctx.FromContext(ctx).Info("Opened dataset",
		"path", path, "shards", r.shardCount, "rows", r.numRows,
		"consumers", r.nConsumer, "blockReader", r.blockReader)
	return r, nil
}

// init validates the path, builds the shard header, opens every index
// database with its shard-name check, and aggregates the row count.
func (r *Reader) init(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrIO, path)
	}

	hdr, err := header.Build(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFormatMismatch, err)
	}
	r.hdr = hdr
	r.headerSize = hdr.HeaderSize()
	r.pageSize = hdr.PageSize()
	r.filePaths = hdr.ShardAddresses()
	r.shardCount = hdr.ShardCount()

	for _, file := range r.filePaths {
		db, err := shardsql.Open(ctx, file)
		if err != nil {
			if errors.Is(err, shardsql.ErrShardNameMismatch) {
				return fmt.Errorf("%w: %w", ErrFormatMismatch, err)
			}
			return fmt.Errorf("%w: %w", ErrIO, err)
		}
		r.dbs = append(r.dbs, db)
	}

	summary, err := r.readRowGroupSummary()
	if err != nil {
		return err
	}
	r.numRows = 0
	for _, rg := range summary {
		r.numRows += int64(rg.RowCount)
	}
	logctx.FromContext(ctx).Debug("Built dataset metadata",
		"shards", r.shardCount, "rows", r.numRows)
	return nil
}

// checkColumnList verifies every selected column appears in at least one
// schema.
func (r *Reader) checkColumnList(columns []string) error {
	for _, col := range columns {
		if r.fieldType(col) == "" {
			return fmt.Errorf("%w: column %q is in no schema", ErrIllegalColumnList, col)
		}
	}
	return nil
}

// Launch plans the task list and, unless simple is set, starts the worker
// pool. With simple set the caller drives reads through GetNextByID.
func (r *Reader) Launch(ctx context.Context, simple bool) error {
	r.mu.Lock()
	if r.interrupt {
		r.mu.Unlock()
		return ErrInterrupted
	}
	r.mu.Unlock()

	ctx = logctx.WithAttrs(ctx, "reader", r.id)
	if err := r.createTasks(ctx); err != nil {
		r.mu.Lock()
		r.interrupt = true
		r.mu.Unlock()
		return err
	}
	if simple {
		return nil
	}

	r.mu.Lock()
	r.launched = true
	r.mu.Unlock()

	for workerID := 0; workerID < r.nConsumer; workerID++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if r.blockReader {
				r.consumerByBlock(ctx, workerID)
			} else {
				r.consumerByRow(ctx, workerID)
			}
		}()
	}
	logctx.FromContext(ctx).Info("Launched reader workers",
		"workers", r.nConsumer, "blockReader", r.blockReader)
	return nil
}

// Close interrupts streaming and releases every file handle and database
// in reverse order. Safe to call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.Finish()

		var errs *multierror.Error
		if r.grid != nil {
			errs = multierror.Append(errs, r.grid.Close())
		}
		if r.files != nil {
			errs = multierror.Append(errs, r.files.Close())
		}
		for i := len(r.dbs) - 1; i >= 0; i-- {
			if r.dbs[i] != nil {
				errs = multierror.Append(errs, r.dbs[i].Close())
			}
		}
		r.closeErr = errs.ErrorOrNil()
	})
	return r.closeErr
}

// NumRows returns the dataset's logical row count.
func (r *Reader) NumRows() int64 { return r.numRows }

// NumBlocks returns the planned page count under block-mode, zero
// otherwise.
func (r *Reader) NumBlocks() int { return r.numBlocks }

// ShardCount returns the number of shards.
func (r *Reader) ShardCount() int { return r.shardCount }

// ShardHeader returns the parsed dataset header.
func (r *Reader) ShardHeader() *header.Header { return r.hdr }

// BlobFields returns the schema's blob field names.
func (r *Reader) BlobFields() []string { return r.hdr.BlobFields() }

// NLPFlag reports whether blobs decode as self-describing records instead
// of opaque bytes. Always false: the format carries labels in RAW pages.
func (r *Reader) NLPFlag() bool { return false }

// CountTotalRows opens just enough of the dataset at path to count its
// rows, then releases everything.
func CountTotalRows(ctx context.Context, path string) (int64, error) {
	r := &Reader{id: uuid.New().String(), codec: rowcodec.MsgPack()}
	r.cvDelivery = sync.NewCond(&r.mu)
	r.cvIterator = sync.NewCond(&r.mu)
	r.deliveryMap = make(map[int][]Row)
	r.blockSet = mapset.NewThreadUnsafeSet[int]()

	if err := r.init(logctx.WithAttrs(ctx, "reader", r.id), path); err != nil {
		_ = r.Close()
		return 0, err
	}
	count := r.numRows
	return count, r.Close()
}

// clampConsumers bounds the worker count to the supported range and the
// host's parallelism.
func clampConsumers(n int) int {
	if limit := runtime.GOMAXPROCS(0); n > limit {
		n = limit
	}
	if n < MinConsumerCount {
		n = MinConsumerCount
	}
	if n > MaxConsumerCount {
		n = MaxConsumerCount
	}
	return n
}
