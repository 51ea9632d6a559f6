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

	"github.com/cardinalhq/mindrecord/internal/logctx"
)

// Row is one streamed result: the row's blob payload and its resolved
// labels.
type Row struct {
	Blob   []byte
	Labels map[string]any
}

// blockEntry pairs a page's row offsets with its labels while the page
// bytes sit in the block ring.
type blockEntry struct {
	offsets [][2]uint64
	labels  []map[string]any
}

// fail records the first worker failure, interrupts the pipeline, and
// wakes both the workers and the consumer. The consumer surfaces the
// stored error from its next call.
func (r *Reader) fail(ctx context.Context, err error) {
	logctx.FromContext(ctx).Error("Reader worker failed", "error", err)
	tasksFailedCounter.Add(ctx, 1)

	r.mu.Lock()
	if r.failure == nil {
		r.failure = err
	}
	r.interrupt = true
	r.mu.Unlock()
	r.cvDelivery.Broadcast()
	r.cvIterator.Broadcast()
}

// consumerOneTask reads the blob bytes of one planned task. The taskID
// indexes the permutation; workerID selects the worker's duplicate file
// handle.
func (r *Reader) consumerOneTask(taskID, workerID int) ([]Row, error) {
	if taskID < 0 || taskID >= r.tasks.Size() {
		return nil, nil
	}
	task := r.tasks.Get(r.tasks.Permutation[taskID])

	page, err := r.pageByGroup(task.GroupID, task.ShardID)
	if err != nil {
		return nil, err
	}
	offset := int64(r.headerSize + r.pageSize*uint64(page.ID) + task.Addr[0])
	blob, err := r.grid.ReadAt(workerID, task.ShardID, offset, int(task.Addr[1]-task.Addr[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return []Row{{Blob: blob, Labels: task.Labels}}, nil
}

// consumerByRow is the row-mode worker loop: claim a task id, read its
// blob, and park until the delivery map has room at that position.
func (r *Reader) consumerByRow(ctx context.Context, workerID int) {
	for {
		taskID := int(r.taskID.Add(1)) - 1
		if taskID >= r.tasks.Size() {
			return
		}
		batch, err := r.consumerOneTask(taskID, workerID)
		if err != nil {
			r.fail(ctx, err)
			return
		}

		r.mu.Lock()
		for !r.interrupt && taskID > r.deliverID+NumBatchInMap {
			r.cvDelivery.Wait()
		}
		if r.interrupt {
			r.mu.Unlock()
			return
		}
		r.deliveryMap[taskID] = batch
		r.mu.Unlock()
		r.cvIterator.Signal()

		rowsOutCounter.Add(ctx, 1)
	}
}

// readBlob fills the ring slot with the page's used bytes.
func (r *Reader) readBlob(shardID int, pageOffset int64, pageLength, bufID int) error {
	if err := r.files.ReadInto(shardID, pageOffset, r.buf[bufID][:pageLength]); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// consumerByBlock is the block-mode worker loop: one task is one BLOB
// page, resolved to (offsets, labels) plus raw page bytes in the ring.
// Workers park when the plan is exhausted so Reset can start a new epoch.
func (r *Reader) consumerByBlock(ctx context.Context, workerID int) {
	_ = workerID // block-mode shares one handle per shard
	for {
		taskID := int(r.taskID.Add(1)) - 1
		if taskID >= r.numBlocks {
			r.mu.Lock()
			for !r.interrupt && int(r.taskID.Load()) >= r.numBlocks {
				r.cvDelivery.Wait()
			}
			interrupted := r.interrupt
			r.mu.Unlock()
			if interrupted {
				return
			}
			continue
		}

		task := r.tasks.Get(r.tasks.Permutation[taskID])
		brief, err := r.readRowGroupBrief(ctx, task.GroupID, task.ShardID, r.selectedColumns)
		if err != nil {
			r.fail(ctx, err)
			return
		}

		r.mu.Lock()
		for !r.interrupt && taskID >= r.deliverID+NumPageInBuffer {
			r.cvDelivery.Wait()
		}
		if r.interrupt {
			r.mu.Unlock()
			return
		}
		r.mu.Unlock()

		// The slot is exclusively this worker's until the consumer
		// advances deliverID past taskID.
		bufID := taskID % NumPageInBuffer
		r.deliveryBlock[bufID] = &blockEntry{offsets: brief.offsets, labels: brief.labels}
		if err := r.readBlob(task.ShardID, int64(brief.pageOffset), int(brief.pageLength), bufID); err != nil {
			r.fail(ctx, err)
			return
		}

		r.mu.Lock()
		r.blockSet.Add(taskID)
		r.mu.Unlock()
		r.cvIterator.Signal()

		blocksReadCounter.Add(ctx, 1)
	}
}

// rowFromBuffer copies one row out of the ring slot. Caller holds r.mu.
func (r *Reader) rowFromBuffer(bufID, rowID int) Row {
	entry := r.deliveryBlock[bufID]
	start, end := entry.offsets[rowID][0], entry.offsets[rowID][1]
	blob := make([]byte, end-start)
	copy(blob, r.buf[bufID][start:end])
	return Row{Blob: blob, Labels: entry.labels[rowID]}
}

// getBlockNext streams block-mode results one row at a time, waiting for
// the next page only on its first row.
func (r *Reader) getBlockNext() ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deliverID >= r.numBlocks {
		return nil, nil
	}
	if r.rowID == 0 {
		for !r.interrupt && !r.blockSet.Contains(r.deliverID) {
			r.cvIterator.Wait()
		}
		if r.interrupt {
			return nil, r.failure
		}
	}

	bufID := r.deliverID % NumPageInBuffer
	row := r.rowFromBuffer(bufID, r.rowID)

	r.rowID++
	if r.rowID == len(r.deliveryBlock[bufID].offsets) {
		r.rowID = 0
		r.blockSet.Remove(r.deliverID)
		r.deliverID++
		r.cvDelivery.Broadcast()
	}
	return []Row{row}, nil
}

// GetNext returns the next planned result in strict task order. A nil
// batch with nil error signals end-of-stream or a clean interrupt; a
// worker failure surfaces as the stored error.
func (r *Reader) GetNext() ([]Row, error) {
	if r.blockReader {
		return r.getBlockNext()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.interrupt {
		return nil, r.failure
	}
	if r.deliverID >= r.tasks.Size() {
		return nil, nil
	}
	for !r.interrupt && r.deliveryMap[r.deliverID] == nil {
		r.cvIterator.Wait()
	}
	if r.interrupt {
		return nil, r.failure
	}

	batch := r.deliveryMap[r.deliverID]
	delete(r.deliveryMap, r.deliverID)
	r.deliverID++
	r.cvDelivery.Broadcast()
	return batch, nil
}

// GetNextByID reads one task directly, bypassing the worker pool. Hosts
// that dispatch work externally use this with Launch(simple). Under
// block-mode taskID and workerID are ignored and the next row of the block
// ring is returned, as from GetNext.
func (r *Reader) GetNextByID(taskID, workerID int) ([]Row, error) {
	r.mu.Lock()
	interrupted := r.interrupt
	failure := r.failure
	r.mu.Unlock()
	if interrupted {
		return nil, failure
	}
	if r.blockReader {
		return r.getBlockNext()
	}
	return r.consumerOneTask(taskID, workerID)
}

// Reset rewinds the stream to the first task for another epoch. The
// current pass must be fully delivered first.
func (r *Reader) Reset() error {
	r.mu.Lock()
	if !r.drainedLocked() {
		r.mu.Unlock()
		return ErrNotDrained
	}
	r.taskID.Store(0)
	r.deliverID = 0
	r.rowID = 0
	clear(r.deliveryMap)
	r.blockSet.Clear()
	r.mu.Unlock()
	r.cvDelivery.Broadcast()
	return nil
}

// ShuffleTask re-applies the shuffle operators for the next epoch. Skipped
// under block-mode, where shuffle operators are never applied.
func (r *Reader) ShuffleTask() error {
	if r.blockReader {
		return nil
	}
	r.mu.Lock()
	if !r.drainedLocked() {
		r.mu.Unlock()
		return ErrNotDrained
	}
	r.mu.Unlock()

	for _, op := range r.operators {
		if _, ok := op.(*Shuffle); !ok {
			continue
		}
		if err := op.Apply(&r.tasks); err != nil {
			return err
		}
	}
	return nil
}

// drainedLocked reports whether every planned result has been consumed.
// Caller holds r.mu.
func (r *Reader) drainedLocked() bool {
	if !r.launched {
		return true
	}
	if r.blockReader {
		return r.deliverID >= r.numBlocks
	}
	return r.deliverID >= r.tasks.Size()
}

// Finish interrupts the pipeline and joins every worker. Idempotent.
func (r *Reader) Finish() {
	r.mu.Lock()
	r.interrupt = true
	r.mu.Unlock()
	r.cvDelivery.Broadcast()
	r.cvIterator.Broadcast()
	r.wg.Wait()
}
