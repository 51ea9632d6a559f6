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

import "errors"

var (
	// ErrIO wraps file or index-database failures.
	ErrIO = errors.New("reader: io failure")

	// ErrFormatMismatch indicates the shard header could not be built or
	// the header contents are inconsistent.
	ErrFormatMismatch = errors.New("reader: format mismatch")

	// ErrIllegalColumnList indicates a selected column appears in no schema.
	ErrIllegalColumnList = errors.New("reader: illegal column list")

	// ErrCapacityExceeded indicates the dataset or configuration exceeds a
	// hard limit (shard count).
	ErrCapacityExceeded = errors.New("reader: capacity exceeded")

	// ErrDecode indicates an index cell or raw record failed to decode.
	ErrDecode = errors.New("reader: decode failed")

	// ErrInterrupted indicates Launch was called on a reader whose
	// pipeline was already interrupted, by Finish or by a failed plan.
	ErrInterrupted = errors.New("reader: interrupted")

	// ErrNotDrained indicates Reset or ShuffleTask was invoked while
	// workers still had undelivered results in flight.
	ErrNotDrained = errors.New("reader: stream not drained")
)
