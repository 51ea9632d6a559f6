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

// Tuning limits for the read pipeline. These are contract points shared
// with dataset writers and host bindings; change them in lockstep.
const (
	// MaxShardCount bounds the number of shards a dataset may have.
	// Planning fails beyond this.
	MaxShardCount = 1000

	// MaxConsumerCount and MinConsumerCount clamp the worker pool size.
	MaxConsumerCount = 128
	MinConsumerCount = 4

	// NumBatchInMap bounds how many row-mode results may sit in the
	// delivery map beyond the consumer's position.
	NumBatchInMap = 10

	// NumPageInBuffer is the block-mode page ring size.
	NumPageInBuffer = 16

	// Int64Len is the little-endian u64 length prefix in front of every
	// record inside a page.
	Int64Len = 8
)

// numberFieldTypes lists the schema types whose criteria values
// interpolate unquoted into SQL and whose index columns cast numerically.
var numberFieldTypes = map[string]struct{}{
	"int32":   {},
	"int64":   {},
	"float32": {},
	"float64": {},
}
