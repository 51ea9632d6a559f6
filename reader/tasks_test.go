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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskListInsertAndSize(t *testing.T) {
	var l TaskList
	assert.Equal(t, 0, l.Size())

	idx := l.Insert(0, 0, []uint64{8, 12}, map[string]any{"l": int64(1)})
	assert.Equal(t, 0, idx)
	idx = l.Insert(1, 0, []uint64{12, 20}, nil)
	assert.Equal(t, 1, idx)
	assert.Equal(t, 2, l.Size())

	task := l.Get(1)
	assert.Equal(t, 1, task.ShardID)
	assert.Equal(t, []uint64{12, 20}, task.Addr)
}

func TestTaskListSizeOfRows(t *testing.T) {
	var l TaskList
	l.Insert(0, 0, []uint64{3}, nil)
	l.Insert(0, 1, []uint64{5}, nil)
	l.Insert(1, 0, []uint64{2}, nil)
	assert.Equal(t, int64(10), l.SizeOfRows())
}

func TestTaskListMakePerm(t *testing.T) {
	var l TaskList
	for i := 0; i < 4; i++ {
		l.Insert(0, i, []uint64{0, 1}, nil)
	}
	assert.Empty(t, l.Permutation)
	l.MakePerm()
	assert.Equal(t, []int{0, 1, 2, 3}, l.Permutation)
}

func TestCombineRoundRobin(t *testing.T) {
	var a, b TaskList
	a.Insert(0, 0, []uint64{0, 1}, map[string]any{"cls": int64(0)})
	a.Insert(0, 0, []uint64{1, 2}, map[string]any{"cls": int64(0)})
	a.Insert(0, 0, []uint64{2, 3}, map[string]any{"cls": int64(0)})
	b.Insert(0, 0, []uint64{3, 4}, map[string]any{"cls": int64(1)})

	combined := Combine([]TaskList{a, b})
	require.Equal(t, 4, combined.Size())

	var classes []int64
	for i := 0; i < combined.Size(); i++ {
		classes = append(classes, combined.Get(i).Labels["cls"].(int64))
	}
	// Round two onward only class 0 remains.
	assert.Equal(t, []int64{0, 1, 0, 0}, classes)
}

func TestCombineEmpty(t *testing.T) {
	combined := Combine(nil)
	assert.Equal(t, 0, combined.Size())
	combined = Combine([]TaskList{{}, {}})
	assert.Equal(t, 0, combined.Size())
}
