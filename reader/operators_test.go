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

func TestShuffleSameSeedSameOrder(t *testing.T) {
	build := func() TaskList {
		var l TaskList
		for i := 0; i < 32; i++ {
			l.Insert(0, i, []uint64{0, 1}, nil)
		}
		return l
	}

	a := build()
	require.NoError(t, NewShuffle(7).Apply(&a))
	b := build()
	require.NoError(t, NewShuffle(7).Apply(&b))
	assert.Equal(t, a.Permutation, b.Permutation)

	c := build()
	require.NoError(t, NewShuffle(8).Apply(&c))
	assert.NotEqual(t, a.Permutation, c.Permutation)
}

func TestShuffleIsPermutation(t *testing.T) {
	var l TaskList
	for i := 0; i < 16; i++ {
		l.Insert(0, i, []uint64{0, 1}, nil)
	}
	require.NoError(t, NewShuffle(1).Apply(&l))

	seen := make(map[int]bool)
	for _, p := range l.Permutation {
		assert.False(t, seen[p])
		seen[p] = true
	}
	assert.Len(t, seen, 16)
}

func TestShuffleAdvancesBetweenEpochs(t *testing.T) {
	var l TaskList
	for i := 0; i < 32; i++ {
		l.Insert(0, i, []uint64{0, 1}, nil)
	}
	s := NewShuffle(3)
	require.NoError(t, s.Apply(&l))
	first := append([]int(nil), l.Permutation...)
	require.NoError(t, s.Apply(&l))
	assert.NotEqual(t, first, l.Permutation)
}

func TestCategoryApplyIsNoop(t *testing.T) {
	var l TaskList
	l.Insert(0, 0, []uint64{0, 1}, nil)
	op := NewCategory("cls", []string{"0", "1"})
	require.NoError(t, op.Apply(&l))
	assert.Empty(t, l.Permutation)

	crit := op.criteria()
	require.Len(t, crit, 2)
	assert.Equal(t, Criteria{Field: "cls", Value: "0"}, crit[0])
	assert.Equal(t, Criteria{Field: "cls", Value: "1"}, crit[1])
}
