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

import "math/rand"

// Operator transforms the planned task list before streaming starts.
// Concrete operators are Shuffle and Category; the planner special-cases
// Category (it selects the planning strategy) and skips Shuffle under
// block-mode.
type Operator interface {
	Apply(tasks *TaskList) error
}

// Shuffle permutes the delivery order. The same seed reproduces the same
// epoch order; every re-application advances the generator, so successive
// epochs shuffle differently but deterministically.
type Shuffle struct {
	rng *rand.Rand
}

// NewShuffle returns a shuffle operator seeded for reproducible runs.
func NewShuffle(seed int64) *Shuffle {
	return &Shuffle{rng: rand.New(rand.NewSource(seed))}
}

// Apply shuffles the permutation, creating it first when the planner has
// not yet finalised one.
func (s *Shuffle) Apply(tasks *TaskList) error {
	if len(tasks.Permutation) == 0 {
		tasks.MakePerm()
	}
	s.rng.Shuffle(len(tasks.Permutation), func(i, j int) {
		tasks.Permutation[i], tasks.Permutation[j] = tasks.Permutation[j], tasks.Permutation[i]
	})
	return nil
}

// Category requests balanced sampling over the values of one indexed
// field. The planner expands it into per-category sublists and combines
// them round-robin; Apply is therefore a no-op.
type Category struct {
	Field  string
	Values []string
}

// NewCategory returns a category operator over the given field values.
func NewCategory(field string, values []string) *Category {
	return &Category{Field: field, Values: values}
}

// Apply does nothing; category planning happens before the operator pass.
func (c *Category) Apply(*TaskList) error { return nil }

// criteria expands the operator into one (field, value) filter per value.
func (c *Category) criteria() []Criteria {
	out := make([]Criteria, len(c.Values))
	for i, v := range c.Values {
		out[i] = Criteria{Field: c.Field, Value: v}
	}
	return out
}
