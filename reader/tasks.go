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

// Task is one unit of planned work. In row-mode Addr is
// [blobStart, blobEnd] within the task's BLOB page; in block-mode Addr is
// [rowCount] for the whole page. Tasks own no I/O.
type Task struct {
	ShardID int
	GroupID int
	Addr    []uint64
	Labels  map[string]any
}

// TaskList is the planner's ordered task sequence plus the delivery
// permutation. Operators reorder Permutation (or rebuild the list) to
// change delivery order without touching task contents.
type TaskList struct {
	tasks       []Task
	Permutation []int
}

// Insert appends a task and returns its index.
func (l *TaskList) Insert(shardID, groupID int, addr []uint64, labels map[string]any) int {
	l.tasks = append(l.tasks, Task{ShardID: shardID, GroupID: groupID, Addr: addr, Labels: labels})
	return len(l.tasks) - 1
}

// Size returns the number of tasks.
func (l *TaskList) Size() int { return len(l.tasks) }

// SizeOfRows sums Addr[0] across tasks. For a block-mode list this is the
// total row count.
func (l *TaskList) SizeOfRows() int64 {
	var n int64
	for i := range l.tasks {
		if len(l.tasks[i].Addr) > 0 {
			n += int64(l.tasks[i].Addr[0])
		}
	}
	return n
}

// Get returns the task at index i.
func (l *TaskList) Get(i int) *Task { return &l.tasks[i] }

// MakePerm resets the permutation to identity.
func (l *TaskList) MakePerm() {
	l.Permutation = make([]int, len(l.tasks))
	for i := range l.Permutation {
		l.Permutation[i] = i
	}
}

// Combine interleaves per-category task lists round-robin so balanced
// sampling alternates categories for as long as each still has tasks.
func Combine(lists []TaskList) TaskList {
	var total int
	for i := range lists {
		total += lists[i].Size()
	}
	combined := TaskList{tasks: make([]Task, 0, total)}
	for round := 0; ; round++ {
		appended := false
		for i := range lists {
			if round < lists[i].Size() {
				combined.tasks = append(combined.tasks, lists[i].tasks[round])
				appended = true
			}
		}
		if !appended {
			return combined
		}
	}
}
