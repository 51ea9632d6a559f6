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

// Package blobio performs positioned reads against MindRecord shard files.
//
// Block-mode readers share one handle per shard (Files); row-mode readers
// open a duplicate handle per worker per shard (Grid) so every worker seeks
// independently.
package blobio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

var (
	// ErrOpen indicates a shard file could not be opened.
	ErrOpen = errors.New("blobio: open failed")
	// ErrRead indicates a positioned read failed or came up short.
	ErrRead = errors.New("blobio: read failed")
)

// Files holds one read handle per shard.
type Files struct {
	files []*os.File

	closeOnce sync.Once
	closeErr  error
}

// Open opens every shard file for reading, one handle each.
func Open(paths []string) (*Files, error) {
	f := &Files{files: make([]*os.File, len(paths))}
	for i, p := range paths {
		fh, err := os.Open(p)
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrOpen, p, err)
		}
		f.files[i] = fh
	}
	return f, nil
}

// ReadInto fills buf from the shard file starting at off. On failure the
// handle is closed and further reads against this shard fail.
func (f *Files) ReadInto(shardID int, off int64, buf []byte) error {
	return readInto(f.files[shardID], shardID, off, buf)
}

// ReadAt reads n bytes from the shard file starting at off.
func (f *Files) ReadAt(shardID int, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := f.ReadInto(shardID, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes every handle in reverse order, tolerating nil entries.
// Safe to call more than once.
func (f *Files) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = closeAll(f.files)
	})
	return f.closeErr
}

// Grid holds a worker × shard matrix of duplicate read handles. Each
// worker owns one row of the grid and never contends with another.
type Grid struct {
	rows [][]*os.File // [worker][shard]

	closeOnce sync.Once
	closeErr  error
}

// OpenGrid opens nWorkers duplicate handles for every shard file.
func OpenGrid(paths []string, nWorkers int) (*Grid, error) {
	g := &Grid{rows: make([][]*os.File, nWorkers)}
	for w := range g.rows {
		g.rows[w] = make([]*os.File, len(paths))
	}
	for s, p := range paths {
		for w := 0; w < nWorkers; w++ {
			fh, err := os.Open(p)
			if err != nil {
				_ = g.Close()
				return nil, fmt.Errorf("%w: %s: %w", ErrOpen, p, err)
			}
			g.rows[w][s] = fh
		}
	}
	return g, nil
}

// ReadAt reads n bytes at off using the handle owned by the given worker.
func (g *Grid) ReadAt(workerID, shardID int, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := readInto(g.rows[workerID][shardID], shardID, off, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close closes every handle in reverse order. Safe to call more than once.
func (g *Grid) Close() error {
	g.closeOnce.Do(func() {
		for w := len(g.rows) - 1; w >= 0; w-- {
			if err := closeAll(g.rows[w]); err != nil && g.closeErr == nil {
				g.closeErr = err
			}
		}
	})
	return g.closeErr
}

// File is a single shard handle used by the planner and label resolver,
// which read raw pages outside the worker handle grids.
type File struct {
	f    *os.File
	path string
}

// OpenFile opens one shard file for positioned reads.
func OpenFile(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrOpen, path, err)
	}
	return &File{f: fh, path: path}, nil
}

// ReadAt reads n bytes starting at off.
func (f *File) ReadAt(off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(io.NewSectionReader(f.f, off, int64(n)), buf); err != nil {
		return nil, fmt.Errorf("%w: %s at %d len %d: %w", ErrRead, f.path, off, n, err)
	}
	return buf, nil
}

// Close closes the handle.
func (f *File) Close() error { return f.f.Close() }

// ReadRange opens path, reads n bytes at off, and closes it.
func ReadRange(path string, off int64, n int) ([]byte, error) {
	fh, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	return fh.ReadAt(off, n)
}

func readInto(fh *os.File, shardID int, off int64, buf []byte) error {
	if fh == nil {
		return fmt.Errorf("%w: shard %d handle closed", ErrRead, shardID)
	}
	if _, err := fh.ReadAt(buf, off); err != nil {
		_ = fh.Close()
		return fmt.Errorf("%w: shard %d at %d len %d: %w", ErrRead, shardID, off, len(buf), err)
	}
	return nil
}

func closeAll(files []*os.File) error {
	var first error
	for i := len(files) - 1; i >= 0; i-- {
		if files[i] == nil {
			continue
		}
		if err := files[i].Close(); err != nil && first == nil {
			first = err
		}
		files[i] = nil
	}
	return first
}
