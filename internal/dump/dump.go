// Package dump writes and restores the store's entire contents as one
// JSONL file per cube, guarded by an advisory file lock so a DUMP can
// never race a restore.
package dump

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/intern"
)

const lockFileName = ".dump.lock"

// header is the first line of a cube's JSONL file: its name, plus
// nothing else — partitions follow, one per line.
type header struct {
	Cube string `json:"cube"`
}

// partitionRecord is one row-group: a partition name plus its full
// column/value/count breakdown, dense enough to rebuild the partition's
// inverted index without replaying individual rows.
type partitionRecord struct {
	Partition  string            `json:"partition"`
	TotalCount uint64            `json:"total_count"`
	Columns    map[string]column `json:"columns"`
}

type column struct {
	Values map[string]uint64 `json:"values"`
}

// Dump writes every cube in store to dir, one <cube>.jsonl file each,
// guarded by a lock file so a concurrent Dump/Restore cannot interleave.
// Each file is written to a temp path and renamed into place, so a crash
// mid-dump leaves the previous dump (or nothing) rather than a partial
// file.
func Dump(dir string, store *cube.Store) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating dump directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring dump lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another dump or restore is in progress")
	}
	defer func() { _ = lock.Unlock() }()

	in := store.Interner()
	snapshot := store.Snapshot()
	for _, name := range store.CubeNames() {
		if err := dumpCube(dir, name, snapshot[name], in); err != nil {
			return fmt.Errorf("dumping cube %q: %w", name, err)
		}
	}
	return nil
}

func dumpCube(dir, name string, c *cube.Cube, in *intern.Interner) error {
	finalPath := filepath.Join(dir, name+".jsonl")
	tempPath := fmt.Sprintf("%s.tmp.%d", finalPath, os.Getpid())

	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			_ = f.Close()
			_ = os.Remove(tempPath)
		}
	}()

	enc := json.NewEncoder(f)
	if err := enc.Encode(header{Cube: name}); err != nil {
		return fmt.Errorf("encoding header: %w", err)
	}

	for _, partName := range c.PartitionNames() {
		p := c.Get(partName)
		if p == nil {
			continue
		}
		rec := partitionRecord{Partition: partName, TotalCount: p.CountUnfiltered(), Columns: make(map[string]column)}
		for colID := range p.Columns() {
			colName := in.Columns.Resolve(colID)
			bucket := p.GroupBy(colID)
			values := make(map[string]uint64, len(bucket))
			for valID, count := range bucket {
				values[in.Values.Resolve(valID)] = count
			}
			rec.Columns[colName] = column{Values: values}
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding partition %q: %w", partName, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tempPath, finalPath); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	return nil
}

// Restore loads every <cube>.jsonl file in dir into store. It is called
// once at startup; stray leftover *.tmp.* files from an interrupted dump
// are ignored rather than treated as corrupt input.
func Restore(dir string, store *cube.Store) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading dump directory: %w", err)
	}

	lock := flock.New(filepath.Join(dir, lockFileName))
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("acquiring dump lock: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	in := store.Interner()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		if err := restoreFile(filepath.Join(dir, name), store, in); err != nil {
			return fmt.Errorf("restoring %s: %w", name, err)
		}
	}
	return nil
}

func restoreFile(path string, store *cube.Store, in *intern.Interner) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var h header
	var c *cube.Cube
	first := true
	for scanner.Scan() {
		line := scanner.Bytes()
		if first {
			if err := json.Unmarshal(line, &h); err != nil {
				return fmt.Errorf("decoding header: %w", err)
			}
			c = store.EnsureCube(h.Cube)
			first = false
			continue
		}

		var rec partitionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return fmt.Errorf("decoding partition record: %w", err)
		}
		p := c.EnsurePartition(rec.Partition)
		p.SetTotalCount(rec.TotalCount)
		for colName, col := range rec.Columns {
			colID := in.Columns.Intern(colName)
			for valName, count := range col.Values {
				valID := in.Values.Intern(valName)
				p.LoadBucket(colID, valID, count)
			}
		}
	}
	return scanner.Err()
}
