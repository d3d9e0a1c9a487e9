package cube

import (
	"sort"
	"sync"
)

// Cube is an ordered collection of partitions, ordered lexicographically
// by partition name. A Cube owns its partitions outright.
type Cube struct {
	mu         sync.RWMutex
	partitions map[string]*Partition
}

// NewCube returns an empty cube.
func NewCube() *Cube {
	return &Cube{partitions: make(map[string]*Partition)}
}

// Insert folds row into the named partition, creating the partition if
// this is its first row.
func (c *Cube) Insert(partName string, row Row, count uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.partitions[partName]
	if !ok {
		p = NewPartition()
		c.partitions[partName] = p
	}
	p.Insert(row, count)
}

// EnsurePartition returns the named partition, creating it empty if
// absent. Used by the dump/restore path, which reconstructs a
// partition's index directly rather than through Insert.
func (c *Cube) EnsurePartition(name string) *Partition {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.partitions[name]
	if !ok {
		p = NewPartition()
		c.partitions[name] = p
	}
	return p
}

// PartitionNames returns every partition name in ascending lexical order.
func (c *Cube) PartitionNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.partitions))
	for name := range c.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Range returns the partitions whose name p satisfies from <= p < to, in
// ascending order. An empty from means "from the start"; an empty to
// means "to the end".
func (c *Cube) Range(from, to string) []struct {
	Name string
	Part *Partition
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.partitions))
	for name := range c.partitions {
		if from != "" && name < from {
			continue
		}
		if to != "" && name >= to {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]struct {
		Name string
		Part *Partition
	}, len(names))
	for i, name := range names {
		out[i] = struct {
			Name string
			Part *Partition
		}{Name: name, Part: c.partitions[name]}
	}
	return out
}

// RangeInclusive returns the partitions whose name p satisfies
// from <= p <= to (both bounds inclusive, matching PART's range
// semantics which differ from COUNT/PCOUNT's half-open range).
// An empty from/to behaves the same way as in Range.
func (c *Cube) RangeInclusive(from, to string) []struct {
	Name string
	Part *Partition
} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.partitions))
	for name := range c.partitions {
		if from != "" && name < from {
			continue
		}
		if to != "" && name > to {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]struct {
		Name string
		Part *Partition
	}, len(names))
	for i, name := range names {
		out[i] = struct {
			Name string
			Part *Partition
		}{Name: name, Part: c.partitions[name]}
	}
	return out
}

// Get returns the partition by exact name, or nil if absent.
func (c *Cube) Get(name string) *Partition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.partitions[name]
}

// DeleteOne removes a single partition by exact name. It returns false if
// the partition did not exist — callers map that to ErrObjNotFound (-8).
func (c *Cube) DeleteOne(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.partitions[name]; !ok {
		return false
	}
	delete(c.partitions, name)
	return true
}

// DeleteRange removes every partition p with from <= p < to. Unlike
// DeleteOne, matching nothing is not an error.
func (c *Cube) DeleteRange(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name := range c.partitions {
		if from != "" && name < from {
			continue
		}
		if to != "" && name >= to {
			continue
		}
		delete(c.partitions, name)
	}
}
