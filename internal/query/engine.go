// Package query implements COUNT and PCOUNT: walking a cube's partitions
// over an ordered range and reducing them with an optional filter and
// optional group-by column.
package query

import (
	"github.com/cubedb/cubedb/internal/cube"
	"github.com/cubedb/cubedb/internal/intern"
)

// Group is a grouped-count result: value id to summed count.
type Group map[intern.ID]uint64

// Count answers COUNT for the given range. If group is non-nil, the
// result is a Group; otherwise it is a single total across the range.
func Count(c *cube.Cube, from, to string, filter cube.Filter, group *intern.ID) (total uint64, grouped Group) {
	parts := c.Range(from, to)

	if group == nil {
		for _, p := range parts {
			total += p.Part.CountFiltered(filter)
		}
		return total, nil
	}

	grouped = make(Group)
	for _, p := range parts {
		for v, cnt := range p.Part.GroupByFiltered(*group, filter) {
			grouped[v] += cnt
		}
	}
	return 0, grouped
}

// PCount answers PCOUNT for the given range: a per-partition breakdown.
// If group is nil, partitionTotals maps partition name to its filtered
// count (partitions are included even when their count is zero, matching
// the range being walked). If group is non-nil,
// partitionGroups maps partition name to its grouped breakdown, omitting
// partitions whose breakdown is empty.
func PCount(c *cube.Cube, from, to string, filter cube.Filter, group *intern.ID) (partitionTotals map[string]uint64, partitionGroups map[string]Group) {
	parts := c.Range(from, to)

	if group == nil {
		partitionTotals = make(map[string]uint64, len(parts))
		for _, p := range parts {
			partitionTotals[p.Name] = p.Part.CountFiltered(filter)
		}
		return partitionTotals, nil
	}

	partitionGroups = make(map[string]Group)
	for _, p := range parts {
		g := p.Part.GroupByFiltered(*group, filter)
		if len(g) == 0 {
			continue
		}
		partitionGroups[p.Name] = g
	}
	return nil, partitionGroups
}
