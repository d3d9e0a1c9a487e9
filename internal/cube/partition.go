// Package cube implements the in-memory store: partitions, cubes, and the
// store that owns them, built on top of the column/value inverted index
// described by the interner package.
package cube

import "github.com/cubedb/cubedb/internal/intern"

// Row is a single logical row about to be inserted: one value per column,
// plus the count it carries. A column id appears at most once.
type Row map[intern.ID]intern.ID

// Partition is a multiset of rows for one partition name, indexed by
// column so that range+filter+group-by counting never has to walk
// individual rows.
type Partition struct {
	TotalCount uint64
	// byColumn[col][value] is the summed count of every row in this
	// partition whose column `col` takes `value`.
	byColumn map[intern.ID]map[intern.ID]uint64
}

// NewPartition returns an empty partition.
func NewPartition() *Partition {
	return &Partition{byColumn: make(map[intern.ID]map[intern.ID]uint64)}
}

// Insert folds row into the partition with the given count. Columns the
// row omits are simply absent from byColumn for this contribution — the
// per-column sum may end up less than TotalCount.
func (p *Partition) Insert(row Row, count uint64) {
	for col, val := range row {
		bucket, ok := p.byColumn[col]
		if !ok {
			bucket = make(map[intern.ID]uint64)
			p.byColumn[col] = bucket
		}
		bucket[val] += count
	}
	p.TotalCount += count
}

// CountUnfiltered returns the partition's total row count.
func (p *Partition) CountUnfiltered() uint64 {
	return p.TotalCount
}

// Filter is a disjunction of allowed values per constrained column,
// conjoined across columns. A nil or empty Filter matches every row.
type Filter map[intern.ID]map[intern.ID]struct{}

// CountFiltered returns the matching count for f within this partition.
//
// Rows are stored at column granularity, not individually, so a true
// row-level AND across multiple constrained columns is not computable
// here. The engine intentionally over-approximates: for each constrained
// column c it sums the buckets for the allowed values of c, then — when
// more than one column is constrained — takes the minimum of those sums
// as the answer. This reproduces the known behaviour of the source
// implementation and must not be "fixed" to a true intersection; see
// DESIGN.md.
func (p *Partition) CountFiltered(f Filter) uint64 {
	if len(f) == 0 {
		return p.TotalCount
	}

	first := true
	var result uint64
	for col, allowed := range f {
		var partial uint64
		if bucket, ok := p.byColumn[col]; ok {
			for v := range allowed {
				partial += bucket[v]
			}
		}
		if first || partial < result {
			result = partial
			first = false
		}
	}
	return result
}

// GroupBy returns, for the given group column, a map from value id to the
// summed count of rows carrying that value — rows that omit the group
// column contribute to no bucket at all, rather than a "missing" bucket.
func (p *Partition) GroupBy(col intern.ID) map[intern.ID]uint64 {
	bucket, ok := p.byColumn[col]
	if !ok {
		return nil
	}
	out := make(map[intern.ID]uint64, len(bucket))
	for v, c := range bucket {
		out[v] = c
	}
	return out
}

// GroupByFiltered is GroupBy restricted to the group column's own filter
// admission set: a value is emitted only if the group column is
// unconstrained in f, or the value itself is one of the allowed values for
// that column. Other constrained columns play no part — this matches the
// "filter f, group by g" reply shape CubeDB clients rely on.
func (p *Partition) GroupByFiltered(col intern.ID, f Filter) map[intern.ID]uint64 {
	bucket, ok := p.byColumn[col]
	if !ok {
		return nil
	}
	allowed, constrained := f[col]
	out := make(map[intern.ID]uint64, len(bucket))
	for v, c := range bucket {
		if constrained {
			if _, ok := allowed[v]; !ok {
				continue
			}
		}
		out[v] = c
	}
	return out
}

// LoadBucket sets the stored count for col/val directly, bypassing
// Insert's row semantics. Used only by the dump/restore path to
// reconstruct a partition's index from its serialized column breakdown,
// where individual row-insert calls are no longer available.
func (p *Partition) LoadBucket(col, val intern.ID, count uint64) {
	bucket, ok := p.byColumn[col]
	if !ok {
		bucket = make(map[intern.ID]uint64)
		p.byColumn[col] = bucket
	}
	bucket[val] = count
}

// SetTotalCount sets the partition's total row count directly. Used only
// by the dump/restore path, since TotalCount cannot be re-derived from
// the per-column breakdown alone.
func (p *Partition) SetTotalCount(n uint64) {
	p.TotalCount = n
}

// Columns returns every column id observed in this partition, each with
// its distinct observed value ids — used by PART/list_column_values.
func (p *Partition) Columns() map[intern.ID]map[intern.ID]struct{} {
	out := make(map[intern.ID]map[intern.ID]struct{}, len(p.byColumn))
	for col, bucket := range p.byColumn {
		vals := make(map[intern.ID]struct{}, len(bucket))
		for v := range bucket {
			vals[v] = struct{}{}
		}
		out[col] = vals
	}
	return out
}
