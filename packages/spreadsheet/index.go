package spreadsheet

import (
	"cmp"
	"slices"
)

// maxChunksPerEntry is the number of chunks a region may touch before it
// is kept in the wide list instead of every bucket
const maxChunksPerEntry = 16

type regionEntry[T cmp.Ordered] struct {
	region Region
	value  T
}

// RegionIndex answers "which entries overlap this region" without a scan
// over every entry. Regions are bucketed by the 256x256 chunks they touch,
// the same partitioning worksheets use for storage. An entry may be
// inserted more than once; it stays until removed as many times.
type RegionIndex[T cmp.Ordered] struct {
	counts  map[regionEntry[T]]int
	buckets map[ChunkKey]map[regionEntry[T]]struct{}
	wide    map[regionEntry[T]]struct{}
}

func NewRegionIndex[T cmp.Ordered]() *RegionIndex[T] {
	return &RegionIndex[T]{
		counts:  make(map[regionEntry[T]]int),
		buckets: make(map[ChunkKey]map[regionEntry[T]]struct{}),
		wide:    make(map[regionEntry[T]]struct{}),
	}
}

// chunkSpan returns the chunk coordinates covered by region
func chunkSpan(r Region) (top, left, bottom, right int) {
	return r.Top / ChunkRows, r.Left / ChunkCols, r.Bottom / ChunkRows, r.Right / ChunkCols
}

func chunkCount(r Region) int {
	top, left, bottom, right := chunkSpan(r)
	return (bottom - top + 1) * (right - left + 1)
}

// Len returns the number of distinct entries
func (ix *RegionIndex[T]) Len() int {
	return len(ix.counts)
}

// Insert adds value under region
func (ix *RegionIndex[T]) Insert(region Region, value T) {
	e := regionEntry[T]{region: region, value: value}
	ix.counts[e]++
	if ix.counts[e] > 1 {
		return
	}

	if chunkCount(region) > maxChunksPerEntry {
		ix.wide[e] = struct{}{}
		return
	}
	top, left, bottom, right := chunkSpan(region)
	for cr := top; cr <= bottom; cr++ {
		for cc := left; cc <= right; cc++ {
			key := ChunkKey{ChunkRow: cr, ChunkCol: cc}
			bucket, ok := ix.buckets[key]
			if !ok {
				bucket = make(map[regionEntry[T]]struct{})
				ix.buckets[key] = bucket
			}
			bucket[e] = struct{}{}
		}
	}
}

// Remove drops one insertion of value under region. returns false if it
// was not present.
func (ix *RegionIndex[T]) Remove(region Region, value T) bool {
	e := regionEntry[T]{region: region, value: value}
	n, ok := ix.counts[e]
	if !ok {
		return false
	}
	if n > 1 {
		ix.counts[e] = n - 1
		return true
	}
	delete(ix.counts, e)

	if _, isWide := ix.wide[e]; isWide {
		delete(ix.wide, e)
		return true
	}
	top, left, bottom, right := chunkSpan(region)
	for cr := top; cr <= bottom; cr++ {
		for cc := left; cc <= right; cc++ {
			key := ChunkKey{ChunkRow: cr, ChunkCol: cc}
			if bucket, ok := ix.buckets[key]; ok {
				delete(bucket, e)
				if len(bucket) == 0 {
					delete(ix.buckets, key)
				}
			}
		}
	}
	return true
}

// visit calls fn for every entry whose region intersects query. an entry
// spanning several chunks may be visited more than once.
func (ix *RegionIndex[T]) visit(query Region, fn func(regionEntry[T]) bool) {
	for e := range ix.wide {
		if e.region.Intersects(query) && !fn(e) {
			return
		}
	}

	scan := func(bucket map[regionEntry[T]]struct{}) bool {
		for e := range bucket {
			if e.region.Intersects(query) && !fn(e) {
				return false
			}
		}
		return true
	}

	// a tall or wide query can touch more chunks than are populated
	if chunkCount(query) > len(ix.buckets) {
		top, left, bottom, right := chunkSpan(query)
		for key, bucket := range ix.buckets {
			if key.ChunkRow < top || key.ChunkRow > bottom || key.ChunkCol < left || key.ChunkCol > right {
				continue
			}
			if !scan(bucket) {
				return
			}
		}
		return
	}

	top, left, bottom, right := chunkSpan(query)
	for cr := top; cr <= bottom; cr++ {
		for cc := left; cc <= right; cc++ {
			if bucket, ok := ix.buckets[ChunkKey{ChunkRow: cr, ChunkCol: cc}]; ok {
				if !scan(bucket) {
					return
				}
			}
		}
	}
}

// Query returns the distinct values whose regions intersect query, sorted
func (ix *RegionIndex[T]) Query(query Region) []T {
	seen := make(map[T]struct{})
	ix.visit(query, func(e regionEntry[T]) bool {
		seen[e.value] = struct{}{}
		return true
	})
	out := make([]T, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	slices.Sort(out)
	return out
}

// Any reports whether some entry intersects query
func (ix *RegionIndex[T]) Any(query Region) bool {
	found := false
	ix.visit(query, func(regionEntry[T]) bool {
		found = true
		return false
	})
	return found
}
