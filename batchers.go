package docsync

// Batcher splits the rows transformed from one epoch into the slices passed
// to Load, one Load call per slice, in order. Jobs without a Batcher get
// SizeBatcher with DefaultLoadBatchSize.
//
// The constructors below cover the usual cases and compose with
// CombineBatchers:
//
//	func (j *MyJob) Batch(rows []Row) [][]Row {
//	    return docsync.WeightedBatcher(func(r Row) int { return len(r) }, 65535).Batch(rows)
//	}
type Batcher[T any] interface {
	Batch(items []T) [][]T
}

// BatcherFunc adapts a plain function to the [Batcher] interface.
type BatcherFunc[T any] func(items []T) [][]T

func (f BatcherFunc[T]) Batch(items []T) [][]T {
	return f(items)
}

// NoBatcher keeps the epoch whole, for loaders that chunk on their own.
func NoBatcher[T any]() Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 {
			return nil
		}
		return [][]T{items}
	})
}

// SizeBatcher cuts items into slices of at most maxSize.
func SizeBatcher[T any](maxSize int) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		return chunk(items, maxSize)
	})
}

// GroupByFieldWithSizeLimit groups items sharing a key, in the order each key
// first appears, and splits any group larger than maxGroupSize.
//
//	// Rows with the same column set share one INSERT statement.
//	batcher := docsync.GroupByFieldWithSizeLimit(columnSignature, 1000)
func GroupByFieldWithSizeLimit[T any, K comparable](key func(T) K, maxGroupSize int) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if maxGroupSize <= 0 {
			return nil
		}
		var out [][]T
		for _, group := range groupBy(items, key) {
			out = append(out, chunk(group, maxGroupSize)...)
		}
		return out
	})
}

// WeightedBatcher fills each slice until the next item would push its total
// weight past maxWeight. An item heavier than maxWeight travels alone rather
// than being dropped.
//
//	// One bind parameter per column, at most 65535 per statement.
//	batcher := docsync.WeightedBatcher(func(r schema.Row) int { return len(r) }, 65535)
func WeightedBatcher[T any](weight func(T) int, maxWeight int) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 || maxWeight <= 0 {
			return nil
		}

		var out [][]T
		start, total := 0, 0
		for i, item := range items {
			w := weight(item)
			if i > start && total+w > maxWeight {
				out = append(out, items[start:i:i])
				start, total = i, 0
			}
			total += w
		}
		return append(out, items[start:])
	})
}

// CombineBatchers feeds every slice produced by one batcher into the next.
//
//	batcher := docsync.CombineBatchers(
//		docsync.GroupByFieldWithSizeLimit(columnSignature, 1000),
//		docsync.WeightedBatcher(func(r schema.Row) int { return len(r) }, 65535),
//	)
func CombineBatchers[T any](batchers ...Batcher[T]) Batcher[T] {
	return BatcherFunc[T](func(items []T) [][]T {
		if len(items) == 0 {
			return nil
		}
		out := [][]T{items}
		for _, b := range batchers {
			var next [][]T
			for _, batch := range out {
				next = append(next, b.Batch(batch)...)
			}
			out = next
		}
		return out
	})
}

func chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 || size <= 0 {
		return nil
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for len(items) > size {
		out = append(out, items[:size:size])
		items = items[size:]
	}
	return append(out, items)
}

// groupBy groups items by key, keeping groups in first-seen key order.
func groupBy[T any, K comparable](items []T, key func(T) K) [][]T {
	index := make(map[K]int)
	var groups [][]T
	for _, item := range items {
		k := key(item)
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], item)
	}
	return groups
}
