package noise

import (
	"cmp"
	"slices"
)

// Normalize replaces every value in f with its descending rank position:
// the greatest input becomes 0, the next 1/N, and so on up to (N-1)/N.
//
// The output is exactly uniform regardless of the input distribution.
// NaN values rank below every number. Equal inputs receive adjacent ranks
// in an unspecified order, since the sort is not stable.
func Normalize(f *Field) {
	var n normalizer
	n.normalize(f)
}

// normalizer keeps its index buffer between rounds.
type normalizer struct {
	order []int32
}

func (n *normalizer) normalize(f *Field) {
	count := f.Len()
	if count == 0 {
		return
	}
	if cap(n.order) < count {
		n.order = make([]int32, count)
	}
	order := n.order[:count]
	for i := range order {
		order[i] = int32(i)
	}

	pix := f.Pix
	// cmp.Compare orders NaN before any number, so reversing it puts NaN last.
	slices.SortFunc(order, func(a, b int32) int {
		return cmp.Compare(pix[b], pix[a])
	})

	total := float32(count)
	for rank, i := range order {
		pix[i] = float32(rank) / total
	}
}
