package producer

// GapRange represents a range of blocks between the next expected block and a
// newly announced head that must be fetched before the head itself
type GapRange struct {
	Start uint64
	End   uint64
}

// Size returns the number of blocks in the gap
func (g GapRange) Size() uint64 {
	if g.End < g.Start {
		return 0
	}
	return g.End - g.Start + 1
}

// gapBefore returns the blocks strictly between next-1 and head
func gapBefore(next, head uint64) (GapRange, bool) {
	if head <= next {
		return GapRange{}, false
	}
	return GapRange{Start: next, End: head - 1}, true
}
