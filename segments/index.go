package segments

import (
	"iter"
	"sort"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
)

// Builds an Index where each segment starts where the previous one ends.
func NewIndex(lengths iter.Seq[Length]) (ret Index) {
	var start Length
	for l := range lengths {
		panicif.True(l < 0)
		ret.segments = append(ret.segments, Extent{start, l})
		start += l
	}
	return
}

// Segments sorted by Start. They may have gaps between them, but must not overlap.
type Index struct {
	segments []Extent
}

func NewIndexFromSegments(segments []Extent) Index {
	for i := 1; i < len(segments); i++ {
		panicif.True(segments[i].Start < segments[i-1].End())
	}
	return Index{segments}
}

func (me Index) Len() int {
	return len(me.segments)
}

func (me Index) Index(i int) Extent {
	return me.segments[i]
}

// The end of the last segment.
func (me Index) End() Int {
	if len(me.segments) == 0 {
		return 0
	}
	return me.segments[len(me.segments)-1].End()
}

// Index of the first segment that ends after off. Zero-length segments never contain anything, so
// they're skipped over by the search.
func (me Index) firstEndingAfter(off Int) int {
	return sort.Search(len(me.segments), func(i int) bool {
		return me.segments[i].End() > off
	})
}

// Yields the segment index and the extent relative to that segment's start, for every non-empty
// intersection of e with the segments in order. Zero-length segments and gaps yield nothing.
func (me Index) LocateIter(e Extent) iter.Seq2[int, Extent] {
	return func(yield func(int, Extent) bool) {
		if e.Empty() {
			return
		}
		for i := me.firstEndingAfter(e.Start); i < len(me.segments); i++ {
			s := me.segments[i]
			overlap := s.Intersect(e)
			if overlap.Empty() {
				if s.Start >= e.End() {
					return
				}
				continue
			}
			if !yield(i, Extent{Start: overlap.Start - s.Start, Length: overlap.Length}) {
				return
			}
		}
	}
}

// Returns true if the callback returns false early, or extents are found in the index for all parts
// of the given extent.
func (me Index) Locate(e Extent, output Callback) bool {
	var covered Int
	for i, located := range me.LocateIter(e) {
		covered += located.Length
		if !output(i, located) {
			return true
		}
	}
	return covered == e.Length
}

type IndexAndOffset struct {
	Index  int
	Offset int64
}

// Returns the segment containing the given offset, and the offset within it.
func (me Index) LocateOffset(off int64) (ret g.Option[IndexAndOffset]) {
	for i, e := range me.LocateIter(Extent{off, 1}) {
		panicif.True(ret.Ok)
		panicif.NotEq(e.Length, 1)
		ret.Set(IndexAndOffset{
			Index:  i,
			Offset: e.Start,
		})
	}
	return
}
