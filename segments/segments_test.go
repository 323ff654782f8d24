package segments

import (
	"slices"
	"testing"

	"github.com/go-quicktest/qt"
)

type located struct {
	Index int
	Extent
}

func locateAll(ls []Length, needle Extent) (ret []located) {
	index := NewIndex(slices.Values(ls))
	for i, e := range index.LocateIter(needle) {
		ret = append(ret, located{i, e})
	}
	return
}

func TestLocateSkipsZeroLengthSegments(t *testing.T) {
	qt.Check(t, qt.DeepEquals(
		locateAll([]Length{1, 0, 2, 0, 3}, Extent{2, 2}),
		[]located{{2, Extent{1, 1}}, {4, Extent{0, 1}}}))
	qt.Check(t, qt.HasLen(locateAll([]Length{1, 0, 2, 0, 3}, Extent{6, 2}), 0))
	qt.Check(t, qt.HasLen(locateAll([]Length{1, 0, 2}, Extent{1, 0}), 0))
}

func TestLocateEndsExactlyOnBoundary(t *testing.T) {
	qt.Check(t, qt.DeepEquals(
		locateAll([]Length{4, 0, 4}, Extent{0, 4}),
		[]located{{0, Extent{0, 4}}}))
	qt.Check(t, qt.DeepEquals(
		locateAll([]Length{4, 0, 4}, Extent{2, 4}),
		[]located{{0, Extent{2, 2}}, {2, Extent{0, 2}}}))
}

func TestLocateWithGaps(t *testing.T) {
	index := NewIndexFromSegments([]Extent{{0, 2}, {2, 3}, {6, 4}})
	var got []located
	covered := index.Locate(Extent{4, 4}, func(i int, e Extent) bool {
		got = append(got, located{i, e})
		return true
	})
	qt.Check(t, qt.IsFalse(covered))
	qt.Check(t, qt.DeepEquals(got, []located{{1, Extent{2, 1}}, {2, Extent{0, 2}}}))
}

func TestLocateOffset(t *testing.T) {
	index := NewIndex(slices.Values([]Length{3, 0, 5}))
	qt.Check(t, qt.DeepEquals(index.LocateOffset(3).Unwrap(), IndexAndOffset{Index: 2, Offset: 0}))
	qt.Check(t, qt.DeepEquals(index.LocateOffset(2).Unwrap(), IndexAndOffset{Index: 0, Offset: 2}))
	qt.Check(t, qt.IsFalse(index.LocateOffset(8).Ok))
}

func TestCoverage(t *testing.T) {
	lengths := []Length{5, 0, 0, 7, 1, 0, 16}
	index := NewIndex(slices.Values(lengths))
	for start := Int(0); start < index.End(); start++ {
		for n := Int(0); start+n <= index.End(); n++ {
			var sum Int
			next := start
			lastIndex := -1
			for i, e := range index.LocateIter(Extent{start, n}) {
				qt.Assert(t, qt.IsTrue(e.Length > 0))
				qt.Assert(t, qt.IsTrue(i > lastIndex))
				seg := index.Index(i)
				qt.Assert(t, qt.IsTrue(e.End() <= seg.Length))
				qt.Assert(t, qt.Equals(seg.Start+e.Start, next))
				next += e.Length
				sum += e.Length
				lastIndex = i
			}
			qt.Assert(t, qt.Equals(sum, n))
		}
	}
}
