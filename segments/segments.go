package segments

type Int = int64

type Length = Int

type Extent struct {
	Start, Length Int
}

func (e Extent) End() Int {
	return e.Start + e.Length
}

// Whether the extent has no length, and so can't overlap anything.
func (e Extent) Empty() bool {
	return e.Length <= 0
}

// The overlap of two extents in absolute terms. The result is empty if they don't intersect.
func (e Extent) Intersect(other Extent) (ret Extent) {
	ret.Start = max(e.Start, other.Start)
	ret.Length = max(min(e.End(), other.End())-ret.Start, 0)
	return
}

type (
	Callback = func(segmentIndex int, segmentBounds Extent) bool
)
