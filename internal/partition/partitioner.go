package partition

import (
	"math"

	vfserrors "github.com/arrayvfs/arrayvfs/pkg/errors"
)

// realGranularity is the smallest real-domain range length the
// partitioner will still try to split; below it, Next reports
// unsplittable rather than looping on a range that can no longer
// shrink.
const realGranularity = 1e-9

// ResultBudget is a per-attribute byte budget: SizeFixed bounds the
// fixed-size (offsets, for var-length attributes) component, SizeVar
// bounds the variable-size payload component. SizeVar is zero for
// fixed-length attributes.
type ResultBudget struct {
	SizeFixed uint64
	SizeVar   uint64
}

// PartitionInfo describes one partition Next has just produced: the
// Subarray itself, its [Start,End] position in the original flattened
// enumeration, and whether it came off the multi-range queue (which
// matters to SplitCurrent, since multi-range and single-range
// partitions split differently). Start and End are set only for
// partitions taken directly from the enumeration; partitions taken from
// the single-range or multi-range queue carry Start and End of zero.
type PartitionInfo struct {
	Partition       Subarray
	Start, End      uint64
	SplitMultiRange bool
}

// State is the partitioner's resumable cursor: Start/End bound the
// not-yet-visited suffix of the original subarray's flattened
// enumeration, and SingleRange/MultiRange are FIFO queues of
// range-exceeds-budget fragments awaiting a further split before they
// can be yielded.
type State struct {
	Start, End  int
	SingleRange []Subarray
	MultiRange  []Subarray
}

// SubarrayPartitioner walks subarray's flattened range enumeration,
// yielding successive sub-partitions via Next whose estimated result
// size fits every attribute's result budget and the overall memory
// budget. A candidate that cannot be shrunk to fit is reported via
// Next's unsplittable out-parameter rather than an error: budget
// exhaustion on an atomic range is an expected terminal condition, not
// a failure.
type SubarrayPartitioner struct {
	subarray Subarray
	layout   Layout
	state    State

	current    PartitionInfo
	hasCurrent bool

	budgets        map[string]ResultBudget
	memBudgetFixed uint64
	memBudgetVar   uint64
}

// New returns a partitioner over subarray's full flattened enumeration
// with no result or memory budgets set (an unbudgeted partitioner
// yields the whole subarray as its first and only partition).
func New(subarray Subarray) *SubarrayPartitioner {
	return &SubarrayPartitioner{
		subarray: subarray,
		layout:   subarray.Layout(),
		state:    State{Start: 0, End: subarray.RangeNum() - 1},
		budgets:  make(map[string]ResultBudget),
	}
}

// Clone returns a deep copy: the pending queues, current partition,
// and budget map are all copied so mutating one partitioner never
// affects the other. The Subarray values themselves are shared by
// reference, which is safe because RangeSubarray (and any conforming
// implementation) never mutates in place — Slice and Split always
// return new values.
func (p *SubarrayPartitioner) Clone() *SubarrayPartitioner {
	clone := &SubarrayPartitioner{
		subarray: p.subarray,
		layout:   p.layout,
		state: State{
			Start:       p.state.Start,
			End:         p.state.End,
			SingleRange: append([]Subarray(nil), p.state.SingleRange...),
			MultiRange:  append([]Subarray(nil), p.state.MultiRange...),
		},
		current:        p.current,
		hasCurrent:     p.hasCurrent,
		budgets:        make(map[string]ResultBudget, len(p.budgets)),
		memBudgetFixed: p.memBudgetFixed,
		memBudgetVar:   p.memBudgetVar,
	}
	for k, v := range p.budgets {
		clone.budgets[k] = v
	}
	return clone
}

// SetResultBudget sets attr's fixed-size result budget, clearing any
// previously-set var-size budget.
func (p *SubarrayPartitioner) SetResultBudget(attr string, fixed uint64) {
	p.budgets[attr] = ResultBudget{SizeFixed: fixed}
}

// SetResultBudgetVar sets attr's fixed- and var-size result budgets,
// for a variable-length attribute.
func (p *SubarrayPartitioner) SetResultBudgetVar(attr string, fixed, varSize uint64) {
	p.budgets[attr] = ResultBudget{SizeFixed: fixed, SizeVar: varSize}
}

// GetResultBudget returns attr's result budget, if one is set.
func (p *SubarrayPartitioner) GetResultBudget(attr string) (ResultBudget, bool) {
	b, ok := p.budgets[attr]
	return b, ok
}

// SetMemoryBudget sets the aggregate fixed- and var-size memory budget
// across every attribute with a result budget set. A zero value leaves
// that dimension of the memory budget unenforced.
func (p *SubarrayPartitioner) SetMemoryBudget(fixed, varSize uint64) {
	p.memBudgetFixed = fixed
	p.memBudgetVar = varSize
}

// GetMemoryBudget returns the current memory budget.
func (p *SubarrayPartitioner) GetMemoryBudget() (fixed, varSize uint64) {
	return p.memBudgetFixed, p.memBudgetVar
}

// Current returns the most recent partition Next or SplitCurrent
// produced, if any.
func (p *SubarrayPartitioner) Current() (Subarray, bool) {
	if !p.hasCurrent {
		return nil, false
	}
	return p.current.Partition, true
}

// CurrentPartitionInfo returns the full PartitionInfo behind Current.
func (p *SubarrayPartitioner) CurrentPartitionInfo() PartitionInfo {
	return p.current
}

// Done reports whether iteration has exhausted the subarray: both
// pending queues are empty and the direct cursor has passed End.
func (p *SubarrayPartitioner) Done() bool {
	return len(p.state.SingleRange) == 0 && len(p.state.MultiRange) == 0 && p.state.Start > p.state.End
}

// Next advances the partitioner and makes the produced partition
// available via Current. *unsplittable is set to true, with Current
// left unchanged, when the partitioner found a range that exceeds some
// budget even alone and cannot be split any further (layout has no
// further splitting dimension, or the remaining domain is below
// granularity).
func (p *SubarrayPartitioner) Next(unsplittable *bool) error {
	*unsplittable = false

	if len(p.state.SingleRange) > 0 {
		return p.nextFromSingleRange(unsplittable)
	}
	if len(p.state.MultiRange) > 0 {
		return p.nextFromMultiRange(unsplittable)
	}
	if p.state.Start > p.state.End {
		return vfserrors.New(vfserrors.CodeBudgetExhausted, "next called after iteration is done").
			WithComponent("partition").WithOperation("next")
	}

	start, end, found := p.computeCurrentStartEnd()
	if !found {
		r := p.subarray.Slice(p.state.Start, p.state.Start)
		p.state.Start++
		p.state.SingleRange = append(p.state.SingleRange, r)
		return p.nextFromSingleRange(unsplittable)
	}

	calibratedEnd, mustSplitSlab, partial := p.calibrateCurrentStartEnd(start, end)
	if mustSplitSlab {
		p.state.Start = end + 1
		p.state.MultiRange = append(p.state.MultiRange, partial)
		return p.nextFromMultiRange(unsplittable)
	}

	partition := p.subarray.Slice(start, calibratedEnd)
	p.current = PartitionInfo{Partition: partition, Start: uint64(start), End: uint64(calibratedEnd), SplitMultiRange: false}
	p.hasCurrent = true
	p.state.Start = calibratedEnd + 1
	return nil
}

// SplitCurrent splits the current partition in two, pushes both halves
// onto the front of the multi-range queue (for a partition that came
// off it) or the single-range queue (otherwise), and yields the first
// piece that fits the budgets. If the partition cannot be split,
// *unsplittable is set and Current is left unchanged.
// It is the caller's recourse when the current partition was
// materialized but turned out to be too large for a downstream
// consumer after all (e.g. a read that still overflowed its buffer).
func (p *SubarrayPartitioner) SplitCurrent(unsplittable *bool) error {
	*unsplittable = false
	if !p.hasCurrent {
		return vfserrors.New(vfserrors.CodeBudgetExhausted, "no current partition to split").
			WithComponent("partition").WithOperation("split_current")
	}

	cur := p.current.Partition
	var dim int
	var point float64
	var ok bool
	if p.current.SplitMultiRange {
		var rangeIdx int
		dim, rangeIdx, ok = computeSplittingPointMultiRange(cur, p.layout)
		point = float64(rangeIdx)
	} else {
		dim, point, ok = p.splitPointForSingle(cur)
	}
	if !ok {
		*unsplittable = true
		return nil
	}
	left, right := cur.Split(dim, point)
	p.hasCurrent = false
	if p.current.SplitMultiRange {
		p.state.MultiRange = append([]Subarray{left, right}, p.state.MultiRange...)
		return p.nextFromMultiRange(unsplittable)
	}
	p.state.SingleRange = append([]Subarray{left, right}, p.state.SingleRange...)
	return p.nextFromSingleRange(unsplittable)
}

// computeCurrentStartEnd greedily grows [state.Start, end] one range
// at a time while every attribute's running total stays within its
// result budget and the aggregate stays within the memory budget.
// found is false only when even the first range alone overflows some
// budget, signalling the DIRECT state should hand off to SPLIT_SINGLE.
func (p *SubarrayPartitioner) computeCurrentStartEnd() (start, end int, found bool) {
	start = p.state.Start
	end = start - 1

	totals := make(map[string]ResultBudget, len(p.budgets))

	for i := start; i <= p.state.End; i++ {
		r := p.subarray.Slice(i, i)

		candTotals := make(map[string]ResultBudget, len(totals))
		var candMemFixed, candMemVar uint64
		fits := true

		for attr, budget := range p.budgets {
			fixed, varSize := r.EstResultSize(attr, budget.SizeVar > 0)
			prev := totals[attr]
			nt := ResultBudget{SizeFixed: prev.SizeFixed + fixed, SizeVar: prev.SizeVar + varSize}
			candTotals[attr] = nt
			candMemFixed += nt.SizeFixed
			candMemVar += nt.SizeVar

			if nt.SizeFixed > budget.SizeFixed {
				fits = false
			}
			if budget.SizeVar > 0 && nt.SizeVar > budget.SizeVar {
				fits = false
			}
		}
		if p.memBudgetFixed > 0 && candMemFixed > p.memBudgetFixed {
			fits = false
		}
		if p.memBudgetVar > 0 && candMemVar > p.memBudgetVar {
			fits = false
		}

		if !fits {
			if i == start {
				return start, start, false
			}
			break
		}
		totals = candTotals
		end = i
	}
	return start, end, true
}

// calibrateCurrentStartEnd aligns [start,end] to the layout's slab
// boundary. Row-major slabs vary every dimension but the first;
// col-major slabs vary every dimension but the last. An interval
// shorter than one full slab cannot be aligned and is instead handed
// off whole as a multi-range candidate. Global-order and unordered
// layouts have no slab concept and pass the interval through as is.
func (p *SubarrayPartitioner) calibrateCurrentStartEnd(start, end int) (calibratedEnd int, mustSplitSlab bool, partial Subarray) {
	switch p.layout {
	case LayoutRowMajor, LayoutColMajor:
		slowest := 0
		if p.layout == LayoutColMajor {
			slowest = p.subarray.DimNum() - 1
		}
		slabSize := 1
		if n := p.subarray.RangeNumPerDim(slowest); n > 0 {
			slabSize = p.subarray.RangeNum() / n
		}
		if slabSize < 1 {
			slabSize = 1
		}

		count := end - start + 1
		if count < slabSize {
			return end, true, p.subarray.Slice(start, end)
		}
		slabs := count / slabSize
		return start + slabs*slabSize - 1, false, nil
	default:
		return end, false, nil
	}
}

// mustSplit reports whether r alone overflows any attribute's result
// budget or the aggregate memory budget.
func (p *SubarrayPartitioner) mustSplit(r Subarray) bool {
	var memFixed, memVar uint64
	for attr, budget := range p.budgets {
		fixed, varSize := r.EstResultSize(attr, budget.SizeVar > 0)
		memFixed += fixed
		memVar += varSize
		if fixed > budget.SizeFixed {
			return true
		}
		if budget.SizeVar > 0 && varSize > budget.SizeVar {
			return true
		}
	}
	if p.memBudgetFixed > 0 && memFixed > p.memBudgetFixed {
		return true
	}
	if p.memBudgetVar > 0 && memVar > p.memBudgetVar {
		return true
	}
	return false
}

func (p *SubarrayPartitioner) nextFromSingleRange(unsplittable *bool) error {
	front := p.state.SingleRange[0]

	if !p.mustSplit(front) {
		p.state.SingleRange = p.state.SingleRange[1:]
		p.current = PartitionInfo{Partition: front, SplitMultiRange: false}
		p.hasCurrent = true
		return nil
	}

	dim, point, ok := p.splitPointForSingle(front)
	if !ok {
		*unsplittable = true
		return nil
	}
	left, right := front.Split(dim, point)
	p.state.SingleRange = append([]Subarray{left, right}, p.state.SingleRange[1:]...)
	return p.nextFromSingleRange(unsplittable)
}

func (p *SubarrayPartitioner) nextFromMultiRange(unsplittable *bool) error {
	front := p.state.MultiRange[0]

	if !p.mustSplit(front) {
		p.state.MultiRange = p.state.MultiRange[1:]
		p.current = PartitionInfo{Partition: front, SplitMultiRange: true}
		p.hasCurrent = true
		return nil
	}

	dim, rangeIdx, ok := computeSplittingPointMultiRange(front, p.layout)
	if !ok {
		*unsplittable = true
		return nil
	}
	left, right := front.Split(dim, float64(rangeIdx))
	p.state.MultiRange = append([]Subarray{left, right}, p.state.MultiRange[1:]...)
	return p.nextFromMultiRange(unsplittable)
}

func (p *SubarrayPartitioner) splitPointForSingle(r Subarray) (dim int, point float64, ok bool) {
	if p.layout == LayoutGlobalOrder {
		return computeSplittingPointGlobalOrder(r)
	}
	return computeSplittingPointSingleRange(r)
}

// computeSplittingPointSingleRange picks the dimension with the
// longest range and bisects it: floor-bisection for integer domains
// (unsplittable once the range spans fewer than 2 integers), exact
// midpoint for real domains (unsplittable below realGranularity).
func computeSplittingPointSingleRange(r Subarray) (dim int, point float64, ok bool) {
	dimNum := r.DimNum()
	bestDim := -1
	bestLen := -1.0
	for d := 0; d < dimNum; d++ {
		dr := r.GetRange(d)
		if l := dr.Length(); l > bestLen {
			bestLen = l
			bestDim = d
		}
	}
	if bestDim < 0 {
		return 0, 0, false
	}

	dr := r.GetRange(bestDim)
	if dr.Kind == KindInteger {
		if dr.High-dr.Low < 1 {
			return 0, 0, false
		}
		return bestDim, math.Floor(dr.Low + (dr.High-dr.Low)/2), true
	}
	if dr.High-dr.Low < realGranularity {
		return 0, 0, false
	}
	return bestDim, dr.Low + (dr.High-dr.Low)/2, true
}

// computeSplittingPointMultiRange picks a dimension with more than one
// range and splits its range list at the midpoint index. Row-major
// prefers the slowest (lowest-indexed) such dimension; col-major
// prefers the fastest (highest-indexed).
func computeSplittingPointMultiRange(r Subarray, layout Layout) (dim, rangeIdx int, ok bool) {
	dimNum := r.DimNum()
	var candidates []int
	for d := 0; d < dimNum; d++ {
		if r.RangeNumPerDim(d) > 1 {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return 0, 0, false
	}

	if layout == LayoutColMajor {
		dim = candidates[len(candidates)-1]
	} else {
		dim = candidates[0]
	}
	n := r.RangeNumPerDim(dim)
	return dim, n / 2, true
}

// computeSplittingPointGlobalOrder picks the dimension with the
// largest total range span, as a stand-in for space-tile span in the
// absence of a real tile grid, and bisects its first range at the
// midpoint value.
func computeSplittingPointGlobalOrder(r Subarray) (dim int, point float64, ok bool) {
	dimNum := r.DimNum()
	bestDim := -1
	bestSpan := -1.0
	for d := 0; d < dimNum; d++ {
		var span float64
		for i := 0; i < r.RangeNumPerDim(d); i++ {
			span += r.DimRangeAt(d, i).Length()
		}
		if span > bestSpan {
			bestSpan = span
			bestDim = d
		}
	}
	if bestDim < 0 || bestSpan < 1 {
		return 0, 0, false
	}
	dr := r.GetRange(bestDim)
	return bestDim, dr.Low + (dr.High-dr.Low)/2, true
}
