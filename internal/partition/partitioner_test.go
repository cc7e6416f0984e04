package partition

import "testing"

func oneDim(lows, highs []int) []DimRange {
	rs := make([]DimRange, len(lows))
	for i := range lows {
		rs[i] = DimRange{Low: float64(lows[i]), High: float64(highs[i]), Kind: KindInteger}
	}
	return rs
}

func TestPartitioner_NoBudgetYieldsWholeSubarrayOnce(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{oneDim([]int{0}, []int{99})}, nil)
	p := New(sa)

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if unsplittable {
		t.Fatal("unexpected unsplittable")
	}
	cur, ok := p.Current()
	if !ok {
		t.Fatal("expected a current partition")
	}
	if cur.RangeNum() != 1 {
		t.Errorf("RangeNum = %d, want 1 (single range in the one dimension)", cur.RangeNum())
	}
	if !p.Done() {
		t.Error("expected Done after the single unbudgeted partition")
	}
}

func TestPartitioner_ResultBudgetSplitsRowMajorSlabs(t *testing.T) {
	// 4 rows x 10 cols, row-major, 1 byte/cell, budget fits exactly one row per partition.
	dims := [][]DimRange{
		oneDim([]int{0, 1, 2, 3}, []int{0, 1, 2, 3}),
		oneDim([]int{0}, []int{9}),
	}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 10)

	partitions := 0
	for !p.Done() {
		var unsplittable bool
		if err := p.Next(&unsplittable); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if unsplittable {
			t.Fatal("unexpected unsplittable with a budget that fits a full row")
		}
		partitions++
		if partitions > 10 {
			t.Fatal("runaway iteration")
		}
	}
	if partitions != 4 {
		t.Errorf("partitions = %d, want 4 (one per row)", partitions)
	}
}

func TestPartitioner_SingleRangeSplitsWhenAloneOverBudget(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{0}, []int{99})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 10)

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if unsplittable {
		t.Fatal("a 100-cell integer range should still be splittable under a 10-byte budget")
	}
	cur, _ := p.Current()
	fixed, _ := cur.EstResultSize("a", false)
	if fixed > 10 {
		t.Errorf("first partition fixed size = %d, want <= 10", fixed)
	}
}

func TestPartitioner_UnsplittableSingleCellOverBudget(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{5}, []int{5})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1000})
	p := New(sa)
	p.SetResultBudget("a", 1)

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !unsplittable {
		t.Fatal("expected unsplittable: a single integer cell cannot shrink further")
	}
}

func TestPartitioner_MemoryBudgetAcrossAttributes(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{0, 1, 2, 3}, []int{0, 1, 2, 3})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1, "b": 1})
	p := New(sa)
	p.SetResultBudget("a", 1000)
	p.SetResultBudget("b", 1000)
	p.SetMemoryBudget(2, 0) // 1 byte per attr per cell, so only one cell fits.

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	cur, _ := p.Current()
	if cur.RangeNum() != 1 {
		t.Errorf("RangeNum = %d, want 1 under a 2-byte aggregate memory budget", cur.RangeNum())
	}
}

func TestPartitioner_CloneIsIndependent(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{0, 1, 2, 3}, []int{0, 1, 2, 3})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 1)

	clone := p.Clone()

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next on original: %v", err)
	}
	if clone.Done() {
		t.Error("clone should still be at its own, unconsumed starting state")
	}
	if got := clone.state.Start; got != 0 {
		t.Errorf("clone.state.Start = %d, want 0 (independent of original's advancement)", got)
	}
}

func TestPartitioner_ColMajorSlabVariesFirstDim(t *testing.T) {
	// 10 rows x 4 cols, col-major: a slab is a full column (10 rows x 1 col).
	dims := [][]DimRange{
		oneDim([]int{0}, []int{9}),
		oneDim([]int{0, 1, 2, 3}, []int{0, 1, 2, 3}),
	}
	sa := NewRangeSubarray(LayoutColMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 10)

	partitions := 0
	for !p.Done() {
		var unsplittable bool
		if err := p.Next(&unsplittable); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if unsplittable {
			t.Fatal("unexpected unsplittable")
		}
		partitions++
		if partitions > 10 {
			t.Fatal("runaway iteration")
		}
	}
	if partitions != 4 {
		t.Errorf("partitions = %d, want 4 (one per column)", partitions)
	}
}

func TestPartitioner_SplitCurrentRetriesSamePartition(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{0}, []int{99})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 1000) // whole range fits; Next will yield it directly.

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	before, _ := p.Current()
	beforeSize, _ := before.EstResultSize("a", false)

	p.SetResultBudget("a", 10) // tighten the budget and ask the current partition to re-split.
	if err := p.SplitCurrent(&unsplittable); err != nil {
		t.Fatalf("SplitCurrent: %v", err)
	}
	if unsplittable {
		t.Fatal("unexpected unsplittable")
	}
	after, _ := p.Current()
	afterSize, _ := after.EstResultSize("a", false)
	if afterSize >= beforeSize {
		t.Errorf("afterSize = %d, want smaller than beforeSize = %d", afterSize, beforeSize)
	}
}

func TestPartitioner_UnorderedAllowsPartialRange(t *testing.T) {
	dims := [][]DimRange{oneDim([]int{0, 1, 2}, []int{0, 1, 2})}
	sa := NewRangeSubarray(LayoutUnordered, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 2)

	var unsplittable bool
	if err := p.Next(&unsplittable); err != nil {
		t.Fatalf("Next: %v", err)
	}
	cur, _ := p.Current()
	if cur.RangeNum() != 2 {
		t.Errorf("RangeNum = %d, want 2 (a partial row is fine for unordered)", cur.RangeNum())
	}
}

func TestRangeSubarray_EstResultSizeLinear(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{oneDim([]int{0}, []int{9})}, map[string]float64{"a": 2})
	fixed, _ := sa.EstResultSize("a", false)
	if fixed != 20 {
		t.Errorf("EstResultSize = %d, want 20 (10 cells * 2 bytes)", fixed)
	}
}

func TestRangeSubarray_SplitSingleRangeByValue(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{oneDim([]int{0}, []int{10})}, nil)
	left, right := sa.Split(0, 5)
	lr := left.GetRange(0)
	rr := right.GetRange(0)
	if lr.Low != 0 || lr.High != 5 {
		t.Errorf("left = [%v,%v], want [0,5]", lr.Low, lr.High)
	}
	if rr.Low != 6 || rr.High != 10 {
		t.Errorf("right = [%v,%v], want [6,10]", rr.Low, rr.High)
	}
}

func TestRangeSubarray_SplitSingleRangeIntegerDomainIsDisjoint(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{oneDim([]int{0}, []int{99})}, nil)
	left, right := sa.Split(0, 49)
	lr := left.GetRange(0)
	rr := right.GetRange(0)
	if lr.Low != 0 || lr.High != 49 {
		t.Errorf("left = [%v,%v], want [0,49]", lr.Low, lr.High)
	}
	if rr.Low != 50 || rr.High != 99 {
		t.Errorf("right = [%v,%v], want [50,99]", rr.Low, rr.High)
	}
	leftCells := lr.Length() + 1
	rightCells := rr.Length() + 1
	if leftCells+rightCells != 100 {
		t.Errorf("left+right cell count = %v, want 100 (no overlap, no gap)", leftCells+rightCells)
	}
}

func TestRangeSubarray_SplitRealDomainRemainsHalfOpen(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{{{Low: 0, High: 10, Kind: KindReal}}}, nil)
	left, right := sa.Split(0, 5)
	lr := left.GetRange(0)
	rr := right.GetRange(0)
	if lr.Low != 0 || lr.High != 5 {
		t.Errorf("left = [%v,%v], want [0,5]", lr.Low, lr.High)
	}
	if rr.Low != 5 || rr.High != 10 {
		t.Errorf("right = [%v,%v], want [5,10]", rr.Low, rr.High)
	}
}

func TestRangeSubarray_SplitMultiRangeByIndex(t *testing.T) {
	sa := NewRangeSubarray(LayoutRowMajor, [][]DimRange{oneDim([]int{0, 1, 2, 3}, []int{0, 1, 2, 3})}, nil)
	left, right := sa.Split(0, 2)
	if left.RangeNumPerDim(0) != 2 {
		t.Errorf("left range count = %d, want 2", left.RangeNumPerDim(0))
	}
	if right.RangeNumPerDim(0) != 2 {
		t.Errorf("right range count = %d, want 2", right.RangeNumPerDim(0))
	}
}

func TestPartitioner_FullIterationYieldsDisjointCover(t *testing.T) {
	const total = 100
	dims := [][]DimRange{oneDim([]int{0}, []int{total - 1})}
	sa := NewRangeSubarray(LayoutRowMajor, dims, map[string]float64{"a": 1})
	p := New(sa)
	p.SetResultBudget("a", 13) // does not evenly divide the domain, forcing uneven splits.

	seen := make(map[int]bool, total)
	var sumCells int
	for !p.Done() {
		var unsplittable bool
		if err := p.Next(&unsplittable); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if unsplittable {
			t.Fatal("unexpected unsplittable under a budget well above one cell")
		}
		cur, _ := p.Current()
		r := cur.GetRange(0)
		lo, hi := int(r.Low), int(r.High)
		for cell := lo; cell <= hi; cell++ {
			if seen[cell] {
				t.Fatalf("cell %d yielded by more than one partition", cell)
			}
			seen[cell] = true
			sumCells++
		}
		if sumCells > total*2 {
			t.Fatal("runaway iteration")
		}
	}
	if sumCells != total {
		t.Errorf("sum of yielded cells = %d, want %d (full disjoint cover)", sumCells, total)
	}
	for cell := 0; cell < total; cell++ {
		if !seen[cell] {
			t.Errorf("cell %d never yielded by any partition", cell)
		}
	}
}
