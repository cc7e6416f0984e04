// Package batch implements the scatter-gather coalescing read_all
// performs over a caller's list of byte ranges before handing work to
// the thread pool: nearby or overlapping ranges are merged into a
// smaller number of backend reads, then sliced back out to match the
// caller's original request list.
package batch

import (
	"context"
	"sort"

	"github.com/arrayvfs/arrayvfs/pkg/types"
)

// Backend is the subset of capability a coalesced read needs: one
// byte-range read per merged region.
type Backend interface {
	Read(ctx context.Context, path string, offset uint64, buffer []byte, nbytes uint64) error
}

// Coalesce greedily merges ranges into BatchRegions. A range extends
// the region under construction when doing so keeps the region's
// total size at or under minBatchSize, or when the gap between the
// region's current end and the range's start is at or under
// minBatchGap; otherwise the range starts a new region.
//
// Member indices record which of the caller's original ranges (in
// their original order) fall within each resulting region, so the
// caller's per-range results can be sliced back out after the backend
// read completes.
func Coalesce(ranges []types.Range, minBatchSize, minBatchGap uint64) []types.BatchRegion {
	if len(ranges) == 0 {
		return nil
	}

	order := make([]int, len(ranges))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return ranges[order[i]].Offset < ranges[order[j]].Offset
	})

	var regions []types.BatchRegion
	cur := types.BatchRegion{
		Offset:  ranges[order[0]].Offset,
		Size:    ranges[order[0]].Size,
		Members: []int{order[0]},
	}

	for _, idx := range order[1:] {
		r := ranges[idx]
		curEnd := cur.Offset + cur.Size
		rEnd := r.Offset + r.Size

		var gap uint64
		if r.Offset > curEnd {
			gap = r.Offset - curEnd
		}

		newSize := cur.Size
		if rEnd > curEnd {
			newSize = rEnd - cur.Offset
		}

		if newSize <= minBatchSize || gap <= minBatchGap {
			cur.Size = newSize
			cur.Members = append(cur.Members, idx)
			continue
		}

		regions = append(regions, cur)
		cur = types.BatchRegion{Offset: r.Offset, Size: r.Size, Members: []int{idx}}
	}
	regions = append(regions, cur)

	return regions
}

// ReadAll issues one backend Read per coalesced region and slices the
// result back out into per-range results matching the caller's
// original ranges, preserving their input order.
func ReadAll(ctx context.Context, backend Backend, path string, ranges []types.Range, minBatchSize, minBatchGap uint64) []types.ReadAllResult {
	results := make([]types.ReadAllResult, len(ranges))
	for i, r := range ranges {
		results[i].Range = r
	}
	if len(ranges) == 0 {
		return results
	}

	regions := Coalesce(ranges, minBatchSize, minBatchGap)

	for _, region := range regions {
		buf := make([]byte, region.Size)
		err := backend.Read(ctx, path, region.Offset, buf, region.Size)
		for _, idx := range region.Members {
			if err != nil {
				results[idx].Err = err
				continue
			}
			r := ranges[idx]
			start := r.Offset - region.Offset
			results[idx].Data = buf[start : start+r.Size]
		}
	}

	return results
}
