// Package region owns the upper-triangular region descriptor and its
// application to row-major matrix buffers.
//
// Ownership boundary:
// - segment/descriptor construction
// - descriptor validation against buffer bounds
// - gather/scatter of described elements
package region

import (
	"errors"
	"fmt"
)

var (
	ErrSegmentOutOfBounds = errors.New("region: segment out of bounds")
	ErrSegmentOverlap     = errors.New("region: segments overlap")
	ErrStagingSize        = errors.New("region: staging slice size mismatch")
)

// Segment is one contiguous run of described elements.
type Segment struct {
	Offset int
	Length int
}

// Descriptor is an ordered list of segments describing the upper
// triangle (including the diagonal) of a square matrix, one segment
// per row in ascending row order.
type Descriptor struct {
	dimension int
	segments  []Segment
}

// Build derives the descriptor for an n x n row-major matrix.
// Row r contributes {offset: r*n + r, length: n - r}.
// Precondition: n >= 1; the caller validates before invoking.
func Build(n int) Descriptor {
	segments := make([]Segment, 0, n)
	for r := 0; r < n; r++ {
		segments = append(segments, Segment{
			Offset: r*n + r,
			Length: n - r,
		})
	}
	return Descriptor{dimension: n, segments: segments}
}

// Dimension returns the matrix dimension the descriptor was built for.
func (d Descriptor) Dimension() int {
	return d.dimension
}

// Segments returns the segment list in ascending row order.
func (d Descriptor) Segments() []Segment {
	out := make([]Segment, len(d.segments))
	copy(out, d.segments)
	return out
}

// SegmentCount returns the number of segments (one per row).
func (d Descriptor) SegmentCount() int {
	return len(d.segments)
}

// ElementCount returns the total number of described elements,
// n*(n+1)/2 for the upper triangle.
func (d Descriptor) ElementCount() int {
	total := 0
	for _, seg := range d.segments {
		total += seg.Length
	}
	return total
}

// Validate checks every segment against bufferLen: in bounds,
// ascending, non-overlapping.
func (d Descriptor) Validate(bufferLen int) error {
	prevEnd := 0
	for i, seg := range d.segments {
		if seg.Offset < 0 || seg.Length < 1 || seg.Offset+seg.Length > bufferLen {
			return fmt.Errorf("%w: segment[%d]={%d,%d} buffer_len=%d",
				ErrSegmentOutOfBounds, i, seg.Offset, seg.Length, bufferLen)
		}
		if seg.Offset < prevEnd {
			return fmt.Errorf("%w: segment[%d]={%d,%d} previous_end=%d",
				ErrSegmentOverlap, i, seg.Offset, seg.Length, prevEnd)
		}
		prevEnd = seg.Offset + seg.Length
	}
	return nil
}

// Gather copies the described elements of buf into dst in segment
// order. dst must hold exactly ElementCount() elements.
func (d Descriptor) Gather(buf []int32, dst []int32) error {
	if err := d.Validate(len(buf)); err != nil {
		return err
	}
	if len(dst) != d.ElementCount() {
		return fmt.Errorf("%w: got=%d want=%d", ErrStagingSize, len(dst), d.ElementCount())
	}
	i := 0
	for _, seg := range d.segments {
		copy(dst[i:i+seg.Length], buf[seg.Offset:seg.Offset+seg.Length])
		i += seg.Length
	}
	return nil
}

// Scatter writes src into the described positions of buf in segment
// order. Positions not covered by any segment are left unmodified.
// src must hold exactly ElementCount() elements.
func (d Descriptor) Scatter(src []int32, buf []int32) error {
	if err := d.Validate(len(buf)); err != nil {
		return err
	}
	if len(src) != d.ElementCount() {
		return fmt.Errorf("%w: got=%d want=%d", ErrStagingSize, len(src), d.ElementCount())
	}
	i := 0
	for _, seg := range d.segments {
		copy(buf[seg.Offset:seg.Offset+seg.Length], src[i:i+seg.Length])
		i += seg.Length
	}
	return nil
}
