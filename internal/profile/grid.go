// Package profile reduces images to per-cell, per-color intensity matrices.
package profile

import (
	"errors"
	"fmt"
	"image"
)

var ErrInvalidSplitDimension = errors.New("invalid split dimension")

// Span is a half-open pixel range [Start, End) along one axis.
type Span struct {
	Start, End int
}

// Len returns the number of pixels in the span.
func (s Span) Len() int {
	return s.End - s.Start
}

// Partition divides [0, dim) into splitDim contiguous spans with
// start = floor(i*dim/splitDim) and end = floor((i+1)*dim/splitDim).
// The spans tile the range exactly and the last span ends at dim.
func Partition(dim, splitDim int) ([]Span, error) {
	if splitDim < 1 {
		return nil, fmt.Errorf("%w: %d is less than 1", ErrInvalidSplitDimension, splitDim)
	}
	if dim < splitDim {
		return nil, fmt.Errorf("%w: %d exceeds dimension %d", ErrInvalidSplitDimension, splitDim, dim)
	}
	spans := make([]Span, splitDim)
	for i := range spans {
		spans[i] = Span{
			Start: i * dim / splitDim,
			End:   (i + 1) * dim / splitDim,
		}
	}
	return spans, nil
}

// ValidateSplit checks that splitDim is between 1 and the shorter side of b.
func ValidateSplit(b image.Rectangle, splitDim int) error {
	if splitDim < 1 {
		return fmt.Errorf("%w: %d is less than 1", ErrInvalidSplitDimension, splitDim)
	}
	if limit := min(b.Dx(), b.Dy()); splitDim > limit {
		return fmt.Errorf("%w: %d exceeds image size %dx%d", ErrInvalidSplitDimension, splitDim, b.Dx(), b.Dy())
	}
	return nil
}

// Cell is one grid cell expressed in image coordinates.
type Cell struct {
	Row, Col int
	Bounds   image.Rectangle
}

// Cells returns the splitDim×splitDim cells of b in row-major order.
// Rows follow the y axis and columns the x axis, so cell (0, 0) is top-left.
func Cells(b image.Rectangle, splitDim int) ([]Cell, error) {
	if err := ValidateSplit(b, splitDim); err != nil {
		return nil, err
	}
	rows, err := Partition(b.Dy(), splitDim)
	if err != nil {
		return nil, err
	}
	cols, err := Partition(b.Dx(), splitDim)
	if err != nil {
		return nil, err
	}

	cells := make([]Cell, 0, splitDim*splitDim)
	for i, ys := range rows {
		for j, xs := range cols {
			cells = append(cells, Cell{
				Row: i,
				Col: j,
				Bounds: image.Rect(
					b.Min.X+xs.Start, b.Min.Y+ys.Start,
					b.Min.X+xs.End, b.Min.Y+ys.End,
				),
			})
		}
	}
	return cells, nil
}
