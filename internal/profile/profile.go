package profile

import (
	"fmt"
	"image"
	"sort"

	"colorgrid/internal/classify"
	"colorgrid/pkg/colorutil"

	"gonum.org/v1/gonum/mat"
)

// Profile maps a color id to its splitDim×splitDim score matrix.
// Entry (i, j) is the mean classifier output over the pixels of cell (i, j).
type Profile map[string]*mat.Dense

// Colors returns the profile's color ids in sorted order.
func (p Profile) Colors() []string {
	ids := make([]string, 0, len(p))
	for id := range p {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Score returns the score for color at cell (row, col). ok is false when the
// color was never computed for this profile.
func (p Profile) Score(color string, row, col int) (score float64, ok bool) {
	m, ok := p[color]
	if !ok {
		return 0, false
	}
	return m.At(row, col), true
}

// Clone returns a deep copy.
func (p Profile) Clone() Profile {
	out := make(Profile, len(p))
	for id, m := range p {
		out[id] = mat.DenseCopyOf(m)
	}
	return out
}

// Equal reports whether both profiles hold the same colors with identical matrices.
func (p Profile) Equal(other Profile) bool {
	if len(p) != len(other) {
		return false
	}
	for id, m := range p {
		o, ok := other[id]
		if !ok || !mat.Equal(m, o) {
			return false
		}
	}
	return true
}

// Compute profiles img against every color in the palette.
//
// Each pixel is converted once and scored by all palette entries. Scores are
// summed per cell and divided by the cell's pixel count after accumulation.
func Compute(img image.Image, splitDim int, palette *classify.Palette) (Profile, error) {
	ids := palette.IDs()
	sums, err := accumulate(img, splitDim, len(ids), palette.ScoreInto)
	if err != nil {
		return nil, err
	}

	p := make(Profile, len(ids))
	for k, id := range ids {
		p[id] = sums[k]
	}
	return p, nil
}

// ComputeColor computes the matrix for a single classifier. Membership is
// always soft here since exclusivity is only defined across a whole palette.
func ComputeColor(img image.Image, splitDim int, c classify.Classifier) (*mat.Dense, error) {
	sums, err := accumulate(img, splitDim, 1, func(px colorutil.RGB, out []float64) {
		out[0] = c.Score(px)
	})
	if err != nil {
		return nil, err
	}
	return sums[0], nil
}

// accumulate runs score over every pixel and returns one normalized matrix per
// score slot.
func accumulate(img image.Image, splitDim, n int, score func(colorutil.RGB, []float64)) ([]*mat.Dense, error) {
	cells, err := Cells(img.Bounds(), splitDim)
	if err != nil {
		return nil, err
	}

	out := make([]*mat.Dense, n)
	for k := range out {
		out[k] = mat.NewDense(splitDim, splitDim, nil)
	}

	scores := make([]float64, n)
	totals := make([]float64, n)
	for _, cell := range cells {
		for k := range totals {
			totals[k] = 0
		}
		b := cell.Bounds
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				score(colorutil.At(img, x, y), scores)
				for k, s := range scores {
					totals[k] += s
				}
			}
		}

		count := b.Dx() * b.Dy()
		if count == 0 {
			continue
		}
		for k, total := range totals {
			out[k].Set(cell.Row, cell.Col, total/float64(count))
		}
	}
	return out, nil
}

// String renders the profile as one block per color, for diagnostics.
func (p Profile) String() string {
	var s string
	for _, id := range p.Colors() {
		s += fmt.Sprintf("%s:\n%v\n", id, mat.Formatted(p[id], mat.Prefix(""), mat.Squeeze()))
	}
	return s
}
