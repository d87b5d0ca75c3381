// Package match scores stored color profiles against a target layout and
// ranks the images by similarity.
package match

import (
	"errors"
	"fmt"
	"sort"

	"colorgrid/internal/profile"

	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidCanvas = errors.New("invalid canvas")
	ErrSplitMismatch = errors.New("split dimension mismatch")
)

// Source is a read-only view of stored profiles in a stable iteration order.
type Source interface {
	SplitDim() int
	IDs() []string
	Profile(id string) (profile.Profile, bool)
}

// Restrict limits src to the given ids. Iteration keeps src's order, so
// ranking ties still follow insertion order; ids src does not hold are dropped.
func Restrict(src Source, ids []string) Source {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}
	return subset{Source: src, keep: keep}
}

type subset struct {
	Source
	keep map[string]bool
}

func (s subset) IDs() []string {
	var ids []string
	for _, id := range s.Source.IDs() {
		if s.keep[id] {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s subset) Profile(id string) (profile.Profile, bool) {
	if !s.keep[id] {
		return nil, false
	}
	return s.Source.Profile(id)
}

// Canvas is the target layout: one color id per grid cell, row-major, with
// cell (0, 0) at the top left. An empty id leaves that cell without a target.
type Canvas struct {
	splitDim int
	cells    []string
}

// NewCanvas validates that cells holds exactly splitDim² entries.
func NewCanvas(cells []string, splitDim int) (Canvas, error) {
	if splitDim < 1 {
		return Canvas{}, fmt.Errorf("%w: split dimension %d", ErrInvalidCanvas, splitDim)
	}
	if len(cells) != splitDim*splitDim {
		return Canvas{}, fmt.Errorf("%w: %d cells for a %dx%d grid", ErrInvalidCanvas, len(cells), splitDim, splitDim)
	}
	return Canvas{splitDim: splitDim, cells: append([]string(nil), cells...)}, nil
}

// SplitDim returns the canvas grid resolution.
func (c Canvas) SplitDim() int {
	return c.splitDim
}

// At returns the target color of cell (row, col).
func (c Canvas) At(row, col int) string {
	return c.cells[col+c.splitDim*row]
}

// Colors returns the distinct non-empty color ids on the canvas, in first-use order.
func (c Canvas) Colors() []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range c.cells {
		if id != "" && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Result is one ranked image.
type Result struct {
	ID    string
	Score float64
}

// Score sums, over every cell, the profile's score for the cell's target
// color. Cells whose target was never computed for this profile contribute 0.
func Score(p profile.Profile, c Canvas) float64 {
	var total float64
	for i := 0; i < c.splitDim; i++ {
		for j := 0; j < c.splitDim; j++ {
			target := c.At(i, j)
			if target == "" {
				continue
			}
			if s, ok := p.Score(target, i, j); ok {
				total += s
			}
		}
	}
	return total
}

// RankScored scores every image in src and returns them by descending score.
// Images scoring exactly 0 are left out. Ties keep src's id order.
func RankScored(src Source, c Canvas) ([]Result, error) {
	if src.SplitDim() != c.splitDim {
		return nil, fmt.Errorf("%w: profiles use %d, canvas uses %d", ErrSplitMismatch, src.SplitDim(), c.splitDim)
	}

	ids := src.IDs()
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		p, ok := src.Profile(id)
		if !ok {
			continue
		}
		for _, color := range c.Colors() {
			if _, ok := p[color]; !ok {
				log.Debug().Str("image", id).Str("color", color).Msg("Color not profiled, contributes 0")
			}
		}
		score := Score(p, c)
		if score == 0 {
			continue
		}
		results = append(results, Result{ID: id, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// Rank returns image ids by descending score, excluding zero-score images.
func Rank(src Source, c Canvas) ([]string, error) {
	results, err := RankScored(src, c)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids, nil
}
