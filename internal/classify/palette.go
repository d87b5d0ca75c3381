package classify

import (
	"fmt"

	"colorgrid/pkg/colorutil"
)

// Entry pairs a color id with its classifier.
type Entry struct {
	ID         string
	Classifier Classifier
}

// Palette is an ordered set of classifiers indexed by color id.
//
// By default membership is soft: every entry scores every pixel
// independently, so a pixel may count toward several colors or none. An
// exclusive palette assigns each pixel to the single highest-scoring entry
// (earlier entries win ties; a pixel nobody scores above zero is assigned to
// no color).
type Palette struct {
	entries   []Entry
	index     map[string]int
	exclusive bool
}

// NewPalette builds a palette from entries, rejecting empty or repeated ids.
func NewPalette(entries ...Entry) (*Palette, error) {
	p := &Palette{index: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := p.Add(e.ID, e.Classifier); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// DefaultRules returns a palette of the built-in rules keyed by rule name.
func DefaultRules() *Palette {
	p := &Palette{index: make(map[string]int, len(Rules))}
	for _, r := range Rules {
		_ = p.Add(string(r), r)
	}
	return p
}

// Add appends a classifier under id.
func (p *Palette) Add(id string, c Classifier) error {
	if id == "" {
		return fmt.Errorf("empty color id")
	}
	if c == nil {
		return fmt.Errorf("color %q: nil classifier", id)
	}
	if _, ok := p.index[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateColor, id)
	}
	p.index[id] = len(p.entries)
	p.entries = append(p.entries, Entry{ID: id, Classifier: c})
	return nil
}

// SetExclusive switches between soft and arg-max membership.
func (p *Palette) SetExclusive(exclusive bool) {
	p.exclusive = exclusive
}

// Exclusive reports whether the palette uses arg-max membership.
func (p *Palette) Exclusive() bool {
	return p.exclusive
}

// Len returns the number of entries.
func (p *Palette) Len() int {
	return len(p.entries)
}

// IDs returns the color ids in palette order.
func (p *Palette) IDs() []string {
	ids := make([]string, len(p.entries))
	for i, e := range p.entries {
		ids[i] = e.ID
	}
	return ids
}

// Entries returns a copy of the palette entries.
func (p *Palette) Entries() []Entry {
	return append([]Entry(nil), p.entries...)
}

// Lookup returns the classifier registered under id.
func (p *Palette) Lookup(id string) (Classifier, bool) {
	i, ok := p.index[id]
	if !ok {
		return nil, false
	}
	return p.entries[i].Classifier, true
}

// ScoreInto writes each entry's membership for c into out, which must have
// Len() elements. Each classifier is evaluated exactly once.
func (p *Palette) ScoreInto(c colorutil.RGB, out []float64) {
	for i, e := range p.entries {
		out[i] = e.Classifier.Score(c)
	}
	if !p.exclusive {
		return
	}

	best := -1
	for i, s := range out {
		if s > 0 && (best < 0 || s > out[best]) {
			best = i
		}
	}
	for i := range out {
		out[i] = 0
	}
	if best >= 0 {
		out[best] = 1
	}
}
