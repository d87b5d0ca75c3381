// Package query answers a single JSON ranking request: build the palette,
// profile the image directory (through a persisted store when one is named)
// and rank it against the requested canvas.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"colorgrid/internal/classify"
	"colorgrid/internal/imageload"
	"colorgrid/internal/match"
	"colorgrid/internal/store"

	"github.com/rs/zerolog/log"
)

var ErrBadRequest = errors.New("bad request")

// ColorSpec describes one palette entry. Exactly one field is set.
type ColorSpec struct {
	Perceptron *classify.Params `json:"perceptron,omitempty"`
	Rule       string           `json:"rule,omitempty"`
}

// Request is the JSON query object.
type Request struct {
	Palette   map[string]ColorSpec `json:"palette"`
	Canvas    []string             `json:"canvas"`
	Directory string               `json:"directory"`
	SplitDim  int                  `json:"split_dim,omitempty"`
	Store     string               `json:"store,omitempty"`
}

// Options carries the configured defaults a request may not override.
type Options struct {
	SplitDim    int
	Exclusive   bool
	Thumbnail   int
	Extensions  []string
	Workers     int
	StoreDriver string
}

// BuildPalette builds the classifier palette for the request. Ids are registered
// in sorted order so profiles are reproducible. An empty palette falls back to
// the rule classifiers.
func (r Request) BuildPalette(exclusive bool) (*classify.Palette, error) {
	if len(r.Palette) == 0 {
		p := classify.DefaultRules()
		p.SetExclusive(exclusive)
		return p, nil
	}

	ids := make([]string, 0, len(r.Palette))
	for id := range r.Palette {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	p, err := classify.NewPalette()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		c, err := r.Palette[id].classifier()
		if err != nil {
			return nil, fmt.Errorf("color %q: %w", id, err)
		}
		if err := p.Add(id, c); err != nil {
			return nil, err
		}
	}
	p.SetExclusive(exclusive)
	return p, nil
}

func (c ColorSpec) classifier() (classify.Classifier, error) {
	switch {
	case c.Perceptron != nil && c.Rule != "":
		return nil, fmt.Errorf("%w: both perceptron and rule given", ErrBadRequest)
	case c.Perceptron != nil:
		return classify.NewPerceptron(*c.Perceptron)
	case c.Rule != "":
		return classify.ParseRule(c.Rule)
	default:
		return nil, fmt.Errorf("%w: neither perceptron nor rule given", ErrBadRequest)
	}
}

// Handle ranks the images of req.Directory against req.Canvas.
func Handle(ctx context.Context, req Request, opts Options) ([]string, error) {
	if req.Directory == "" {
		return nil, fmt.Errorf("%w: directory is required", ErrBadRequest)
	}
	splitDim := req.SplitDim
	if splitDim == 0 {
		splitDim = opts.SplitDim
	}
	if splitDim == 0 {
		splitDim = 4
	}

	palette, err := req.BuildPalette(opts.Exclusive)
	if err != nil {
		return nil, err
	}
	canvas, err := match.NewCanvas(req.Canvas, splitDim)
	if err != nil {
		return nil, err
	}

	ids, err := imageload.List(req.Directory, opts.Extensions)
	if err != nil {
		return nil, err
	}
	src := imageload.DirSource{Dir: req.Directory, Thumbnail: opts.Thumbnail}

	var s *store.Store
	if req.Store == "" {
		if s, err = store.New(splitDim); err != nil {
			return nil, err
		}
		if _, err := index(ctx, s, palette, src, ids, opts.Workers); err != nil {
			return nil, err
		}
	} else {
		if s, err = refresh(ctx, req.Store, opts.StoreDriver, splitDim, palette, src, ids, opts.Workers); err != nil {
			return nil, err
		}
	}

	for _, color := range canvas.Colors() {
		if _, ok := palette.Lookup(color); !ok && !s.HasColor(color) {
			log.Warn().Str("color", color).Msg("Canvas color is not in the palette")
		}
	}

	// A store may also hold images of other directories; rank only this one.
	return match.Rank(match.Restrict(s, ids), canvas)
}

// refresh loads the named store, extends the directory's stored images with
// palette colors they lack, adds the directory's new images, and saves the
// store back when anything changed. Stored images outside ids are neither
// read nor modified.
func refresh(ctx context.Context, path, driver string, splitDim int, palette *classify.Palette, src store.ImageSource, ids []string, workers int) (*store.Store, error) {
	backend, err := store.Open(driver, path)
	if err != nil {
		return nil, err
	}
	defer backend.Close()

	s, err := backend.Load(ctx, splitDim)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, e := range palette.Entries() {
		n, err := s.ExtendColor(e.ID, e.Classifier, src, ids)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			log.Info().Str("color", e.ID).Int("images", n).Msg("Added color to stored images")
			changed = true
		}
	}

	stats, err := index(ctx, s, palette, src, ids, workers)
	if err != nil {
		return nil, err
	}

	if !changed && stats.Added == 0 {
		return s, nil
	}
	if err := backend.Save(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func index(ctx context.Context, s *store.Store, palette *classify.Palette, src store.ImageSource, ids []string, workers int) (store.IndexStats, error) {
	ix := store.Indexer{Store: s, Palette: palette, Source: src, Workers: workers}
	stats, err := ix.Index(ctx, ids)
	if err != nil {
		return stats, err
	}
	log.Debug().
		Int("added", stats.Added).
		Int("present", stats.Present).
		Int("skipped", stats.Skipped).
		Msg("Indexed directory")
	return stats, nil
}

// Run reads one Request from r and writes the ranked ids to w as a JSON
// array. On any failure it still writes an empty array, logs the error and
// returns it.
func Run(ctx context.Context, r io.Reader, w io.Writer, opts Options) error {
	ids, err := decodeAndHandle(ctx, r, opts)
	if err != nil {
		log.Error().Err(err).Msg("Query failed")
		ids = nil
	}
	if ids == nil {
		ids = []string{}
	}
	if encErr := json.NewEncoder(w).Encode(ids); encErr != nil && err == nil {
		err = fmt.Errorf("failed to write result: %w", encErr)
	}
	return err
}

func decodeAndHandle(ctx context.Context, r io.Reader, opts Options) ([]string, error) {
	var req Request
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return Handle(ctx, req, opts)
}
