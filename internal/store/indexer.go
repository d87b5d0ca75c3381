package store

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"colorgrid/internal/classify"
	"colorgrid/internal/profile"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Indexer profiles many images concurrently and inserts the results into a
// store from a single writer.
type Indexer struct {
	Store   *Store
	Palette *classify.Palette
	Source  ImageSource
	Workers int // defaults to GOMAXPROCS
}

// IndexStats summarizes one Index run.
type IndexStats struct {
	Added   int
	Present int // already in the store, not recomputed
	Skipped int // too small for the store's split dimension
}

type indexed struct {
	id      string
	profile profile.Profile
	skip    bool
}

// Index profiles every id not yet in the store. Profiles are inserted in the
// order of ids regardless of which worker finishes first. Images too small for
// the split dimension are skipped and counted; any other failure aborts the
// run, leaving profiles inserted so far in place.
func (ix *Indexer) Index(ctx context.Context, ids []string) (IndexStats, error) {
	var stats IndexStats
	var pending []string
	for _, id := range ids {
		if ix.Store.Has(id) {
			stats.Present++
			continue
		}
		pending = append(pending, id)
	}
	if len(pending) == 0 {
		return stats, nil
	}

	workers := ix.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	workers = min(workers, len(pending))
	splitDim := ix.Store.SplitDim()

	jobs := make(chan string)
	results := make(chan indexed)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(jobs)
		for _, id := range pending {
			select {
			case jobs <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})
	g.Go(func() error {
		defer close(results)
		w, wctx := errgroup.WithContext(gctx)
		for i := 0; i < workers; i++ {
			w.Go(func() error {
				for id := range jobs {
					if err := wctx.Err(); err != nil {
						return err
					}
					r, err := ix.profileOne(id, splitDim)
					if err != nil {
						return err
					}
					select {
					case results <- r:
					case <-wctx.Done():
						return wctx.Err()
					}
				}
				return nil
			})
		}
		return w.Wait()
	})

	// Single writer: reorder completed profiles back into input order.
	var writeErr error
	next := 0
	held := make(map[string]indexed)
	for r := range results {
		if writeErr != nil {
			continue
		}
		held[r.id] = r
		for next < len(pending) {
			r, ok := held[pending[next]]
			if !ok {
				break
			}
			delete(held, r.id)
			next++
			if r.skip {
				stats.Skipped++
				continue
			}
			if err := ix.Store.Insert(r.id, r.profile); err != nil {
				writeErr = err
				break
			}
			stats.Added++
			log.Debug().Str("image", r.id).Int("done", next).Int("total", len(pending)).Msg("Profiled image")
		}
	}

	if err := g.Wait(); err != nil {
		return stats, err
	}
	return stats, writeErr
}

func (ix *Indexer) profileOne(id string, splitDim int) (indexed, error) {
	img, err := ix.Source.Image(id)
	if err != nil {
		return indexed{}, fmt.Errorf("load %q: %w", id, err)
	}
	p, err := profile.Compute(img, splitDim, ix.Palette)
	if errors.Is(err, profile.ErrInvalidSplitDimension) {
		b := img.Bounds()
		log.Warn().Str("image", id).Int("width", b.Dx()).Int("height", b.Dy()).
			Int("split_dim", splitDim).Msg("Image too small for grid, skipping")
		return indexed{id: id, skip: true}, nil
	}
	if err != nil {
		return indexed{}, fmt.Errorf("profile %q: %w", id, err)
	}
	return indexed{id: id, profile: p}, nil
}
