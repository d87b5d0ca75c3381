// Package store persists color profiles keyed by image id and extends them
// incrementally with new images and new colors.
package store

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"
	"time"

	"colorgrid/internal/classify"
	"colorgrid/internal/profile"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrDuplicateImage = errors.New("duplicate image")
	// ErrDuplicateColor is shared with classify so either can be matched.
	ErrDuplicateColor = classify.ErrDuplicateColor
	ErrCorruptStore   = errors.New("corrupt store")
	ErrSplitMismatch  = errors.New("split dimension mismatch")
	ErrScoreRange     = errors.New("score outside [0,1]")
)

// ImageSource re-supplies the pixels of a stored image. The store keeps only
// computed profiles, so adding a color needs the caller to provide the images
// again.
type ImageSource interface {
	Image(id string) (image.Image, error)
}

// Meta describes a store independently of its contents.
type Meta struct {
	Version  int
	ID       string
	SplitDim int
	Created  time.Time
	Modified time.Time
}

// Store maps image ids to color profiles. Ids keep their insertion order.
// The store only grows: images and colors are added, never removed.
type Store struct {
	mu       sync.RWMutex
	meta     Meta
	order    []string
	profiles map[string]profile.Profile
}

// New creates an empty store for profiles of the given split dimension.
func New(splitDim int) (*Store, error) {
	if splitDim < 1 {
		return nil, fmt.Errorf("%w: %d is less than 1", profile.ErrInvalidSplitDimension, splitDim)
	}
	now := time.Now().UTC()
	return &Store{
		meta: Meta{
			Version:  formatVersion,
			ID:       uuid.NewString(),
			SplitDim: splitDim,
			Created:  now,
			Modified: now,
		},
		profiles: make(map[string]profile.Profile),
	}, nil
}

// Meta returns the store metadata.
func (s *Store) Meta() Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// SplitDim returns the grid resolution shared by every stored profile.
func (s *Store) SplitDim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.SplitDim
}

// Len returns the number of stored images.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// IDs returns the stored image ids in insertion order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Has reports whether id is stored.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[id]
	return ok
}

// Profile returns the stored profile for id. The returned profile must not be
// modified.
func (s *Store) Profile(id string) (profile.Profile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[id]
	return p, ok
}

// Colors returns the union of color ids across all stored profiles, sorted.
func (s *Store) Colors() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	union := make(profile.Profile)
	for _, p := range s.profiles {
		for id, m := range p {
			union[id] = m
		}
	}
	return union.Colors()
}

// HasColor reports whether any stored profile contains color.
func (s *Store) HasColor(color string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.profiles {
		if _, ok := p[color]; ok {
			return true
		}
	}
	return false
}

// AddImage profiles img with the palette and stores it under id.
// An id that is already present is rejected with ErrDuplicateImage; existing
// profiles are never overwritten.
func (s *Store) AddImage(id string, img image.Image, palette *classify.Palette) error {
	if s.Has(id) {
		return fmt.Errorf("%w: %q", ErrDuplicateImage, id)
	}
	p, err := profile.Compute(img, s.SplitDim(), palette)
	if err != nil {
		return fmt.Errorf("profile %q: %w", id, err)
	}
	return s.Insert(id, p)
}

// Insert stores a precomputed profile under id.
func (s *Store) Insert(id string, p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		return fmt.Errorf("empty image id")
	}
	if _, ok := s.profiles[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateImage, id)
	}
	for color, m := range p {
		if err := checkMatrix(m, s.meta.SplitDim); err != nil {
			return fmt.Errorf("image %q color %q: %w", id, color, err)
		}
	}

	s.order = append(s.order, id)
	s.profiles[id] = p.Clone()
	s.touch()
	return nil
}

// AddColor computes colorID for every stored image and adds it to each
// profile. Matrices of other colors are left untouched. All images are
// profiled before anything is inserted, so a failing source leaves the store
// unchanged.
func (s *Store) AddColor(colorID string, c classify.Classifier, src ImageSource) error {
	if colorID == "" {
		return fmt.Errorf("empty color id")
	}
	if s.HasColor(colorID) {
		return fmt.Errorf("%w: %q", ErrDuplicateColor, colorID)
	}
	_, err := s.addColor(colorID, c, src, s.IDs())
	return err
}

// ExtendColor computes colorID for those of ids that are stored but lack
// it, and returns how many profiles were extended. Ids not in the store are
// ignored, as are stored images outside ids, so src only has to supply the
// listed images. Like AddColor it inserts nothing unless every image profiles.
func (s *Store) ExtendColor(colorID string, c classify.Classifier, src ImageSource, ids []string) (int, error) {
	if colorID == "" {
		return 0, fmt.Errorf("empty color id")
	}
	s.mu.RLock()
	var missing []string
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			if _, has := p[colorID]; !has {
				missing = append(missing, id)
			}
		}
	}
	s.mu.RUnlock()
	return s.addColor(colorID, c, src, missing)
}

func (s *Store) addColor(colorID string, c classify.Classifier, src ImageSource, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	splitDim := s.SplitDim()
	computed := make(map[string]*mat.Dense, len(ids))
	for _, id := range ids {
		img, err := src.Image(id)
		if err != nil {
			return 0, fmt.Errorf("load %q: %w", id, err)
		}
		m, err := profile.ComputeColor(img, splitDim, c)
		if err != nil {
			return 0, fmt.Errorf("profile %q: %w", id, err)
		}
		if err := checkMatrix(m, splitDim); err != nil {
			return 0, fmt.Errorf("image %q color %q: %w", id, colorID, err)
		}
		computed[id] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for id, m := range computed {
		p := s.profiles[id]
		if _, has := p[colorID]; has {
			continue
		}
		p[colorID] = m
		added++
	}
	s.touch()
	return added, nil
}

// touch records a modification. Callers hold s.mu.
func (s *Store) touch() {
	s.meta.Modified = time.Now().UTC()
}

// Equal reports whether both stores hold the same ids in the same order with
// identical profiles and split dimension.
func (s *Store) Equal(other *Store) bool {
	a, b := s.IDs(), other.IDs()
	if len(a) != len(b) || s.SplitDim() != other.SplitDim() {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
		pa, _ := s.Profile(a[i])
		pb, _ := other.Profile(b[i])
		if !pa.Equal(pb) {
			return false
		}
	}
	return true
}

// checkMatrix accepts exactly what a snapshot may contain: a splitDim×splitDim
// matrix of finite scores in [0,1].
func checkMatrix(m *mat.Dense, splitDim int) error {
	if m == nil {
		return fmt.Errorf("nil matrix")
	}
	if r, c := m.Dims(); r != splitDim || c != splitDim {
		return fmt.Errorf("%w: matrix is %dx%d, store uses %d", ErrSplitMismatch, r, c, splitDim)
	}
	for i := 0; i < splitDim; i++ {
		for j := 0; j < splitDim; j++ {
			if v := m.At(i, j); math.IsNaN(v) || v < 0 || v > 1 {
				return fmt.Errorf("%w: score %v at (%d,%d)", ErrScoreRange, v, i, j)
			}
		}
	}
	return nil
}
