package store

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"colorgrid/internal/profile"

	"gonum.org/v1/gonum/mat"
)

// formatVersion is bumped whenever the snapshot layout changes.
const formatVersion = 1

type snapshot struct {
	Meta   Meta
	Images []imageRecord
}

type imageRecord struct {
	ID     string
	Colors []colorRecord
}

// colorRecord holds one matrix in gonum's binary encoding.
type colorRecord struct {
	Color  string
	Matrix []byte
}

// Serialize encodes the whole store as an opaque blob.
func (s *Store) Serialize() ([]byte, error) {
	snap, err := s.snapshot()
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return nil, fmt.Errorf("encode store: %w", err)
	}
	return buf.Bytes(), nil
}

// Deserialize decodes a blob produced by Serialize. Structurally invalid data
// fails with ErrCorruptStore.
func Deserialize(data []byte) (*Store, error) {
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptStore, err)
	}
	return fromSnapshot(snap)
}

func (s *Store) snapshot() (snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{Meta: s.meta, Images: make([]imageRecord, 0, len(s.order))}
	for _, id := range s.order {
		p := s.profiles[id]
		rec := imageRecord{ID: id, Colors: make([]colorRecord, 0, len(p))}
		for _, color := range p.Colors() {
			data, err := p[color].MarshalBinary()
			if err != nil {
				return snapshot{}, fmt.Errorf("encode %q/%q: %w", id, color, err)
			}
			rec.Colors = append(rec.Colors, colorRecord{Color: color, Matrix: data})
		}
		snap.Images = append(snap.Images, rec)
	}
	return snap, nil
}

func fromSnapshot(snap snapshot) (*Store, error) {
	if snap.Meta.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptStore, snap.Meta.Version)
	}
	if snap.Meta.SplitDim < 1 {
		return nil, fmt.Errorf("%w: split dimension %d", ErrCorruptStore, snap.Meta.SplitDim)
	}

	s := &Store{
		meta:     snap.Meta,
		order:    make([]string, 0, len(snap.Images)),
		profiles: make(map[string]profile.Profile, len(snap.Images)),
	}
	for _, rec := range snap.Images {
		if rec.ID == "" {
			return nil, fmt.Errorf("%w: empty image id", ErrCorruptStore)
		}
		if _, ok := s.profiles[rec.ID]; ok {
			return nil, fmt.Errorf("%w: image %q appears twice", ErrCorruptStore, rec.ID)
		}
		p := make(profile.Profile, len(rec.Colors))
		for _, c := range rec.Colors {
			if _, ok := p[c.Color]; ok || c.Color == "" {
				return nil, fmt.Errorf("%w: image %q has invalid or repeated color %q", ErrCorruptStore, rec.ID, c.Color)
			}
			m, err := decodeMatrix(c.Matrix, snap.Meta.SplitDim)
			if err != nil {
				return nil, fmt.Errorf("%w: image %q color %q: %v", ErrCorruptStore, rec.ID, c.Color, err)
			}
			p[c.Color] = m
		}
		s.order = append(s.order, rec.ID)
		s.profiles[rec.ID] = p
	}
	return s, nil
}

func decodeMatrix(data []byte, splitDim int) (*mat.Dense, error) {
	var m mat.Dense
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	if err := checkMatrix(&m, splitDim); err != nil {
		return nil, err
	}
	return &m, nil
}
