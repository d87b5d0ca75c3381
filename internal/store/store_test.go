package store

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"colorgrid/internal/classify"
	"colorgrid/internal/profile"
	"colorgrid/pkg/colorutil"

	"gonum.org/v1/gonum/mat"
)

// mapSource serves images from memory and counts loads per id.
type mapSource struct {
	images map[string]image.Image
	loads  map[string]*atomic.Int32
}

func newMapSource(images map[string]image.Image) *mapSource {
	s := &mapSource{images: images, loads: make(map[string]*atomic.Int32)}
	for id := range images {
		s.loads[id] = new(atomic.Int32)
	}
	return s
}

func (s *mapSource) Image(id string) (image.Image, error) {
	img, ok := s.images[id]
	if !ok {
		return nil, fmt.Errorf("no image %q", id)
	}
	s.loads[id].Add(1)
	return img, nil
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func redOverBlack(size int) *image.RGBA {
	img := solid(size, size, colorutil.Black)
	for y := 0; y < size/2; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, colorutil.Red)
		}
	}
	return img
}

func TestNewRejectsBadSplit(t *testing.T) {
	if _, err := New(0); !errors.Is(err, profile.ErrInvalidSplitDimension) {
		t.Fatalf("expected ErrInvalidSplitDimension, got %v", err)
	}
}

func TestAddImageRejectsDuplicate(t *testing.T) {
	s, _ := New(2)
	pal := classify.DefaultRules()
	if err := s.AddImage("a.jpg", redOverBlack(4), pal); err != nil {
		t.Fatalf("AddImage: %v", err)
	}
	before, _ := s.Profile("a.jpg")
	before = before.Clone()

	err := s.AddImage("a.jpg", solid(4, 4, colorutil.White), pal)
	if !errors.Is(err, ErrDuplicateImage) {
		t.Fatalf("expected ErrDuplicateImage, got %v", err)
	}
	after, _ := s.Profile("a.jpg")
	if !after.Equal(before) {
		t.Fatalf("duplicate AddImage modified the stored profile")
	}
}

func TestAddImagePropagatesSplitError(t *testing.T) {
	s, _ := New(8)
	err := s.AddImage("tiny.jpg", solid(4, 4, colorutil.Red), classify.DefaultRules())
	if !errors.Is(err, profile.ErrInvalidSplitDimension) {
		t.Fatalf("expected ErrInvalidSplitDimension, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("failed AddImage left %d images", s.Len())
	}
}

func TestInsertRejectsWrongShape(t *testing.T) {
	s, _ := New(2)
	err := s.Insert("x", profile.Profile{"red": mat.NewDense(3, 3, nil)})
	if !errors.Is(err, ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}
}

func TestInsertRejectsScoresThatWouldNotReload(t *testing.T) {
	for _, v := range []float64{1.5, -0.1, math.NaN()} {
		s, _ := New(1)
		err := s.Insert("a", profile.Profile{"red": mat.NewDense(1, 1, []float64{v})})
		if !errors.Is(err, ErrScoreRange) {
			t.Fatalf("Insert(%v): expected ErrScoreRange, got %v", v, err)
		}
		if s.Len() != 0 {
			t.Fatalf("Insert(%v) stored the profile", v)
		}
	}

	s, _ := New(1)
	if err := s.Insert("a", profile.Profile{"red": mat.NewDense(1, 1, []float64{1})}); err != nil {
		t.Fatalf("Insert(1): %v", err)
	}
	data, err := s.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if _, err := Deserialize(data); err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
}

// overflow breaks the [0,1] contract of Classifier.
type overflow struct{}

func (overflow) Score(colorutil.RGB) float64 { return 2 }

func TestAddColorRejectsOutOfRangeClassifier(t *testing.T) {
	s, _ := New(1)
	img := solid(2, 2, colorutil.Red)
	_ = s.AddImage("a", img, classify.DefaultRules())
	err := s.AddColor("hot", overflow{}, newMapSource(map[string]image.Image{"a": img}))
	if !errors.Is(err, ErrScoreRange) {
		t.Fatalf("expected ErrScoreRange, got %v", err)
	}
	if s.HasColor("hot") {
		t.Fatalf("out-of-range color was stored")
	}
}

func TestExtendColorOnlyTouchesListedImages(t *testing.T) {
	s, _ := New(1)
	pal := classify.DefaultRules()
	_ = s.AddImage("elsewhere.jpg", solid(2, 2, colorutil.White), pal)
	_ = s.AddImage("here.jpg", solid(2, 2, colorutil.White), pal)

	// Only here.jpg can be loaded; elsewhere.jpg belongs to another directory.
	src := newMapSource(map[string]image.Image{"here.jpg": solid(2, 2, colorutil.White)})
	n, err := s.ExtendColor("snow", classify.RuleWhite, src, []string{"here.jpg", "unknown.jpg"})
	if err != nil {
		t.Fatalf("ExtendColor: %v", err)
	}
	if n != 1 {
		t.Fatalf("extended %d profiles, want 1", n)
	}
	here, _ := s.Profile("here.jpg")
	if v, ok := here.Score("snow", 0, 0); !ok || v != 1 {
		t.Fatalf("here.jpg snow = %v, %v", v, ok)
	}
	elsewhere, _ := s.Profile("elsewhere.jpg")
	if _, ok := elsewhere["snow"]; ok {
		t.Fatalf("elsewhere.jpg was extended")
	}

	n, err = s.ExtendColor("snow", classify.RuleWhite, src, []string{"here.jpg"})
	if err != nil || n != 0 {
		t.Fatalf("second ExtendColor = %d, %v; want 0, nil", n, err)
	}
	if got := src.loads["here.jpg"].Load(); got != 1 {
		t.Fatalf("here.jpg loaded %d times, want 1", got)
	}
}

func TestDuplicateColorMatchesClassifySentinel(t *testing.T) {
	s, _ := New(1)
	img := solid(2, 2, colorutil.Red)
	_ = s.AddImage("a", img, classify.DefaultRules())
	err := s.AddColor("red", classify.RuleRed, newMapSource(map[string]image.Image{"a": img}))
	if !errors.Is(err, classify.ErrDuplicateColor) {
		t.Fatalf("expected classify.ErrDuplicateColor, got %v", err)
	}
}

func TestAddColorThenAddImageKeepsExistingMatrices(t *testing.T) {
	s, _ := New(2)
	pal := classify.DefaultRules()
	first := redOverBlack(4)
	if err := s.AddImage("first.jpg", first, pal); err != nil {
		t.Fatalf("AddImage: %v", err)
	}
	original, _ := s.Profile("first.jpg")
	snapshot := original.Clone()
	pointers := make(map[string]*mat.Dense)
	for id, m := range original {
		pointers[id] = m
	}

	src := newMapSource(map[string]image.Image{"first.jpg": first})
	if err := s.AddColor("bright", classify.RuleWhite, src); err != nil {
		t.Fatalf("AddColor: %v", err)
	}
	if err := s.AddImage("second.jpg", solid(4, 4, colorutil.Blue), pal); err != nil {
		t.Fatalf("AddImage: %v", err)
	}

	p, _ := s.Profile("first.jpg")
	for id, m := range snapshot {
		if p[id] != pointers[id] {
			t.Errorf("matrix %q was replaced", id)
		}
		if !mat.Equal(p[id], m) {
			t.Errorf("matrix %q changed", id)
		}
	}
	if _, ok := p["bright"]; !ok {
		t.Fatalf("bright missing after AddColor")
	}
	second, _ := s.Profile("second.jpg")
	if _, ok := second["bright"]; ok {
		t.Fatalf("second image profiled with a palette lacking bright")
	}
	if got := s.IDs(); len(got) != 2 || got[0] != "first.jpg" || got[1] != "second.jpg" {
		t.Fatalf("ids = %v", got)
	}
}

func TestAddColorRejectsDuplicate(t *testing.T) {
	s, _ := New(1)
	img := solid(2, 2, colorutil.Red)
	_ = s.AddImage("a", img, classify.DefaultRules())
	err := s.AddColor("red", classify.RuleRed, newMapSource(map[string]image.Image{"a": img}))
	if !errors.Is(err, ErrDuplicateColor) {
		t.Fatalf("expected ErrDuplicateColor, got %v", err)
	}
}

func TestAddColorFailingSourceLeavesStoreUnchanged(t *testing.T) {
	s, _ := New(1)
	pal := classify.DefaultRules()
	_ = s.AddImage("a", solid(2, 2, colorutil.Red), pal)
	_ = s.AddImage("b", solid(2, 2, colorutil.Blue), pal)

	src := newMapSource(map[string]image.Image{"a": solid(2, 2, colorutil.Red)})
	if err := s.AddColor("sky", classify.RuleBlue, src); err == nil {
		t.Fatalf("expected error for missing image b")
	}
	if s.HasColor("sky") {
		t.Fatalf("partial AddColor was applied")
	}
}

func buildStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(2)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pal := classify.DefaultRules()
	images := map[string]image.Image{
		"a.jpg": redOverBlack(4),
		"b.jpg": solid(5, 7, colorutil.Blue),
		"c.jpg": solid(3, 3, colorutil.White),
	}
	for _, id := range []string{"b.jpg", "a.jpg", "c.jpg"} {
		if err := s.AddImage(id, images[id], pal); err != nil {
			t.Fatalf("AddImage(%s): %v", id, err)
		}
	}
	if err := s.AddColor("grass", classify.RuleGreen, newMapSource(images)); err != nil {
		t.Fatalf("AddColor: %v", err)
	}
	return s
}

func TestSerializeRoundTrip(t *testing.T) {
	for _, s := range []*Store{mustNew(t, 3), buildStore(t)} {
		data, err := s.Serialize()
		if err != nil {
			t.Fatalf("Serialize: %v", err)
		}
		got, err := Deserialize(data)
		if err != nil {
			t.Fatalf("Deserialize: %v", err)
		}
		if !got.Equal(s) {
			t.Fatalf("round trip mismatch: ids %v vs %v", got.IDs(), s.IDs())
		}
		if got.Meta().ID != s.Meta().ID || !got.Meta().Created.Equal(s.Meta().Created) {
			t.Fatalf("metadata mismatch: %+v vs %+v", got.Meta(), s.Meta())
		}
	}
}

func mustNew(t *testing.T, splitDim int) *Store {
	t.Helper()
	s, err := New(splitDim)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestDeserializeCorrupt(t *testing.T) {
	valid, err := buildStore(t).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	cases := map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("not a store"),
		"truncated": valid[:len(valid)/2],
	}
	for name, data := range cases {
		if _, err := Deserialize(data); !errors.Is(err, ErrCorruptStore) {
			t.Errorf("%s: expected ErrCorruptStore, got %v", name, err)
		}
	}
}

func TestFromSnapshotRejectsBadMatrices(t *testing.T) {
	good, _ := mat.NewDense(2, 2, []float64{0, 0.5, 1, 0}).MarshalBinary()
	big, _ := mat.NewDense(3, 3, nil).MarshalBinary()
	outOfRange, _ := mat.NewDense(2, 2, []float64{0, 2, 0, 0}).MarshalBinary()
	meta := Meta{Version: formatVersion, SplitDim: 2}

	cases := map[string]snapshot{
		"version":  {Meta: Meta{Version: 99, SplitDim: 2}},
		"split":    {Meta: Meta{Version: formatVersion}},
		"dup id":   {Meta: meta, Images: []imageRecord{{ID: "a"}, {ID: "a"}}},
		"shape":    {Meta: meta, Images: []imageRecord{{ID: "a", Colors: []colorRecord{{"red", big}}}}},
		"range":    {Meta: meta, Images: []imageRecord{{ID: "a", Colors: []colorRecord{{"red", outOfRange}}}}},
		"bad blob": {Meta: meta, Images: []imageRecord{{ID: "a", Colors: []colorRecord{{"red", good[:5]}}}}},
		"dup color": {Meta: meta, Images: []imageRecord{{ID: "a", Colors: []colorRecord{
			{"red", good}, {"red", good},
		}}}},
	}
	for name, snap := range cases {
		if _, err := fromSnapshot(snap); !errors.Is(err, ErrCorruptStore) {
			t.Errorf("%s: expected ErrCorruptStore, got %v", name, err)
		}
	}
	ok := snapshot{Meta: meta, Images: []imageRecord{{ID: "a", Colors: []colorRecord{{"red", good}}}}}
	if _, err := fromSnapshot(ok); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "profiles.bin")

	empty, err := LoadFile(path, 2)
	if err != nil {
		t.Fatalf("LoadFile on missing file: %v", err)
	}
	if empty.Len() != 0 || empty.SplitDim() != 2 {
		t.Fatalf("expected empty store of split 2")
	}

	s := buildStore(t)
	if err := s.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	got, err := LoadFile(path, 0)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if !got.Equal(s) {
		t.Fatalf("file round trip mismatch")
	}
	if _, err := LoadFile(path, 4); !errors.Is(err, ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("expected only the store file, found %d entries", len(entries))
	}
}

func TestLoadFileCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path, 2); !errors.Is(err, ErrCorruptStore) {
		t.Fatalf("expected ErrCorruptStore, got %v", err)
	}
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	db, err := OpenDB(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	empty, err := db.Load(ctx, 3)
	if err != nil {
		t.Fatalf("Load on empty db: %v", err)
	}
	if empty.Len() != 0 || empty.SplitDim() != 3 {
		t.Fatalf("expected empty store of split 3")
	}

	s := buildStore(t)
	if err := db.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	// Saving twice replaces rather than duplicates.
	if err := db.Save(ctx, s); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, err := db.Load(ctx, 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !got.Equal(s) {
		t.Fatalf("sqlite round trip mismatch: %v vs %v", got.IDs(), s.IDs())
	}
	if got.Meta().ID != s.Meta().ID {
		t.Fatalf("store id not preserved")
	}
}

func TestOpenBackend(t *testing.T) {
	if _, err := Open("postgres", "x"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	b, err := Open("file", filepath.Join(t.TempDir(), "s.bin"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	s, err := b.Load(context.Background(), 2)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Save(context.Background(), s); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestIndexerInsertsInInputOrder(t *testing.T) {
	images := make(map[string]image.Image)
	var ids []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("img%02d.jpg", i)
		ids = append(ids, id)
		if i%2 == 0 {
			images[id] = redOverBlack(8)
		} else {
			images[id] = solid(8, 8, colorutil.Green)
		}
	}
	images["tiny.jpg"] = solid(1, 1, colorutil.Red)
	ids = append(ids, "tiny.jpg")

	s, _ := New(2)
	_ = s.AddImage("img00.jpg", images["img00.jpg"], classify.DefaultRules())
	src := newMapSource(images)

	ix := &Indexer{Store: s, Palette: classify.DefaultRules(), Source: src, Workers: 4}
	stats, err := ix.Index(context.Background(), ids)
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if stats.Added != 19 || stats.Present != 1 || stats.Skipped != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if src.loads["img00.jpg"].Load() != 0 {
		t.Fatalf("present image was reloaded")
	}
	got := s.IDs()
	for i, id := range ids[:20] {
		if got[i] != id {
			t.Fatalf("ids = %v, want input order", got)
		}
	}
	p, _ := s.Profile("img03.jpg")
	if v, _ := p.Score("green", 1, 1); v != 1 {
		t.Fatalf("img03 green = %v, want 1", v)
	}
}

func TestIndexerPropagatesLoadError(t *testing.T) {
	s, _ := New(2)
	src := newMapSource(map[string]image.Image{"a": solid(4, 4, colorutil.Red)})
	ix := &Indexer{Store: s, Palette: classify.DefaultRules(), Source: src, Workers: 2}
	if _, err := ix.Index(context.Background(), []string{"a", "missing"}); err == nil {
		t.Fatalf("expected load error")
	}
}
