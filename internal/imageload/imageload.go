// Package imageload decodes images from disk and shrinks them to thumbnails
// before profiling.
package imageload

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// DefaultThumbnail is the longest side images are reduced to before profiling.
const DefaultThumbnail = 16

// DefaultExtensions lists the file extensions picked up by LoadDir.
var DefaultExtensions = []string{".jpg"}

// Options controls directory loading.
type Options struct {
	Extensions []string // case-insensitive, with leading dot
	Thumbnail  int      // 0 keeps the original size
}

// Entry is one decoded image keyed by file name.
type Entry struct {
	Name  string
	Image image.Image
}

// Load decodes the image at path and reduces it to fit within
// thumbnail×thumbnail.
func Load(path string, thumbnail int) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image %s: %w", path, err)
	}
	return Thumbnail(img, thumbnail), nil
}

// Thumbnail scales img down, preserving aspect ratio, so that neither side
// exceeds size. Images already small enough, and size <= 0, are returned as is.
func Thumbnail(img image.Image, size int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if size <= 0 || (w <= size && h <= size) {
		return img
	}

	nw, nh := size, size
	if w > h {
		nh = max(1, (h*size+w/2)/w)
	} else if h > w {
		nw = max(1, (w*size+h/2)/h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// List returns the names of regular files in dir whose extension is in
// exts, sorted by name.
func List(dir string, exts []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read image directory: %w", err)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !hasExtension(e.Name(), exts) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// LoadDir loads every matching image in dir.
func LoadDir(dir string, opts Options) ([]Entry, error) {
	names, err := List(dir, opts.Extensions)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		img, err := Load(filepath.Join(dir, name), opts.Thumbnail)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Image: img})
	}
	return entries, nil
}

func hasExtension(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// DirSource loads stored images back from a directory by file name. It
// satisfies store.ImageSource.
type DirSource struct {
	Dir       string
	Thumbnail int
}

// Image implements store.ImageSource.
func (s DirSource) Image(id string) (image.Image, error) {
	if id != filepath.Base(id) {
		return nil, fmt.Errorf("image id %q is not a plain file name", id)
	}
	return Load(filepath.Join(s.Dir, id), s.Thumbnail)
}
