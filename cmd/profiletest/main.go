// Command profiletest profiles a single image and prints its color grid.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"colorgrid/internal/classify"
	"colorgrid/internal/imageload"
	"colorgrid/internal/profile"
)

func main() {
	imagePath := flag.String("image", "", "Path to image (JPEG, PNG, TIFF, BMP or WebP)")
	split := flag.Int("split", 4, "Grid split dimension")
	thumb := flag.Int("thumbnail", imageload.DefaultThumbnail, "Longest side after thumbnailing, 0 to keep full size")
	paramsPath := flag.String("params", "", "Perceptron parameters JSON; profiles a single 'perceptron' color instead of the rules")
	exclusive := flag.Bool("exclusive", false, "Assign each pixel to its best-scoring color only")
	flag.Parse()

	if *imagePath == "" {
		fmt.Println("Usage: profiletest -image <path> [-split 4] [-thumbnail 16] [-params p.json] [-exclusive]")
		os.Exit(1)
	}

	img, err := imageload.Load(*imagePath, *thumb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load image: %v\n", err)
		os.Exit(1)
	}
	bounds := img.Bounds()
	fmt.Printf("Loaded image: %dx%d pixels (after thumbnail %d)\n", bounds.Dx(), bounds.Dy(), *thumb)

	palette := classify.DefaultRules()
	if *paramsPath != "" {
		params, err := classify.LoadParams(*paramsPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load parameters: %v\n", err)
			os.Exit(1)
		}
		n, err := classify.NewPerceptron(params)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bad parameters: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Perceptron: %d hidden units\n", params.Hidden())
		if palette, err = classify.NewPalette(classify.Entry{ID: "perceptron", Classifier: n}); err != nil {
			fmt.Fprintf(os.Stderr, "Palette: %v\n", err)
			os.Exit(1)
		}
	}
	palette.SetExclusive(*exclusive)
	fmt.Printf("Palette: %s (exclusive=%v)\n", strings.Join(palette.IDs(), ", "), *exclusive)

	cells, err := profile.Cells(bounds, *split)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Bad split: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nGrid %dx%d:\n", *split, *split)
	for _, c := range cells {
		fmt.Printf("  cell (%d,%d): x %d-%d y %d-%d (%d px)\n",
			c.Row, c.Col, c.Bounds.Min.X, c.Bounds.Max.X, c.Bounds.Min.Y, c.Bounds.Max.Y,
			c.Bounds.Dx()*c.Bounds.Dy())
	}

	p, err := profile.Compute(img, *split, palette)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profiling failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n%s", p)
}
