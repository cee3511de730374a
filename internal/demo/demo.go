// Package demo generates a deterministic synthetic furniture catalog for
// local end-to-end runs and benchmarks. The same (count, seed) pair always
// yields the same records.
package demo

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gatherhome/catalog-intel/internal/model"
)

// Options control catalog generation.
type Options struct {
	Count int
	Seed  uint64

	// ImageDir, when set, receives tiny PNG fixtures that records reference
	// by local path, exercising the vision stage without a network.
	ImageDir string
}

var (
	demoItems     = []string{"Sofa", "Dining Chair", "Coffee Table", "Desk Lamp", "Bed", "Bookshelf"}
	demoStyles    = []string{"Modern", "Mid-Century", "Minimalist", "Scandi", "Industrial"}
	demoMaterials = []string{"Walnut", "Oak", "Velvet", "Leather", "Brass"}
	demoFinishes  = []string{"walnut", "slate", "ivory", "teal", "charcoal"}
	demoRooms     = []string{"living room", "dining room", "bedroom", "home office"}
)

var fixturePalette = []color.RGBA{
	{R: 234, G: 67, B: 53, A: 255},
	{R: 52, G: 168, B: 83, A: 255},
	{R: 66, G: 133, B: 244, A: 255},
	{R: 251, G: 188, B: 5, A: 255},
	{R: 124, G: 77, B: 255, A: 255},
}

// Generate returns opts.Count deterministic records. With ImageDir set, the
// fixture images are written first and assigned round-robin.
func Generate(opts Options) ([]model.ProductRecord, error) {
	if opts.Count <= 0 {
		return nil, nil
	}
	rng := rand.New(rand.NewSource(int64(opts.Seed)))

	var fixtures []string
	if opts.ImageDir != "" {
		n := min(10, max(3, opts.Count))
		var err error
		fixtures, err = writeFixtures(opts.ImageDir, n)
		if err != nil {
			return nil, err
		}
	}

	records := make([]model.ProductRecord, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		style := pick(rng, demoStyles)
		item := pick(rng, demoItems)
		material := pick(rng, demoMaterials)

		rec := model.ProductRecord{
			ProductID: fmt.Sprintf("demo-%04d", i),
			Title:     fmt.Sprintf("%s %s %s", style, material, item),
		}
		// Roughly one record in five ships without a description, like real
		// merchant feeds do.
		if rng.Float64() > 0.2 {
			rec.Description = describe(rng, style, item, material)
		}
		if len(fixtures) > 0 {
			rec.ImageURL = fixtures[i%len(fixtures)]
		}
		records = append(records, rec)
	}
	return records, nil
}

// describe builds a description carrying material, finish, room, and
// dimension phrases so every extractor has signal to work with.
func describe(rng *rand.Rand, style, item, material string) string {
	w := 18 + rng.Intn(70)
	d := 12 + rng.Intn(30)
	h := 10 + rng.Intn(70)
	return fmt.Sprintf(
		"%s %s crafted with %s accents and a %s finish. Perfect for the %s. Measures %d x %d x %d in.",
		style, strings.ToLower(item), strings.ToLower(material),
		pick(rng, demoFinishes), pick(rng, demoRooms), w, d, h,
	)
}

// writeFixtures lays down n solid-color 96x96 PNGs, skipping any already on
// disk so repeated demo runs reuse the same files.
func writeFixtures(dir string, n int) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "demo: create image dir %s", dir)
	}
	paths := make([]string, 0, n)
	for i := 0; i < n; i++ {
		path := filepath.Join(dir, fmt.Sprintf("fixture_%d.png", i))
		if _, err := os.Stat(path); err != nil {
			if err := writePNG(path, fixturePalette[i%len(fixturePalette)]); err != nil {
				return nil, err
			}
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writePNG(path string, fill color.RGBA) error {
	img := image.NewRGBA(image.Rect(0, 0, 96, 96))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "demo: create fixture %s", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close() //nolint:errcheck
		return eris.Wrapf(err, "demo: encode fixture %s", path)
	}
	if err := f.Close(); err != nil {
		return eris.Wrapf(err, "demo: write fixture %s", path)
	}
	return nil
}

func pick(rng *rand.Rand, items []string) string {
	return items[rng.Intn(len(items))]
}
