package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/ivlev/pdf2html/internal/domain"
)

// Settings control rasterization.
type Settings struct {
	DPI     int
	Workers int
	// MaxPixels caps the rendered area of one page; larger pages are
	// rendered at a lower DPI. Zero disables the cap.
	MaxPixels int
	// Embedded records the placement of raster images on each page when
	// the source can report it.
	Embedded bool
}

type renderResult struct {
	slot int
	page domain.Page
	err  error
}

// PageFile is the raster file name for a 0-based page index.
func PageFile(index int) string {
	return fmt.Sprintf("page_%04d.png", index+1)
}

// Rasterize renders the selected pages of src into dir and returns them in
// the order given. It either renders every page or fails: the returned error
// is a DocumentError for unreadable pages and a ResourceError for write
// failures.
func Rasterize(ctx context.Context, src Source, indexes []int, s Settings, dir string) ([]domain.Page, error) {
	if len(indexes) == 0 {
		return nil, domain.DocumentError("no pages selected", nil)
	}
	for _, i := range indexes {
		if i < 0 || i >= src.PageCount() {
			return nil, domain.DocumentError(fmt.Sprintf("page %d out of range (%d pages)", i+1, src.PageCount()), nil)
		}
	}

	workers := s.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(indexes) {
		workers = len(indexes)
	}

	jobs := make(chan int, len(indexes))
	results := make(chan renderResult, len(indexes))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for slot := range jobs {
				if ctx.Err() != nil {
					results <- renderResult{slot: slot, err: domain.CanceledError("rasterization interrupted", ctx.Err())}
					continue
				}
				page, err := renderOne(src, indexes[slot], s, dir)
				results <- renderResult{slot: slot, page: page, err: err}
			}
		}()
	}

	for slot := range indexes {
		jobs <- slot
	}
	close(jobs)
	wg.Wait()
	close(results)

	pages := make([]domain.Page, len(indexes))
	var firstErr error
	firstSlot := len(indexes)
	for r := range results {
		if r.err != nil {
			// report the earliest failing page so the error is stable across runs
			if r.slot < firstSlot {
				firstSlot, firstErr = r.slot, r.err
			}
			continue
		}
		pages[r.slot] = r.page
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return pages, nil
}

func renderOne(src Source, index int, s Settings, dir string) (domain.Page, error) {
	w, h, err := src.GetPageDimensions(index)
	if err != nil {
		return domain.Page{}, domain.DocumentError(fmt.Sprintf("page %d has no readable size", index+1), err)
	}
	dpi := fitDPI(w, h, s.DPI, s.MaxPixels)

	img, err := src.RenderPage(index, dpi)
	if err != nil {
		return domain.Page{}, domain.DocumentError(fmt.Sprintf("page %d is unrenderable", index+1), err)
	}
	if img.Bounds().Empty() {
		return domain.Page{}, domain.DocumentError(fmt.Sprintf("page %d rendered empty", index+1), nil)
	}
	text, err := src.PageText(index)
	if err != nil {
		return domain.Page{}, domain.DocumentError(fmt.Sprintf("page %d text layer unreadable", index+1), err)
	}

	path := filepath.Join(dir, PageFile(index))
	if err := WritePNG(path, img); err != nil {
		return domain.Page{}, domain.ResourceError(fmt.Sprintf("write raster of page %d", index+1), err)
	}

	page := domain.Page{Index: index, Image: img, Path: path, Text: text}
	if lister, ok := src.(EmbeddedLister); ok && s.Embedded {
		placed, err := lister.EmbeddedImages(index)
		if err != nil {
			return domain.Page{}, domain.DocumentError(fmt.Sprintf("page %d image layer unreadable", index+1), err)
		}
		page.Embedded = Normalize(placed, w, h)
	}
	return page, nil
}

// fitDPI lowers dpi until a w x h point page renders within maxPixels.
func fitDPI(w, h float64, dpi, maxPixels int) int {
	if dpi <= 0 || maxPixels <= 0 || w <= 0 || h <= 0 {
		return dpi
	}
	scale := float64(dpi) / 72
	if w*scale*h*scale <= float64(maxPixels) {
		return dpi
	}
	fit := int(math.Floor(72 * math.Sqrt(float64(maxPixels)/(w*h))))
	return max(fit, 1)
}

// EncodePNG encodes img with fixed settings; equal images give equal bytes.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.DefaultCompression}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePNG encodes img into path.
func WritePNG(path string, img image.Image) error {
	data, err := EncodePNG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
