// Package extract crops detected regions out of page rasters and records
// them in a manifest.
package extract

import (
	"context"
	"fmt"
	"image"
	"path/filepath"

	"github.com/rs/zerolog"
	"golang.org/x/image/draw"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/source"
)

// Settings control extraction.
type Settings struct {
	Workers      int
	MaxDimension int // longest crop side in pixels, 0 keeps native size
}

type Extractor struct {
	settings Settings
	log      zerolog.Logger
}

func New(s Settings, log zerolog.Logger) *Extractor {
	if s.Workers < 1 {
		s.Workers = 1
	}
	return &Extractor{
		settings: s,
		log:      log.With().Str("component", "extractor").Logger(),
	}
}

// Extract writes one PNG per descriptor into dir. regions[i] belongs to
// pages[i]. Names are fixed before any file is written, so repeated runs
// over the same input produce the same files.
func (e *Extractor) Extract(ctx context.Context, pages []domain.Page, regions [][]domain.RegionDescriptor, dir string) (*domain.Manifest, error) {
	if len(regions) != len(pages) {
		return nil, fmt.Errorf("extract: %d region lists for %d pages", len(regions), len(pages))
	}
	names := AssignNames(regions)
	manifest := domain.NewManifest()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.settings.Workers)
	for i, page := range pages {
		if len(regions[i]) == 0 {
			continue
		}
		g.Go(func() error {
			for j, r := range regions[i] {
				if err := gctx.Err(); err != nil {
					return domain.CanceledError("extraction interrupted", err)
				}
				a, err := e.extractOne(page, r, names[i][j], j, dir)
				if err != nil {
					return err
				}
				if err := manifest.Add(a); err != nil {
					return domain.NewError(domain.KindInternal, "manifest", err)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Debug().Int("regions", manifest.Len()).Msg("regions extracted")
	return manifest, nil
}

func (e *Extractor) extractOne(page domain.Page, r domain.RegionDescriptor, name string, seq int, dir string) (*domain.RegionArtifact, error) {
	rect := r.Box.Pixels(page.Image.Bounds())
	crop := Crop(page.Image, rect, e.settings.MaxDimension)

	a := &domain.RegionArtifact{
		RegionDescriptor: r,
		Name:             name,
		Rect:             rect,
		Seq:              seq,
	}
	a.Path = filepath.Join(dir, a.File())
	if err := source.WritePNG(a.Path, crop); err != nil {
		return nil, domain.ResourceError(fmt.Sprintf("write region %s", name), err)
	}
	return a, nil
}

// Crop copies rect out of img into a new image anchored at the origin,
// scaling it down when its longest side exceeds maxDim.
func Crop(img image.Image, rect image.Rectangle, maxDim int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	longest := max(rect.Dx(), rect.Dy())
	if maxDim <= 0 || longest <= maxDim {
		return dst
	}
	w := max(1, rect.Dx()*maxDim/longest)
	h := max(1, rect.Dy()*maxDim/longest)
	scaled := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), dst, dst.Bounds(), draw.Src, nil)
	return scaled
}
