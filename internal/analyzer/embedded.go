package analyzer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ivlev/pdf2html/internal/domain"
)

// EmbeddedLabel is the placeholder label of an embedded image until a
// describe pass replaces it.
const EmbeddedLabel = "embedded image"

// EmbeddedDetector reports the raster images the rasterizer found drawn
// on each page. No inference is involved and no padding is applied.
type EmbeddedDetector struct {
	log zerolog.Logger
}

func NewEmbeddedDetector(log zerolog.Logger) *EmbeddedDetector {
	return &EmbeddedDetector{log: log.With().Str("component", "detector").Str("strategy", "embedded").Logger()}
}

func (d *EmbeddedDetector) Detect(ctx context.Context, pages []domain.Page) ([][]domain.RegionDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.CanceledError("detection interrupted", err)
	}
	out := make([][]domain.RegionDescriptor, len(pages))
	for i, p := range pages {
		for j, box := range p.Embedded {
			if !box.Valid() {
				d.log.Warn().Int("page", p.Number()).Str("bbox", box.String()).Msg("dropping invalid image placement")
				continue
			}
			out[i] = append(out[i], domain.RegionDescriptor{
				Page:  p.Number(),
				Box:   box,
				Label: EmbeddedLabel,
				Name:  fmt.Sprintf("page_%d_img_%d", p.Number(), j+1),
			})
		}
		if len(out[i]) > 0 {
			d.log.Debug().Int("page", p.Number()).Int("images", len(out[i])).Msg("embedded images")
		}
	}
	return out, nil
}
