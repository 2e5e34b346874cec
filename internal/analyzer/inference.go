package analyzer

import (
	"context"
	"fmt"
	"image"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/source"
	"github.com/ivlev/pdf2html/internal/system"
)

const reformatInstruction = `The text below was supposed to be JSON of the form
{"regions": [{"bbox": [x1, y1, x2, y2], "label": "...", "name": "..."}]}
with coordinates as fractions of the page in [0, 1]. Rewrite it as exactly that JSON and nothing else.
If it describes no regions answer {"regions": []}.

`

// InferenceDetector asks the model for diagram bounding boxes, one call per page.
type InferenceDetector struct {
	cfg    mode.Detection
	caller inference.Caller
	opts   Options
	log    zerolog.Logger
}

func NewInferenceDetector(cfg mode.Detection, caller inference.Caller, opts Options, log zerolog.Logger) *InferenceDetector {
	if opts.Padding < 0 {
		opts.Padding = 0
	}
	if opts.ReformatAttempts < 0 {
		opts.ReformatAttempts = defaultReformatAttempts
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = defaultConcurrency
	}
	return &InferenceDetector{
		cfg:    cfg,
		caller: caller,
		opts:   opts,
		log:    log.With().Str("component", "detector").Logger(),
	}
}

// Detect processes pages concurrently. An inference failure on any page
// fails the whole call; an unusable response only empties that page.
func (d *InferenceDetector) Detect(ctx context.Context, pages []domain.Page) ([][]domain.RegionDescriptor, error) {
	out := make([][]domain.RegionDescriptor, len(pages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.opts.Concurrency)
	for i, page := range pages {
		g.Go(func() error {
			regions, err := d.detectPage(gctx, page)
			if err != nil {
				return err
			}
			out[i] = regions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (d *InferenceDetector) detectPage(ctx context.Context, page domain.Page) ([]domain.RegionDescriptor, error) {
	log := d.log.With().Int("page", page.Number()).Logger()

	data, err := d.pageImage(page.Image)
	if err != nil {
		return nil, domain.DocumentError(fmt.Sprintf("encode page %d", page.Number()), err)
	}

	prompt := fmt.Sprintf("%s\nThis is page %d.", d.cfg.Instruction, page.Number())
	resp, err := d.caller.Call(ctx, inference.Prompt(prompt, inference.PNG(data)))
	if err != nil {
		return nil, err
	}

	text := resp.Text
	regions, dropped, perr := ParseResponse(text, page.Number(), d.opts.Padding)
	for attempt := 1; perr != nil && attempt <= d.opts.ReformatAttempts; attempt++ {
		log.Warn().Err(perr).Int("attempt", attempt).Msg("unparseable detection response, asking to reformat")
		resp, err := d.caller.Call(ctx, inference.Prompt(reformatInstruction+text))
		if err != nil {
			return nil, err
		}
		text = resp.Text
		regions, dropped, perr = ParseResponse(text, page.Number(), d.opts.Padding)
	}
	if perr != nil {
		log.Error().
			Err(domain.SchemaError("detection response", perr)).
			Msg("giving up on page, no regions")
		return nil, nil
	}
	for _, err := range dropped {
		log.Warn().Err(err).Msg("dropping invalid region")
	}
	log.Debug().Int("regions", len(regions)).Msg("page analyzed")
	return regions, nil
}

func (d *InferenceDetector) pageImage(img image.Image) ([]byte, error) {
	if !d.cfg.Grid {
		return source.EncodePNG(img)
	}
	overlay := DrawGrid(img)
	defer system.PutImage(overlay)
	return source.EncodePNG(overlay)
}
