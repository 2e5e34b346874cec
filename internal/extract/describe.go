package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/source"
)

// Describer asks the model for a detailed description of every extracted
// region and stores it as the region's label.
type Describer struct {
	cfg         mode.Describe
	caller      inference.Caller
	concurrency int
	log         zerolog.Logger
}

func NewDescriber(cfg mode.Describe, caller inference.Caller, concurrency int, log zerolog.Logger) *Describer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Describer{
		cfg:         cfg,
		caller:      caller,
		concurrency: concurrency,
		log:         log.With().Str("component", "describer").Logger(),
	}
}

// Describe updates the label of every artifact in m. An empty answer keeps
// the detector's label; an inference failure fails the whole pass.
func (d *Describer) Describe(ctx context.Context, pages []domain.Page, m *domain.Manifest) error {
	byNumber := make(map[int]domain.Page, len(pages))
	for _, p := range pages {
		byNumber[p.Number()] = p
	}

	entries := m.Entries()
	for _, a := range entries {
		if _, ok := byNumber[a.Page]; !ok {
			return domain.NewError(domain.KindInternal, fmt.Sprintf("region %s points at missing page %d", a.Name, a.Page), nil)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for _, a := range entries {
		page := byNumber[a.Page]
		g.Go(func() error {
			label, err := d.describeOne(gctx, page, a)
			if err != nil {
				return err
			}
			if label == "" {
				d.log.Warn().Str("region", a.Name).Msg("empty description, keeping label")
				return nil
			}
			m.SetLabel(a.Name, label)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	d.log.Debug().Int("regions", m.Len()).Msg("regions described")
	return nil
}

func (d *Describer) describeOne(ctx context.Context, page domain.Page, a *domain.RegionArtifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.CanceledError("description interrupted", err)
	}
	crop, err := os.ReadFile(a.Path)
	if err != nil {
		return "", domain.ResourceError(fmt.Sprintf("read region %s", a.Name), err)
	}

	var images []inference.Image
	if d.cfg.Context && page.Image != nil {
		full, err := source.EncodePNG(page.Image)
		if err != nil {
			return "", domain.DocumentError(fmt.Sprintf("encode page %d", page.Number()), err)
		}
		images = append(images, inference.PNG(full))
	}
	images = append(images, inference.PNG(crop))

	prompt := fmt.Sprintf("%s\nFigure %q on page %d, currently described as: %s",
		d.cfg.Instruction, a.Name, a.Page, a.Label)
	resp, err := d.caller.Call(ctx, inference.Prompt(prompt, images...))
	if err != nil {
		return "", err
	}
	return ParseDescription(resp.Text), nil
}

var (
	describeFence  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	describeResult = regexp.MustCompile(`(?s)<result>(.*?)</result>`)
)

// ParseDescription accepts plain text or {"description": "..."}, optionally
// fenced or wrapped in <result>.
func ParseDescription(text string) string {
	if m := describeResult.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if m := describeFence.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	text = strings.TrimSpace(text)

	var obj struct {
		Description *string `json:"description"`
	}
	if strings.HasPrefix(text, "{") && json.Unmarshal([]byte(text), &obj) == nil && obj.Description != nil {
		text = *obj.Description
	}
	return strings.Join(strings.Fields(text), " ")
}
