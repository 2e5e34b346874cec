// Package synth turns rasterized pages and extracted regions into the final
// document by running a mode's synthesis steps against the inference client.
package synth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/renderer"
	"github.com/ivlev/pdf2html/internal/source"
)

const defaultReformatAttempts = 1

// Options tune synthesis.
type Options struct {
	ReformatAttempts int // calls asking for a missing result tag, negative for the default
}

type Synthesizer struct {
	profile *mode.Profile
	caller  inference.Caller
	opts    Options
	log     zerolog.Logger
}

func New(profile *mode.Profile, caller inference.Caller, opts Options, log zerolog.Logger) *Synthesizer {
	if opts.ReformatAttempts < 0 {
		opts.ReformatAttempts = defaultReformatAttempts
	}
	return &Synthesizer{
		profile: profile,
		caller:  caller,
		opts:    opts,
		log:     log.With().Str("component", "synthesizer").Str("mode", profile.Name).Logger(),
	}
}

// conversation is the running message history of a step.
type conversation struct {
	req   *inference.Request
	reply string
}

func (c *conversation) next(system, text string, images []inference.Image) *inference.Request {
	if c.req == nil {
		var msgs []inference.Message
		if system != "" {
			msgs = append(msgs, inference.Message{Role: inference.RoleSystem, Text: system})
		}
		msgs = append(msgs, inference.Message{Role: inference.RoleUser, Text: text, Images: images})
		return &inference.Request{Messages: msgs}
	}
	return c.req.Follow(c.reply, text, images...)
}

// Synthesize runs every step in order and returns the rendered document.
// Every local image reference in the result names an artifact in m.
func (s *Synthesizer) Synthesize(ctx context.Context, doc *domain.Document, m *domain.Manifest) (string, error) {
	var (
		previous string
		history  conversation
		encoded  = make(pageImages)
	)

	for i, step := range s.profile.Synthesis.Steps {
		if err := ctx.Err(); err != nil {
			return "", domain.CanceledError("synthesis interrupted", err)
		}
		log := s.log.With().Str("step", step.Name).Logger()

		pages, err := selectPages(doc, step.Pages)
		if err != nil {
			return "", err
		}

		var conv conversation
		if step.Continue {
			conv = history
		}

		runs := chunk(len(pages), step.Chunk)
		parts := make([]string, 0, len(runs))
		for ri, run := range runs {
			part := pages[run[0]:run[1]]
			text, images, err := compose(step, part, m, previous, ri, len(runs), encoded)
			if err != nil {
				return "", err
			}

			req := conv.next(step.System, text, images)
			resp, err := s.caller.Call(ctx, req)
			if err != nil {
				return "", err
			}
			conv = conversation{req: req, reply: resp.Text}

			content, err := s.result(ctx, step, resp.Text)
			if err != nil {
				return "", err
			}
			parts = append(parts, content)
			log.Debug().
				Int("step_index", i+1).
				Int("part", ri+1).
				Int("parts", len(runs)).
				Int("pages", len(part)).
				Int("attempts", resp.Attempts).
				Bool("cached", resp.Cached).
				Msg("synthesis call done")
		}

		previous = strings.Join(parts, "\n")
		history = conv
	}

	if strings.TrimSpace(previous) == "" {
		return "", domain.SchemaError("synthesis produced an empty document", nil)
	}

	html, err := renderer.Render(previous, s.profile.Format(), Title(doc.Path))
	if err != nil {
		return "", domain.SchemaError("render output", err)
	}
	if err := ValidateReferences(html, m); err != nil {
		return "", err
	}
	return html, nil
}

// result extracts the step's content from a reply, asking the model to
// reformat when the result tag is missing.
func (s *Synthesizer) result(ctx context.Context, step mode.Step, reply string) (string, error) {
	if step.ResultTag == "" {
		return stripFence(reply), nil
	}
	if content, ok := extractTag(reply, step.ResultTag); ok {
		return stripFence(content), nil
	}

	for attempt := 1; attempt <= s.opts.ReformatAttempts; attempt++ {
		s.log.Warn().Str("step", step.Name).Int("attempt", attempt).Msg("result tag missing, asking to reformat")
		prompt := fmt.Sprintf("Return the following answer unchanged, enclosed in <%s></%s> and with nothing outside the tags.\n\n%s",
			step.ResultTag, step.ResultTag, reply)
		resp, err := s.caller.Call(ctx, inference.Prompt(prompt))
		if err != nil {
			return "", err
		}
		if content, ok := extractTag(resp.Text, step.ResultTag); ok {
			return stripFence(content), nil
		}
	}
	return "", domain.SchemaError(fmt.Sprintf("step %s: no <%s> in response", step.Name, step.ResultTag), nil)
}

type figure struct {
	Name  string `json:"name"`
	Page  int    `json:"page"`
	Label string `json:"label"`
	Path  string `json:"path"`
}

// compose builds the user turn for one call of a step.
func compose(step mode.Step, pages []domain.Page, m *domain.Manifest, previous string, part, parts int, encoded pageImages) (string, []inference.Image, error) {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(step.Instruction))
	b.WriteString("\n")

	if parts > 1 && len(pages) > 0 {
		fmt.Fprintf(&b, "\nPart %d of %d: pages %d to %d.\n", part+1, parts, pages[0].Number(), pages[len(pages)-1].Number())
	}

	if step.Regions {
		figures := listFigures(m, pages)
		if len(figures) == 0 {
			b.WriteString("\nExtracted figures: none. Do not include any <img> elements.\n")
		} else {
			data, err := json.MarshalIndent(figures, "", "  ")
			if err != nil {
				return "", nil, err
			}
			b.WriteString("\nExtracted figures:\n")
			b.Write(data)
			b.WriteString("\n")
		}
	}

	if step.Text {
		for _, p := range pages {
			fmt.Fprintf(&b, "\n## Page %d\n%s\n", p.Number(), strings.TrimSpace(p.Text))
		}
	}

	if step.Previous && previous != "" {
		b.WriteString("\nPrevious result:\n")
		b.WriteString(previous)
		b.WriteString("\n")
	}

	var images []inference.Image
	if step.Images {
		for _, p := range pages {
			data, err := encoded.get(p)
			if err != nil {
				return "", nil, domain.DocumentError(fmt.Sprintf("encode page %d", p.Number()), err)
			}
			images = append(images, inference.PNG(data))
		}
	}
	return b.String(), images, nil
}

// listFigures returns manifest entries on the given pages, or every entry
// when pages is empty.
func listFigures(m *domain.Manifest, pages []domain.Page) []figure {
	on := make(map[int]bool, len(pages))
	for _, p := range pages {
		on[p.Number()] = true
	}
	var out []figure
	for _, a := range m.Entries() {
		if len(pages) > 0 && !on[a.Page] {
			continue
		}
		out = append(out, figure{Name: a.Name, Page: a.Page, Label: a.Label, Path: RefPath(a)})
	}
	return out
}

// pageImages caches encoded page rasters for one document.
type pageImages map[int][]byte

func (c pageImages) get(p domain.Page) ([]byte, error) {
	if data, ok := c[p.Index]; ok {
		return data, nil
	}
	var (
		data []byte
		err  error
	)
	if p.Path != "" {
		data, err = os.ReadFile(p.Path)
	} else {
		data, err = source.EncodePNG(p.Image)
	}
	if err != nil {
		return nil, err
	}
	c[p.Index] = data
	return data, nil
}

// selectPages resolves a step's page selection against the document.
func selectPages(doc *domain.Document, group string) ([]domain.Page, error) {
	switch group {
	case "":
		return doc.Pages, nil
	case mode.PagesNone:
		return nil, nil
	}
	numbers, ok := doc.Groups[group]
	if !ok {
		return nil, domain.DocumentError(fmt.Sprintf("page group %q not defined", group), nil)
	}
	want := make(map[int]bool, len(numbers))
	for _, n := range numbers {
		want[n] = true
	}
	var out []domain.Page
	for _, p := range doc.Pages {
		if want[p.Number()] {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, domain.DocumentError(fmt.Sprintf("page group %q selects no pages", group), nil)
	}
	return out, nil
}

// Title derives a document title from its source path.
func Title(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
