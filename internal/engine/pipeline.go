// Package engine runs one document through rasterization, detection,
// extraction and synthesis, and publishes the result.
package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ivlev/pdf2html/internal/analyzer"
	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/extract"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/source"
	"github.com/ivlev/pdf2html/internal/synth"
)

// Config is fixed for the lifetime of a Pipeline.
type Config struct {
	Raster    source.Settings
	Detection analyzer.Options
	Extract   extract.Settings
	Synthesis synth.Options
	OutputDir string // empty publishes next to each source
	TempDir   string // parent of per-document workspaces, empty for the OS default
	KeepTemp  bool
}

// Job is one document to convert.
type Job struct {
	Path   string
	Name   string // output name, empty for the source's base name
	Range  source.PageRange
	Groups map[string]source.PageRange
}

// Stem is the name the job publishes under: <stem>.html and images/<stem>/.
func (j Job) Stem() string {
	if j.Name != "" {
		return j.Name
	}
	return synth.Title(j.Path)
}

// Observer is told about every state transition.
type Observer func(path string, from, to domain.State)

// Timings records how long each stage took.
type Timings struct {
	Rasterize  time.Duration
	Detect     time.Duration
	Extract    time.Duration
	Describe   time.Duration
	Synthesize time.Duration
	Publish    time.Duration
}

// Pipeline converts documents one at a time per Run call. A Pipeline may
// be shared by concurrent Run calls; every run gets its own workspace.
type Pipeline struct {
	cfg       Config
	profile   *mode.Profile
	detector  analyzer.Detector
	extractor *extract.Extractor
	describer *extract.Describer // nil unless the profile describes regions
	synth     *synth.Synthesizer
	open      func(string) (source.Source, error)
	observer  Observer
	log       zerolog.Logger

	mu      sync.Mutex
	writing map[string]string // output target -> source path of the run holding it
}

func New(cfg Config, profile *mode.Profile, caller inference.Caller, log zerolog.Logger) (*Pipeline, error) {
	det, err := analyzer.NewDetector(profile.Detection, caller, cfg.Detection, log)
	if err != nil {
		return nil, err
	}
	var describer *extract.Describer
	if profile.DescribeEnabled() {
		if caller == nil {
			return nil, fmt.Errorf("mode %s: describing regions needs an inference client", profile.Name)
		}
		describer = extract.NewDescriber(profile.Describe, caller, cfg.Detection.Concurrency, log)
	}
	cfg.Raster.Embedded = profile.Detection.Strategy == mode.StrategyEmbedded

	return &Pipeline{
		cfg:       cfg,
		profile:   profile,
		detector:  det,
		extractor: extract.New(cfg.Extract, log),
		describer: describer,
		synth:     synth.New(profile, caller, cfg.Synthesis, log),
		open:      source.Open,
		log:       log.With().Str("component", "pipeline").Logger(),
		writing:   make(map[string]string),
	}, nil
}

// claim reserves an output target for one run. Two concurrent runs
// publishing to the same place would replace each other's files.
func (p *Pipeline) claim(target, path string) (release func(), err error) {
	if abs, aerr := filepath.Abs(target); aerr == nil {
		target = abs
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if holder, busy := p.writing[target]; busy {
		return nil, domain.ResourceError(fmt.Sprintf("output %s.html is already being written for %s", target, holder), nil)
	}
	p.writing[target] = path
	return func() {
		p.mu.Lock()
		delete(p.writing, target)
		p.mu.Unlock()
	}, nil
}

// SetObserver installs a state transition callback. Call before Run.
func (p *Pipeline) SetObserver(o Observer) {
	p.observer = o
}

type run struct {
	p       *Pipeline
	job     Job
	doc     *domain.Document
	log     zerolog.Logger
	timings Timings
}

func (r *run) transition(to domain.State) {
	from := r.doc.State
	r.doc.State = to
	r.log.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state")
	if r.p.observer != nil {
		r.p.observer(r.doc.Path, from, to)
	}
}

// Run converts one document. It never returns an error: failures are
// recorded in the result, and only a Done result has published output.
func (p *Pipeline) Run(ctx context.Context, job Job) (res domain.PipelineResult) {
	start := time.Now()
	r := &run{
		p:   p,
		job: job,
		doc: domain.NewDocument(job.Path),
		log: p.log.With().Str("doc", job.Path).Logger(),
	}
	res = domain.PipelineResult{Path: job.Path, State: domain.StatePending}

	defer func() {
		if v := recover(); v != nil {
			r.log.Error().Str("stack", string(debug.Stack())).Msgf("panic: %v", v)
			res.Err = domain.NewError(domain.KindInternal, fmt.Sprintf("panic: %v", v), nil)
			res.Output = ""
		}
		if res.Err != nil {
			if r.doc.State != domain.StateFailed {
				r.transition(domain.StateFailed)
			}
			r.log.Error().Err(res.Err).Str("kind", string(domain.KindOf(res.Err))).Msg("document failed")
		}
		res.State = r.doc.State
		res.Pages = len(r.doc.Pages)
		res.Duration = time.Since(start)
	}()

	output, regions, err := r.execute(ctx)
	if err != nil {
		res.Err = err
		return res
	}
	res.Output = output
	res.Regions = regions

	r.log.Info().
		Str("output", output).
		Int("pages", len(r.doc.Pages)).
		Int("regions", regions).
		Dur("rasterize", r.timings.Rasterize).
		Dur("detect", r.timings.Detect).
		Dur("extract", r.timings.Extract).
		Dur("describe", r.timings.Describe).
		Dur("synthesize", r.timings.Synthesize).
		Dur("publish", r.timings.Publish).
		Dur("total", time.Since(start)).
		Msg("document done")
	return res
}

func (r *run) execute(ctx context.Context) (string, int, error) {
	p := r.p
	for _, g := range p.profile.Groups {
		if _, ok := r.job.Groups[g]; !ok {
			return "", 0, domain.DocumentError(fmt.Sprintf("mode %s needs page group %q", p.profile.Name, g), nil)
		}
	}
	if err := ctx.Err(); err != nil {
		return "", 0, domain.CanceledError("not started", err)
	}

	outDir := p.cfg.OutputDir
	if outDir == "" {
		outDir = filepath.Dir(r.doc.Path)
	}
	stem := r.job.Stem()
	release, err := p.claim(filepath.Join(outDir, stem), r.doc.Path)
	if err != nil {
		return "", 0, err
	}
	defer release()

	ws, err := newWorkspace(p.cfg.TempDir, p.cfg.KeepTemp)
	if err != nil {
		return "", 0, domain.ResourceError("create workspace", err)
	}
	defer func() {
		if err := ws.release(); err != nil {
			r.log.Warn().Err(err).Str("workspace", ws.root).Msg("workspace cleanup failed")
		}
	}()
	if p.cfg.KeepTemp {
		r.log.Info().Str("workspace", ws.root).Msg("keeping workspace")
	}

	// Rasterize
	t := time.Now()
	if err := r.rasterize(ctx, ws); err != nil {
		return "", 0, err
	}
	r.timings.Rasterize = time.Since(t)
	r.transition(domain.StateRasterized)

	// Detect
	if err := ctx.Err(); err != nil {
		return "", 0, domain.CanceledError("interrupted after rasterization", err)
	}
	t = time.Now()
	regions, err := r.detect(ctx)
	if err != nil {
		return "", 0, err
	}
	r.timings.Detect = time.Since(t)
	r.transition(domain.StateDetected)

	// Extract
	if err := ctx.Err(); err != nil {
		return "", 0, domain.CanceledError("interrupted after detection", err)
	}
	t = time.Now()
	manifest, err := p.extractor.Extract(ctx, r.doc.Pages, regions, ws.regions)
	if err != nil {
		return "", 0, err
	}
	r.timings.Extract = time.Since(t)

	if p.describer != nil && manifest.Len() > 0 {
		t = time.Now()
		if err := p.describer.Describe(ctx, r.doc.Pages, manifest); err != nil {
			return "", 0, err
		}
		r.timings.Describe = time.Since(t)
	}
	r.transition(domain.StateExtracted)

	// Synthesize
	if err := ctx.Err(); err != nil {
		return "", 0, domain.CanceledError("interrupted after extraction", err)
	}
	t = time.Now()
	html, err := p.synth.Synthesize(ctx, r.doc, manifest)
	if err != nil {
		return "", 0, err
	}
	r.timings.Synthesize = time.Since(t)
	r.transition(domain.StateSynthesized)

	// Publish
	if err := ctx.Err(); err != nil {
		return "", 0, domain.CanceledError("interrupted before publishing", err)
	}
	t = time.Now()
	output, err := publish(ws, outDir, stem, manifest, html)
	if err != nil {
		return "", 0, err
	}
	r.timings.Publish = time.Since(t)
	r.doc.Output = output
	r.transition(domain.StateDone)
	return output, manifest.Len(), nil
}

func (r *run) rasterize(ctx context.Context, ws *workspace) error {
	src, err := r.p.open(r.doc.Path)
	if err != nil {
		return domain.DocumentError("open source", err)
	}
	defer src.Close()

	indexes, err := r.job.Range.Indexes(src.PageCount())
	if err != nil {
		return domain.DocumentError("page range", err)
	}
	pages, err := source.Rasterize(ctx, src, indexes, r.p.cfg.Raster, ws.pages)
	if err != nil {
		return err
	}
	r.doc.Pages = pages

	if len(r.job.Groups) > 0 {
		r.doc.Groups = make(map[string][]int, len(r.job.Groups))
		for name, rng := range r.job.Groups {
			var numbers []int
			for _, pg := range pages {
				if rng.Contains(pg.Number()) {
					numbers = append(numbers, pg.Number())
				}
			}
			sort.Ints(numbers)
			r.doc.Groups[name] = numbers
		}
	}
	r.log.Debug().Int("pages", len(pages)).Msg("rasterized")
	return nil
}

// detect runs the detector on the profile's detection pages and returns one
// region list per document page.
func (r *run) detect(ctx context.Context) ([][]domain.RegionDescriptor, error) {
	pages := r.doc.Pages
	slots := make([]int, len(pages))
	for i := range slots {
		slots[i] = i
	}

	if group := r.p.profile.Detection.Pages; group != "" {
		want := make(map[int]bool)
		if group != mode.PagesNone {
			for _, n := range r.doc.Groups[group] {
				want[n] = true
			}
		}
		pages, slots = nil, nil
		for i, pg := range r.doc.Pages {
			if want[pg.Number()] {
				pages = append(pages, pg)
				slots = append(slots, i)
			}
		}
	}

	out := make([][]domain.RegionDescriptor, len(r.doc.Pages))
	if len(pages) == 0 {
		return out, nil
	}
	found, err := r.p.detector.Detect(ctx, pages)
	if err != nil {
		return nil, err
	}
	total := 0
	for i, regions := range found {
		out[slots[i]] = regions
		total += len(regions)
	}
	r.log.Debug().Int("pages", len(pages)).Int("regions", total).Msg("detected")
	return out, nil
}
