package batch

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pdf2html/internal/analyzer"
	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/engine"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/observability"
	"github.com/ivlev/pdf2html/internal/source"
)

// slowModel finds no diagrams, rejects detection of page 3 and answers
// synthesis with a plain document. Every call takes a few milliseconds so
// documents overlap.
type slowModel struct{}

func (slowModel) Call(ctx context.Context, req *inference.Request) (*inference.Response, error) {
	select {
	case <-time.After(5 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	text := req.Messages[len(req.Messages)-1].Text
	if i := strings.LastIndex(text, "This is page "); i >= 0 {
		var page int
		fmt.Sscanf(text[i+len("This is page "):], "%d", &page)
		if page == 3 {
			return nil, domain.FatalInferenceError("attempt 1 rejected", fmt.Errorf("status 400"))
		}
		return &inference.Response{Text: `{"regions":[]}`, Attempts: 1}, nil
	}
	return &inference.Response{Text: "<result><h1>Notes</h1><p>transcribed</p></result>", Attempts: 1}, nil
}

// scanJobs writes one scan directory per page count into root.
func scanJobs(t *testing.T, root string, pageCounts ...int) []engine.Job {
	t.Helper()
	var out []engine.Job
	for d, n := range pageCounts {
		dir := filepath.Join(root, fmt.Sprintf("doc%d", d+1))
		require.NoError(t, os.Mkdir(dir, 0755))
		for p := 0; p < n; p++ {
			img := image.NewGray(image.Rect(0, 0, 60, 80))
			for i := range img.Pix {
				img.Pix[i] = 245
			}
			require.NoError(t, source.WritePNG(filepath.Join(dir, fmt.Sprintf("%02d.png", p)), img))
		}
		out = append(out, engine.Job{Path: dir})
	}
	return out
}

func visionPipeline(t *testing.T, out, temp string) *engine.Pipeline {
	t.Helper()
	set, err := mode.Defaults()
	require.NoError(t, err)
	profile, err := set.Lookup("vision")
	require.NoError(t, err)

	p, err := engine.New(engine.Config{
		Raster:    source.Settings{DPI: 72, Workers: 2},
		Detection: analyzer.Options{Padding: analyzer.DefaultPadding, Concurrency: 3},
		OutputDir: out,
		TempDir:   temp,
	}, profile, slowModel{}, observability.Nop())
	require.NoError(t, err)
	return p
}

func TestRunPipelineIsolatesFailures(t *testing.T) {
	out, temp := t.TempDir(), t.TempDir()
	p := visionPipeline(t, out, temp)

	report := New(p, 2, observability.Nop()).Run(context.Background(), scanJobs(t, t.TempDir(), 1, 3, 1))
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)

	assert.Equal(t, domain.StateDone, report.Results[0].State)
	assert.Equal(t, domain.StateFailed, report.Results[1].State)
	assert.Equal(t, domain.KindFatalInference, report.Results[1].ErrorKind())
	assert.Equal(t, domain.StateDone, report.Results[2].State)

	assert.FileExists(t, filepath.Join(out, "doc1.html"))
	assert.FileExists(t, filepath.Join(out, "doc3.html"))
	assert.NoFileExists(t, filepath.Join(out, "doc2.html"))
	assert.NoDirExists(t, filepath.Join(out, "images", "doc2"))

	leftover, err := os.ReadDir(temp)
	require.NoError(t, err)
	assert.Empty(t, leftover, "workspaces are removed")
}

func TestRunPipelineBoundsDocumentsInFlight(t *testing.T) {
	p := visionPipeline(t, t.TempDir(), t.TempDir())

	var (
		mu             sync.Mutex
		inFlight, peak int
	)
	p.SetObserver(func(_ string, from, to domain.State) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case to == domain.StateRasterized:
			inFlight++
			peak = max(peak, inFlight)
		case to == domain.StateSynthesized:
			inFlight--
		case to == domain.StateFailed && from != domain.StatePending:
			inFlight--
		}
	})

	report := New(p, 2, observability.Nop()).Run(context.Background(), scanJobs(t, t.TempDir(), 1, 1, 1, 1, 1))
	assert.Equal(t, 5, report.Succeeded)
	assert.LessOrEqual(t, peak, 2)
	assert.Equal(t, 2, peak, "both workers used")
	assert.Zero(t, inFlight)
}
