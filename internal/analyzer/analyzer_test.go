package analyzer

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/observability"
	"github.com/ivlev/pdf2html/internal/system"
)

type fakeCaller struct {
	mu    sync.Mutex
	reply func(req *inference.Request) (string, error)
	reqs  []*inference.Request
}

func (f *fakeCaller) Call(_ context.Context, req *inference.Request) (*inference.Response, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	text, err := f.reply(req)
	if err != nil {
		return nil, err
	}
	return &inference.Response{Text: text, Attempts: 1}, nil
}

func replying(text string) *fakeCaller {
	return &fakeCaller{reply: func(*inference.Request) (string, error) { return text, nil }}
}

func blankPage(index int) domain.Page {
	img := image.NewRGBA(image.Rect(0, 0, 100, 140))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return domain.Page{Index: index, Image: img}
}

var detection = mode.Detection{Strategy: mode.StrategyInference, Instruction: "find diagrams"}

func newDetector(c inference.Caller, opts Options) *InferenceDetector {
	return NewInferenceDetector(detection, c, opts, observability.Nop())
}

func TestDetectPadsBoxes(t *testing.T) {
	c := replying(`{"regions":[{"bbox":[0.20,0.30,0.60,0.70],"label":"circuit","name":"circuit_1"}]}`)
	d := newDetector(c, Options{Padding: DefaultPadding})

	got, err := d.Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Len(t, got[0], 1)

	r := got[0][0]
	assert.Equal(t, 1, r.Page)
	assert.Equal(t, "circuit", r.Label)
	assert.Equal(t, "circuit_1", r.Name)
	assert.InDelta(t, 0.15, r.Box.X1, 1e-9)
	assert.InDelta(t, 0.25, r.Box.Y1, 1e-9)
	assert.InDelta(t, 0.65, r.Box.X2, 1e-9)
	assert.InDelta(t, 0.75, r.Box.Y2, 1e-9)
}

func TestDetectClampsAndDropsInvalid(t *testing.T) {
	c := replying(`[
		{"bbox":[0.0,0.98,0.5,1.0],"label":"edge"},
		{"bbox":[0.6,0.2,0.4,0.5],"label":"inverted"},
		{"bbox":[0.1,0.2,1.3,0.5],"label":"outside"},
		{"bbox":["0.1",0.2,0.3,0.5],"label":"string"},
		{"bbox":[0.1,0.2,0.3],"label":"short"}
	]`)
	d := newDetector(c, Options{Padding: DefaultPadding})

	got, err := d.Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)
	require.Len(t, got[0], 1)

	box := got[0][0].Box
	assert.Equal(t, "edge", got[0][0].Label)
	assert.InDelta(t, 0.0, box.X1, 1e-9)
	assert.InDelta(t, 0.93, box.Y1, 1e-9)
	assert.InDelta(t, 0.55, box.X2, 1e-9)
	assert.InDelta(t, 1.0, box.Y2, 1e-9)
	assert.True(t, box.Valid())
}

func TestDetectKeepsPageOrder(t *testing.T) {
	c := &fakeCaller{reply: func(req *inference.Request) (string, error) {
		var n int
		text := req.Messages[0].Text
		fmt.Sscanf(text[strings.LastIndex(text, "page ")+5:], "%d", &n)
		x := float64(n) / 10
		return fmt.Sprintf(`{"regions":[{"bbox":[%.1f,0.1,%.1f,0.2],"label":"p%d"}]}`, x, x+0.05, n), nil
	}}
	d := newDetector(c, Options{Concurrency: 3})

	pages := []domain.Page{blankPage(0), blankPage(1), blankPage(2), blankPage(3), blankPage(4)}
	got, err := d.Detect(context.Background(), pages)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, regions := range got {
		require.Len(t, regions, 1)
		assert.Equal(t, i+1, regions[0].Page)
		assert.Equal(t, fmt.Sprintf("p%d", i+1), regions[0].Label)
	}
}

func TestDetectReformatsUnparseableResponse(t *testing.T) {
	var n int
	c := &fakeCaller{reply: func(*inference.Request) (string, error) {
		n++
		if n == 1 {
			return "There is one diagram in the upper half.", nil
		}
		return "```json\n{\"regions\":[{\"bbox\":[0.1,0.1,0.5,0.4],\"label\":\"graph\"}]}\n```", nil
	}}
	d := newDetector(c, Options{ReformatAttempts: 2, Concurrency: 1})

	got, err := d.Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)
	require.Len(t, got[0], 1)
	require.Len(t, c.reqs, 2)
	assert.Len(t, c.reqs[0].Messages[0].Images, 1)
	assert.Empty(t, c.reqs[1].Messages[0].Images, "reformat call is text-only")
	assert.Contains(t, c.reqs[1].Messages[0].Text, "upper half")
}

func TestDetectGivesUpAfterReformatAttempts(t *testing.T) {
	c := replying("no idea")
	d := newDetector(c, Options{ReformatAttempts: 2})

	got, err := d.Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)
	assert.Empty(t, got[0])
	assert.Len(t, c.reqs, 3)
}

func TestDetectInferenceFailureFailsDocument(t *testing.T) {
	c := &fakeCaller{reply: func(*inference.Request) (string, error) {
		return "", domain.FatalInferenceError("attempt 1 rejected", &inference.StatusError{Code: 401})
	}}
	d := newDetector(c, Options{})

	got, err := d.Detect(context.Background(), []domain.Page{blankPage(0), blankPage(1)})
	assert.Nil(t, got)
	assert.True(t, domain.IsKind(err, domain.KindFatalInference))
}

func TestParseRegions(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    int
		wantErr bool
	}{
		{"object", `{"regions":[{"bbox":[0,0,1,1]}]}`, 1, false},
		{"empty", `{"regions":[]}`, 0, false},
		{"array", `[{"bbox":[0,0,1,1]},{"bbox":[0,0,0.5,0.5]}]`, 2, false},
		{"fenced", "```json\n{\"regions\":[{\"bbox\":[0,0,1,1]}]}\n```", 1, false},
		{"result tag", `<result>{"regions":[{"bbox":[0,0,1,1]}]}</result>`, 1, false},
		{"prose", `Sure! {"regions":[{"bbox":[0,0,1,1]}]} Hope this helps.`, 1, false},
		{"missing field", `{"boxes":[]}`, 0, true},
		{"not json", `one diagram`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRegions(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDrawGrid(t *testing.T) {
	page := blankPage(0)
	overlay := DrawGrid(page.Image)
	defer system.PutImage(overlay)

	assert.Equal(t, page.Image.Bounds(), overlay.Bounds())

	// Source untouched, overlay has a line at x = 0.5.
	src := page.Image.(*image.RGBA)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, src.RGBAAt(50, 100))
	assert.NotEqual(t, color.RGBA{255, 255, 255, 255}, overlay.RGBAAt(50, 100))
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, overlay.RGBAAt(55, 105))
}

func TestGridIsSentWhenEnabled(t *testing.T) {
	c := replying(`{"regions":[]}`)
	cfg := detection
	cfg.Grid = true
	d := NewInferenceDetector(cfg, c, Options{}, observability.Nop())

	_, err := d.Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)

	plain := replying(`{"regions":[]}`)
	_, err = newDetector(plain, Options{}).Detect(context.Background(), []domain.Page{blankPage(0)})
	require.NoError(t, err)

	assert.NotEqual(t, plain.reqs[0].Messages[0].Images[0].Data, c.reqs[0].Messages[0].Images[0].Data)
}

func TestDetectorRegistry(t *testing.T) {
	tests := []struct {
		strategy string
		caller   inference.Caller
		wantErr  bool
	}{
		{mode.StrategyInference, replying(""), false},
		{mode.StrategyNone, nil, false},
		{mode.StrategyEmbedded, nil, false},
		{"", nil, false},
		{mode.StrategyInference, nil, true},
		{"contrast", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			det, err := NewDetector(mode.Detection{Strategy: tt.strategy, Instruction: "x"}, tt.caller, Options{}, observability.Nop())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, det)
		})
	}
}

func TestNoneDetector(t *testing.T) {
	got, err := NoneDetector{}.Detect(context.Background(), []domain.Page{blankPage(0), blankPage(1)})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Empty(t, got[0])
}

func TestEmbeddedDetector(t *testing.T) {
	first, second := blankPage(0), blankPage(3)
	first.Embedded = []domain.BBox{{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.4}, {X1: 0.6, Y1: 0.5, X2: 0.6, Y2: 0.9}}
	second.Embedded = []domain.BBox{{X1: 0, Y1: 0.5, X2: 1, Y2: 1}}

	got, err := NewEmbeddedDetector(observability.Nop()).Detect(context.Background(), []domain.Page{first, blankPage(1), second})
	require.NoError(t, err)
	require.Len(t, got, 3)

	require.Len(t, got[0], 1)
	assert.Equal(t, domain.RegionDescriptor{
		Page:  1,
		Box:   domain.BBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.4},
		Label: EmbeddedLabel,
		Name:  "page_1_img_1",
	}, got[0][0])
	assert.Empty(t, got[1])
	require.Len(t, got[2], 1)
	assert.Equal(t, "page_4_img_1", got[2][0].Name)
	assert.Equal(t, 4, got[2][0].Page)
}
