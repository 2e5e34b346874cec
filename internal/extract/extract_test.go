package extract

import (
	"context"
	"image"
	"image/color"
	_ "image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/observability"
)

func testPage(index int) domain.Page {
	img := image.NewRGBA(image.Rect(0, 0, 200, 300))
	for y := 0; y < 300; y++ {
		for x := 0; x < 200; x++ {
			img.Set(x, y, color.RGBA{uint8(x), uint8(y), uint8(index * 40), 255})
		}
	}
	return domain.Page{Index: index, Image: img}
}

func TestSlug(t *testing.T) {
	tests := map[string]string{
		"Circuit 1":           "circuit_1",
		"  Schéma électrique": "schema_electrique",
		"force--diagram!!":    "force_diagram",
		"__":                  "",
		"":                    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Slug(in), "Slug(%q)", in)
	}
	assert.Len(t, Slug("a very long name that keeps going and going well past any sensible file name"), maxNameLen)
}

func TestAssignNames(t *testing.T) {
	regions := [][]domain.RegionDescriptor{
		{{Page: 1, Name: "graph"}, {Page: 1, Name: "Graph"}, {Page: 1}},
		{{Page: 2, Name: "graph_2"}, {Page: 2}, {Page: 2}},
	}
	got := AssignNames(regions)
	assert.Equal(t, [][]string{
		{"graph", "graph_2", "region_p1"},
		{"graph_2_2", "region_p2", "region_p2_2"},
	}, got)
	assert.Equal(t, got, AssignNames(regions))
}

func regionsFixture() [][]domain.RegionDescriptor {
	return [][]domain.RegionDescriptor{
		{
			{Page: 1, Box: domain.BBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.4}, Label: "circuit", Name: "circuit"},
			{Page: 1, Box: domain.BBox{X1: 0.5, Y1: 0.5, X2: 0.9, Y2: 0.9}, Label: "graph"},
		},
		nil,
		{
			{Page: 3, Box: domain.BBox{X1: 0, Y1: 0, X2: 1, Y2: 1}, Label: "whole page", Name: "circuit"},
		},
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	pages := []domain.Page{testPage(0), testPage(1), testPage(2)}
	ex := New(Settings{Workers: 3}, observability.Nop())

	dirA, dirB := t.TempDir(), t.TempDir()
	a, err := ex.Extract(context.Background(), pages, regionsFixture(), dirA)
	require.NoError(t, err)
	b, err := ex.Extract(context.Background(), pages, regionsFixture(), dirB)
	require.NoError(t, err)

	assert.Equal(t, []string{"circuit", "region_p1", "circuit_2"}, a.Names())
	assert.Equal(t, a.Names(), b.Names())
	assert.Equal(t, a.Records(), b.Records())

	for _, name := range a.Names() {
		da, err := os.ReadFile(filepath.Join(dirA, name+".png"))
		require.NoError(t, err)
		db, err := os.ReadFile(filepath.Join(dirB, name+".png"))
		require.NoError(t, err)
		assert.Equal(t, da, db, "artifact %s differs between runs", name)
	}
}

func TestExtractCropsPixelRect(t *testing.T) {
	pages := []domain.Page{testPage(0), testPage(1), testPage(2)}
	m, err := New(Settings{}, observability.Nop()).Extract(context.Background(), pages, regionsFixture(), t.TempDir())
	require.NoError(t, err)

	circuit, ok := m.Get("circuit")
	require.True(t, ok)
	assert.Equal(t, image.Rect(20, 30, 100, 120), circuit.Rect)
	assert.Equal(t, "circuit", circuit.Label)

	f, err := os.Open(circuit.Path)
	require.NoError(t, err)
	defer f.Close()
	img, _, err := image.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 80, 90), img.Bounds())

	r, g, _, _ := img.At(0, 0).RGBA()
	assert.Equal(t, uint32(20), r>>8)
	assert.Equal(t, uint32(30), g>>8)
}

func TestCropDownscales(t *testing.T) {
	page := testPage(0)
	out := Crop(page.Image, image.Rect(0, 0, 200, 100), 50)
	assert.Equal(t, image.Rect(0, 0, 50, 25), out.Bounds())

	native := Crop(page.Image, image.Rect(10, 10, 40, 30), 50)
	assert.Equal(t, image.Rect(0, 0, 30, 20), native.Bounds())
}

func TestExtractWriteFailure(t *testing.T) {
	pages := []domain.Page{testPage(0), testPage(1), testPage(2)}
	missing := filepath.Join(t.TempDir(), "gone")

	_, err := New(Settings{}, observability.Nop()).Extract(context.Background(), pages, regionsFixture(), missing)
	assert.True(t, domain.IsKind(err, domain.KindResource), "got %v", err)
}

func TestExtractMismatchedInput(t *testing.T) {
	_, err := New(Settings{}, observability.Nop()).Extract(context.Background(), []domain.Page{testPage(0)}, nil, t.TempDir())
	assert.Error(t, err)
}
