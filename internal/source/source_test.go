package source

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ivlev/pdf2html/internal/domain"
)

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		in      string
		want    PageRange
		wantErr bool
	}{
		{"", PageRange{}, false},
		{"3", PageRange{3, 3}, false},
		{"2-5", PageRange{2, 5}, false},
		{"4-end", PageRange{4, 0}, false},
		{" 1 - END ", PageRange{1, 0}, false},
		{"0", PageRange{}, true},
		{"5-2", PageRange{}, true},
		{"a-3", PageRange{}, true},
		{"2-x", PageRange{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePageRange(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParsePageRange(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPageRangeIndexes(t *testing.T) {
	tests := []struct {
		r       PageRange
		count   int
		want    []int
		wantErr bool
	}{
		{PageRange{}, 3, []int{0, 1, 2}, false},
		{PageRange{2, 0}, 4, []int{1, 2, 3}, false},
		{PageRange{2, 3}, 4, []int{1, 2}, false},
		{PageRange{3, 10}, 4, []int{2, 3}, false},
		{PageRange{5, 0}, 4, nil, true},
		{PageRange{}, 0, nil, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.r, tt.count), func(t *testing.T) {
			got, err := tt.r.Indexes(tt.count)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPageRangeContains(t *testing.T) {
	r := PageRange{Start: 5}
	if r.Contains(4) || !r.Contains(5) || !r.Contains(99) {
		t.Errorf("open range %s misbehaves", r)
	}
	if !(PageRange{}).Contains(1) {
		t.Error("zero range should contain every page")
	}
}

// writeScans creates n synthetic page scans with a dark block whose
// position depends on the page.
func writeScans(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		img := image.NewGray(image.Rect(0, 0, 120, 160))
		for y := 0; y < 160; y++ {
			for x := 0; x < 120; x++ {
				img.SetGray(x, y, color.Gray{Y: 240})
			}
		}
		for y := 20 + i*10; y < 60+i*10; y++ {
			for x := 10; x < 90; x++ {
				img.SetGray(x, y, color.Gray{Y: 30})
			}
		}
		if err := WritePNG(filepath.Join(dir, fmt.Sprintf("scan_%02d.png", i)), img); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestRasterizeImageSourceDeterministic(t *testing.T) {
	scans := writeScans(t, 3)
	src, err := Open(scans)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	if src.PageCount() != 3 {
		t.Fatalf("expected 3 pages, got %d", src.PageCount())
	}

	run := func() []domain.Page {
		out := t.TempDir()
		pages, err := Rasterize(context.Background(), src, []int{0, 1, 2}, Settings{DPI: 150, Workers: 3}, out)
		if err != nil {
			t.Fatalf("Rasterize failed: %v", err)
		}
		return pages
	}

	first, second := run(), run()
	for i := range first {
		if first[i].Index != i {
			t.Errorf("page %d has index %d", i, first[i].Index)
		}
		if filepath.Base(first[i].Path) != PageFile(i) {
			t.Errorf("unexpected raster name %s", first[i].Path)
		}
		a, _ := os.ReadFile(first[i].Path)
		b, _ := os.ReadFile(second[i].Path)
		if len(a) == 0 || !bytes.Equal(a, b) {
			t.Errorf("page %d rasters differ between runs", i)
		}
	}
}

func TestRasterizeAllOrNothing(t *testing.T) {
	scans := writeScans(t, 2)
	if err := os.WriteFile(filepath.Join(scans, "scan_99.png"), []byte("not a png"), 0644); err != nil {
		t.Fatal(err)
	}

	src, err := NewImageSource(scans)
	if err != nil {
		t.Fatal(err)
	}

	pages, err := Rasterize(context.Background(), src, []int{0, 1, 2}, Settings{Workers: 2}, t.TempDir())
	if err == nil {
		t.Fatal("expected failure for corrupt page")
	}
	if pages != nil {
		t.Errorf("expected no pages on failure, got %d", len(pages))
	}
	if !domain.IsKind(err, domain.KindDocument) {
		t.Errorf("expected DocumentError, got %v", err)
	}
}

func TestRasterizeCanceled(t *testing.T) {
	src, _ := NewImageSource(writeScans(t, 2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Rasterize(ctx, src, []int{0, 1}, Settings{Workers: 1}, t.TempDir())
	if !domain.IsKind(err, domain.KindCanceled) {
		t.Errorf("expected CanceledError, got %v", err)
	}
}

func TestOpenRejectsUnknownFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	os.WriteFile(path, []byte("hello"), 0644)

	if _, err := Open(path); err == nil {
		t.Error("expected error for text file")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "missing.pdf")); err == nil {
		t.Error("expected error for missing file")
	}
}

// minimalPDF builds a two-page PDF; MuPDF rebuilds the missing xref table.
func minimalPDF(t *testing.T) string {
	t.Helper()
	content := "BT /F1 18 Tf 20 40 Td (Hello page) Tj ET"
	var b strings.Builder
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj << /Type /Catalog /Pages 2 0 R >> endobj\n")
	b.WriteString("2 0 obj << /Type /Pages /Kids [3 0 R 4 0 R] /Count 2 >> endobj\n")
	b.WriteString("3 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] /Contents 5 0 R /Resources << /Font << /F1 6 0 R >> >> >> endobj\n")
	b.WriteString("4 0 obj << /Type /Page /Parent 2 0 R /MediaBox [0 0 200 100] >> endobj\n")
	fmt.Fprintf(&b, "5 0 obj << /Length %d >> stream\n%s\nendstream endobj\n", len(content), content)
	b.WriteString("6 0 obj << /Type /Font /Subtype /Type1 /BaseFont /Helvetica >> endobj\n")
	b.WriteString("trailer << /Root 1 0 R >>\n%%EOF\n")

	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFitzPDFSource(t *testing.T) {
	src, err := Open(minimalPDF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	if src.PageCount() != 2 {
		t.Fatalf("expected 2 pages, got %d", src.PageCount())
	}

	pages, err := Rasterize(context.Background(), src, []int{0, 1}, Settings{DPI: 72, Workers: 2}, t.TempDir())
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	b := pages[0].Image.Bounds()
	if b.Dx() != 200 || b.Dy() != 100 {
		t.Errorf("unexpected raster size %v", b)
	}
	if !strings.Contains(pages[0].Text, "Hello") {
		t.Errorf("expected text layer, got %q", pages[0].Text)
	}
	t.Logf("page text: %q", pages[0].Text)
}

func TestFitDPI(t *testing.T) {
	tests := []struct {
		name        string
		w, h        float64
		dpi, budget int
		want        int
	}{
		{"no budget", 612, 792, 300, 0, 300},
		{"within budget", 612, 792, 150, 36_000_000, 150},
		{"letter at 300 over 4MP", 612, 792, 300, 4_000_000, 206},
		{"poster", 2384, 3370, 300, 36_000_000, 152},
		{"tiny budget", 612, 792, 300, 1, 1},
		{"unknown size", 0, 0, 200, 1000, 200},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := fitDPI(tt.w, tt.h, tt.dpi, tt.budget)
			if got != tt.want {
				t.Errorf("fitDPI(%v, %v, %d, %d) = %d, want %d", tt.w, tt.h, tt.dpi, tt.budget, got, tt.want)
			}
			if tt.budget > 1 && tt.w > 0 {
				scale := float64(got) / 72
				if px := tt.w * scale * tt.h * scale; px > float64(tt.budget) {
					t.Errorf("%d dpi renders %.0f pixels, over %d", got, px, tt.budget)
				}
			}
		})
	}
}

func TestFitzPDFSourcePixelBudget(t *testing.T) {
	src, err := Open(minimalPDF(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer src.Close()

	w, h, err := src.GetPageDimensions(0)
	if err != nil || w != 200 || h != 100 {
		t.Fatalf("GetPageDimensions = %v x %v, %v", w, h, err)
	}

	pages, err := Rasterize(context.Background(), src, []int{0}, Settings{DPI: 144, MaxPixels: 5000, Workers: 1}, t.TempDir())
	if err != nil {
		t.Fatalf("Rasterize failed: %v", err)
	}
	b := pages[0].Image.Bounds()
	if b.Dx()*b.Dy() > 5000 {
		t.Errorf("raster %v exceeds the pixel budget", b)
	}
	if b.Dx() != 100 || b.Dy() != 50 {
		t.Errorf("expected a 36 dpi raster, got %v", b)
	}
}

func TestFitzPDFSourceWithoutImages(t *testing.T) {
	src, err := NewFitzPDFSource(minimalPDF(t))
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	placed, err := src.EmbeddedImages(0)
	if err != nil {
		t.Fatalf("EmbeddedImages failed: %v", err)
	}
	if len(placed) != 0 {
		t.Errorf("text-only page reported images: %+v", placed)
	}
}

func TestParsePlacements(t *testing.T) {
	html := `<html><body>
<div id="page0" style="width:200pt;height:100pt">
<p style="top:10pt;left:5pt"><span>caption</span></p>
<img style="position:absolute;top:20.5pt;left:10pt;width:80pt;height:40pt" src="data:image/png;base64,AA==">
<img style="position:absolute;transform:matrix(2,0,0,2,60,45)" width="100" height="50" src="data:image/png;base64,AA==">
<img style="position:absolute" src="data:image/png;base64,AA==">
</div></body></html>`

	placed, err := ParsePlacements(html)
	if err != nil {
		t.Fatal(err)
	}
	want := []Placement{
		{X: 10, Y: 20.5, W: 80, H: 40},
		{X: 10, Y: 20, W: 200, H: 100},
	}
	if len(placed) != len(want) {
		t.Fatalf("got %+v, want %+v", placed, want)
	}
	for i := range want {
		if placed[i] != want[i] {
			t.Errorf("image %d: got %+v, want %+v", i, placed[i], want[i])
		}
	}
}

func TestNormalize(t *testing.T) {
	placed := []Placement{
		{X: 20, Y: 10, W: 100, H: 40},
		{X: 150, Y: 80, W: 100, H: 40}, // runs off the corner
		{X: 300, Y: 10, W: 20, H: 20},   // off the page
	}
	boxes := Normalize(placed, 200, 100)
	if len(boxes) != 2 {
		t.Fatalf("expected 2 boxes, got %v", boxes)
	}
	if boxes[0] != (domain.BBox{X1: 0.1, Y1: 0.1, X2: 0.6, Y2: 0.5}) {
		t.Errorf("unexpected box %v", boxes[0])
	}
	if boxes[1] != (domain.BBox{X1: 0.75, Y1: 0.8, X2: 1, Y2: 1}) {
		t.Errorf("clipped box %v", boxes[1])
	}
	if Normalize(placed, 0, 100) != nil {
		t.Error("expected nothing for a page without size")
	}
}

// placedSource reports fixed image placements on every scan.
type placedSource struct {
	*ImageSource
	placed []Placement
}

func (p placedSource) EmbeddedImages(int) ([]Placement, error) {
	return p.placed, nil
}

func TestRasterizeRecordsEmbeddedImages(t *testing.T) {
	scans, err := NewImageSource(writeScans(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	src := placedSource{ImageSource: scans, placed: []Placement{{X: 12, Y: 16, W: 60, H: 80}}}

	pages, err := Rasterize(context.Background(), src, []int{0}, Settings{Workers: 1}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if pages[0].Embedded != nil {
		t.Errorf("placements recorded without being asked: %v", pages[0].Embedded)
	}

	pages, err = Rasterize(context.Background(), src, []int{0}, Settings{Workers: 1, Embedded: true}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	want := domain.BBox{X1: 0.1, Y1: 0.1, X2: 0.6, Y2: 0.6}
	if len(pages[0].Embedded) != 1 || pages[0].Embedded[0] != want {
		t.Errorf("got %v, want [%v]", pages[0].Embedded, want)
	}
}
