package source

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ivlev/pdf2html/internal/domain"
)

// EmbeddedLister is implemented by sources that know where raster images
// are drawn on their pages.
type EmbeddedLister interface {
	EmbeddedImages(index int) ([]Placement, error)
}

// Placement is an image rectangle in points from the page's top-left corner.
type Placement struct {
	X, Y, W, H float64
}

var (
	styleLength = regexp.MustCompile(`(?:^|[;\s])(top|left|width|height)\s*:\s*(-?[0-9.]+)`)
	styleMatrix = regexp.MustCompile(`matrix\(([^)]*)\)`)
)

// ParsePlacements extracts image rectangles from MuPDF's structured-text
// HTML. Both the absolute offset form and the CSS matrix form are read.
func ParsePlacements(html string) ([]Placement, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}
	var out []Placement
	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		if p, ok := placement(img); ok {
			out = append(out, p)
		}
	})
	return out, nil
}

func placement(img *goquery.Selection) (Placement, bool) {
	style, _ := img.Attr("style")
	props := make(map[string]float64)
	for _, m := range styleLength.FindAllStringSubmatch(style, -1) {
		if v, err := strconv.ParseFloat(m[2], 64); err == nil {
			props[m[1]] = v
		}
	}
	for _, attr := range []string{"width", "height"} {
		if _, ok := props[attr]; ok {
			continue
		}
		if v, ok := img.Attr(attr); ok {
			if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "px"), 64); err == nil {
				props[attr] = f
			}
		}
	}

	w, h := props["width"], props["height"]
	if w <= 0 || h <= 0 {
		return Placement{}, false
	}
	left, top := props["left"], props["top"]

	m := styleMatrix.FindStringSubmatch(style)
	if m == nil {
		return Placement{X: left, Y: top, W: w, H: h}, true
	}

	fields := strings.Split(m[1], ",")
	if len(fields) != 6 {
		return Placement{}, false
	}
	var a [6]float64
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return Placement{}, false
		}
		a[i] = v
	}

	// CSS transforms about the centre of the box
	cx, cy := w/2, h/2
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {w, 0}, {0, h}, {w, h}} {
		dx, dy := c[0]-cx, c[1]-cy
		x := left + a[0]*dx + a[2]*dy + a[4] + cx
		y := top + a[1]*dx + a[3]*dy + a[5] + cy
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return Placement{X: minX, Y: minY, W: maxX - minX, H: maxY - minY}, true
}

// Normalize converts placements on a w x h page into page-normalized boxes
// clipped to the page. Placements that fall off the page are dropped.
func Normalize(placed []Placement, w, h float64) []domain.BBox {
	if w <= 0 || h <= 0 {
		return nil
	}
	var out []domain.BBox
	for _, p := range placed {
		b := domain.BBox{
			X1: p.X / w,
			Y1: p.Y / h,
			X2: (p.X + p.W) / w,
			Y2: (p.Y + p.H) / h,
		}.Pad(0)
		if b.Valid() {
			out = append(out, b)
		}
	}
	return out
}
