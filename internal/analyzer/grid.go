package analyzer

import (
	"fmt"
	"image"
	"image/color"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/ivlev/pdf2html/internal/system"
)

const gridSteps = 10

var (
	gridLine  = image.NewUniform(color.NRGBA{R: 220, G: 0, B: 0, A: 110})
	gridLabel = image.NewUniform(color.RGBA{R: 200, G: 0, B: 0, A: 255})
	labelBack = image.NewUniform(color.NRGBA{R: 255, G: 255, B: 255, A: 200})
)

// DrawGrid returns a copy of img with lines every tenth of the page and
// fractional labels along the top and left edges. The canvas comes from the
// shared pool; release it with system.PutImage.
func DrawGrid(img image.Image) *image.RGBA {
	b := img.Bounds()
	canvas := system.GetImage(b)
	draw.Draw(canvas, b, img, b.Min, draw.Src)

	thick := max(1, b.Dx()/600)
	for i := 1; i < gridSteps; i++ {
		x := b.Min.X + b.Dx()*i/gridSteps
		y := b.Min.Y + b.Dy()*i/gridSteps
		draw.Draw(canvas, image.Rect(x, b.Min.Y, x+thick, b.Max.Y), gridLine, image.Point{}, draw.Over)
		draw.Draw(canvas, image.Rect(b.Min.X, y, b.Max.X, y+thick), gridLine, image.Point{}, draw.Over)
	}

	face := basicfont.Face7x13
	for i := 1; i < gridSteps; i++ {
		label := fmt.Sprintf("%.1f", float64(i)/gridSteps)
		x := b.Min.X + b.Dx()*i/gridSteps
		y := b.Min.Y + b.Dy()*i/gridSteps
		drawLabel(canvas, face, label, image.Pt(x+2, b.Min.Y+2))
		drawLabel(canvas, face, label, image.Pt(b.Min.X+2, y+2))
	}
	return canvas
}

func drawLabel(dst *image.RGBA, face *basicfont.Face, text string, at image.Point) {
	w := face.Advance * len(text)
	h := face.Height
	draw.Draw(dst, image.Rect(at.X-1, at.Y-1, at.X+w+1, at.Y+h+1), labelBack, image.Point{}, draw.Over)

	d := font.Drawer{
		Dst:  dst,
		Src:  gridLabel,
		Face: face,
		Dot:  fixed.P(at.X, at.Y+face.Ascent),
	}
	d.DrawString(text)
}
