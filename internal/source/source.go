package source

import (
	"fmt"
	"image"
	"os"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Source is a paginated document that can be rendered page by page.
// RenderPage and PageText must be safe for concurrent use.
//
// GetPageDimensions reports the page size at 72 dpi: points for PDF pages,
// pixels for scans, which are never resampled.
type Source interface {
	PageCount() int
	GetPageDimensions(index int) (width, height float64, err error)
	RenderPage(index int, dpi int) (image.Image, error)
	PageText(index int) (string, error)
	Close() error
}

// Open picks the source implementation for path: PDF files go through
// MuPDF, directories and single images are read as scanned pages.
func Open(path string) (Source, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() && strings.HasSuffix(strings.ToLower(path), ".pdf") {
		return NewFitzPDFSource(path)
	}
	if !fi.IsDir() && !isImage(path) {
		return nil, fmt.Errorf("unsupported document type: %s", path)
	}
	return NewImageSource(path)
}

type FitzPDFSource struct {
	doc  *fitz.Document
	path string
}

func NewFitzPDFSource(path string) (*FitzPDFSource, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	return &FitzPDFSource{doc: doc, path: path}, nil
}

func (f *FitzPDFSource) PageCount() int {
	return f.doc.NumPage()
}

func (f *FitzPDFSource) GetPageDimensions(index int) (float64, float64, error) {
	rect, err := f.doc.Bound(index)
	if err != nil {
		return 0, 0, err
	}
	return float64(rect.Dx()), float64(rect.Dy()), nil
}

// RenderPage opens a private document handle: a fitz.Document is not safe
// for concurrent rendering.
func (f *FitzPDFSource) RenderPage(index int, dpi int) (image.Image, error) {
	workerDoc, err := fitz.New(f.path)
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()
	return workerDoc.ImageDPI(index, float64(dpi))
}

func (f *FitzPDFSource) PageText(index int) (string, error) {
	workerDoc, err := fitz.New(f.path)
	if err != nil {
		return "", err
	}
	defer workerDoc.Close()
	return workerDoc.Text(index)
}

// EmbeddedImages lists the raster images drawn on the page, read from
// MuPDF's HTML rendering of the structured text.
func (f *FitzPDFSource) EmbeddedImages(index int) ([]Placement, error) {
	workerDoc, err := fitz.New(f.path)
	if err != nil {
		return nil, err
	}
	defer workerDoc.Close()
	html, err := workerDoc.HTML(index, false)
	if err != nil {
		return nil, err
	}
	return ParsePlacements(html)
}

func (f *FitzPDFSource) Close() error {
	return f.doc.Close()
}
