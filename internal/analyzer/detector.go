// Package analyzer locates diagram regions on rasterized pages.
package analyzer

import (
	"context"

	"github.com/ivlev/pdf2html/internal/domain"
)

// Detector is the interface for region detection strategies.
// The result has one slot per input page, in input order.
type Detector interface {
	Detect(ctx context.Context, pages []domain.Page) ([][]domain.RegionDescriptor, error)
}

// Options tune the inference detector.
type Options struct {
	Padding          float64 // page-normalized units added on every side
	ReformatAttempts int     // text-only retries for unparseable responses, negative for the default
	Concurrency      int     // pages in flight at once
}

const (
	DefaultPadding          = 0.05
	defaultReformatAttempts = 2
	defaultConcurrency      = 4
)

// NoneDetector reports no regions. Used by text-only modes.
type NoneDetector struct{}

func (NoneDetector) Detect(_ context.Context, pages []domain.Page) ([][]domain.RegionDescriptor, error) {
	return make([][]domain.RegionDescriptor, len(pages)), nil
}
