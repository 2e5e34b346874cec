package domain

import (
	"image"
	"time"
)

// State is a document's position in the pipeline lifecycle.
type State string

const (
	StatePending     State = "Pending"
	StateRasterized  State = "Rasterized"
	StateDetected    State = "Detected"
	StateExtracted   State = "Extracted"
	StateSynthesized State = "Synthesized"
	StateDone        State = "Done"
	StateFailed      State = "Failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Page is one rasterized page of a document.
type Page struct {
	Index int // 0-based position in the source
	Image image.Image
	Path  string // persisted raster inside the workspace
	Text  string

	// Embedded holds the placement of raster images drawn on the page.
	// Only filled for the embedded detection strategy.
	Embedded []BBox
}

// Number is the 1-based page number used in prompts and names.
func (p Page) Number() int {
	return p.Index + 1
}

// Document tracks one input through the pipeline.
type Document struct {
	Path   string
	Pages  []Page
	Groups map[string][]int // named page groups, 1-based page numbers
	Output string
	State  State
}

// NewDocument creates a pending document for the given source path.
func NewDocument(path string) *Document {
	return &Document{Path: path, State: StatePending}
}

// PipelineResult is the terminal outcome of one document run.
type PipelineResult struct {
	Path     string        `json:"path"`
	State    State         `json:"state"`
	Err      error         `json:"-"`
	Output   string        `json:"output,omitempty"`
	Regions  int           `json:"regions"`
	Pages    int           `json:"pages"`
	Duration time.Duration `json:"duration"`
}

// ErrorKind returns the kind of the attached error, or "" on success.
func (r PipelineResult) ErrorKind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return KindOf(r.Err)
}

// BatchReport aggregates pipeline results in submission order.
type BatchReport struct {
	RunID     string           `json:"run_id"`
	Results   []PipelineResult `json:"results"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
}

// OK reports whether every document reached Done.
func (r *BatchReport) OK() bool {
	return r.Failed == 0
}
