package domain

import (
	"encoding/json"
	"fmt"
	"image"
	"os"
	"sort"
	"sync"
)

// BBox is a bounding box in page-normalized coordinates.
type BBox struct {
	X1, Y1, X2, Y2 float64
}

// Valid reports whether the box lies inside [0,1] and has positive area.
func (b BBox) Valid() bool {
	in := func(v float64) bool { return v >= 0 && v <= 1 }
	return in(b.X1) && in(b.Y1) && in(b.X2) && in(b.Y2) && b.X1 < b.X2 && b.Y1 < b.Y2
}

// Pad expands the box outward by p on every side and clamps to [0,1].
func (b BBox) Pad(p float64) BBox {
	return BBox{
		X1: clamp01(b.X1 - p),
		Y1: clamp01(b.Y1 - p),
		X2: clamp01(b.X2 + p),
		Y2: clamp01(b.Y2 + p),
	}
}

// Pixels maps the box onto a raster of the given bounds.
// The result always covers at least one pixel.
func (b BBox) Pixels(bounds image.Rectangle) image.Rectangle {
	w, h := float64(bounds.Dx()), float64(bounds.Dy())
	r := image.Rect(
		int(b.X1*w),
		int(b.Y1*h),
		ceil(b.X2*w),
		ceil(b.Y2*h),
	).Add(bounds.Min).Intersect(bounds)
	if r.Dx() == 0 {
		r.Max.X = min(r.Min.X+1, bounds.Max.X)
		r.Min.X = r.Max.X - 1
	}
	if r.Dy() == 0 {
		r.Max.Y = min(r.Min.Y+1, bounds.Max.Y)
		r.Min.Y = r.Max.Y - 1
	}
	return r
}

func (b BBox) Slice() []float64 {
	return []float64{b.X1, b.Y1, b.X2, b.Y2}
}

func (b BBox) String() string {
	return fmt.Sprintf("(%.3f,%.3f,%.3f,%.3f)", b.X1, b.Y1, b.X2, b.Y2)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func ceil(v float64) int {
	i := int(v)
	if float64(i) < v {
		i++
	}
	return i
}

// RegionDescriptor identifies a diagram within a page.
type RegionDescriptor struct {
	Page  int // 1-based page number (Page.Number), not Page.Index
	Box   BBox
	Label string
	Name  string // suggested artifact name
}

// RegionArtifact is a descriptor persisted as a cropped image.
type RegionArtifact struct {
	RegionDescriptor
	Name string
	Path string
	Rect image.Rectangle
	Seq  int
}

// File is the artifact's file name inside the region directory.
func (a *RegionArtifact) File() string {
	return a.Name + ".png"
}

// Manifest maps artifact names to artifacts. Safe for concurrent use.
type Manifest struct {
	mu        sync.Mutex
	artifacts map[string]*RegionArtifact
}

func NewManifest() *Manifest {
	return &Manifest{artifacts: make(map[string]*RegionArtifact)}
}

// Add registers an artifact. Names must be unique.
func (m *Manifest) Add(a *RegionArtifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.artifacts[a.Name]; exists {
		return fmt.Errorf("duplicate artifact name %q", a.Name)
	}
	m.artifacts[a.Name] = a
	return nil
}

func (m *Manifest) Get(name string) (*RegionArtifact, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[name]
	return a, ok
}

// SetLabel replaces the label of the named artifact.
func (m *Manifest) SetLabel(name, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.artifacts[name]
	if ok {
		a.Label = label
	}
	return ok
}

func (m *Manifest) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.artifacts)
}

// Names returns artifact names in (page, sequence) order.
func (m *Manifest) Names() []string {
	entries := m.Entries()
	names := make([]string, len(entries))
	for i, a := range entries {
		names[i] = a.Name
	}
	return names
}

// Entries returns artifacts in (page, sequence) order.
func (m *Manifest) Entries() []*RegionArtifact {
	m.mu.Lock()
	out := make([]*RegionArtifact, 0, len(m.artifacts))
	for _, a := range m.artifacts {
		out = append(out, a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// ManifestRecord is the persisted form of one manifest entry. Page is the
// 1-based page number.
type ManifestRecord struct {
	Page  int       `json:"page"`
	BBox  []float64 `json:"bbox"`
	Label string    `json:"label"`
	File  string    `json:"file"`
}

// Records returns the persisted form keyed by artifact name.
func (m *Manifest) Records() map[string]ManifestRecord {
	out := make(map[string]ManifestRecord)
	for _, a := range m.Entries() {
		out[a.Name] = ManifestRecord{
			Page:  a.Page,
			BBox:  a.Box.Slice(),
			Label: a.Label,
			File:  a.File(),
		}
	}
	return out
}

// WriteManifest writes the manifest record as indented JSON.
func WriteManifest(m *Manifest, path string) error {
	data, err := json.MarshalIndent(m.Records(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// ReadManifest reads a manifest record written by WriteManifest.
func ReadManifest(path string) (map[string]ManifestRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var records map[string]ManifestRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}
