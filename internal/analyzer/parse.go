package analyzer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ivlev/pdf2html/internal/domain"
)

type rawRegion struct {
	BBox  []any  `json:"bbox"`
	Label string `json:"label"`
	Name  string `json:"name"`
}

type rawResponse struct {
	Regions *[]rawRegion `json:"regions"`
}

var (
	fenceRe  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	resultRe = regexp.MustCompile(`(?s)<result>(.*?)</result>`)
)

// unwrap strips a <result> wrapper and markdown code fences.
func unwrap(text string) string {
	if m := resultRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	if m := fenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	return strings.TrimSpace(text)
}

// parseRegions decodes a detection response. Both {"regions": [...]} and a
// bare array are accepted; surrounding prose is ignored.
func parseRegions(text string) ([]rawRegion, error) {
	body := unwrap(text)
	if regions, err := decodeRegions(body); err == nil {
		return regions, nil
	}

	// Fall back to the outermost JSON value embedded in prose.
	start := strings.IndexAny(body, "{[")
	if start < 0 {
		return nil, fmt.Errorf("no JSON in response")
	}
	closer := "}"
	if body[start] == '[' {
		closer = "]"
	}
	end := strings.LastIndex(body, closer)
	if end <= start {
		return nil, fmt.Errorf("unterminated JSON in response")
	}
	return decodeRegions(body[start : end+1])
}

func decodeRegions(s string) ([]rawRegion, error) {
	if strings.HasPrefix(s, "[") {
		var regions []rawRegion
		if err := json.Unmarshal([]byte(s), &regions); err != nil {
			return nil, err
		}
		return regions, nil
	}
	var resp rawResponse
	if err := json.Unmarshal([]byte(s), &resp); err != nil {
		return nil, err
	}
	if resp.Regions == nil {
		return nil, fmt.Errorf(`missing "regions" field`)
	}
	return *resp.Regions, nil
}

// descriptor validates r and converts it for the given 1-based page.
func (r rawRegion) descriptor(page int) (domain.RegionDescriptor, error) {
	if len(r.BBox) != 4 {
		return domain.RegionDescriptor{}, fmt.Errorf("bbox has %d values, want 4", len(r.BBox))
	}
	var v [4]float64
	for i, c := range r.BBox {
		f, ok := c.(float64)
		if !ok {
			return domain.RegionDescriptor{}, fmt.Errorf("bbox value %v is not a number", c)
		}
		v[i] = f
	}
	box := domain.BBox{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	if !box.Valid() {
		return domain.RegionDescriptor{}, fmt.Errorf("bbox %s outside the page or empty", box)
	}
	return domain.RegionDescriptor{
		Page:  page,
		Box:   box,
		Label: strings.TrimSpace(r.Label),
		Name:  strings.TrimSpace(r.Name),
	}, nil
}

// ParseResponse decodes a detection reply for a 1-based page number and pads
// every valid box. Invalid regions are skipped and returned in dropped; err
// is set only when the reply is not usable at all.
func ParseResponse(text string, page int, padding float64) (regions []domain.RegionDescriptor, dropped []error, err error) {
	raw, err := parseRegions(text)
	if err != nil {
		return nil, nil, err
	}
	regions = make([]domain.RegionDescriptor, 0, len(raw))
	for i, r := range raw {
		desc, err := r.descriptor(page)
		if err != nil {
			dropped = append(dropped, fmt.Errorf("region %d: %w", i, err))
			continue
		}
		desc.Box = desc.Box.Pad(padding)
		regions = append(regions, desc)
	}
	return regions, dropped, nil
}
