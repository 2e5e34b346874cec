package source

import (
	"fmt"
	"strconv"
	"strings"
)

// PageRange selects pages by 1-based inclusive numbers. End == 0 means
// "to the last page"; the zero value selects every page.
type PageRange struct {
	Start int
	End   int
}

// ParsePageRange accepts "N", "a-b" and "a-end".
func ParsePageRange(s string) (PageRange, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return PageRange{}, nil
	}

	startStr, endStr, isRange := strings.Cut(s, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return PageRange{}, fmt.Errorf("invalid page range %q: bad start page", s)
	}
	if start < 1 {
		return PageRange{}, fmt.Errorf("invalid page range %q: pages are numbered from 1", s)
	}
	if !isRange {
		return PageRange{Start: start, End: start}, nil
	}

	endStr = strings.TrimSpace(endStr)
	if strings.EqualFold(endStr, "end") {
		return PageRange{Start: start}, nil
	}
	end, err := strconv.Atoi(endStr)
	if err != nil {
		return PageRange{}, fmt.Errorf("invalid page range %q: bad end page", s)
	}
	if end < start {
		return PageRange{}, fmt.Errorf("invalid page range %q: end before start", s)
	}
	return PageRange{Start: start, End: end}, nil
}

func (r PageRange) IsZero() bool {
	return r.Start == 0 && r.End == 0
}

// Contains reports whether the 1-based page number is selected.
func (r PageRange) Contains(number int) bool {
	if r.IsZero() {
		return true
	}
	return number >= r.Start && (r.End == 0 || number <= r.End)
}

// Indexes resolves the range against a document of count pages and returns
// 0-based page indexes in order. A range ending past the last page is cut
// short; one starting past it is an error.
func (r PageRange) Indexes(count int) ([]int, error) {
	if count == 0 {
		return nil, fmt.Errorf("document has no pages")
	}
	start, end := 1, count
	if !r.IsZero() {
		start = r.Start
		if r.End != 0 && r.End < end {
			end = r.End
		}
	}
	if start > count {
		return nil, fmt.Errorf("page range %s starts beyond the last page (%d)", r, count)
	}

	out := make([]int, 0, end-start+1)
	for n := start; n <= end; n++ {
		out = append(out, n-1)
	}
	return out, nil
}

func (r PageRange) String() string {
	switch {
	case r.IsZero():
		return "all"
	case r.End == 0:
		return fmt.Sprintf("%d-end", r.Start)
	case r.Start == r.End:
		return strconv.Itoa(r.Start)
	default:
		return fmt.Sprintf("%d-%d", r.Start, r.End)
	}
}
