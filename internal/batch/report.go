package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/ivlev/pdf2html/internal/domain"
)

// FailureLines returns one "<path>: <ErrorKind>: <message>" line per failed
// document, in submission order.
func FailureLines(r *domain.BatchReport) []string {
	var lines []string
	for _, res := range r.Results {
		if res.State == domain.StateDone {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s: %s", res.Path, res.ErrorKind(), message(res.Err)))
	}
	return lines
}

func message(err error) string {
	if err == nil {
		return "unknown failure"
	}
	var e *domain.Error
	if errors.As(err, &e) {
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Err)
		}
		return e.Message
	}
	return err.Error()
}

type reportEntry struct {
	domain.PipelineResult
	Kind  domain.ErrorKind `json:"error_kind,omitempty"`
	Error string           `json:"error,omitempty"`
}

type reportFile struct {
	RunID     string        `json:"run_id"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Results   []reportEntry `json:"results"`
}

// WriteReport saves the report as indented JSON.
func WriteReport(r *domain.BatchReport, path string) error {
	out := reportFile{
		RunID:     r.RunID,
		Succeeded: r.Succeeded,
		Failed:    r.Failed,
		Results:   make([]reportEntry, len(r.Results)),
	}
	for i, res := range r.Results {
		out.Results[i] = reportEntry{PipelineResult: res}
		if res.Err != nil {
			out.Results[i].Kind = res.ErrorKind()
			out.Results[i].Error = message(res.Err)
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}
