package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ivlev/pdf2html/internal/engine"
	"github.com/ivlev/pdf2html/internal/source"
	"github.com/ivlev/pdf2html/internal/system"
)

// parseTarget splits "path[:pages]". A suffix that is not a page range is
// treated as part of the path.
func parseTarget(arg string) (string, source.PageRange, error) {
	i := strings.LastIndex(arg, ":")
	if i <= 0 || i == len(arg)-1 {
		return arg, source.PageRange{}, nil
	}
	if _, err := os.Stat(arg); err == nil {
		return arg, source.PageRange{}, nil
	}
	r, err := source.ParsePageRange(arg[i+1:])
	if err != nil {
		return "", source.PageRange{}, fmt.Errorf("%s: %w", arg, err)
	}
	return arg[:i], r, nil
}

// parseGroups reads name=range pairs.
func parseGroups(pairs []string) (map[string]source.PageRange, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	groups := make(map[string]source.PageRange, len(pairs))
	for _, pair := range pairs {
		name, rng, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("group %q: want name=range", pair)
		}
		r, err := source.ParsePageRange(rng)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", name, err)
		}
		if r.IsZero() {
			return nil, fmt.Errorf("group %s: empty range", name)
		}
		if _, dup := groups[name]; dup {
			return nil, fmt.Errorf("group %s given twice", name)
		}
		groups[name] = r
	}
	return groups, nil
}

// buildJobs expands arguments into jobs. Directories holding PDFs expand to
// those PDFs; other directories are page-image documents. Every job gets
// its own output: a document named like an earlier one publishes as
// <stem>_2, <stem>_3 and so on. The same document and range given twice is
// an error.
func buildJobs(args []string, groups map[string]source.PageRange, outputDir string) ([]engine.Job, error) {
	var jobs []engine.Job
	seen := make(map[string]bool)
	targets := make(map[string]bool)
	for _, arg := range args {
		path, rng, err := parseTarget(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}

		paths := []string{path}
		if info.IsDir() {
			pdfs, err := system.FindPDFs(path)
			if err != nil {
				return nil, err
			}
			if len(pdfs) > 0 {
				paths = pdfs
			}
		}
		for _, p := range paths {
			key := absPath(p) + ":" + rng.String()
			if seen[key] {
				return nil, fmt.Errorf("%s given more than once", arg)
			}
			seen[key] = true

			dir := outputDir
			if dir == "" {
				dir = filepath.Dir(p)
			}
			job := engine.Job{Path: p, Range: rng, Groups: groups}
			stem := job.Stem()
			name := stem
			for n := 2; targets[absPath(filepath.Join(dir, name))]; n++ {
				name = fmt.Sprintf("%s_%d", stem, n)
			}
			targets[absPath(filepath.Join(dir, name))] = true
			if name != stem {
				job.Name = name
			}
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func absPath(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
