package engine

import (
	"os"
	"path/filepath"
)

// workspace is the private scratch directory of one document run.
type workspace struct {
	root     string
	pages    string
	regions  string
	keep     bool
	released bool
}

func newWorkspace(tempRoot string, keep bool) (*workspace, error) {
	root, err := os.MkdirTemp(tempRoot, "pdf2html_")
	if err != nil {
		return nil, err
	}
	w := &workspace{
		root:    root,
		pages:   filepath.Join(root, "pages"),
		regions: filepath.Join(root, "regions"),
		keep:    keep,
	}
	for _, dir := range []string{w.pages, w.regions} {
		if err := os.Mkdir(dir, 0755); err != nil {
			os.RemoveAll(root)
			return nil, err
		}
	}
	return w, nil
}

// release removes the workspace unless it is retained. Safe to call twice.
func (w *workspace) release() error {
	if w.released {
		return nil
	}
	w.released = true
	if w.keep {
		return nil
	}
	return os.RemoveAll(w.root)
}
