package renderer

import (
	"fmt"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ImageRefs returns the src attribute of every <img>, in document order.
func ImageRefs(doc string) ([]string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	var refs []string
	d.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		refs = append(refs, strings.TrimSpace(src))
	})
	return refs, nil
}

// IsExternal reports whether src points outside the artifact directory.
func IsExternal(src string) bool {
	lower := strings.ToLower(src)
	return strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://")
}

// LocalRef resolves src against the relative directory dir and returns the
// file it names directly inside dir. "./images/a.png" and "images//a.png"
// both resolve to "a.png" for dir "images/". ok is false for external,
// absolute and nested references.
func LocalRef(src, dir string) (file string, ok bool) {
	src = strings.TrimSpace(src)
	if src == "" || IsExternal(src) || strings.HasPrefix(src, "/") {
		return "", false
	}
	prefix := path.Clean(dir) + "/"
	clean := path.Clean(src)
	if !strings.HasPrefix(clean, prefix) {
		return "", false
	}
	file = strings.TrimPrefix(clean, prefix)
	if file == "" || strings.Contains(file, "/") {
		return "", false
	}
	return file, true
}

// RewriteReferences moves every <img> that LocalRef resolves inside from to
// the same file inside to. Other references are left alone.
func RewriteReferences(doc, from, to string) (string, error) {
	d, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	d.Find("img[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if file, ok := LocalRef(src, from); ok {
			s.SetAttr("src", to+file)
		}
	})
	return serialize(d)
}
