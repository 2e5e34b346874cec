package synth

import (
	"fmt"
	"strings"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/renderer"
)

// ImageDir is the directory synthesized documents reference artifacts in.
const ImageDir = "images/"

// RefPath is the reference a document uses for an artifact.
func RefPath(a *domain.RegionArtifact) string {
	return ImageDir + a.File()
}

// ValidateReferences checks that every local image in doc names an artifact
// in the manifest. Remote and inline images are allowed.
func ValidateReferences(doc string, m *domain.Manifest) error {
	refs, err := renderer.ImageRefs(doc)
	if err != nil {
		return domain.SchemaError("unparseable output", err)
	}

	var missing []string
	for _, src := range refs {
		if renderer.IsExternal(src) {
			continue
		}
		if !resolves(src, m) {
			missing = append(missing, src)
		}
	}
	if len(missing) > 0 {
		return domain.ReferenceError(
			fmt.Sprintf("%d image reference(s) not in manifest: %s", len(missing), strings.Join(missing, ", ")), nil)
	}
	return nil
}

// resolves uses the same resolution as the publish-time rewrite, so every
// reference accepted here is moved next to its artifact.
func resolves(src string, m *domain.Manifest) bool {
	file, ok := renderer.LocalRef(src, ImageDir)
	if !ok || !strings.HasSuffix(file, ".png") {
		return false
	}
	_, ok = m.Get(strings.TrimSuffix(file, ".png"))
	return ok
}
