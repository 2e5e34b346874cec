package engine

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/renderer"
	"github.com/ivlev/pdf2html/internal/synth"
)

// ManifestFile is the manifest's name inside a document's image directory.
const ManifestFile = "manifest.json"

// publish moves a finished document into outDir:
//
//	<outDir>/<stem>.html
//	<outDir>/images/<stem>/<name>.png
//	<outDir>/images/<stem>/manifest.json
//
// Everything is staged next to its final location first. The workspace is
// released before anything becomes visible, so a cleanup failure leaves no
// output behind.
func publish(ws *workspace, outDir, stem string, m *domain.Manifest, html string) (string, error) {
	imagesRoot := filepath.Join(outDir, "images")
	if err := os.MkdirAll(imagesRoot, 0755); err != nil {
		return "", domain.ResourceError("create output directory", err)
	}

	staging, err := os.MkdirTemp(imagesRoot, "."+stem+"-staging-")
	if err != nil {
		return "", domain.ResourceError("create staging directory", err)
	}
	committed := false
	defer func() {
		if !committed {
			os.RemoveAll(staging)
		}
	}()

	for _, a := range m.Entries() {
		if err := copyFile(a.Path, filepath.Join(staging, a.File())); err != nil {
			return "", domain.ResourceError(fmt.Sprintf("stage region %s", a.Name), err)
		}
	}
	if err := domain.WriteManifest(m, filepath.Join(staging, ManifestFile)); err != nil {
		return "", domain.ResourceError("write manifest", err)
	}

	html, err = renderer.RewriteReferences(html, synth.ImageDir, synth.ImageDir+url.PathEscape(stem)+"/")
	if err != nil {
		return "", domain.NewError(domain.KindInternal, "rewrite references", err)
	}
	tmpHTML, err := writeTemp(outDir, "."+stem+"-*.html", html)
	if err != nil {
		return "", domain.ResourceError("write document", err)
	}
	defer func() {
		if !committed {
			os.Remove(tmpHTML)
		}
	}()

	if err := ws.release(); err != nil {
		return "", domain.ResourceError("release workspace", err)
	}

	finalImages := filepath.Join(imagesRoot, stem)
	if err := os.RemoveAll(finalImages); err != nil {
		return "", domain.ResourceError("replace previous images", err)
	}
	if err := os.Rename(staging, finalImages); err != nil {
		return "", domain.ResourceError("publish images", err)
	}
	finalHTML := filepath.Join(outDir, stem+".html")
	if err := os.Rename(tmpHTML, finalHTML); err != nil {
		os.RemoveAll(finalImages)
		return "", domain.ResourceError("publish document", err)
	}
	committed = true
	return finalHTML, nil
}

func writeTemp(dir, pattern, content string) (string, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	if err := os.Chmod(f.Name(), 0644); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
