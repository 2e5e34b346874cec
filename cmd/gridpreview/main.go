// Command gridpreview renders one page the way the detector sends it to the
// model and, given a saved detection reply, crops the regions it names.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ivlev/pdf2html/internal/analyzer"
	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/extract"
	"github.com/ivlev/pdf2html/internal/observability"
	"github.com/ivlev/pdf2html/internal/source"
	"github.com/ivlev/pdf2html/internal/system"
)

type options struct {
	page    int
	dpi     int
	out     string
	reply   string
	padding float64
}

func main() {
	var opts options
	cmd := &cobra.Command{
		Use:          "gridpreview <pdf-or-image-dir>",
		Short:        "Preview the detection grid and crops for one page",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), args[0], opts)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&opts.page, "page", "p", 1, "1-based page number")
	f.IntVar(&opts.dpi, "dpi", 144, "render resolution")
	f.StringVarP(&opts.out, "out", "o", "gridpreview", "output directory")
	f.StringVarP(&opts.reply, "reply", "r", "", "file with a saved detection reply to crop")
	f.Float64Var(&opts.padding, "padding", analyzer.DefaultPadding, "padding added to every box")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, opts options) error {
	if err := os.MkdirAll(opts.out, 0755); err != nil {
		return err
	}

	fmt.Println("[1/3] Rendering page...")
	src, err := source.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	index := opts.page - 1
	pages, err := source.Rasterize(ctx, src, []int{index}, source.Settings{DPI: opts.dpi, Workers: 1}, opts.out)
	if err != nil {
		return err
	}
	page := pages[0]
	b := page.Image.Bounds()
	fmt.Printf("✓ %s (%dx%d)\n\n", page.Path, b.Dx(), b.Dy())

	fmt.Println("[2/3] Drawing coordinate grid...")
	overlay := analyzer.DrawGrid(page.Image)
	gridPath := filepath.Join(opts.out, fmt.Sprintf("page_%04d_grid.png", opts.page))
	err = source.WritePNG(gridPath, overlay)
	system.PutImage(overlay)
	if err != nil {
		return err
	}
	fmt.Printf("✓ %s\n\n", gridPath)

	if opts.reply == "" {
		fmt.Println("[3/3] No reply given, skipping crops")
		return nil
	}

	fmt.Println("[3/3] Cropping regions from reply...")
	data, err := os.ReadFile(opts.reply)
	if err != nil {
		return err
	}
	regions, dropped, err := analyzer.ParseResponse(string(data), page.Number(), opts.padding)
	if err != nil {
		return fmt.Errorf("reply is not a detection response: %w", err)
	}
	for _, d := range dropped {
		fmt.Printf("  ! %v\n", d)
	}

	regionDir := filepath.Join(opts.out, "regions")
	if err := os.MkdirAll(regionDir, 0755); err != nil {
		return err
	}
	ex := extract.New(extract.Settings{Workers: 1}, observability.Nop())
	m, err := ex.Extract(ctx, pages, [][]domain.RegionDescriptor{regions}, regionDir)
	if err != nil {
		return err
	}
	for _, a := range m.Entries() {
		fmt.Printf("  %-24s %s %v %q\n", a.Name, a.Box, a.Rect, a.Label)
	}
	manifestPath := filepath.Join(regionDir, "manifest.json")
	if err := domain.WriteManifest(m, manifestPath); err != nil {
		return err
	}
	fmt.Printf("✓ %d regions, manifest %s\n", m.Len(), manifestPath)
	return nil
}
