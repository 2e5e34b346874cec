package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ivlev/pdf2html/internal/analyzer"
	"github.com/ivlev/pdf2html/internal/batch"
	"github.com/ivlev/pdf2html/internal/cache"
	"github.com/ivlev/pdf2html/internal/config"
	"github.com/ivlev/pdf2html/internal/domain"
	"github.com/ivlev/pdf2html/internal/engine"
	"github.com/ivlev/pdf2html/internal/extract"
	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
	"github.com/ivlev/pdf2html/internal/observability"
	"github.com/ivlev/pdf2html/internal/source"
	"github.com/ivlev/pdf2html/internal/synth"
	"github.com/ivlev/pdf2html/internal/system"
)

// errFailures signals that some documents failed; details are already printed.
var errFailures = errors.New("some documents failed")

type options struct {
	configFile string
	mode       string
	modesFile  string
	groups     []string
	workers    int
	keepTemp   bool
	outputDir  string
	reportPath string
	logLevel   string
	logFormat  string
	listModes  bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "pdf2html [flags] [path[:pages]]...",
		Short: "Convert scanned documents to self-contained HTML",
		Long: `pdf2html rasterizes PDFs or directories of page scans, asks a vision model
to locate diagrams, crops them, and has the model write the document as HTML that
references the cropped images.

Each path may carry a page range: exam.pdf:2-5, notes.pdf:3-end. A directory
expands to the PDFs inside it, or is read as page images if it has none.
Without paths the newest PDF in input/pdf is used.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args, &opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "config file path")
	f.StringVarP(&opts.mode, "mode", "m", "", "processing mode (text, vision, handwritten, problem-solution)")
	f.StringVar(&opts.modesFile, "modes-file", "", "YAML file with additional or replacement modes")
	f.StringArrayVarP(&opts.groups, "group", "g", nil, "named page group, e.g. problems=1-4 (repeatable)")
	f.IntVarP(&opts.workers, "workers", "w", 0, "documents processed concurrently (default from CPU and memory)")
	f.BoolVar(&opts.keepTemp, "keep-temp", false, "keep per-document workspaces")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "output directory (default: next to each input)")
	f.StringVar(&opts.reportPath, "report", "", "write a JSON batch report to this path")
	f.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	f.StringVar(&opts.logFormat, "log-format", "", "log format (console, json)")
	f.BoolVar(&opts.listModes, "list-modes", false, "list available modes and exit")
	return cmd
}

// applyFlags overrides configuration with flags the user set explicitly.
func applyFlags(cmd *cobra.Command, cfg *config.Config, opts *options) {
	f := cmd.Flags()
	if f.Changed("mode") {
		cfg.Modes.Default = opts.mode
	}
	if f.Changed("modes-file") {
		cfg.Modes.File = opts.modesFile
	}
	if f.Changed("workers") {
		cfg.Batch.Workers = opts.workers
	}
	if f.Changed("keep-temp") {
		cfg.Batch.KeepTemp = opts.keepTemp
	}
	if f.Changed("output-dir") {
		cfg.Batch.OutputDir = opts.outputDir
	}
	if f.Changed("log-level") {
		cfg.Logging.Level = opts.logLevel
	}
	if f.Changed("log-format") {
		cfg.Logging.Format = opts.logFormat
	}
}

func run(cmd *cobra.Command, args []string, opts *options) error {
	cfg, err := config.LoadConfig(opts.configFile)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg, opts)

	modes, err := mode.Load(cfg.Modes.File)
	if err != nil {
		return err
	}
	if opts.listModes {
		printModes(cmd.OutOrStdout(), modes)
		return nil
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(msgs, "\n  "))
	}

	log := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "pdf2html",
	})
	system.InitResourceLimits(log)

	profile, err := modes.Lookup(cfg.Modes.Default)
	if err != nil {
		return err
	}
	groups, err := parseGroups(opts.groups)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		latest, err := system.FindLatestPDF("input/pdf")
		if err != nil {
			return fmt.Errorf("no input given and %w", err)
		}
		log.Info().Str("path", latest).Msg("using newest PDF")
		args = []string{latest}
	}
	jobs, err := buildJobs(args, groups, cfg.Batch.OutputDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := cache.New(cache.Options{
		Backend: cfg.Cache.Backend,
		Path:    cfg.Cache.Path,
		Redis: cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		},
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	if store != nil {
		defer store.Close()
	}

	transport, err := inference.NewTransport(inference.ProviderConfig{
		Provider: cfg.Inference.Provider,
		Endpoint: cfg.Inference.Endpoint,
		Model:    cfg.Inference.Model,
		APIKey:   cfg.Inference.APIKey,
	})
	if err != nil {
		return err
	}
	client := inference.NewClient(transport, inference.Options{
		Model:   cfg.Inference.Model,
		Timeout: cfg.Inference.Timeout,
		Retry: inference.RetryPolicy{
			MaxAttempts: cfg.Inference.MaxAttempts,
			BaseDelay:   cfg.Inference.BaseDelay,
			MaxDelay:    cfg.Inference.MaxDelay,
		},
		RateLimit:     cfg.Inference.RateLimit,
		MaxConcurrent: cfg.Inference.MaxConcurrent,
		MaxTokens:     cfg.Inference.MaxTokens,
		Temperature:   cfg.Inference.Temperature,
		Cache:         store,
		CacheTTL:      cfg.Cache.TTL,
	}, log)

	pipeline, err := engine.New(engine.Config{
		Raster: source.Settings{DPI: cfg.Raster.DPI, Workers: cfg.Raster.Workers, MaxPixels: cfg.Raster.MaxPixels},
		Detection: analyzer.Options{
			Padding:          cfg.Padding(),
			ReformatAttempts: cfg.Detection.ReformatAttempts,
			Concurrency:      cfg.Detection.PageConcurrency,
		},
		Extract:   extract.Settings{Workers: cfg.Raster.Workers, MaxDimension: cfg.Extraction.MaxDimension},
		Synthesis: synth.Options{ReformatAttempts: cfg.Synthesis.ReformatAttempts},
		OutputDir: cfg.Batch.OutputDir,
		TempDir:   cfg.Batch.TempDir,
		KeepTemp:  cfg.Batch.KeepTemp,
	}, profile, client, log)
	if err != nil {
		return err
	}

	log.Info().
		Str("mode", profile.Name).
		Str("provider", cfg.Inference.Provider).
		Str("model", cfg.Inference.Model).
		Int("documents", len(jobs)).
		Msg("starting")

	orch := batch.New(pipeline, cfg.Batch.Workers, log)
	bar := newProgress(len(jobs))
	orch.OnComplete(func(domain.PipelineResult) { bar.Add(1) })

	report := orch.Run(ctx, jobs)
	bar.Finish()

	printSummary(cmd.OutOrStdout(), report, client.Stats())
	if opts.reportPath != "" {
		if err := batch.WriteReport(report, opts.reportPath); err != nil {
			log.Error().Err(err).Str("path", opts.reportPath).Msg("could not write report")
		}
	}
	if !report.OK() {
		printFailures(cmd.ErrOrStderr(), report)
		return errFailures
	}
	return nil
}
