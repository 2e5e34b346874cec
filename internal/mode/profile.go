// Package mode holds processing-mode profiles: the data that tells the
// detector and the synthesizer what to send for each kind of document.
package mode

import (
	"fmt"
)

// Set is a versioned collection of profiles as stored in YAML.
type Set struct {
	Version string    `yaml:"version"`
	Modes   []Profile `yaml:"modes"`
}

// Profile parameterizes one pipeline run.
type Profile struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Groups      []string  `yaml:"groups,omitempty"` // page groups the caller must define
	Detection   Detection `yaml:"detection"`
	Describe    Describe  `yaml:"describe,omitempty"`
	Synthesis   Synthesis `yaml:"synthesis"`
}

// Detection configures region detection.
type Detection struct {
	Strategy    string `yaml:"strategy"` // inference, embedded or none
	Pages       string `yaml:"pages,omitempty"`
	Grid        bool   `yaml:"grid"`
	Instruction string `yaml:"instruction,omitempty"`
}

// Describe asks the model for a detailed description of every extracted
// region before synthesis. The answers replace the region labels.
type Describe struct {
	Instruction string `yaml:"instruction,omitempty"`
	Context     bool   `yaml:"context,omitempty"` // send the whole page along with the crop
}

// Synthesis is an ordered list of steps; the last step's output is the document.
type Synthesis struct {
	Format string `yaml:"format"` // html or markdown
	Steps  []Step `yaml:"steps"`
}

// Step is one or more inference calls over a page group.
type Step struct {
	Name        string `yaml:"name"`
	System      string `yaml:"system,omitempty"`
	Instruction string `yaml:"instruction"`
	Pages       string `yaml:"pages,omitempty"` // group name, empty for all pages, "none" for no pages
	Images      bool   `yaml:"images"`
	Text        bool   `yaml:"text"`
	Regions     bool   `yaml:"regions"`
	Previous    bool   `yaml:"previous"` // include the previous step's output
	Continue    bool   `yaml:"continue"` // extend the previous step's conversation
	Chunk       int    `yaml:"chunk,omitempty"`
	ResultTag   string `yaml:"result_tag,omitempty"`
}

const (
	StrategyInference = "inference"
	StrategyEmbedded  = "embedded"
	StrategyNone      = "none"

	FormatHTML     = "html"
	FormatMarkdown = "markdown"

	PagesNone = "none"
)

// Validate checks a profile for internal consistency.
func (p *Profile) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("mode without name")
	}
	switch p.Detection.Strategy {
	case StrategyInference:
		if p.Detection.Instruction == "" {
			return fmt.Errorf("mode %s: inference detection needs an instruction", p.Name)
		}
	case StrategyEmbedded, StrategyNone, "":
	default:
		return fmt.Errorf("mode %s: unknown detection strategy %q", p.Name, p.Detection.Strategy)
	}
	if p.DescribeEnabled() && !p.DetectionEnabled() {
		return fmt.Errorf("mode %s: describe needs region detection", p.Name)
	}
	switch p.Synthesis.Format {
	case FormatHTML, FormatMarkdown, "":
	default:
		return fmt.Errorf("mode %s: unknown output format %q", p.Name, p.Synthesis.Format)
	}
	if len(p.Synthesis.Steps) == 0 {
		return fmt.Errorf("mode %s: no synthesis steps", p.Name)
	}

	groups := map[string]bool{"": true, PagesNone: true}
	for _, g := range p.Groups {
		groups[g] = true
	}
	if !groups[p.Detection.Pages] {
		return fmt.Errorf("mode %s: detection uses undeclared page group %q", p.Name, p.Detection.Pages)
	}
	for i, s := range p.Synthesis.Steps {
		if s.Instruction == "" {
			return fmt.Errorf("mode %s: step %d has no instruction", p.Name, i+1)
		}
		if !groups[s.Pages] {
			return fmt.Errorf("mode %s: step %q uses undeclared page group %q", p.Name, s.Name, s.Pages)
		}
		if s.Chunk < 0 {
			return fmt.Errorf("mode %s: step %q has negative chunk size", p.Name, s.Name)
		}
		if i == 0 && (s.Previous || s.Continue) {
			return fmt.Errorf("mode %s: first step cannot depend on a previous step", p.Name)
		}
	}
	return nil
}

// Format returns the output format, defaulting to HTML.
func (p *Profile) Format() string {
	if p.Synthesis.Format == "" {
		return FormatHTML
	}
	return p.Synthesis.Format
}

// DetectionEnabled reports whether the profile asks for region detection.
func (p *Profile) DetectionEnabled() bool {
	switch p.Detection.Strategy {
	case StrategyInference, StrategyEmbedded:
		return true
	}
	return false
}

// DescribeEnabled reports whether regions get a description pass.
func (p *Profile) DescribeEnabled() bool {
	return p.Describe.Instruction != ""
}
