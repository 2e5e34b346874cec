package analyzer

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ivlev/pdf2html/internal/inference"
	"github.com/ivlev/pdf2html/internal/mode"
)

// NewDetector creates a detector for the profile's detection strategy.
func NewDetector(cfg mode.Detection, caller inference.Caller, opts Options, log zerolog.Logger) (Detector, error) {
	switch cfg.Strategy {
	case mode.StrategyNone, "":
		return NoneDetector{}, nil
	case mode.StrategyInference:
		if caller == nil {
			return nil, fmt.Errorf("inference detector needs an inference client")
		}
		return NewInferenceDetector(cfg, caller, opts, log), nil
	case mode.StrategyEmbedded:
		return NewEmbeddedDetector(log), nil
	default:
		return nil, fmt.Errorf("unknown detector strategy: %s", cfg.Strategy)
	}
}
