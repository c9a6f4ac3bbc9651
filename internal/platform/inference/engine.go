// Package inference defines the boundary to the computer-vision collaborator.
// The engine is a black box: the workflow hands it a stored image path and
// receives a diagnosis, a confidence score, and a segmentation artifact path.
package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnavailable wraps any engine failure. Callers map it to an upstream
// error response.
var ErrUnavailable = errors.New("inference engine unavailable")

// Finding is the engine's output for a single image.
type Finding struct {
	Diagnosis        string  `json:"diagnosis"`
	Confidence       float64 `json:"confidence"`
	SegmentationPath string  `json:"segmentation_path"`
}

// Engine runs computer-vision analysis on a stored image. Implementations
// must be safe for concurrent use; the async dispatcher calls Analyze from
// multiple workers.
type Engine interface {
	Analyze(ctx context.Context, imagePath string) (*Finding, error)
}

// StubEngine is a placeholder engine that returns a fixed diagnosis and
// materializes an empty segmentation mask next to the uploads. A real
// deployment swaps it for a client of the inference service without touching
// the workflow.
type StubEngine struct {
	root string
}

// NewStubEngine creates the segmentations directory under root if needed.
func NewStubEngine(root string) (*StubEngine, error) {
	if err := os.MkdirAll(filepath.Join(root, "segmentations"), 0o755); err != nil {
		return nil, fmt.Errorf("create segmentations directory: %w", err)
	}
	return &StubEngine{root: root}, nil
}

func (e *StubEngine) Analyze(ctx context.Context, imagePath string) (*Finding, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	base := filepath.Base(imagePath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	maskRel := filepath.Join("segmentations", name+"_mask.png")

	// The stub stands in for the model writing a real mask.
	if err := os.WriteFile(filepath.Join(e.root, maskRel), nil, 0o644); err != nil {
		return nil, fmt.Errorf("%w: write mask: %v", ErrUnavailable, err)
	}

	return &Finding{
		Diagnosis:        "Probable pneumonia (CV stub)",
		Confidence:       0.85,
		SegmentationPath: maskRel,
	}, nil
}
