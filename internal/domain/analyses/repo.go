package analyses

import (
	"context"

	"github.com/medvision/medvision/internal/platform/inference"
)

// Repository defines the persistence interface for the analysis workflow.
type Repository interface {
	// CreateWithResult inserts the analysis and its placeholder result in one
	// transaction; on failure neither row persists.
	CreateWithResult(ctx context.Context, a *Analysis) error
	// GetByID loads an analysis with its patient and result.
	GetByID(ctx context.Context, id int64) (*Analysis, error)
	// ApplyFinding writes inference output onto the result, keyed by analysis
	// id. Idempotent: re-applying the same finding is a no-op in effect.
	ApplyFinding(ctx context.Context, analysisID int64, f inference.Finding) error
	// UpdateConclusion records the diagnostician's conclusion and feedback,
	// marking the result confirmed. Re-confirmation overwrites.
	UpdateConclusion(ctx context.Context, analysisID int64, conclusion string, feedback Feedback) error
	// UpdateTreatment records the treatment plan and binds the clinician.
	UpdateTreatment(ctx context.Context, analysisID, clinicianID int64, plan string) error
	ListByDiagnostician(ctx context.Context, diagnosticianID int64) ([]*Analysis, error)
	ListByPatient(ctx context.Context, patientID int64) ([]*Analysis, error)
	ListAll(ctx context.Context, limit, offset int) ([]*Analysis, int, error)
	Metrics(ctx context.Context) (*Metrics, error)
}
