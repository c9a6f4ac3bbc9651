package analyses

import (
	"context"
	"io"
	"math"

	"github.com/rs/zerolog"

	"github.com/medvision/medvision/internal/domain/patients"
	"github.com/medvision/medvision/internal/platform/inference"
	"github.com/medvision/medvision/internal/platform/storage"
)

// Service orchestrates the analysis workflow: upload and annotation,
// confirmation, prescription, history views and feedback aggregation.
type Service struct {
	repo       Repository
	patients   patients.Repository
	store      storage.ImageStore
	dispatcher inference.Dispatcher
	logger     zerolog.Logger
}

func NewService(repo Repository, patientRepo patients.Repository, store storage.ImageStore, logger zerolog.Logger) *Service {
	return &Service{repo: repo, patients: patientRepo, store: store, logger: logger}
}

// SetDispatcher wires the inference dispatcher. Set after construction
// because the dispatcher applies findings back through this service.
func (s *Service) SetDispatcher(d inference.Dispatcher) { s.dispatcher = d }

// ApplyFinding implements inference.ResultApplier: inference output is
// written in a second, idempotent update keyed by analysis id, never inside
// the upload transaction.
func (s *Service) ApplyFinding(ctx context.Context, analysisID int64, f inference.Finding) error {
	return s.repo.ApplyFinding(ctx, analysisID, f)
}

// Upload stores the image, resolves the patient, creates the Analysis+Result
// pair in one transaction and dispatches inference. On any failure after the
// image is stored, the file is removed so no orphan remains.
func (s *Service) Upload(ctx context.Context, mrn string, diagnosticianID int64, fileName string, content io.Reader) (*Analysis, error) {
	imagePath, err := s.store.Save(ctx, fileName, content)
	if err != nil {
		return nil, err
	}

	cleanup := func() {
		if rmErr := s.store.Remove(ctx, imagePath); rmErr != nil {
			s.logger.Warn().Err(rmErr).Str("path", imagePath).Msg("orphan image cleanup failed")
		}
	}

	patient, err := s.patients.FindOrCreateByMRN(ctx, mrn)
	if err != nil {
		cleanup()
		return nil, err
	}

	a := &Analysis{
		PatientID:       patient.ID,
		DiagnosticianID: diagnosticianID,
		ImagePath:       imagePath,
		Result: &Result{
			IsConfirmed:     false,
			FeedbackCorrect: FeedbackUnset,
		},
	}
	if err := s.repo.CreateWithResult(ctx, a); err != nil {
		cleanup()
		return nil, err
	}

	if err := s.dispatcher.Dispatch(ctx, a.ID, imagePath); err != nil {
		return nil, err
	}

	// Re-read so a synchronous dispatch returns the annotated result.
	return s.repo.GetByID(ctx, a.ID)
}

// Confirm records the diagnostician's conclusion and correctness rating.
// Only the owning diagnostician may confirm; re-confirmation overwrites
// (last-write-wins).
func (s *Service) Confirm(ctx context.Context, analysisID, actorID int64, conclusion string, isCorrect bool) (*Analysis, error) {
	a, err := s.repo.GetByID(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	if a.DiagnosticianID != actorID {
		return nil, ErrNotOwner
	}
	if err := s.repo.UpdateConclusion(ctx, analysisID, conclusion, FeedbackFromBool(isCorrect)); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, analysisID)
}

// Prescribe records a treatment plan and binds the clinician to the
// analysis. Prescription does not require prior confirmation.
func (s *Service) Prescribe(ctx context.Context, analysisID, clinicianID int64, plan string) (*Analysis, error) {
	if _, err := s.repo.GetByID(ctx, analysisID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateTreatment(ctx, analysisID, clinicianID, plan); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, analysisID)
}

// OwnedHistory returns the diagnostician's own analyses, newest first.
func (s *Service) OwnedHistory(ctx context.Context, diagnosticianID int64) ([]*Analysis, error) {
	return s.repo.ListByDiagnostician(ctx, diagnosticianID)
}

// Get loads one analysis with its patient and result.
func (s *Service) Get(ctx context.Context, analysisID int64) (*Analysis, error) {
	return s.repo.GetByID(ctx, analysisID)
}

// History returns a patient and all their analyses, newest first.
func (s *Service) History(ctx context.Context, mrn string) (*PatientHistory, error) {
	patient, err := s.patients.FindByMRN(ctx, mrn)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListByPatient(ctx, patient.ID)
	if err != nil {
		return nil, err
	}
	return &PatientHistory{Patient: patient, Analyses: items}, nil
}

// ListAll returns the paginated global view of analyses.
func (s *Service) ListAll(ctx context.Context, limit, offset int) ([]*Analysis, int, error) {
	return s.repo.ListAll(ctx, limit, offset)
}

// FeedbackMetrics aggregates confirmation feedback. Accuracy is
// 100 × correct / total rounded to two decimals, and 0.0 when nothing has
// been confirmed yet.
func (s *Service) FeedbackMetrics(ctx context.Context) (*Metrics, error) {
	m, err := s.repo.Metrics(ctx)
	if err != nil {
		return nil, err
	}
	if m.TotalConfirmed > 0 {
		raw := 100 * float64(m.CorrectPredictions) / float64(m.TotalConfirmed)
		m.AccuracyPercentage = math.Round(raw*100) / 100
	}
	return m, nil
}
