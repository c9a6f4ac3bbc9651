package analyses

import (
	"errors"
	"time"

	"github.com/medvision/medvision/internal/domain/patients"
)

var (
	// ErrNotFound is returned when an analysis or its result does not exist.
	ErrNotFound = errors.New("analysis not found")
	// ErrNotOwner is returned when a diagnostician confirms an analysis they
	// did not create. Never downgraded to not-found.
	ErrNotOwner = errors.New("not the owning diagnostician")
)

// Feedback is the diagnostician's rating of the system diagnosis. It is a
// closed tri-state that serializes as the wire integers -1/0/1.
type Feedback int

const (
	FeedbackUnset     Feedback = -1
	FeedbackIncorrect Feedback = 0
	FeedbackCorrect   Feedback = 1
)

// FeedbackFromBool maps the confirm payload's is_correct flag to feedback.
func FeedbackFromBool(correct bool) Feedback {
	if correct {
		return FeedbackCorrect
	}
	return FeedbackIncorrect
}

// Result maps to the results table, 1:1 with its analysis. Created together
// with the analysis as a placeholder, annotated by inference, then mutated by
// the confirm and prescribe steps.
type Result struct {
	ID                      int64    `db:"id" json:"id"`
	AnalysisID              int64    `db:"analysis_id" json:"analysis_id"`
	SystemDiagnosis         string   `db:"system_diagnosis" json:"system_diagnosis"`
	Confidence              float64  `db:"confidence" json:"confidence"`
	SegmentationPath        string   `db:"segmentation_path" json:"segmentation_path"`
	DiagnosticianConclusion *string  `db:"diagnostician_conclusion" json:"diagnostician_conclusion,omitempty"`
	IsConfirmed             bool     `db:"is_confirmed" json:"is_confirmed"`
	FeedbackCorrect         Feedback `db:"feedback_correct" json:"feedback_correct"`
	TreatmentPlan           *string  `db:"treatment_plan" json:"treatment_plan,omitempty"`
}

// Analysis maps to the analyses table. Owned by the diagnostician who
// uploaded it; the clinician id is set by the prescription step.
type Analysis struct {
	ID              int64     `db:"id" json:"id"`
	PatientID       int64     `db:"patient_id" json:"patient_id"`
	DiagnosticianID int64     `db:"diagnostician_id" json:"diagnostician_id"`
	ClinicianID     *int64    `db:"clinician_id" json:"clinician_id,omitempty"`
	ImagePath       string    `db:"image_path" json:"image_path"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`

	Patient *patients.Patient `json:"patient,omitempty"`
	Result  *Result           `json:"result,omitempty"`
}

// Metrics aggregates diagnostician feedback over confirmed analyses.
type Metrics struct {
	TotalConfirmed     int64   `json:"total_confirmed"`
	CorrectPredictions int64   `json:"correct_predictions"`
	AccuracyPercentage float64 `json:"accuracy_percentage"`
}

// PatientHistory is a patient together with their analyses, newest first.
type PatientHistory struct {
	Patient  *patients.Patient `json:"patient"`
	Analyses []*Analysis       `json:"analyses"`
}
