package analyses

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medvision/medvision/internal/domain/patients"
	"github.com/medvision/medvision/internal/platform/db"
	"github.com/medvision/medvision/internal/platform/inference"
)

type analysisRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &analysisRepoPG{pool: pool}
}

func (r *analysisRepoPG) conn(ctx context.Context) db.Querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// Every read joins the patient and result rows so callers always get the
// composed Analysis+Result pair.
const analysisSelect = `
	SELECT a.id, a.patient_id, a.diagnostician_id, a.clinician_id, a.image_path, a.created_at,
		p.id, p.mrn, p.first_name, p.last_name, p.date_of_birth, p.created_at,
		r.id, r.analysis_id, r.system_diagnosis, r.confidence, r.segmentation_path,
		r.diagnostician_conclusion, r.is_confirmed, r.feedback_correct, r.treatment_plan
	FROM analyses a
	JOIN patients p ON p.id = a.patient_id
	JOIN results r ON r.analysis_id = a.id`

func scanAnalysis(row pgx.Row) (*Analysis, error) {
	var a Analysis
	var p patients.Patient
	var res Result
	err := row.Scan(
		&a.ID, &a.PatientID, &a.DiagnosticianID, &a.ClinicianID, &a.ImagePath, &a.CreatedAt,
		&p.ID, &p.MRN, &p.FirstName, &p.LastName, &p.DateOfBirth, &p.CreatedAt,
		&res.ID, &res.AnalysisID, &res.SystemDiagnosis, &res.Confidence, &res.SegmentationPath,
		&res.DiagnosticianConclusion, &res.IsConfirmed, &res.FeedbackCorrect, &res.TreatmentPlan,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	a.Patient = &p
	a.Result = &res
	return &a, nil
}

func (r *analysisRepoPG) collect(rows pgx.Rows) ([]*Analysis, error) {
	defer rows.Close()
	var items []*Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *analysisRepoPG) CreateWithResult(ctx context.Context, a *Analysis) error {
	if a.Result == nil {
		return errors.New("analysis requires a result")
	}
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO analyses (patient_id, diagnostician_id, image_path)
			VALUES ($1, $2, $3)
			RETURNING id, created_at`,
			a.PatientID, a.DiagnosticianID, a.ImagePath).Scan(&a.ID, &a.CreatedAt)
		if err != nil {
			return err
		}
		a.Result.AnalysisID = a.ID
		return r.conn(ctx).QueryRow(ctx, `
			INSERT INTO results (analysis_id, system_diagnosis, confidence, segmentation_path, is_confirmed, feedback_correct)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			a.Result.AnalysisID, a.Result.SystemDiagnosis, a.Result.Confidence,
			a.Result.SegmentationPath, a.Result.IsConfirmed, a.Result.FeedbackCorrect).Scan(&a.Result.ID)
	})
}

func (r *analysisRepoPG) GetByID(ctx context.Context, id int64) (*Analysis, error) {
	return scanAnalysis(r.conn(ctx).QueryRow(ctx, analysisSelect+` WHERE a.id = $1`, id))
}

func (r *analysisRepoPG) ApplyFinding(ctx context.Context, analysisID int64, f inference.Finding) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE results SET system_diagnosis = $2, confidence = $3, segmentation_path = $4
		WHERE analysis_id = $1`,
		analysisID, f.Diagnosis, f.Confidence, f.SegmentationPath)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *analysisRepoPG) UpdateConclusion(ctx context.Context, analysisID int64, conclusion string, feedback Feedback) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE results SET diagnostician_conclusion = $2, is_confirmed = true, feedback_correct = $3
		WHERE analysis_id = $1`,
		analysisID, conclusion, feedback)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *analysisRepoPG) UpdateTreatment(ctx context.Context, analysisID, clinicianID int64, plan string) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			UPDATE results SET treatment_plan = $2 WHERE analysis_id = $1`,
			analysisID, plan)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		_, err = r.conn(ctx).Exec(ctx, `
			UPDATE analyses SET clinician_id = $2 WHERE id = $1`,
			analysisID, clinicianID)
		return err
	})
}

func (r *analysisRepoPG) ListByDiagnostician(ctx context.Context, diagnosticianID int64) ([]*Analysis, error) {
	rows, err := r.conn(ctx).Query(ctx,
		analysisSelect+` WHERE a.diagnostician_id = $1 ORDER BY a.created_at DESC, a.id DESC`,
		diagnosticianID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *analysisRepoPG) ListByPatient(ctx context.Context, patientID int64) ([]*Analysis, error) {
	rows, err := r.conn(ctx).Query(ctx,
		analysisSelect+` WHERE a.patient_id = $1 ORDER BY a.created_at DESC, a.id DESC`,
		patientID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *analysisRepoPG) ListAll(ctx context.Context, limit, offset int) ([]*Analysis, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM analyses`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		analysisSelect+` ORDER BY a.created_at DESC, a.id DESC LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := r.collect(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *analysisRepoPG) Metrics(ctx context.Context) (*Metrics, error) {
	var m Metrics
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE is_confirmed),
			COUNT(*) FILTER (WHERE is_confirmed AND feedback_correct = 1)
		FROM results`).Scan(&m.TotalConfirmed, &m.CorrectPredictions)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
