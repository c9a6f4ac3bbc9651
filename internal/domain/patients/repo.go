package patients

import "context"

// Repository defines the persistence interface for the patient registry.
type Repository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id int64) (*Patient, error)
	FindByMRN(ctx context.Context, mrn string) (*Patient, error)
	// FindOrCreateByMRN resolves a patient by MRN, creating a minimal record
	// (MRN only, names unset) when absent. The MRN is taken as-is: no format
	// validation and no duplicate-intent detection, so callers that accept
	// free-text MRNs are silently minting patient identities.
	FindOrCreateByMRN(ctx context.Context, mrn string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
}
