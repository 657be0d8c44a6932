package execution

import "context"

// Repository defines the interface for report persistence
type Repository interface {
	// Save persists a finalized report
	Save(ctx context.Context, report *Report) error

	// FindByID retrieves a report by its run ID
	FindByID(ctx context.Context, id string) (*Report, error)

	// FindAll retrieves all reports, newest first
	FindAll(ctx context.Context) ([]*Report, error)

	// Delete removes a report by its run ID
	Delete(ctx context.Context, id string) error
}
