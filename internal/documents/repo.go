package documents

import "context"

// Repo persists documents. ApplyPatch is a conditional update: it applies
// patch only when the current status is one of expected and reports whether
// it did.
type Repo interface {
	Create(ctx context.Context, doc Document) error
	GetByID(ctx context.Context, id string) (Document, error)
	ListByUser(ctx context.Context, userID string) ([]Document, error)
	ApplyPatch(ctx context.Context, id string, expected []Status, patch Patch) (Document, bool, error)
	CountByStatus(ctx context.Context, userID string) (map[Status]int, error)
	ListUnfinished(ctx context.Context, limit int) ([]Document, error)
}
