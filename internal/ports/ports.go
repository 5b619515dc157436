package ports

import (
	"context"
	"errors"
	"time"

	"TenderScanner/internal/domain"
)

// ErrNotFound is returned by lookups when the requested entity is absent.
var ErrNotFound = errors.New("not found")

// SourceRegistry provides access to configured sources.
type SourceRegistry interface {
	Get(ctx context.Context, id int64) (domain.Source, error)
	ListActive(ctx context.Context) ([]domain.Source, error)
	SetLastRun(ctx context.Context, id int64, at time.Time) error
}

// TenderStore persists finalized tender records and answers dedup checks.
type TenderStore interface {
	Exists(ctx context.Context, sourceName, url string) (bool, error)
	Insert(ctx context.Context, record domain.TenderRecord) error
}

// Extractor converts announcement text into structured tender fields.
// A nil result with a nil error means the service produced no usable payload.
type Extractor interface {
	Extract(ctx context.Context, title, content string) (*domain.ExtractedFields, error)
}
