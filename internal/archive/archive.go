package archive

import (
	"context"
	"io"
)

type PutInput struct {
	Name        string // logical name, e.g. "reconcile-2026-08-31.json"
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

// Archive retains bulky artifacts (full reconciliation reports) outside the
// database.
type Archive interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Delete(ctx context.Context, key string) error
}
