package extract

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/nken-eccs/gitrefer/internal/models"
)

// batchParallelism bounds concurrent registry lookups; the registries
// rate-limit aggressively beyond a handful of in-flight requests.
const batchParallelism = 4

// BatchResult collects per-item outcomes of a batch resolution.
// Resolved preserves the input order of the DOIs that succeeded.
type BatchResult struct {
	Resolved []Resolved
	Failures map[string]error
}

// Resolved pairs an input DOI with its metadata record.
type Resolved struct {
	DOI      string
	Metadata models.Metadata
}

// ResolveBatch resolves all DOIs with bounded parallelism. Individual
// failures never abort the batch; they are collected per item. Only
// context cancellation stops the whole run early.
func ResolveBatch(ctx context.Context, extractor Extractor, dois []string) (BatchResult, error) {
	var (
		mu      sync.Mutex
		records = make([]*models.Metadata, len(dois))
		result  = BatchResult{Failures: make(map[string]error)}
	)

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(batchParallelism)
	for i, doi := range dois {
		group.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			meta, err := extractor.FromDOI(ctx, doi)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[doi] = err
				return nil
			}
			records[i] = &meta
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return BatchResult{}, err
	}

	for i, record := range records {
		if record != nil {
			result.Resolved = append(result.Resolved, Resolved{DOI: dois[i], Metadata: *record})
		}
	}
	return result, nil
}
