// Package optimistic applies local cache patches ahead of server writes and rolls them back
// when the write fails.
package optimistic

import (
	"context"
	"errors"
	"fmt"

	"github.com/cafecursor/cafecursor/internal/querycache"
	"go.uber.org/zap"
)

// Mutation describes one optimistic write. Keys lists every cache entry Apply may touch.
// Rollback, when set, undoes the patch from the snapshot instead of restoring the keys
// wholesale, leaving writes other mutations made to the same keys in place.
type Mutation struct {
	Name     string
	Keys     []string
	Apply    func(cache *querycache.Cache)
	Commit   func(ctx context.Context) error
	Rollback func(cache *querycache.Cache, saved querycache.Snapshot)
	Refetch  []string
}

var errMissingCommit = errors.New("optimistic: mutation commit required")

// Run snapshots the mutation keys, applies the local patch and commits. A failed commit runs
// Rollback, or restores the snapshot verbatim when there is none, before returning the error.
// After a successful commit the refetch keys are reloaded; refetch failures are only logged.
func Run(ctx context.Context, cache *querycache.Cache, mutation Mutation, logger *zap.Logger) error {
	if cache == nil {
		return fmt.Errorf("optimistic: cache required")
	}
	if mutation.Commit == nil {
		return errMissingCommit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	snapshot := cache.Snapshot(mutation.Keys...)
	if mutation.Apply != nil {
		mutation.Apply(cache)
	}

	if err := mutation.Commit(ctx); err != nil {
		if mutation.Rollback != nil {
			mutation.Rollback(cache, snapshot)
		} else {
			cache.Restore(snapshot)
		}
		logger.Info("optimistic mutation rolled back", zap.String("mutation", mutation.Name), zap.Error(err))
		return err
	}

	if len(mutation.Refetch) > 0 {
		if err := cache.Refetch(ctx, mutation.Refetch...); err != nil {
			logger.Warn("optimistic refetch failed", zap.String("mutation", mutation.Name), zap.Error(err))
		}
	}
	return nil
}
