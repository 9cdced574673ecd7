package reconcile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"rmcloud/internal/artifactcache"
	"rmcloud/internal/cloud"
	"rmcloud/internal/logging"
)

// Store is the subset of the artifact cache reconciliation needs.
type Store interface {
	Keys() iter.Seq2[artifactcache.Key, error]
	Remove(key artifactcache.Key) error
}

type docVersion struct {
	id      string
	version int
}

// Reconciler prunes a cache against listings.
type Reconciler struct {
	store  Store
	logger *slog.Logger
	// OnReconcile, when set, observes each completed pass.
	OnReconcile func(removed int, err error)
}

// New returns a Reconciler. A nil store (cache disabled) makes every pass a no-op.
func New(store Store, logger *slog.Logger) *Reconciler {
	if c, ok := store.(*artifactcache.Cache); ok && c == nil {
		store = nil
	}
	return &Reconciler{store: store, logger: logging.NewComponentLogger(logger, "reconcile")}
}

// Reconcile removes every cached entry whose pair is absent from tree and
// returns how many were removed. Per-entry removal failures are logged and
// skipped; failing to enumerate the cache aborts the pass.
func (r *Reconciler) Reconcile(ctx context.Context, tree cloud.Tree) (int, error) {
	if r == nil || r.store == nil {
		return 0, nil
	}
	valid := make(map[docVersion]struct{}, len(tree))
	for _, entry := range tree {
		if entry.IsDocument() {
			valid[docVersion{entry.ID, entry.Version}] = struct{}{}
		}
	}

	removed := 0
	var failed int
	for key, err := range r.store.Keys() {
		if err != nil {
			r.report(removed, err)
			return removed, fmt.Errorf("reconcile cache: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.report(removed, ctxErr)
			return removed, ctxErr
		}
		if _, ok := valid[docVersion{key.DocumentID, key.Version}]; ok {
			continue
		}
		if err := r.store.Remove(key); err != nil {
			failed++
			logging.WarnWithContext(r.logger, "failed to evict stale artifact", "cache_io",
				logging.String("key", key.String()),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check permissions of the cache directory"),
				logging.String(logging.FieldImpact, "stale artifact kept until the next pass"),
			)
			continue
		}
		removed++
		r.logger.Debug("evicted stale artifact", logging.String("key", key.String()))
	}

	if removed > 0 || failed > 0 {
		r.logger.Info("cache reconciled",
			logging.Int("removed", removed),
			logging.Int("failed", failed),
			logging.Int("listed_documents", len(valid)),
		)
	}
	r.report(removed, nil)
	return removed, nil
}

func (r *Reconciler) report(removed int, err error) {
	if r.OnReconcile != nil && !errors.Is(err, context.Canceled) {
		r.OnReconcile(removed, err)
	}
}
