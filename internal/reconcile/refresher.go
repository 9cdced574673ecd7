package reconcile

import (
	"context"
	"log/slog"
	"time"

	"rmcloud/internal/cloud"
	"rmcloud/internal/logging"
)

// Lister fetches the current tree.
type Lister interface {
	ListFiles(ctx context.Context) (cloud.Tree, error)
}

// Refresher periodically lists the cloud, publishes the index and reconciles.
type Refresher struct {
	lister     Lister
	reconciler *Reconciler
	index      *cloud.IndexHolder
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

// NewRefresher builds a periodic refresher. index may be nil.
func NewRefresher(lister Lister, reconciler *Reconciler, index *cloud.IndexHolder, interval, timeout time.Duration, logger *slog.Logger) *Refresher {
	return &Refresher{
		lister:     lister,
		reconciler: reconciler,
		index:      index,
		interval:   interval,
		timeout:    timeout,
		logger:     logging.NewComponentLogger(logger, "refresher"),
	}
}

// Run refreshes every interval until ctx is done. A non-positive interval
// returns immediately.
func (r *Refresher) Run(ctx context.Context) {
	if r == nil || r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
				logging.WarnWithContext(r.logger, "periodic refresh failed", "refresh_failed",
					logging.Error(err),
					logging.String(logging.FieldErrorHint, "register the server or check network access"),
					logging.String(logging.FieldImpact, "cache not pruned this interval"),
				)
			}
		}
	}
}

// RefreshOnce lists the cloud once, stores the new index and reconciles.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	listCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		listCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}
	tree, err := r.lister.ListFiles(listCtx)
	if err != nil {
		return err
	}
	if r.index != nil {
		r.index.Store(cloud.NewIndex(tree))
	}
	_, err = r.reconciler.Reconcile(ctx, tree)
	return err
}
