// Package reconciler deletes hosted images whose idea no longer exists in the store.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"go.uber.org/zap"
)

var (
	errMissingLister = errors.New("idea id lister required")
	errMissingHost   = errors.New("asset host required")
)

// IDLister lists every idea id live in the authoritative store.
type IDLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// AssetHost is the part of the asset host the reconciler needs.
type AssetHost interface {
	ListByTag(ctx context.Context, tag string) ([]assets.TaggedAsset, error)
	Delete(ctx context.Context, assetID string) error
}

type Config struct {
	Store   IDLister
	Host    AssetHost
	Tag     string
	DryRun  bool
	Metrics *Metrics
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Result reports one run. Orphans lists every orphaned asset found; Deleted and Errors
// partition it unless the run was a dry run.
type Result struct {
	Deleted []string
	Errors  []ItemError
	Orphans []assets.TaggedAsset
}

// ItemError is a single failed deletion.
type ItemError struct {
	AssetID string
	Err     error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("delete %s: %v", e.AssetID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}

// ErrorIDs returns the asset ids that failed to delete.
func (r Result) ErrorIDs() []string {
	ids := make([]string, 0, len(r.Errors))
	for _, item := range r.Errors {
		ids = append(ids, item.AssetID)
	}
	return ids
}

type Reconciler struct {
	store   IDLister
	host    AssetHost
	tag     string
	dryRun  bool
	metrics *Metrics
	clock   func() time.Time
	logger  *zap.Logger
}

func New(cfg Config) (*Reconciler, error) {
	if cfg.Store == nil {
		return nil, errMissingLister
	}
	if cfg.Host == nil {
		return nil, errMissingHost
	}
	tag := cfg.Tag
	if tag == "" {
		tag = assets.DefaultTag
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:   cfg.Store,
		host:    cfg.Host,
		tag:     tag,
		dryRun:  cfg.DryRun,
		metrics: cfg.Metrics,
		clock:   clock,
		logger:  logger,
	}, nil
}

// Reconcile runs one pass. Listing failures abort the run before anything is deleted;
// deletion failures are collected per asset and the batch continues. Assets without an
// idea annotation are never treated as orphans.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	started := r.clock()

	liveIDs, err := r.store.ListIDs(ctx)
	if err != nil {
		r.logger.Error("reconciler failed to list idea ids", zap.Error(err))
		return Result{}, fmt.Errorf("list idea ids: %w", err)
	}
	live := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = struct{}{}
	}

	tagged, err := r.host.ListByTag(ctx, r.tag)
	if err != nil {
		r.logger.Error("reconciler failed to list assets", zap.String("tag", r.tag), zap.Error(err))
		return Result{}, fmt.Errorf("list assets by tag %q: %w", r.tag, err)
	}

	result := Result{
		Deleted: []string{},
		Errors:  []ItemError{},
		Orphans: orphans(tagged, live),
	}
	unannotated := 0
	for _, asset := range tagged {
		if asset.IdeaID == "" {
			unannotated++
		}
	}

	if !r.dryRun {
		for _, orphan := range result.Orphans {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if err := r.host.Delete(ctx, orphan.AssetID); err != nil {
				r.logger.Warn("orphan delete failed",
					zap.String("asset_id", orphan.AssetID),
					zap.String("idea_id", orphan.IdeaID),
					zap.Error(err))
				result.Errors = append(result.Errors, ItemError{AssetID: orphan.AssetID, Err: err})
				continue
			}
			result.Deleted = append(result.Deleted, orphan.AssetID)
		}
	}

	finished := r.clock()
	r.metrics.observe(result, float64(finished.Unix()), finished.Sub(started).Seconds())
	r.logger.Info("reconciler run complete",
		zap.Int("live_ideas", len(live)),
		zap.Int("tagged_assets", len(tagged)),
		zap.Int("unannotated_assets", unannotated),
		zap.Int("orphans", len(result.Orphans)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("errors", len(result.Errors)),
		zap.Bool("dry_run", r.dryRun))
	return result, nil
}

func orphans(tagged []assets.TaggedAsset, live map[string]struct{}) []assets.TaggedAsset {
	result := make([]assets.TaggedAsset, 0)
	for _, asset := range tagged {
		if asset.IdeaID == "" {
			continue
		}
		if _, ok := live[asset.IdeaID]; ok {
			continue
		}
		result = append(result, asset)
	}
	return result
}
