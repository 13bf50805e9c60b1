package engine

import (
	"context"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"go.uber.org/zap"
)

// fallbackReader is the single read policy: authenticated reads go to the store, and any
// store failure degrades to the local view together with a transient error.
type fallbackReader struct {
	store  Store
	cache  LocalCache
	logger *zap.Logger
}

// own loads the active idea list for snapshot, newest first.
func (r fallbackReader) own(ctx context.Context, operation string, snapshot identity.Snapshot) ([]ideas.Idea, bool, error) {
	if !snapshot.Present {
		local, err := r.local(ctx)
		if err != nil {
			return []ideas.Idea{}, false, newError(KindTransientStore, operation, "local_read_failed", err)
		}
		return local, false, nil
	}
	remote, err := r.store.QueryByOwner(ctx, snapshot.ID)
	if err == nil {
		return remote, false, nil
	}
	return r.degrade(ctx, operation, "query_by_owner_failed", err, zap.String("owner_id", snapshot.ID))
}

// recent loads the community list.
func (r fallbackReader) recent(ctx context.Context, operation string, limit int) ([]ideas.Idea, bool, error) {
	remote, err := r.store.QueryRecent(ctx, limit)
	if err == nil {
		return remote, false, nil
	}
	return r.degrade(ctx, operation, "query_recent_failed", err, zap.Int("limit", limit))
}

func (r fallbackReader) degrade(ctx context.Context, operation, reason string, cause error, fields ...zap.Field) ([]ideas.Idea, bool, error) {
	r.logger.Warn("store read failed, using local cache",
		append([]zap.Field{zap.String("operation", operation), zap.String("reason", reason), zap.Error(cause)}, fields...)...)
	local, localErr := r.local(ctx)
	if localErr != nil {
		r.logger.Warn("local cache read failed", zap.String("operation", operation), zap.Error(localErr))
		local = []ideas.Idea{}
	}
	return local, true, newError(KindTransientStore, operation, reason, joinCause(ErrStoreUnavailable, cause))
}

// local converts the text-only cache list into ideas, newest first. The id of each entry is
// its insertion position, so ids shift when earlier entries are removed.
func (r fallbackReader) local(ctx context.Context) ([]ideas.Idea, error) {
	texts, err := r.cache.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	result := make([]ideas.Idea, 0, len(texts))
	for index := len(texts) - 1; index >= 0; index-- {
		result = append(result, ideas.Idea{
			ID:               ideas.LocalID(index),
			Text:             texts[index],
			OwnerID:          ideas.GuestOwnerID,
			OwnerDisplayName: users.AnonymousDisplayName,
		})
	}
	return result, nil
}
