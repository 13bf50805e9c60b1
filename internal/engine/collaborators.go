package engine

import (
	"context"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
)

// PhraseSource draws a candidate that is not in used.
type PhraseSource interface {
	Generate(used *phrases.UsedSet) (string, error)
}

// LocalCache is the device-local list of approved idea texts plus integer counters.
type LocalCache interface {
	GetAll(ctx context.Context) ([]string, error)
	Append(ctx context.Context, text string) error
	Remove(ctx context.Context, text string) (bool, error)
	Clear(ctx context.Context) error
	GetCounter(ctx context.Context, key string) (int64, error)
	SetCounter(ctx context.Context, key string, value int64) error
}

// Store is the authoritative store as seen by a device.
type Store interface {
	Insert(ctx context.Context, idea ideas.Idea) (ideas.Idea, error)
	QueryByOwner(ctx context.Context, ownerID string) ([]ideas.Idea, error)
	QueryRecent(ctx context.Context, limit int) ([]ideas.Idea, error)
	Get(ctx context.Context, ideaID string) (ideas.Idea, error)
	DeleteByID(ctx context.Context, ownerID, ideaID string) error
	UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error
}

// AssetUploader stages image bytes at the asset host.
type AssetUploader interface {
	Upload(ctx context.Context, data []byte, ideaID string) (assets.Asset, error)
	Delete(ctx context.Context, assetID string) error
}
