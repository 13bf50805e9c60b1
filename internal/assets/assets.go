// Package assets stores idea images at an external host and lists them back by tag.
package assets

import (
	"context"
	"errors"
)

// DefaultTag marks every asset uploaded by the application.
const DefaultTag = "mideita_upload"

// MaxImageBytes bounds a single upload.
const MaxImageBytes = 10 << 20

var (
	ErrEmptyPayload    = errors.New("assets: empty payload")
	ErrPayloadTooLarge = errors.New("assets: payload too large")
	ErrMissingIdeaID   = errors.New("assets: idea id required")
	ErrAssetNotFound   = errors.New("assets: asset not found")
)

// Asset is the result of a confirmed upload.
type Asset struct {
	ID     string
	URL    string
	IdeaID string
}

// TaggedAsset is a hosted asset annotated with the idea it was attached to.
// IdeaID is empty when the asset carries no idea annotation.
type TaggedAsset struct {
	AssetID string
	IdeaID  string
}

// Host is the external asset host.
type Host interface {
	Upload(ctx context.Context, data []byte, ideaID string) (Asset, error)
	ListByTag(ctx context.Context, tag string) ([]TaggedAsset, error)
	Delete(ctx context.Context, assetID string) error
}

func validateUpload(data []byte, ideaID string) error {
	if ideaID == "" {
		return ErrMissingIdeaID
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if len(data) > MaxImageBytes {
		return ErrPayloadTooLarge
	}
	return nil
}
