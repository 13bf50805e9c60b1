package ideas

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// DefaultRecentLimit bounds QueryRecent when callers pass a non-positive limit.
const DefaultRecentLimit = 7

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingClient     = errors.New("client is required")
	errMissingIDProvider = errors.New("id provider is required")
)

// Store is the authoritative persistence of saved ideas.
// Mutations are owner-scoped: a caller never modifies another owner's records.
type Store interface {
	Insert(ctx context.Context, idea Idea) (Idea, error)
	QueryByOwner(ctx context.Context, ownerID string) ([]Idea, error)
	QueryRecent(ctx context.Context, limit int) ([]Idea, error)
	Get(ctx context.Context, ideaID string) (Idea, error)
	DeleteByID(ctx context.Context, ownerID, ideaID string) error
	UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error
	ListIDs(ctx context.Context) ([]string, error)
}

// IDProvider issues identifiers for new records.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

func prepareInsert(idea Idea) (Idea, string, error) {
	ownerID, err := NewOwnerID(idea.OwnerID)
	if err != nil {
		return Idea{}, "invalid_owner", err
	}
	if ownerID == GuestOwnerID {
		return Idea{}, "guest_owner", ErrInvalidOwnerID
	}
	text, err := NormalizeText(idea.Text)
	if err != nil {
		return Idea{}, "invalid_text", err
	}
	idea.OwnerID = ownerID
	idea.Text = text
	idea.ImageURL = ""
	return idea, "", nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}
