package ideas

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// LocalIDPrefix marks identifiers minted by the device cache.
	LocalIDPrefix = "local-"
	// GuestOwnerID owns every idea saved without an authenticated identity.
	GuestOwnerID = "guest"

	MinTextLength = 5
	MaxTextLength = 200

	maxIdentifierLength = 190
)

var (
	// ErrInvalidText indicates the idea text is outside the accepted length bounds.
	ErrInvalidText = errors.New("ideas: invalid text")
	// ErrInvalidIdeaID indicates an empty or oversized idea identifier.
	ErrInvalidIdeaID = errors.New("ideas: invalid idea id")
	// ErrInvalidOwnerID indicates an empty or oversized owner identifier.
	ErrInvalidOwnerID = errors.New("ideas: invalid owner id")
	// ErrIdeaNotFound is returned when no record owned by the caller matches.
	ErrIdeaNotFound = errors.New("ideas: idea not found")
	// ErrImageAlreadySet is returned when an image url was already recorded.
	ErrImageAlreadySet = errors.New("ideas: image already set")
	// ErrStorageFull is returned when the owner already holds the maximum number of ideas.
	ErrStorageFull = errors.New("ideas: storage ceiling reached")
	// ErrDailyLimit is returned when the owner already saved the daily maximum.
	ErrDailyLimit = errors.New("ideas: daily limit reached")
)

// Idea is a saved idea as seen by callers of either storage tier.
type Idea struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	OwnerID          string    `json:"ownerId"`
	OwnerDisplayName string    `json:"ownerDisplayName"`
	ImageURL         string    `json:"imageUrl,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// IsLocal reports whether the idea only exists in the device cache.
func (i Idea) IsLocal() bool {
	return IsLocalID(i.ID)
}

// HasImage reports whether an image was attached.
func (i Idea) HasImage() bool {
	return i.ImageURL != ""
}

// IsLocalID reports whether id carries the local prefix.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// LocalID derives the identifier of the index-th cached idea.
func LocalID(index int) string {
	return LocalIDPrefix + strconv.Itoa(index)
}

// NormalizeText applies NFC normalization and trimming, then enforces the length bounds
// measured in characters.
func NormalizeText(raw string) (string, error) {
	text := strings.TrimSpace(norm.NFC.String(raw))
	length := utf8.RuneCountInString(text)
	if length < MinTextLength {
		return "", fmt.Errorf("%w: %d characters, minimum %d", ErrInvalidText, length, MinTextLength)
	}
	if length > MaxTextLength {
		return "", fmt.Errorf("%w: %d characters, maximum %d", ErrInvalidText, length, MaxTextLength)
	}
	return text, nil
}

// NewIdeaID validates a remote idea identifier.
func NewIdeaID(raw string) (string, error) {
	return validateIdentifier(raw, ErrInvalidIdeaID)
}

// NewOwnerID validates an owner identifier.
func NewOwnerID(raw string) (string, error) {
	return validateIdentifier(raw, ErrInvalidOwnerID)
}

func validateIdentifier(raw string, sentinel error) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", sentinel)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", sentinel, maxIdentifierLength)
	}
	return trimmed, nil
}

// NextCreatedAt returns a creation instant strictly after latest, preferring now.
// Millisecond resolution matches what the stores persist.
func NextCreatedAt(latest, now time.Time) time.Time {
	candidate := now.UTC().Truncate(time.Millisecond)
	if latest.IsZero() {
		return candidate
	}
	floor := latest.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	if candidate.Before(floor) {
		return floor
	}
	return candidate
}

// Record is the relational row backing an idea.
type Record struct {
	IdeaID           string `gorm:"column:idea_id;primaryKey;size:190;not null"`
	OwnerID          string `gorm:"column:owner_id;size:190;not null;index:idx_ideas_owner_created,priority:1"`
	OwnerDisplayName string `gorm:"column:owner_display_name;size:320;not null;default:''"`
	Text             string `gorm:"column:text;size:1024;not null"`
	ImageURL         string `gorm:"column:image_url;size:1024;not null;default:''"`
	CreatedAtMillis  int64  `gorm:"column:created_at_ms;not null;index:idx_ideas_owner_created,priority:2;index:idx_ideas_created"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "ideas"
}

func (r Record) toIdea() Idea {
	return Idea{
		ID:               r.IdeaID,
		Text:             r.Text,
		OwnerID:          r.OwnerID,
		OwnerDisplayName: r.OwnerDisplayName,
		ImageURL:         r.ImageURL,
		CreatedAt:        time.UnixMilli(r.CreatedAtMillis).UTC(),
	}
}

func recordsToIdeas(records []Record) []Idea {
	result := make([]Idea, 0, len(records))
	for _, record := range records {
		result = append(result, record.toIdea())
	}
	return result
}
