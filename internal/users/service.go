// Package users keeps the author directory that turns session claims into idea authors.
package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/auth"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AnonymousDisplayName is shown when neither a display name nor an email is known.
const AnonymousDisplayName = "Anónimo"

// ErrInvalidIdentity indicates the claims did not name an owner.
var ErrInvalidIdentity = errors.New("users: invalid identity")

// DisplayName applies the author fallback chain: display name, then email, then anonymous.
func DisplayName(displayName, email string) string {
	if name := normalize(displayName); name != "" {
		return name
	}
	if address := normalize(email); address != "" {
		return address
	}
	return AnonymousDisplayName
}

type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service records authors as they sign in and resolves their display names.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Author is the resolved owner of a request.
type Author struct {
	UserID      string
	DisplayName string
}

// ResolveAuthor upserts the directory row for claims and returns the author to stamp on
// new ideas. Profile fields in the claims only overwrite the row when they are non-empty.
func (s *Service) ResolveAuthor(ctx context.Context, claims auth.SessionClaims) (Author, error) {
	ownerID := claims.OwnerID()
	if ownerID == "" {
		return Author{}, ErrInvalidIdentity
	}

	row := Identity{
		UserID:      ownerID,
		Email:       normalize(claims.UserEmail),
		DisplayName: normalize(claims.UserDisplayName),
		LastSeenAt:  s.now(),
	}
	updates := map[string]interface{}{"last_seen_at": row.LastSeenAt}
	if row.Email != "" {
		updates["user_email"] = row.Email
	}
	if row.DisplayName != "" {
		updates["user_display_name"] = row.DisplayName
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&row).Error
	if err != nil {
		return Author{}, fmt.Errorf("users: record author: %w", err)
	}

	var stored Identity
	if err := s.db.WithContext(ctx).Where("user_id = ?", ownerID).Take(&stored).Error; err != nil {
		return Author{}, fmt.Errorf("users: load author: %w", err)
	}
	return Author{UserID: ownerID, DisplayName: DisplayName(stored.DisplayName, stored.Email)}, nil
}

// LookupDisplayName returns the display name recorded for ownerID, or the anonymous name
// when the owner never signed in.
func (s *Service) LookupDisplayName(ctx context.Context, ownerID string) (string, error) {
	var stored Identity
	err := s.db.WithContext(ctx).Where("user_id = ?", normalize(ownerID)).Take(&stored).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AnonymousDisplayName, nil
	}
	if err != nil {
		return "", err
	}
	return DisplayName(stored.DisplayName, stored.Email), nil
}
