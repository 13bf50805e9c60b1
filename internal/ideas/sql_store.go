package ideas

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// SQLStoreConfig describes the dependencies of the relational store.
type SQLStoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
}

// SQLStore persists ideas through GORM.
type SQLStore struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
}

// NewSQLStore validates the configuration and constructs the store.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &SQLStore{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Insert assigns an identifier and a per-owner monotonic creation time, then stores the idea.
func (s *SQLStore) Insert(ctx context.Context, idea Idea) (Idea, error) {
	prepared, reason, err := prepareInsert(idea)
	if err != nil {
		s.logError(opInsert, reason, err, zap.String("owner_id", idea.OwnerID))
		return Idea{}, newServiceError(opInsert, reason, err)
	}
	ideaID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opInsert, "id_generation_failed", err)
		return Idea{}, newServiceError(opInsert, "id_generation_failed", err)
	}
	prepared.ID = ideaID

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var latest Record
		latestCreatedAt := time.Time{}
		err := tx.Where("owner_id = ?", prepared.OwnerID).
			Order("created_at_ms DESC").
			Take(&latest).Error
		if err == nil {
			latestCreatedAt = time.UnixMilli(latest.CreatedAtMillis)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logError(opInsert, "latest_select_failed", err, zap.String("owner_id", prepared.OwnerID))
			return newServiceError(opInsert, "latest_select_failed", err)
		}
		prepared.CreatedAt = NextCreatedAt(latestCreatedAt, s.clock())

		record := Record{
			IdeaID:           prepared.ID,
			OwnerID:          prepared.OwnerID,
			OwnerDisplayName: prepared.OwnerDisplayName,
			Text:             prepared.Text,
			CreatedAtMillis:  prepared.CreatedAt.UnixMilli(),
		}
		if err := tx.Create(&record).Error; err != nil {
			s.logError(opInsert, "query_failed", err,
				zap.String("owner_id", prepared.OwnerID),
				zap.String("idea_id", prepared.ID))
			return newServiceError(opInsert, "query_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Idea{}, txErr
	}
	return prepared, nil
}

// QueryByOwner returns the owner's ideas, newest first.
func (s *SQLStore) QueryByOwner(ctx context.Context, ownerID string) ([]Idea, error) {
	owner, err := NewOwnerID(ownerID)
	if err != nil {
		s.logError(opQueryByOwner, "invalid_owner", err)
		return nil, newServiceError(opQueryByOwner, "invalid_owner", err)
	}
	var records []Record
	if err := s.db.WithContext(ctx).
		Where("owner_id = ?", owner).
		Order("created_at_ms DESC").
		Order("idea_id DESC").
		Find(&records).Error; err != nil {
		s.logError(opQueryByOwner, "query_failed", err, zap.String("owner_id", owner))
		return nil, newServiceError(opQueryByOwner, "query_failed", err)
	}
	return recordsToIdeas(records), nil
}

// QueryRecent returns the newest ideas across all owners.
func (s *SQLStore) QueryRecent(ctx context.Context, limit int) ([]Idea, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Order("created_at_ms DESC").
		Order("idea_id DESC").
		Limit(normalizeLimit(limit)).
		Find(&records).Error; err != nil {
		s.logError(opQueryRecent, "query_failed", err, zap.Int("limit", limit))
		return nil, newServiceError(opQueryRecent, "query_failed", err)
	}
	return recordsToIdeas(records), nil
}

// Get loads a single idea by identifier.
func (s *SQLStore) Get(ctx context.Context, ideaID string) (Idea, error) {
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return Idea{}, newServiceError(opGet, "invalid_id", err)
	}
	var record Record
	err = s.db.WithContext(ctx).Where("idea_id = ?", id).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Idea{}, newServiceError(opGet, "not_found", ErrIdeaNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("idea_id", id))
		return Idea{}, newServiceError(opGet, "query_failed", err)
	}
	return record.toIdea(), nil
}

// DeleteByID removes the owner's idea. Attached images are left to the asset reconciler.
func (s *SQLStore) DeleteByID(ctx context.Context, ownerID, ideaID string) error {
	owner, err := NewOwnerID(ownerID)
	if err != nil {
		return newServiceError(opDeleteByID, "invalid_owner", err)
	}
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return newServiceError(opDeleteByID, "invalid_id", err)
	}
	result := s.db.WithContext(ctx).
		Where("idea_id = ? AND owner_id = ?", id, owner).
		Delete(&Record{})
	if result.Error != nil {
		s.logError(opDeleteByID, "query_failed", result.Error,
			zap.String("owner_id", owner),
			zap.String("idea_id", id))
		return newServiceError(opDeleteByID, "query_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return newServiceError(opDeleteByID, "not_found", ErrIdeaNotFound)
	}
	return nil
}

// UpdateImageURL records the image url once; later calls fail with ErrImageAlreadySet.
func (s *SQLStore) UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error {
	owner, err := NewOwnerID(ownerID)
	if err != nil {
		return newServiceError(opUpdateImageURL, "invalid_owner", err)
	}
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return newServiceError(opUpdateImageURL, "invalid_id", err)
	}
	if imageURL == "" {
		return newServiceError(opUpdateImageURL, "missing_url", errors.New("image url is required"))
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Record{}).
			Where("idea_id = ? AND owner_id = ? AND image_url = ''", id, owner).
			Update("image_url", imageURL)
		if result.Error != nil {
			s.logError(opUpdateImageURL, "query_failed", result.Error,
				zap.String("owner_id", owner),
				zap.String("idea_id", id))
			return newServiceError(opUpdateImageURL, "query_failed", result.Error)
		}
		if result.RowsAffected == 1 {
			return nil
		}
		var existing Record
		err := tx.Where("idea_id = ? AND owner_id = ?", id, owner).Take(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUpdateImageURL, "not_found", ErrIdeaNotFound)
		}
		if err != nil {
			return newServiceError(opUpdateImageURL, "query_failed", err)
		}
		return newServiceError(opUpdateImageURL, "already_set", ErrImageAlreadySet)
	})
}

// ListIDs returns every live idea identifier.
func (s *SQLStore) ListIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&Record{}).Pluck("idea_id", &ids).Error; err != nil {
		s.logError(opListIDs, "query_failed", err)
		return nil, newServiceError(opListIDs, "query_failed", err)
	}
	return ids, nil
}

func (s *SQLStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ideas store error", attrs...)
}
