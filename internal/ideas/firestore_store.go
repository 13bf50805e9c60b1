package ideas

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the Firestore collection holding idea documents.
const DefaultCollection = "ideas"

const (
	fieldOwnerID   = "userId"
	fieldImageURL  = "imageUrl"
	fieldCreatedAt = "createdAt"
)

type ideaDocument struct {
	Text       string    `firestore:"text"`
	UserID     string    `firestore:"userId"`
	AuthorName string    `firestore:"authorName"`
	ImageURL   string    `firestore:"imageUrl"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func documentFromIdea(idea Idea) ideaDocument {
	return ideaDocument{
		Text:       idea.Text,
		UserID:     idea.OwnerID,
		AuthorName: idea.OwnerDisplayName,
		ImageURL:   idea.ImageURL,
		CreatedAt:  idea.CreatedAt.UTC(),
	}
}

func (d ideaDocument) toIdea(id string) Idea {
	return Idea{
		ID:               id,
		Text:             d.Text,
		OwnerID:          d.UserID,
		OwnerDisplayName: d.AuthorName,
		ImageURL:         d.ImageURL,
		CreatedAt:        d.CreatedAt.UTC(),
	}
}

// FirestoreStoreConfig describes the dependencies of the Firestore-backed store.
type FirestoreStoreConfig struct {
	Client     *firestore.Client
	Collection string
	Clock      func() time.Time
	Logger     *zap.Logger
}

// FirestoreStore persists ideas as documents of a single collection.
// Document identifiers are assigned by Firestore.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	clock      func() time.Time
	logger     *zap.Logger
}

// NewFirestoreStore validates the configuration and constructs the store.
func NewFirestoreStore(cfg FirestoreStoreConfig) (*FirestoreStore, error) {
	if cfg.Client == nil {
		return nil, newServiceError(opStoreNew, "missing_client", errMissingClient)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &FirestoreStore{
		client:     cfg.Client,
		collection: collection,
		clock:      clock,
		logger:     logger,
	}, nil
}

func (s *FirestoreStore) ideas() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

// Insert creates a new document for the idea.
func (s *FirestoreStore) Insert(ctx context.Context, idea Idea) (Idea, error) {
	prepared, reason, err := prepareInsert(idea)
	if err != nil {
		return Idea{}, newServiceError(opInsert, reason, err)
	}

	latest := time.Time{}
	snapshots, err := s.ideas().
		Where(fieldOwnerID, "==", prepared.OwnerID).
		OrderBy(fieldCreatedAt, firestore.Desc).
		Limit(1).
		Documents(ctx).
		GetAll()
	if err != nil {
		s.logError(opInsert, "latest_select_failed", err, zap.String("owner_id", prepared.OwnerID))
		return Idea{}, newServiceError(opInsert, "latest_select_failed", err)
	}
	if len(snapshots) == 1 {
		var doc ideaDocument
		if err := snapshots[0].DataTo(&doc); err == nil {
			latest = doc.CreatedAt
		}
	}
	prepared.CreatedAt = NextCreatedAt(latest, s.clock())

	ref := s.ideas().NewDoc()
	if _, err := ref.Create(ctx, documentFromIdea(prepared)); err != nil {
		s.logError(opInsert, "query_failed", err, zap.String("owner_id", prepared.OwnerID))
		return Idea{}, newServiceError(opInsert, "query_failed", err)
	}
	prepared.ID = ref.ID
	return prepared, nil
}

// QueryByOwner returns the owner's ideas, newest first.
func (s *FirestoreStore) QueryByOwner(ctx context.Context, ownerID string) ([]Idea, error) {
	owner, err := NewOwnerID(ownerID)
	if err != nil {
		return nil, newServiceError(opQueryByOwner, "invalid_owner", err)
	}
	query := s.ideas().
		Where(fieldOwnerID, "==", owner).
		OrderBy(fieldCreatedAt, firestore.Desc)
	result, err := s.collect(ctx, query)
	if err != nil {
		s.logError(opQueryByOwner, "query_failed", err, zap.String("owner_id", owner))
		return nil, newServiceError(opQueryByOwner, "query_failed", err)
	}
	return result, nil
}

// QueryRecent returns the newest ideas across all owners.
func (s *FirestoreStore) QueryRecent(ctx context.Context, limit int) ([]Idea, error) {
	query := s.ideas().
		OrderBy(fieldCreatedAt, firestore.Desc).
		Limit(normalizeLimit(limit))
	result, err := s.collect(ctx, query)
	if err != nil {
		s.logError(opQueryRecent, "query_failed", err, zap.Int("limit", limit))
		return nil, newServiceError(opQueryRecent, "query_failed", err)
	}
	return result, nil
}

// Get loads a single idea document.
func (s *FirestoreStore) Get(ctx context.Context, ideaID string) (Idea, error) {
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return Idea{}, newServiceError(opGet, "invalid_id", err)
	}
	snapshot, err := s.ideas().Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Idea{}, newServiceError(opGet, "not_found", ErrIdeaNotFound)
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("idea_id", id))
		return Idea{}, newServiceError(opGet, "query_failed", err)
	}
	var doc ideaDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return Idea{}, newServiceError(opGet, "decode_failed", err)
	}
	return doc.toIdea(snapshot.Ref.ID), nil
}

// DeleteByID removes the document when it belongs to ownerID.
func (s *FirestoreStore) DeleteByID(ctx context.Context, ownerID, ideaID string) error {
	owner, err := NewOwnerID(ownerID)
	if err != nil {
		return newServiceError(opDeleteByID, "invalid_owner", err)
	}
	id, err := NewIdeaID(ideaID)
	if err != nil {
		return newServiceError(opDeleteByID, "invalid_id", err)
	}
	ref := s.ideas().Doc(id)
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := loadOwned(tx, ref, owner); err != nil {
			return err
		}
		return tx.Delete(ref)
	})
	return s.classify(opDeleteByID, id, err)
}

// UpdateImageURL records the image url once.
func (s *FirestoreStore) UpdateImageURL(ctx context.Context, ownerID, ideaID, imageURL string) error {
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
	ref := s.ideas().Doc(id)
	err = s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := loadOwned(tx, ref, owner)
		if err != nil {
			return err
		}
		if doc.ImageURL != "" {
			return ErrImageAlreadySet
		}
		return tx.Update(ref, []firestore.Update{{Path: fieldImageURL, Value: imageURL}})
	})
	return s.classify(opUpdateImageURL, id, err)
}

// ListIDs returns every document identifier in the collection.
func (s *FirestoreStore) ListIDs(ctx context.Context) ([]string, error) {
	iter := s.ideas().Select().Documents(ctx)
	defer iter.Stop()

	ids := make([]string, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			s.logError(opListIDs, "query_failed", err)
			return nil, newServiceError(opListIDs, "query_failed", err)
		}
		ids = append(ids, snapshot.Ref.ID)
	}
	return ids, nil
}

func (s *FirestoreStore) collect(ctx context.Context, query firestore.Query) ([]Idea, error) {
	iter := query.Documents(ctx)
	defer iter.Stop()

	result := make([]Idea, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return result, nil
		}
		if err != nil {
			return nil, err
		}
		var doc ideaDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, err
		}
		result = append(result, doc.toIdea(snapshot.Ref.ID))
	}
}

func (s *FirestoreStore) classify(operation, ideaID string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrIdeaNotFound):
		return newServiceError(operation, "not_found", ErrIdeaNotFound)
	case errors.Is(err, ErrImageAlreadySet):
		return newServiceError(operation, "already_set", ErrImageAlreadySet)
	default:
		s.logError(operation, "query_failed", err, zap.String("idea_id", ideaID))
		return newServiceError(operation, "query_failed", err)
	}
}

// loadOwned reads the document inside tx; foreign documents are reported as missing.
func loadOwned(tx *firestore.Transaction, ref *firestore.DocumentRef, ownerID string) (ideaDocument, error) {
	snapshot, err := tx.Get(ref)
	if status.Code(err) == codes.NotFound {
		return ideaDocument{}, ErrIdeaNotFound
	}
	if err != nil {
		return ideaDocument{}, err
	}
	var doc ideaDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return ideaDocument{}, err
	}
	if doc.UserID != ownerID {
		return ideaDocument{}, ErrIdeaNotFound
	}
	return doc, nil
}

func (s *FirestoreStore) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("ideas firestore error", attrs...)
}
