package ideas

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
)

func TestIdeaDocumentMapping(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	idea := Idea{
		ID:               "doc-1",
		Text:             "Un yacaré vestido de granadero haciendo ejercicio.",
		OwnerID:          "user-1",
		OwnerDisplayName: "Ada",
		ImageURL:         "https://cdn.example.com/a.png",
		CreatedAt:        created,
	}

	doc := documentFromIdea(idea)
	if doc.UserID != "user-1" || doc.AuthorName != "Ada" {
		t.Fatalf("unexpected document %+v", doc)
	}
	if got := doc.toIdea("doc-1"); got != idea {
		t.Fatalf("mapping mismatch: %+v", got)
	}
}

func TestNewFirestoreStoreRequiresClient(t *testing.T) {
	if _, err := NewFirestoreStore(FirestoreStoreConfig{}); err == nil {
		t.Fatalf("expected missing client error")
	}
}

// Runs against the Firestore emulator when FIRESTORE_EMULATOR_HOST is set.
func TestFirestoreStoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := firestore.NewClient(ctx, "mideita-test")
	if err != nil {
		t.Fatalf("failed to create firestore client: %v", err)
	}
	defer client.Close()

	store, err := NewFirestoreStore(FirestoreStoreConfig{
		Client:     client,
		Collection: "ideas_" + time.Now().UTC().Format("20060102150405.000000000"),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	idea, err := store.Insert(ctx, Idea{Text: "Un huillín vestido de escultor nadando en un lago.", OwnerID: "user-1"})
	if err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	owned, err := store.QueryByOwner(ctx, "user-1")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(owned) != 1 || owned[0].Text != idea.Text {
		t.Fatalf("unexpected ideas %+v", owned)
	}
	if err := store.UpdateImageURL(ctx, "user-1", idea.ID, "https://cdn.example.com/a.png"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := store.UpdateImageURL(ctx, "user-1", idea.ID, "https://cdn.example.com/b.png"); !errors.Is(err, ErrImageAlreadySet) {
		t.Fatalf("expected already set, got %v", err)
	}
	if err := store.DeleteByID(ctx, "user-2", idea.ID); !errors.Is(err, ErrIdeaNotFound) {
		t.Fatalf("expected foreign delete rejection, got %v", err)
	}
	if err := store.DeleteByID(ctx, "user-1", idea.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
}
