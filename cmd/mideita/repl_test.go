package main

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/database"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/engine"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/localcache"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/reconciler"
	"go.uber.org/zap"
)

type recordingProvider struct {
	tokens  []string
	signOut int
	err     error
}

func (p *recordingProvider) SignIn(ctx context.Context, credential string) error {
	p.tokens = append(p.tokens, credential)
	return p.err
}

func (p *recordingProvider) SignOut(ctx context.Context) error {
	p.signOut++
	return nil
}

func newTestSession(t *testing.T) (*replSession, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.OpenSQLite(filepath.Join(dir, "store.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to open store database: %v", err)
	}
	store, err := ideas.NewSQLStore(ideas.SQLStoreConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: ideas.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct store: %v", err)
	}

	cache, err := localcache.Open(filepath.Join(dir, "device.db"))
	if err != nil {
		t.Fatalf("failed to open device cache: %v", err)
	}
	t.Cleanup(func() {
		_ = cache.Close()
	})

	generator, err := phrases.NewGenerator(phrases.DefaultVocabulary(), rand.NewPCG(3, 5))
	if err != nil {
		t.Fatalf("failed to construct generator: %v", err)
	}
	ideaEngine, err := engine.New(engine.Config{
		Generator: generator,
		Cache:     cache,
		Mirror:    cache.Namespace(localcache.KeyMirror),
		Store:     store,
		Assets:    assets.NewMemoryHost(""),
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	if err := ideaEngine.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}

	out := &bytes.Buffer{}
	return &replSession{engine: ideaEngine, limit: 10, out: out}, out
}

func TestReplGuestSaveAppearsInList(t *testing.T) {
	session, out := newTestSession(t)
	ctx := context.Background()

	session.execute(ctx, "generate")
	line := strings.TrimSpace(out.String())
	if !strings.HasPrefix(line, "idea: ") {
		t.Fatalf("expected generated idea, got %q", line)
	}
	text := strings.TrimPrefix(line, "idea: ")

	session.execute(ctx, "save")
	session.execute(ctx, "ok")
	out.Reset()
	session.execute(ctx, "list")

	listing := out.String()
	if !strings.Contains(listing, text) {
		t.Fatalf("expected %q in listing, got %q", text, listing)
	}
	if !strings.Contains(listing, ideas.LocalIDPrefix) {
		t.Fatalf("expected a local identifier in listing, got %q", listing)
	}
}

func TestReplReportsErrorKind(t *testing.T) {
	session, out := newTestSession(t)

	session.execute(context.Background(), "save")

	if !strings.Contains(out.String(), "error (precondition)") {
		t.Fatalf("expected precondition error, got %q", out.String())
	}
}

func TestReplImageOnLocalIdeaIsRejected(t *testing.T) {
	session, out := newTestSession(t)
	session.readFile = func(name string) ([]byte, error) {
		return []byte("png"), nil
	}

	session.execute(context.Background(), "image "+ideas.LocalID(0)+" picture.png")

	if !strings.Contains(out.String(), "error (") {
		t.Fatalf("expected an engine error, got %q", out.String())
	}
}

func TestReplImageReadFailure(t *testing.T) {
	session, out := newTestSession(t)
	session.readFile = func(name string) ([]byte, error) {
		return nil, errors.New("no such file")
	}

	session.execute(context.Background(), "image abc missing.png")

	if !strings.Contains(out.String(), "error: no such file") {
		t.Fatalf("expected read failure, got %q", out.String())
	}
}

func TestReplLoginWithoutProvider(t *testing.T) {
	session, out := newTestSession(t)

	session.execute(context.Background(), "login token")

	if !strings.Contains(out.String(), "login unavailable") {
		t.Fatalf("expected login unavailable notice, got %q", out.String())
	}
}

func TestReplLoginLogoutUseProvider(t *testing.T) {
	session, _ := newTestSession(t)
	provider := &recordingProvider{}
	session.provider = provider
	ctx := context.Background()

	session.execute(ctx, "login session-token")
	session.execute(ctx, "logout")

	if len(provider.tokens) != 1 || provider.tokens[0] != "session-token" {
		t.Fatalf("unexpected sign in calls %v", provider.tokens)
	}
	if provider.signOut != 1 {
		t.Fatalf("expected one sign out, got %d", provider.signOut)
	}
}

func TestReplUsageAndQuit(t *testing.T) {
	session, out := newTestSession(t)
	ctx := context.Background()

	if session.execute(ctx, "delete") {
		t.Fatalf("usage error must not end the session")
	}
	if !strings.Contains(out.String(), "usage: delete <id>") {
		t.Fatalf("expected usage, got %q", out.String())
	}
	if session.execute(ctx, "unknown") {
		t.Fatalf("unknown command must not end the session")
	}
	if !session.execute(ctx, "quit") {
		t.Fatalf("expected quit to end the session")
	}
}

func TestReplRunStopsAtQuit(t *testing.T) {
	session, out := newTestSession(t)

	input := strings.NewReader("status\nquit\ngenerate\n")
	if err := session.run(context.Background(), input); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out.String(), "identity: guest") {
		t.Fatalf("expected status output, got %q", out.String())
	}
	if strings.Contains(out.String(), "idea: ") {
		t.Fatalf("commands after quit must not run, got %q", out.String())
	}
}

func TestPrintReconcileResult(t *testing.T) {
	result := reconciler.Result{
		Orphans: []assets.TaggedAsset{{AssetID: "a1", IdeaID: "gone"}, {AssetID: "a2", IdeaID: "gone-too"}},
		Deleted: []string{"a1"},
		Errors:  []reconciler.ItemError{{AssetID: "a2", Err: errors.New("denied")}},
	}

	out := &bytes.Buffer{}
	printReconcileResult(out, result, false)
	if !strings.Contains(out.String(), "orphans found: 2, deleted: 1, failed: 1") {
		t.Fatalf("unexpected summary %q", out.String())
	}
	if !strings.Contains(out.String(), "failed a2: denied") {
		t.Fatalf("expected failure line, got %q", out.String())
	}

	out.Reset()
	printReconcileResult(out, reconciler.Result{Orphans: result.Orphans}, true)
	if !strings.Contains(out.String(), "dry run") || !strings.Contains(out.String(), "a2 (idea gone-too)") {
		t.Fatalf("unexpected dry run summary %q", out.String())
	}
}
