package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/localcache"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
)

const pumaIdea = "Un puma vestido de policía caminando por el bosque."

var (
	testLocation = time.FixedZone("ART", -3*60*60)
	testAda      = identity.Snapshot{Present: true, ID: "user-ada", Email: "ada@example.com", DisplayName: "Ada"}
	pngBytes     = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
)

type fixture struct {
	engine *Engine
	cache  *memoryCache
	mirror *memoryCache
	store  *memoryStore
	host   *assets.MemoryHost
	clock  *manualClock
}

func newFixture(t *testing.T, configure ...func(*Config)) *fixture {
	t.Helper()
	clock := &manualClock{now: time.Date(2026, 3, 4, 10, 0, 0, 0, testLocation)}
	generator, err := phrases.NewGenerator(phrases.DefaultVocabulary(), rand.NewPCG(7, 11))
	if err != nil {
		t.Fatalf("failed to construct generator: %v", err)
	}
	f := &fixture{
		cache:  newMemoryCache(),
		mirror: newMemoryCache(),
		store:  newMemoryStore(clock.Now),
		host:   assets.NewMemoryHost(""),
		clock:  clock,
	}
	cfg := Config{
		Generator: generator,
		Cache:     f.cache,
		Mirror:    f.mirror,
		Store:     f.store,
		Assets:    f.host,
		Quota:     quota.Policy{Location: testLocation},
		Clock:     clock.Now,
	}
	for _, apply := range configure {
		apply(&cfg)
	}
	engine, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	if err := engine.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	f.engine = engine
	return f
}

func withPhrases(texts ...string) func(*Config) {
	return func(cfg *Config) {
		cfg.Generator = &fixedPhrases{texts: texts}
	}
}

func (f *fixture) login(t *testing.T, snapshot identity.Snapshot) {
	t.Helper()
	if err := f.engine.HandleIdentityChange(context.Background(), snapshot); err != nil {
		t.Fatalf("identity change failed: %v", err)
	}
}

func (f *fixture) generateAndSave(t *testing.T) ideas.Idea {
	t.Helper()
	ctx := context.Background()
	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	saved, err := f.engine.Save(ctx)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := f.engine.Acknowledge(ctx); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	return saved
}

func expectKind(t *testing.T, err error, kind Kind, sentinel error) {
	t.Helper()
	if KindOf(err) != kind {
		t.Fatalf("expected %s error, got %v", kind, err)
	}
	if sentinel != nil && !errors.Is(err, sentinel) {
		t.Fatalf("expected %v in chain, got %v", sentinel, err)
	}
}

func TestGuestSaveWritesLocalCache(t *testing.T) {
	f := newFixture(t, withPhrases(pumaIdea))
	ctx := context.Background()

	text, err := f.engine.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if text != pumaIdea || f.engine.State() != StateGenerated {
		t.Fatalf("unexpected candidate %q in state %s", text, f.engine.State())
	}

	saved, err := f.engine.Save(ctx)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if f.engine.State() != StateSaved {
		t.Fatalf("expected saved state, got %s", f.engine.State())
	}
	if got := f.cache.texts(); len(got) != 1 || got[0] != pumaIdea {
		t.Fatalf("expected one cached idea, got %v", got)
	}
	if saved.ID != "local-0" || saved.OwnerID != ideas.GuestOwnerID || saved.OwnerDisplayName != "Anónimo" {
		t.Fatalf("unexpected saved idea %+v", saved)
	}
	if f.store.count() != 0 {
		t.Fatalf("guest save must not reach the store")
	}

	if err := f.engine.Acknowledge(ctx); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	if f.engine.State() != StateIdle {
		t.Fatalf("expected idle, got %s", f.engine.State())
	}
}

func TestSaveRejectedWhenDailyQuotaReached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for index := 0; index < quota.DefaultDailyLimit; index++ {
		f.store.seed(testAda.ID, fmt.Sprintf("idea remota %d", index), f.clock.Now().Add(-time.Duration(index)*time.Minute))
	}

	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("guest generate failed: %v", err)
	}
	f.login(t, testAda)
	if got := f.engine.Quota().DailyCount; got != quota.DefaultDailyLimit {
		t.Fatalf("expected daily count recomputed to %d, got %d", quota.DefaultDailyLimit, got)
	}

	_, err := f.engine.Save(ctx)
	expectKind(t, err, KindValidation, ErrQuotaExceeded)
	if f.engine.State() != StateGenerated {
		t.Fatalf("expected candidate to remain pending, got %s", f.engine.State())
	}
	if f.store.count() != quota.DefaultDailyLimit {
		t.Fatalf("expected no insert, store has %d", f.store.count())
	}
}

func TestLoginReplacesViewWithoutMerging(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generateAndSave(t)
	f.generateAndSave(t)
	for index := 0; index < 3; index++ {
		f.store.seed(testAda.ID, fmt.Sprintf("idea remota %d", index), f.clock.Now().AddDate(0, 0, -1).Add(time.Duration(index)*time.Minute))
	}

	f.login(t, testAda)

	view := f.engine.Ideas()
	if len(view) != 3 {
		t.Fatalf("expected exactly 3 remote ideas, got %d", len(view))
	}
	for _, idea := range view {
		if idea.IsLocal() || idea.OwnerID != testAda.ID {
			t.Fatalf("unexpected idea in authenticated view: %+v", idea)
		}
	}
	if view[0].Text != "idea remota 2" {
		t.Fatalf("expected newest first, got %q", view[0].Text)
	}
	if got := f.cache.texts(); len(got) != 2 {
		t.Fatalf("expected guest ideas untouched in cache, got %v", got)
	}
	if f.engine.Quota().DailyCount != 0 {
		t.Fatalf("expected no ideas counted for today, got %d", f.engine.Quota().DailyCount)
	}

	if err := f.engine.HandleIdentityChange(ctx, identity.Guest()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if got := f.engine.Ideas(); len(got) != 2 || !got[0].IsLocal() {
		t.Fatalf("expected guest view after logout, got %+v", got)
	}
}

func TestAttachImageOnlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	saved := f.generateAndSave(t)

	first, err := f.engine.AttachImage(ctx, saved.ID, pngBytes)
	if err != nil {
		t.Fatalf("first attach failed: %v", err)
	}
	if first.ImageURL == "" {
		t.Fatalf("expected image url")
	}

	_, err = f.engine.AttachImage(ctx, saved.ID, pngBytes)
	expectKind(t, err, KindValidation, ErrImageAlreadyAttached)

	stored, err := f.store.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ImageURL != first.ImageURL {
		t.Fatalf("expected original url %q, got %q", first.ImageURL, stored.ImageURL)
	}
	if f.host.Len() != 1 {
		t.Fatalf("expected a single upload, host has %d", f.host.Len())
	}
}

func TestAttachImageDetectsRemoteImageBeforeUploading(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	saved := f.generateAndSave(t)
	if err := f.store.UpdateImageURL(ctx, testAda.ID, saved.ID, "https://cdn.example.com/other-device.png"); err != nil {
		t.Fatalf("seed image failed: %v", err)
	}

	_, err := f.engine.AttachImage(ctx, saved.ID, pngBytes)
	expectKind(t, err, KindValidation, ErrImageAlreadyAttached)
	if f.host.Len() != 0 {
		t.Fatalf("expected no upload")
	}
	if got := f.engine.Ideas()[0].ImageURL; got != "https://cdn.example.com/other-device.png" {
		t.Fatalf("expected view refreshed with remote url, got %q", got)
	}
}

func TestAttachImagePreconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local := f.generateAndSave(t)

	_, err := f.engine.AttachImage(ctx, local.ID, pngBytes)
	expectKind(t, err, KindPrecondition, ErrNotPersisted)

	_, err = f.engine.AttachImage(ctx, "missing", pngBytes)
	expectKind(t, err, KindPrecondition, ErrIdeaNotFound)

	foreign := f.store.seed("user-bob", "idea de otra persona", f.clock.Now())
	f.login(t, testAda)
	if err := f.engine.ViewCommunity(ctx); err != nil {
		t.Fatalf("view community failed: %v", err)
	}
	_, err = f.engine.AttachImage(ctx, foreign.ID, pngBytes)
	expectKind(t, err, KindPrecondition, ErrIdeaNotFound)
}

func TestAttachImageUploadFailureLeavesRecordUntouched(t *testing.T) {
	failing := &failingUploader{err: errInjected}
	f := newFixture(t, func(cfg *Config) { cfg.Assets = failing })
	ctx := context.Background()
	f.login(t, testAda)
	saved := f.generateAndSave(t)

	_, err := f.engine.AttachImage(ctx, saved.ID, pngBytes)
	expectKind(t, err, KindPartialFailure, errInjected)

	stored, err := f.store.Get(ctx, saved.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.ImageURL != "" {
		t.Fatalf("expected record without image, got %q", stored.ImageURL)
	}
	if len(f.engine.Ideas()) != 1 {
		t.Fatalf("expected idea to be retained")
	}
}

func TestAttachImageRequiresAssetHost(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.Assets = nil })
	f.login(t, testAda)
	saved := f.generateAndSave(t)

	_, err := f.engine.AttachImage(context.Background(), saved.ID, pngBytes)
	expectKind(t, err, KindPrecondition, ErrAssetsUnavailable)
}

type failingUploader struct {
	err error
}

func (u *failingUploader) Upload(ctx context.Context, data []byte, ideaID string) (assets.Asset, error) {
	return assets.Asset{}, u.err
}

func (u *failingUploader) Delete(ctx context.Context, assetID string) error {
	return nil
}

func TestAttachImageRemovesUploadWhenRecordRejectsIt(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		kind     Kind
		sentinel error
	}{
		{name: "store failure", err: errInjected, kind: KindPartialFailure, sentinel: errInjected},
		{name: "set concurrently", err: ideas.ErrImageAlreadySet, kind: KindValidation, sentinel: ErrImageAlreadyAttached},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.login(t, testAda)
			saved := f.generateAndSave(t)
			f.store.updateErr = tc.err

			_, err := f.engine.AttachImage(ctx, saved.ID, pngBytes)
			expectKind(t, err, tc.kind, tc.sentinel)
			if f.host.Len() != 0 {
				t.Fatalf("expected the upload to be removed, host has %d", f.host.Len())
			}
			if f.engine.Ideas()[0].HasImage() {
				t.Fatalf("expected idea without image")
			}
		})
	}
}

func TestStateMachineRejectsOutOfOrderCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Save(ctx)
	expectKind(t, err, KindPrecondition, ErrNoCandidate)
	expectKind(t, f.engine.Discard(ctx), KindPrecondition, ErrNoCandidate)
	expectKind(t, f.engine.Acknowledge(ctx), KindPrecondition, ErrNotSaved)
	_, err = f.engine.Regenerate(ctx)
	expectKind(t, err, KindPrecondition, ErrNoCandidate)

	first, err := f.engine.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	_, err = f.engine.Generate(ctx)
	expectKind(t, err, KindPrecondition, ErrCandidatePending)
	if f.engine.Candidate() != first {
		t.Fatalf("expected pending candidate unchanged")
	}
	if !errors.Is(f.engine.LastError(), ErrCandidatePending) {
		t.Fatalf("expected last error to record rejection, got %v", f.engine.LastError())
	}

	if err := f.engine.Discard(ctx); err != nil {
		t.Fatalf("discard failed: %v", err)
	}
	if f.engine.State() != StateIdle || f.engine.Candidate() != "" {
		t.Fatalf("expected idle without candidate")
	}
	if f.engine.LastError() != nil {
		t.Fatalf("expected last error cleared")
	}
}

func TestRegenerateReplacesCandidateWithoutQuota(t *testing.T) {
	f := newFixture(t, withPhrases("primera idea generada", "segunda idea generada"))
	ctx := context.Background()
	for index := 0; index < quota.DefaultDailyLimit-1; index++ {
		f.store.seed(testAda.ID, fmt.Sprintf("idea %d", index), f.clock.Now())
	}
	f.login(t, testAda)

	first, err := f.engine.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	second, err := f.engine.Regenerate(ctx)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if first == second || f.engine.Candidate() != second {
		t.Fatalf("expected replacement candidate, got %q then %q", first, second)
	}
	if f.store.count() != quota.DefaultDailyLimit-1 {
		t.Fatalf("regenerate must not persist")
	}
}

func TestGenerateStartsNewCycleWhenExhausted(t *testing.T) {
	f := newFixture(t, withPhrases("única idea posible"))
	ctx := context.Background()

	for round := 0; round < 3; round++ {
		text, err := f.engine.Generate(ctx)
		if err != nil {
			t.Fatalf("round %d: generate failed: %v", round, err)
		}
		if text != "única idea posible" {
			t.Fatalf("unexpected text %q", text)
		}
		if err := f.engine.Discard(ctx); err != nil {
			t.Fatalf("discard failed: %v", err)
		}
	}
}

func TestAuthenticatedDailyLimitAndDayBoundary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	f.clock.Advance(8 * time.Hour)

	for index := 0; index < quota.DefaultDailyLimit; index++ {
		f.generateAndSave(t)
		f.clock.Advance(time.Second)
	}
	_, err := f.engine.Generate(ctx)
	expectKind(t, err, KindValidation, ErrQuotaExceeded)
	if f.engine.State() != StateIdle {
		t.Fatalf("expected idle after rejected generate")
	}
	if f.engine.CanGenerate() {
		t.Fatalf("expected quota to block generation")
	}

	f.clock.Advance(6 * time.Hour)
	f.generateAndSave(t)
	if got := f.engine.Quota().DailyCount; got != 1 {
		t.Fatalf("expected counter reset on the new day, got %d", got)
	}
	if f.store.count() != quota.DefaultDailyLimit+1 {
		t.Fatalf("expected %d stored ideas, got %d", quota.DefaultDailyLimit+1, f.store.count())
	}
}

func TestGuestHasNoDailyCap(t *testing.T) {
	f := newFixture(t)
	for index := 0; index < quota.DefaultDailyLimit+2; index++ {
		f.generateAndSave(t)
	}
	if got := len(f.cache.texts()); got != quota.DefaultDailyLimit+2 {
		t.Fatalf("expected %d guest ideas, got %d", quota.DefaultDailyLimit+2, got)
	}
}

func TestGuestCooldownVariant(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Quota = quota.Policy{Location: testLocation, GuestCooldown: 24 * time.Hour}
	})
	ctx := context.Background()
	f.generateAndSave(t)

	_, err := f.engine.Generate(ctx)
	expectKind(t, err, KindValidation, ErrQuotaExceeded)
	if f.engine.CooldownRemaining() != 24*time.Hour {
		t.Fatalf("unexpected cooldown %s", f.engine.CooldownRemaining())
	}
	if f.cache.counters[localcache.KeyLastSave] == 0 {
		t.Fatalf("expected last save persisted")
	}

	f.clock.Advance(24 * time.Hour)
	f.generateAndSave(t)
}

func TestSaveFailureKeepsCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	f.store.insertErr = errInjected

	candidate, err := f.engine.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	_, err = f.engine.Save(ctx)
	expectKind(t, err, KindTransientStore, errInjected)
	if f.engine.State() != StateGenerated || f.engine.Candidate() != candidate {
		t.Fatalf("expected candidate to stay pending")
	}
	if f.engine.Quota().DailyCount != 0 {
		t.Fatalf("failed save must not count")
	}

	f.store.insertErr = nil
	if _, err := f.engine.Save(ctx); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
}

func TestMirrorFailureDoesNotFailSave(t *testing.T) {
	f := newFixture(t)
	f.login(t, testAda)
	f.mirror.appendErr = errInjected

	saved := f.generateAndSave(t)
	if saved.IsLocal() {
		t.Fatalf("expected remote id")
	}
	if f.store.count() != 1 {
		t.Fatalf("expected stored idea")
	}
}

func TestAuthenticatedSaveMirrorsAndRoundTrips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	saved := f.generateAndSave(t)

	if saved.OwnerDisplayName != "Ada" {
		t.Fatalf("unexpected display name %q", saved.OwnerDisplayName)
	}
	if got := f.mirror.texts(); len(got) != 1 || got[0] != saved.Text {
		t.Fatalf("expected mirrored text, got %v", got)
	}
	if len(f.cache.texts()) != 0 {
		t.Fatalf("guest list must stay untouched")
	}

	if err := f.engine.HandleIdentityChange(ctx, identity.Guest()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	f.login(t, testAda)
	view := f.engine.Ideas()
	if len(view) != 1 || view[0].Text != saved.Text || view[0].OwnerID != testAda.ID {
		t.Fatalf("round trip mismatch: %+v", view)
	}
	if f.engine.Quota().DailyCount != 1 {
		t.Fatalf("expected daily count 1 after reload, got %d", f.engine.Quota().DailyCount)
	}
}

func TestTextLengthValidation(t *testing.T) {
	f := newFixture(t, withPhrases("abc"))
	ctx := context.Background()
	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	_, err := f.engine.Save(ctx)
	expectKind(t, err, KindValidation, ErrTextLength)
	if f.engine.State() != StateGenerated {
		t.Fatalf("expected to remain generated")
	}
}

func TestStorageCeiling(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.MaxSavedIdeas = 3 })
	ctx := context.Background()
	for index := 0; index < 3; index++ {
		f.generateAndSave(t)
	}
	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	_, err := f.engine.Save(ctx)
	expectKind(t, err, KindValidation, ErrStorageCeiling)
	if f.engine.State() != StateGenerated {
		t.Fatalf("expected to remain generated")
	}
}

func TestLoginQueryFailureFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generateAndSave(t)
	f.store.queryErr = errInjected

	err := f.engine.HandleIdentityChange(ctx, testAda)
	expectKind(t, err, KindTransientStore, ErrStoreUnavailable)
	if !f.engine.Identity().Present {
		t.Fatalf("expected identity to be applied despite the failure")
	}
	if !f.engine.Degraded() {
		t.Fatalf("expected degraded view")
	}
	if view := f.engine.Ideas(); len(view) != 1 || !view[0].IsLocal() {
		t.Fatalf("expected local fallback view, got %+v", view)
	}
	if KindOf(f.engine.LastError()) != KindTransientStore {
		t.Fatalf("expected last error to surface the failure")
	}

	f.store.queryErr = nil
	if err := f.engine.ViewOwn(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if f.engine.Degraded() || len(f.engine.Ideas()) != 0 {
		t.Fatalf("expected recovered remote view")
	}
}

func seedToday(f *fixture, ownerID string, n int) {
	for i := 0; i < n; i++ {
		f.store.seed(ownerID, fmt.Sprintf("idea guardada numero %d", i), f.clock.Now().Add(-time.Duration(i+1)*time.Minute))
	}
}

func TestRecoveredOwnViewRecountsQuota(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedToday(f, testAda.ID, quota.DefaultDailyLimit)
	f.store.queryErr = errInjected

	err := f.engine.HandleIdentityChange(ctx, testAda)
	expectKind(t, err, KindTransientStore, ErrStoreUnavailable)
	if f.engine.Quota().DailyCount != 0 {
		t.Fatalf("expected local counter while degraded, got %d", f.engine.Quota().DailyCount)
	}

	f.store.queryErr = nil
	if err := f.engine.ViewOwn(ctx); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if got := f.engine.Quota().DailyCount; got != quota.DefaultDailyLimit {
		t.Fatalf("expected daily count %d, got %d", quota.DefaultDailyLimit, got)
	}
	if f.engine.CanGenerate() {
		t.Fatalf("expected generation to be blocked")
	}
	_, err = f.engine.Generate(ctx)
	expectKind(t, err, KindValidation, ErrQuotaExceeded)
	if f.store.count() != quota.DefaultDailyLimit {
		t.Fatalf("expected no extra insert, store has %d", f.store.count())
	}
}

func TestRepeatedSnapshotRetriesDegradedLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seedToday(f, testAda.ID, 3)
	f.store.queryErr = errInjected

	err := f.engine.HandleIdentityChange(ctx, testAda)
	expectKind(t, err, KindTransientStore, ErrStoreUnavailable)

	f.store.queryErr = nil
	if err := f.engine.HandleIdentityChange(ctx, testAda); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if f.engine.Degraded() {
		t.Fatalf("expected remote view after retry")
	}
	if len(f.engine.Ideas()) != 3 || f.engine.Quota().DailyCount != 3 {
		t.Fatalf("expected 3 stored ideas counted, got %d ideas and count %d",
			len(f.engine.Ideas()), f.engine.Quota().DailyCount)
	}
}

func TestDegradedSaveRefreshesOwnerList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	yesterday := f.clock.Now().AddDate(0, 0, -1)
	for i := 0; i < f.engine.maxSaved; i++ {
		f.store.seed(testAda.ID, fmt.Sprintf("idea antigua numero %d", i), yesterday.Add(-time.Duration(i)*time.Minute))
	}
	f.store.queryErr = errInjected
	err := f.engine.HandleIdentityChange(ctx, testAda)
	expectKind(t, err, KindTransientStore, ErrStoreUnavailable)

	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	_, err = f.engine.Save(ctx)
	expectKind(t, err, KindTransientStore, ErrStoreUnavailable)
	if f.engine.State() != StateGenerated {
		t.Fatalf("expected candidate to be kept, state %v", f.engine.State())
	}

	f.store.queryErr = nil
	_, err = f.engine.Save(ctx)
	expectKind(t, err, KindValidation, ErrStorageCeiling)
	if f.store.count() != f.engine.maxSaved {
		t.Fatalf("expected %d stored ideas, got %d", f.engine.maxSaved, f.store.count())
	}
	if f.engine.Degraded() || len(f.engine.Ideas()) != f.engine.maxSaved {
		t.Fatalf("expected refreshed remote view, got %d ideas", len(f.engine.Ideas()))
	}
}

func TestViewCommunityFallsBackToLocal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generateAndSave(t)
	f.store.recentErr = errInjected

	err := f.engine.ViewCommunity(ctx)
	expectKind(t, err, KindTransientStore, errInjected)
	if f.engine.Browsing() != ViewingCommunity {
		t.Fatalf("expected community browsing")
	}
	if len(f.engine.CommunityIdeas()) != 1 {
		t.Fatalf("expected local fallback in community view")
	}
}

func TestBrowsingDoesNotInterruptCandidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	candidate, err := f.engine.Generate(ctx)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if err := f.engine.ViewOwn(ctx); err != nil {
		t.Fatalf("view own failed: %v", err)
	}
	if err := f.engine.ViewCommunity(ctx); err != nil {
		t.Fatalf("view community failed: %v", err)
	}
	f.engine.CloseView()
	if f.engine.Browsing() != BrowsingNone {
		t.Fatalf("expected browsing closed")
	}
	if f.engine.State() != StateGenerated || f.engine.Candidate() != candidate {
		t.Fatalf("expected candidate to survive browsing")
	}
}

func TestDeleteLocalIdeaMatchesText(t *testing.T) {
	f := newFixture(t, withPhrases("idea repetida", "otra idea distinta"))
	ctx := context.Background()
	f.generateAndSave(t)
	f.generateAndSave(t)

	view := f.engine.Ideas()
	if len(view) != 2 || view[0].ID != "local-1" {
		t.Fatalf("unexpected view %+v", view)
	}
	if err := f.engine.Delete(ctx, "local-0"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := f.cache.texts(); len(got) != 1 || got[0] != "otra idea distinta" {
		t.Fatalf("unexpected cache %v", got)
	}
	if view := f.engine.Ideas(); len(view) != 1 || view[0].ID != "local-0" {
		t.Fatalf("expected ids renumbered after reload, got %+v", view)
	}
	expectKind(t, f.engine.Delete(ctx, "local-7"), KindPrecondition, ErrIdeaNotFound)
}

func TestDeleteRemoteIdeaLeavesImage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, testAda)
	saved := f.generateAndSave(t)
	if _, err := f.engine.AttachImage(ctx, saved.ID, pngBytes); err != nil {
		t.Fatalf("attach failed: %v", err)
	}

	if err := f.engine.Delete(ctx, saved.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if f.store.count() != 0 {
		t.Fatalf("expected remote record removed")
	}
	if f.host.Len() != 1 {
		t.Fatalf("expected image to stay for the reconciler")
	}
	if len(f.engine.Ideas()) != 0 || len(f.mirror.texts()) != 0 {
		t.Fatalf("expected view and mirror cleaned")
	}
}

func TestDeleteRejectsForeignIdea(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	foreign := f.store.seed("user-bob", "idea de otra persona", f.clock.Now())
	f.login(t, testAda)
	f.engine.update(func() { f.engine.ideas = append(f.engine.ideas, foreign) })

	expectKind(t, f.engine.Delete(ctx, foreign.ID), KindValidation, ErrNotOwner)
	if f.store.count() != 1 {
		t.Fatalf("foreign idea must survive")
	}
}

func TestDeleteRemoteFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	f.login(t, testAda)
	saved := f.generateAndSave(t)
	f.store.deleteErr = errInjected

	expectKind(t, f.engine.Delete(context.Background(), saved.ID), KindTransientStore, errInjected)
	if len(f.engine.Ideas()) != 1 {
		t.Fatalf("expected idea to stay in view")
	}
}

func TestClearLocalOnlyForGuests(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.generateAndSave(t)

	f.login(t, testAda)
	expectKind(t, f.engine.ClearLocal(ctx), KindPrecondition, ErrGuestOnly)

	if err := f.engine.HandleIdentityChange(ctx, identity.Guest()); err != nil {
		t.Fatalf("logout failed: %v", err)
	}
	if err := f.engine.ClearLocal(ctx); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if len(f.engine.Ideas()) != 0 || len(f.cache.texts()) != 0 {
		t.Fatalf("expected empty guest list")
	}
}

func TestRecentIdeasReturnsSevenNewest(t *testing.T) {
	f := newFixture(t)
	for index := 0; index < 9; index++ {
		f.generateAndSave(t)
	}
	recent := f.engine.RecentIdeas()
	if len(recent) != DefaultRecentCount {
		t.Fatalf("expected %d recent ideas, got %d", DefaultRecentCount, len(recent))
	}
	if recent[0].ID != "local-8" || recent[6].ID != "local-2" {
		t.Fatalf("expected newest first, got %s ... %s", recent[0].ID, recent[6].ID)
	}
}

func TestStartRestoresGuestState(t *testing.T) {
	f := newFixture(t)
	f.generateAndSave(t)

	restarted, err := New(Config{
		Generator: &fixedPhrases{texts: []string{pumaIdea}},
		Cache:     f.cache,
		Store:     f.store,
		Quota:     quota.Policy{Location: testLocation},
		Clock:     f.clock.Now,
	})
	if err != nil {
		t.Fatalf("failed to construct engine: %v", err)
	}
	if err := restarted.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if len(restarted.Ideas()) != 1 {
		t.Fatalf("expected cached idea after restart")
	}
	if restarted.Quota().LastSave.IsZero() {
		t.Fatalf("expected last save restored")
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{Cache: newMemoryCache(), Store: newMemoryStore(time.Now)}); err == nil {
		t.Fatalf("expected missing generator error")
	}
	if _, err := New(Config{Generator: &fixedPhrases{}, Store: newMemoryStore(time.Now)}); err == nil {
		t.Fatalf("expected missing cache error")
	}
	if _, err := New(Config{Generator: &fixedPhrases{}, Cache: newMemoryCache()}); err == nil {
		t.Fatalf("expected missing store error")
	}
}

func TestCountersRoundTripDayNumber(t *testing.T) {
	if got := dayNumber("2026-03-04"); got != 20260304 {
		t.Fatalf("unexpected day number %d", got)
	}
	if got := dayFromNumber(20260304); got != "2026-03-04" {
		t.Fatalf("unexpected day %q", got)
	}
	if dayFromNumber(0) != "" || dayNumber("garbage") != 0 {
		t.Fatalf("expected zero values for missing days")
	}
}

func TestIdentityChangeWaitsForInFlightGuestSave(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.Generate(ctx); err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	f.cache.appendStart = make(chan struct{})
	f.cache.appendGate = make(chan struct{})

	saveDone := make(chan error, 1)
	go func() {
		_, err := f.engine.Save(ctx)
		saveDone <- err
	}()
	<-f.cache.appendStart

	loginDone := make(chan error, 1)
	go func() {
		loginDone <- f.engine.HandleIdentityChange(ctx, testAda)
	}()

	select {
	case <-loginDone:
		t.Fatalf("identity change must wait for the in-flight save")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.cache.appendGate)
	if err := <-saveDone; err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := <-loginDone; err != nil {
		t.Fatalf("identity change failed: %v", err)
	}

	if got := f.cache.texts(); len(got) != 1 {
		t.Fatalf("expected the guest save to land locally, got %v", got)
	}
	if f.store.count() != 0 {
		t.Fatalf("guest save must not reach the store")
	}
	if !f.engine.Identity().Present || len(f.engine.Ideas()) != 0 {
		t.Fatalf("expected empty authenticated view after the switch")
	}
}

func TestWatchAppliesBroadcastSnapshots(t *testing.T) {
	f := newFixture(t)
	f.store.seed(testAda.ID, "idea remota guardada", f.clock.Now())
	broadcaster := identity.NewBroadcaster()

	updates, unsubscribe := broadcaster.Subscribe(context.Background())
	defer unsubscribe()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watchDone := make(chan error, 1)
	go func() {
		watchDone <- f.engine.Watch(ctx, updates)
	}()

	broadcaster.Publish(testAda)
	waitFor(t, func() bool { return f.engine.Identity().Present })
	if view := f.engine.Ideas(); len(view) != 1 || view[0].OwnerID != testAda.ID {
		t.Fatalf("unexpected view after login %+v", view)
	}

	broadcaster.Publish(identity.Guest())
	waitFor(t, func() bool { return !f.engine.Identity().Present })

	cancel()
	if err := <-watchDone; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestWatchReturnsWhenUpdatesClose(t *testing.T) {
	f := newFixture(t)
	updates := make(chan identity.Snapshot, 1)
	updates <- testAda
	close(updates)

	if err := f.engine.Watch(context.Background(), updates); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if !f.engine.Identity().Present {
		t.Fatalf("expected buffered snapshot applied")
	}
}

func waitFor(t *testing.T, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}
