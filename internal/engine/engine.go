// Package engine drives the idea lifecycle of one device: generation, the save/discard
// state machine, quota checks and the switch between the local and the authoritative tier
// when the identity changes.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/assets"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/phrases"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/users"
	"go.uber.org/zap"
)

const (
	DefaultMaxSavedIdeas  = 50
	DefaultRecentCount    = 7
	DefaultCommunityLimit = 20
)

// State is the generation state.
type State int

const (
	StateIdle State = iota
	StateGenerated
	StateSaved
)

func (s State) String() string {
	switch s {
	case StateGenerated:
		return "generated"
	case StateSaved:
		return "saved"
	default:
		return "idle"
	}
}

// Browsing is the list view shown next to the generation flow.
type Browsing int

const (
	BrowsingNone Browsing = iota
	ViewingOwn
	ViewingCommunity
)

func (b Browsing) String() string {
	switch b {
	case ViewingOwn:
		return "own"
	case ViewingCommunity:
		return "community"
	default:
		return "none"
	}
}

// Config wires the engine collaborators.
type Config struct {
	Generator PhraseSource
	Cache     LocalCache
	// Mirror receives best-effort copies of authenticated saves. Defaults to Cache.
	Mirror         LocalCache
	Store          Store
	Assets         AssetUploader
	Quota          quota.Policy
	MaxSavedIdeas  int
	CommunityLimit int
	Clock          func() time.Time
	Logger         *zap.Logger
}

// Engine is the single logical actor of a device. Commands run one at a time and hold
// commandMu across collaborator calls, so identity changes queue behind an in-flight save.
// Only the command holder writes the fields below, always under mu.
type Engine struct {
	commandMu sync.Mutex
	mu        sync.RWMutex

	generator      PhraseSource
	cache          LocalCache
	mirror         LocalCache
	store          Store
	assets         AssetUploader
	policy         quota.Policy
	maxSaved       int
	communityLimit int
	clock          func() time.Time
	logger         *zap.Logger
	reader         fallbackReader

	state      State
	browsing   Browsing
	candidate  string
	used       *phrases.UsedSet
	current    identity.Snapshot
	ideas      []ideas.Idea
	community  []ideas.Idea
	quotaState quota.State
	degraded   bool
	lastErr    error
}

// New validates the configuration. The engine starts as a guest; call Start to load the view.
func New(cfg Config) (*Engine, error) {
	if cfg.Generator == nil {
		return nil, errors.New("engine: generator required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("engine: local cache required")
	}
	if cfg.Store == nil {
		return nil, errors.New("engine: store required")
	}
	mirror := cfg.Mirror
	if mirror == nil {
		mirror = cfg.Cache
	}
	maxSaved := cfg.MaxSavedIdeas
	if maxSaved <= 0 {
		maxSaved = DefaultMaxSavedIdeas
	}
	communityLimit := cfg.CommunityLimit
	if communityLimit <= 0 {
		communityLimit = DefaultCommunityLimit
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		generator:      cfg.Generator,
		cache:          cfg.Cache,
		mirror:         mirror,
		store:          cfg.Store,
		assets:         cfg.Assets,
		policy:         cfg.Quota,
		maxSaved:       maxSaved,
		communityLimit: communityLimit,
		clock:          clock,
		logger:         logger,
		reader:         fallbackReader{store: cfg.Store, cache: cfg.Cache, logger: logger},
		used:           phrases.NewUsedSet(),
		current:        identity.Guest(),
		ideas:          []ideas.Idea{},
		community:      []ideas.Idea{},
	}, nil
}

// Start loads the idea list and quota counters for the current identity.
func (e *Engine) Start(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()
	return e.finish(e.reconcile(ctx, opStart, e.current))
}

// Generate draws a new candidate. It is rejected while a candidate is pending or when the
// quota does not allow another idea; the state is unchanged in both cases.
func (e *Engine) Generate(ctx context.Context) (string, error) {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if e.state == StateGenerated {
		return "", e.finish(newError(KindPrecondition, opGenerate, "candidate_pending", ErrCandidatePending))
	}
	if !e.policy.CanGenerateOrSave(e.current.Present, e.quotaState, e.clock()) {
		return "", e.finish(newError(KindValidation, opGenerate, "quota_exceeded", ErrQuotaExceeded))
	}
	text, err := e.draw()
	if err != nil {
		return "", e.finish(newError(KindPrecondition, opGenerate, "draw_failed", err))
	}
	e.update(func() {
		e.candidate = text
		e.state = StateGenerated
	})
	return text, e.finish(nil)
}

// Regenerate replaces the pending candidate without persisting it. Quota is not consulted.
func (e *Engine) Regenerate(ctx context.Context) (string, error) {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if e.state != StateGenerated {
		return "", e.finish(newError(KindPrecondition, opRegenerate, "no_candidate", ErrNoCandidate))
	}
	text, err := e.draw()
	if err != nil {
		return "", e.finish(newError(KindPrecondition, opRegenerate, "draw_failed", err))
	}
	e.update(func() {
		e.candidate = text
	})
	return text, e.finish(nil)
}

// Save persists the pending candidate to the tier of the current identity. On any failure
// the engine stays in StateGenerated.
func (e *Engine) Save(ctx context.Context) (ideas.Idea, error) {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()
	idea, err := e.save(ctx)
	return idea, e.finish(err)
}

func (e *Engine) save(ctx context.Context) (ideas.Idea, error) {
	if e.state != StateGenerated {
		return ideas.Idea{}, newError(KindPrecondition, opSave, "no_candidate", ErrNoCandidate)
	}
	if e.current.Present && e.degraded {
		// The ceiling and quota below only hold against the stored list.
		view, degraded, nextQuota, err := e.loadOwn(ctx, opSave, e.current)
		if degraded {
			return ideas.Idea{}, err
		}
		e.update(func() {
			e.ideas = view
			e.degraded = false
			e.quotaState = nextQuota
		})
	}
	text, err := ideas.NormalizeText(e.candidate)
	if err != nil {
		return ideas.Idea{}, newError(KindValidation, opSave, "text_length", joinCause(ErrTextLength, err))
	}
	if len(e.ideas) >= e.maxSaved {
		return ideas.Idea{}, newError(KindValidation, opSave, "storage_ceiling", ErrStorageCeiling)
	}
	now := e.clock()
	if !e.policy.CanGenerateOrSave(e.current.Present, e.quotaState, now) {
		return ideas.Idea{}, newError(KindValidation, opSave, "quota_exceeded", ErrQuotaExceeded)
	}

	var saved ideas.Idea
	if e.current.Present {
		saved, err = e.store.Insert(ctx, ideas.Idea{
			Text:             text,
			OwnerID:          e.current.ID,
			OwnerDisplayName: users.DisplayName(e.current.DisplayName, e.current.Email),
		})
		switch {
		case errors.Is(err, ideas.ErrStorageFull):
			return ideas.Idea{}, newError(KindValidation, opSave, "storage_ceiling", joinCause(ErrStorageCeiling, err))
		case errors.Is(err, ideas.ErrDailyLimit):
			return ideas.Idea{}, newError(KindValidation, opSave, "quota_exceeded", joinCause(ErrQuotaExceeded, err))
		case errors.Is(err, ideas.ErrInvalidText):
			return ideas.Idea{}, newError(KindValidation, opSave, "text_length", joinCause(ErrTextLength, err))
		}
		if err != nil {
			e.logError(opSave, "insert_failed", err, zap.String("owner_id", e.current.ID))
			return ideas.Idea{}, newError(KindTransientStore, opSave, "insert_failed", joinCause(ErrStoreUnavailable, err))
		}
		if err := e.mirror.Append(ctx, text); err != nil {
			e.logger.Warn("local mirror write failed", zap.String("idea_id", saved.ID), zap.Error(err))
		}
	} else {
		if err := e.cache.Append(ctx, text); err != nil {
			e.logError(opSave, "local_write_failed", err)
			return ideas.Idea{}, newError(KindTransientStore, opSave, "local_write_failed", err)
		}
		latest := time.Time{}
		if len(e.ideas) > 0 {
			latest = e.ideas[0].CreatedAt
		}
		saved = ideas.Idea{
			ID:               ideas.LocalID(len(e.ideas)),
			Text:             text,
			OwnerID:          ideas.GuestOwnerID,
			OwnerDisplayName: users.AnonymousDisplayName,
			CreatedAt:        ideas.NextCreatedAt(latest, now),
		}
	}

	nextQuota := e.policy.RecordSave(e.current.Present, e.quotaState, now)
	if err := storeQuotaState(ctx, e.cache, nextQuota); err != nil {
		e.logger.Warn("quota counters not persisted", zap.Error(err))
	}
	e.update(func() {
		e.ideas = append([]ideas.Idea{saved}, e.ideas...)
		e.quotaState = nextQuota
		e.candidate = ""
		e.state = StateSaved
	})
	return saved, nil
}

// Discard drops the pending candidate.
func (e *Engine) Discard(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if e.state != StateGenerated {
		return e.finish(newError(KindPrecondition, opDiscard, "no_candidate", ErrNoCandidate))
	}
	e.update(func() {
		e.candidate = ""
		e.state = StateIdle
	})
	return e.finish(nil)
}

// Acknowledge returns from the saved confirmation to idle.
func (e *Engine) Acknowledge(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if e.state != StateSaved {
		return e.finish(newError(KindPrecondition, opAcknowledge, "not_saved", ErrNotSaved))
	}
	e.update(func() {
		e.state = StateIdle
	})
	return e.finish(nil)
}

// ViewOwn shows the identity's ideas, refreshed from the active tier.
func (e *Engine) ViewOwn(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	view, degraded, nextQuota, err := e.loadOwn(ctx, opViewOwn, e.current)
	e.update(func() {
		e.browsing = ViewingOwn
		e.ideas = view
		e.degraded = degraded
		e.quotaState = nextQuota
	})
	return e.finish(err)
}

// ViewCommunity shows the most recent ideas of every author.
func (e *Engine) ViewCommunity(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	view, _, err := e.reader.recent(ctx, opViewCommunity, e.communityLimit)
	e.update(func() {
		e.browsing = ViewingCommunity
		e.community = view
	})
	return e.finish(err)
}

// CloseView leaves any browsing view. The generation state is untouched.
func (e *Engine) CloseView() {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()
	e.update(func() {
		e.browsing = BrowsingNone
	})
	e.finish(nil)
}

// Delete removes an idea from the tier it lives in. Local ideas are matched by text, so
// with duplicate texts the oldest copy goes. Images of remote ideas stay at the asset host
// until the reconciler removes them.
func (e *Engine) Delete(ctx context.Context, ideaID string) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()
	return e.finish(e.delete(ctx, ideaID))
}

func (e *Engine) delete(ctx context.Context, ideaID string) error {
	idea, ok := findIdea(e.ideas, ideaID)
	if !ok {
		return newError(KindPrecondition, opDelete, "not_found", ErrIdeaNotFound)
	}

	if idea.IsLocal() {
		removed, err := e.cache.Remove(ctx, idea.Text)
		if err != nil {
			e.logError(opDelete, "local_delete_failed", err, zap.String("idea_id", ideaID))
			return newError(KindTransientStore, opDelete, "local_delete_failed", err)
		}
		if !removed {
			e.logger.Warn("local idea already gone", zap.String("idea_id", ideaID))
		}
		view, err := e.reader.local(ctx)
		if err != nil {
			e.logger.Warn("local view reload failed", zap.Error(err))
			view = withoutIdea(e.ideas, ideaID)
		}
		e.update(func() {
			e.ideas = view
		})
		return nil
	}

	if !e.current.Present || idea.OwnerID != e.current.ID {
		return newError(KindValidation, opDelete, "not_owner", ErrNotOwner)
	}
	if err := e.store.DeleteByID(ctx, e.current.ID, ideaID); err != nil {
		if errors.Is(err, ideas.ErrIdeaNotFound) {
			e.dropIdea(ideaID)
			return newError(KindPrecondition, opDelete, "not_found", joinCause(ErrIdeaNotFound, err))
		}
		e.logError(opDelete, "delete_failed", err, zap.String("idea_id", ideaID))
		return newError(KindTransientStore, opDelete, "delete_failed", joinCause(ErrStoreUnavailable, err))
	}
	if _, err := e.mirror.Remove(ctx, idea.Text); err != nil {
		e.logger.Warn("local mirror delete failed", zap.String("idea_id", ideaID), zap.Error(err))
	}
	e.dropIdea(ideaID)
	return nil
}

// AttachImage uploads data for one of the identity's persisted ideas and records the URL.
// The record is only written after the host confirms the upload, and the upload is removed
// again when the record cannot take it.
func (e *Engine) AttachImage(ctx context.Context, ideaID string, data []byte) (ideas.Idea, error) {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()
	idea, err := e.attachImage(ctx, ideaID, data)
	return idea, e.finish(err)
}

func (e *Engine) attachImage(ctx context.Context, ideaID string, data []byte) (ideas.Idea, error) {
	if e.assets == nil {
		return ideas.Idea{}, newError(KindPrecondition, opAttachImage, "assets_unavailable", ErrAssetsUnavailable)
	}
	idea, ok := findIdea(e.ideas, ideaID)
	if !ok {
		return ideas.Idea{}, newError(KindPrecondition, opAttachImage, "not_found", ErrIdeaNotFound)
	}
	if idea.IsLocal() {
		return ideas.Idea{}, newError(KindPrecondition, opAttachImage, "not_persisted", ErrNotPersisted)
	}
	if !e.current.Present || idea.OwnerID != e.current.ID {
		return ideas.Idea{}, newError(KindValidation, opAttachImage, "not_owner", ErrNotOwner)
	}
	if idea.HasImage() {
		return ideas.Idea{}, newError(KindValidation, opAttachImage, "already_attached", ErrImageAlreadyAttached)
	}

	stored, err := e.store.Get(ctx, ideaID)
	if err != nil {
		if errors.Is(err, ideas.ErrIdeaNotFound) {
			e.dropIdea(ideaID)
			return ideas.Idea{}, newError(KindPrecondition, opAttachImage, "not_found", joinCause(ErrIdeaNotFound, err))
		}
		return ideas.Idea{}, newError(KindTransientStore, opAttachImage, "get_failed", joinCause(ErrStoreUnavailable, err))
	}
	if stored.HasImage() {
		e.replaceIdea(stored)
		return ideas.Idea{}, newError(KindValidation, opAttachImage, "already_attached", ErrImageAlreadyAttached)
	}

	asset, err := e.assets.Upload(ctx, data, ideaID)
	if err != nil {
		if errors.Is(err, assets.ErrEmptyPayload) || errors.Is(err, assets.ErrPayloadTooLarge) {
			return ideas.Idea{}, newError(KindValidation, opAttachImage, "invalid_image", err)
		}
		e.logError(opAttachImage, "upload_failed", err, zap.String("idea_id", ideaID))
		return ideas.Idea{}, newError(KindPartialFailure, opAttachImage, "upload_failed", err)
	}
	if err := e.store.UpdateImageURL(ctx, e.current.ID, ideaID, asset.URL); err != nil {
		e.logError(opAttachImage, "update_failed", err,
			zap.String("idea_id", ideaID),
			zap.String("asset_id", asset.ID))
		if delErr := e.assets.Delete(ctx, asset.ID); delErr != nil {
			e.logger.Warn("uploaded image not removed", zap.String("asset_id", asset.ID), zap.Error(delErr))
		}
		if errors.Is(err, ideas.ErrImageAlreadySet) {
			return ideas.Idea{}, newError(KindValidation, opAttachImage, "already_attached", joinCause(ErrImageAlreadyAttached, err))
		}
		return ideas.Idea{}, newError(KindPartialFailure, opAttachImage, "update_failed", err)
	}
	idea.ImageURL = asset.URL
	e.replaceIdea(idea)
	return idea, nil
}

// ClearLocal empties the guest list of the device.
func (e *Engine) ClearLocal(ctx context.Context) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if e.current.Present {
		return e.finish(newError(KindPrecondition, opClearLocal, "guest_only", ErrGuestOnly))
	}
	if err := e.cache.Clear(ctx); err != nil {
		e.logError(opClearLocal, "clear_failed", err)
		return e.finish(newError(KindTransientStore, opClearLocal, "clear_failed", err))
	}
	e.update(func() {
		e.ideas = []ideas.Idea{}
	})
	return e.finish(nil)
}

// HandleIdentityChange switches the active view to the tier of snapshot. It waits for any
// command in flight, so a save started as guest completes as guest. Repeating the current
// snapshot is a no-op unless the last read of its ideas fell back to the local tier.
func (e *Engine) HandleIdentityChange(ctx context.Context, snapshot identity.Snapshot) error {
	e.commandMu.Lock()
	defer e.commandMu.Unlock()

	if snapshot == e.current && !e.degraded {
		return e.finish(nil)
	}
	previous := e.current
	err := e.reconcile(ctx, opIdentityChange, snapshot)
	e.logger.Info("identity changed",
		zap.Bool("was_present", previous.Present),
		zap.Bool("present", snapshot.Present),
		zap.String("user_id", snapshot.ID),
		zap.Bool("degraded", e.degraded))
	return e.finish(err)
}

// Watch applies every snapshot received from updates until ctx ends or updates closes.
// Failures stay observable through LastError.
func (e *Engine) Watch(ctx context.Context, updates <-chan identity.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snapshot, ok := <-updates:
			if !ok {
				return nil
			}
			if err := e.HandleIdentityChange(ctx, snapshot); err != nil {
				e.logger.Warn("identity change degraded", zap.Error(err))
			}
		}
	}
}

// reconcile replaces the active view and quota state with those of snapshot.
func (e *Engine) reconcile(ctx context.Context, operation string, snapshot identity.Snapshot) error {
	view, degraded, nextQuota, err := e.loadOwn(ctx, operation, snapshot)
	e.update(func() {
		e.current = snapshot
		e.ideas = view
		e.degraded = degraded
		e.quotaState = nextQuota
	})
	return err
}

// loadOwn reads the ideas of snapshot through the read policy along with the quota state
// that goes with them. Whenever the store answers for a present identity, the daily count is
// recomputed from its stored ideas; the local counter may be stale or come from another device.
func (e *Engine) loadOwn(ctx context.Context, operation string, snapshot identity.Snapshot) ([]ideas.Idea, bool, quota.State, error) {
	now := e.clock()
	view, degraded, err := e.reader.own(ctx, operation, snapshot)

	localQuota, quotaErr := loadQuotaState(ctx, e.cache)
	if quotaErr != nil {
		e.logger.Warn("quota counters not loaded", zap.Error(quotaErr))
	}
	nextQuota := e.policy.Rollover(localQuota, now)
	if snapshot.Present && !degraded {
		createdAt := make([]time.Time, 0, len(view))
		for _, idea := range view {
			createdAt = append(createdAt, idea.CreatedAt)
		}
		nextQuota = quota.State{
			DailyCount: e.policy.CountForDay(createdAt, now),
			Day:        e.policy.Day(now),
			LastSave:   localQuota.LastSave,
		}
		if storeErr := storeQuotaState(ctx, e.cache, nextQuota); storeErr != nil {
			e.logger.Warn("quota counters not persisted", zap.Error(storeErr))
		}
	}
	return view, degraded, nextQuota, err
}

func (e *Engine) draw() (string, error) {
	text, err := e.generator.Generate(e.used)
	if errors.Is(err, phrases.ErrExhausted) {
		e.logger.Info("phrase pool exhausted, starting a new cycle", zap.Int("used", e.used.Len()))
		e.used.Clear()
		text, err = e.generator.Generate(e.used)
	}
	if err != nil {
		return "", err
	}
	e.used.Add(text)
	return text, nil
}

func (e *Engine) update(apply func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	apply()
}

func (e *Engine) finish(err error) error {
	e.update(func() {
		e.lastErr = err
	})
	return err
}

func (e *Engine) dropIdea(ideaID string) {
	e.update(func() {
		e.ideas = withoutIdea(e.ideas, ideaID)
		e.community = withoutIdea(e.community, ideaID)
	})
}

func (e *Engine) replaceIdea(idea ideas.Idea) {
	e.update(func() {
		for index := range e.ideas {
			if e.ideas[index].ID == idea.ID {
				e.ideas[index] = idea
			}
		}
		for index := range e.community {
			if e.community[index].ID == idea.ID {
				e.community[index] = idea
			}
		}
	})
}

func (e *Engine) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	e.logger.Error("engine command failed", attrs...)
}

func findIdea(list []ideas.Idea, ideaID string) (ideas.Idea, bool) {
	for _, idea := range list {
		if idea.ID == ideaID {
			return idea, true
		}
	}
	return ideas.Idea{}, false
}

func withoutIdea(list []ideas.Idea, ideaID string) []ideas.Idea {
	result := make([]ideas.Idea, 0, len(list))
	for _, idea := range list {
		if idea.ID != ideaID {
			result = append(result, idea)
		}
	}
	return result
}
