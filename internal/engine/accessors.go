package engine

import (
	"time"

	"github.com/MarcoPoloResearchLab/mideita/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/ideas"
	"github.com/MarcoPoloResearchLab/mideita/backend/internal/quota"
)

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) Browsing() Browsing {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.browsing
}

// Candidate returns the pending candidate, empty when none.
func (e *Engine) Candidate() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.candidate
}

// Ideas returns the active view, newest first.
func (e *Engine) Ideas() []ideas.Idea {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ideas.Idea(nil), e.ideas...)
}

// RecentIdeas returns the newest DefaultRecentCount ideas of the active view.
func (e *Engine) RecentIdeas() []ideas.Idea {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := len(e.ideas)
	if count > DefaultRecentCount {
		count = DefaultRecentCount
	}
	return append([]ideas.Idea(nil), e.ideas[:count]...)
}

func (e *Engine) CommunityIdeas() []ideas.Idea {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]ideas.Idea(nil), e.community...)
}

// Quota returns the counters rolled over to the current day.
func (e *Engine) Quota() quota.State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.Rollover(e.quotaState, e.clock())
}

// CanGenerate reports whether Generate would pass the quota check now.
func (e *Engine) CanGenerate() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policy.CanGenerateOrSave(e.current.Present, e.quotaState, e.clock())
}

func (e *Engine) Identity() identity.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// CooldownRemaining is the guest wait before the next save; zero for signed-in identities.
func (e *Engine) CooldownRemaining() time.Duration {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.current.Present {
		return 0
	}
	return e.policy.CooldownRemaining(e.quotaState, e.clock())
}

// Degraded reports whether the active view fell back to the local cache.
func (e *Engine) Degraded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.degraded
}

// LastError returns the outcome of the most recent command.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}
