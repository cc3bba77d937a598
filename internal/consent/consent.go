// Package consent tracks the platform tracking-permission status and
// derives whether personalized or non-personalized ad requests are
// allowed.
package consent

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gpapplica/admon/internal/models"
	"github.com/gpapplica/admon/internal/store"
)

const (
	statusKey    = "consent.status"
	requestedKey = "consent.requested"

	// DefaultRefreshInterval bounds how often Get re-queries the platform.
	DefaultRefreshInterval = 30 * time.Second
)

// Prompter is the platform consent collaborator. Current reads the
// permission state without prompting; Request shows the system prompt.
type Prompter interface {
	Current(ctx context.Context) (models.ConsentStatus, error)
	Request(ctx context.Context) (models.ConsentStatus, error)
}

// Tracker caches the tracking-consent status, persists it so a relaunch
// does not re-prompt, and degrades safely when the platform collaborator
// is unavailable: ads keep serving, personalization stays off.
type Tracker struct {
	mu              sync.RWMutex
	prompter        Prompter
	kv              store.KV
	refreshInterval time.Duration

	status    models.ConsentStatus
	degraded  bool // collaborator unavailable; serve non-personalized only
	fetchedAt time.Time

	now func() time.Time
}

// NewTracker builds a tracker seeded from the persisted status, if any.
func NewTracker(prompter Prompter, kv store.KV) *Tracker {
	t := &Tracker{
		prompter:        prompter,
		kv:              kv,
		refreshInterval: DefaultRefreshInterval,
		status:          models.ConsentUndetermined,
		now:             time.Now,
	}
	if raw, ok, err := kv.Get(statusKey); err == nil && ok {
		t.status = models.ConsentStatus(raw)
	} else if err != nil {
		log.Warn().Err(err).Msg("Failed to read persisted consent status")
	}
	return t
}

// Get returns the current consent status, refreshing from the platform
// at most once per refresh interval.
func (t *Tracker) Get(ctx context.Context) models.ConsentStatus {
	t.mu.RLock()
	fresh := t.now().Sub(t.fetchedAt) < t.refreshInterval
	status := t.status
	t.mu.RUnlock()
	if fresh {
		return status
	}
	return t.Refresh(ctx)
}

// Refresh re-queries the platform collaborator unconditionally. Called
// on app-foreground, where the user may have changed the permission in
// system settings.
func (t *Tracker) Refresh(ctx context.Context) models.ConsentStatus {
	current, err := t.prompter.Current(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchedAt = t.now()
	if err != nil {
		// Fail open for ad serving, closed for personalization.
		log.Warn().Err(err).Msg("Consent collaborator unavailable, serving non-personalized ads")
		t.degraded = true
		t.status = models.ConsentAuthorized
		return t.status
	}
	t.degraded = false
	if current != t.status {
		log.Info().
			Str("from", string(t.status)).
			Str("to", string(current)).
			Msg("Consent status changed")
	}
	t.status = current
	t.persistLocked()
	return t.status
}

// Request shows the platform prompt. It is a no-op returning the cached
// status if the prompt was already requested on this install; the
// platform allows the prompt exactly once.
func (t *Tracker) Request(ctx context.Context) models.ConsentStatus {
	if t.alreadyRequested() {
		log.Debug().Msg("Consent prompt already requested on this install")
		return t.Get(ctx)
	}

	// Mark requested before prompting so a crash mid-prompt cannot
	// trigger a second automatic prompt.
	if err := t.kv.Set(requestedKey, "true"); err != nil {
		log.Warn().Err(err).Msg("Failed to persist consent-requested marker")
	}

	resolved, err := t.prompter.Request(ctx)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.fetchedAt = t.now()
	if err != nil {
		log.Warn().Err(err).Msg("Consent prompt failed, serving non-personalized ads")
		t.degraded = true
		t.status = models.ConsentAuthorized
		return t.status
	}
	t.degraded = false
	t.status = resolved
	t.persistLocked()
	log.Info().Str("status", string(resolved)).Msg("Consent prompt resolved")
	return t.status
}

// ShouldRequest reports whether the prompt should be shown automatically:
// never requested yet and the platform still reports undetermined.
func (t *Tracker) ShouldRequest(ctx context.Context) bool {
	if t.alreadyRequested() {
		return false
	}
	return t.Get(ctx) == models.ConsentUndetermined
}

// CanRequestPersonalizedAds reports whether tracking-based ad requests
// are permitted.
func (t *Tracker) CanRequestPersonalizedAds() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.degraded && t.status == models.ConsentAuthorized
}

// CanRequestAnyAds reports whether any ad request (including
// non-personalized) is permitted. Undetermined consent suppresses ads
// entirely until the prompt resolves.
func (t *Tracker) CanRequestAnyAds() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status != models.ConsentUndetermined
}

func (t *Tracker) alreadyRequested() bool {
	raw, ok, err := t.kv.Get(requestedKey)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read consent-requested marker")
		return false
	}
	return ok && raw == "true"
}

func (t *Tracker) persistLocked() {
	if err := t.kv.Set(statusKey, string(t.status)); err != nil {
		log.Warn().Err(err).Msg("Failed to persist consent status")
	}
}
