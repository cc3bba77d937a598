// Package readiness tracks the load lifecycle of each ad surface and
// owns the global show slot that prevents two full-screen ads from
// overlapping.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gpapplica/admon/internal/models"
)

// Lifecycle is the state of one surface's creative.
//
//	idle -> loading -> {loaded | error}
//	loaded -> showing -> idle
//	error -> idle (after backoff, then reload)
type Lifecycle string

const (
	StateIdle    Lifecycle = "idle"
	StateLoading Lifecycle = "loading"
	StateLoaded  Lifecycle = "loaded"
	StateShowing Lifecycle = "showing"
	StateError   Lifecycle = "error"
)

// Loader is the ad-display collaborator's load half.
type Loader interface {
	Load(ctx context.Context, surface models.Surface) error
}

// PremiumChecker gates loads: premium users consume no ad quota.
type PremiumChecker interface {
	IsPremium() bool
}

// ErrNotLoaded is returned by MarkShowing when the surface has no
// loaded creative.
var ErrNotLoaded = errors.New("readiness: surface not loaded")

// defaultBackoff is the retry schedule after a load error; the last
// step repeats until the per-session retry cap is hit.
var defaultBackoff = []time.Duration{2 * time.Second, 5 * time.Second, 30 * time.Second}

// DefaultMaxRetries caps reload attempts per surface per session so a
// broken ad unit cannot retry forever.
const DefaultMaxRetries = 5

// DefaultLoadTimeout bounds a single load call to the display
// collaborator. A hung SDK call must not pin the surface in loading:
// the timeout routes it through the error/backoff path instead.
const DefaultLoadTimeout = 10 * time.Second

type surfaceState struct {
	lifecycle   Lifecycle
	loadedAt    *time.Time
	lastShownAt *time.Time
	errorReason string
	retries     int
	retryTimer  *time.Timer
}

// Store holds one state machine per surface plus the global show slot.
type Store struct {
	mu      sync.Mutex
	states  map[models.Surface]*surfaceState
	loader  Loader
	premium PremiumChecker
	backoff []time.Duration

	maxRetries  int
	loadTimeout time.Duration
	stopped     bool

	// showMu is the system-wide exclusion for full-screen display. At
	// most one surface may be showing at a time.
	showMu sync.Mutex

	now func() time.Time
}

// NewStore creates the readiness store with every surface idle.
func NewStore(loader Loader, premium PremiumChecker) *Store {
	s := &Store{
		states:      make(map[models.Surface]*surfaceState),
		loader:      loader,
		premium:     premium,
		backoff:     defaultBackoff,
		maxRetries:  DefaultMaxRetries,
		loadTimeout: DefaultLoadTimeout,
		now:         time.Now,
	}
	for _, surface := range models.Surfaces {
		s.states[surface] = &surfaceState{lifecycle: StateIdle}
	}
	return s
}

// RequestLoad starts an async load for the surface. It is a no-op when
// the surface is already loading, loaded, or showing, when the user is
// premium, or after StopAll.
func (s *Store) RequestLoad(ctx context.Context, surface models.Surface) {
	if s.premium.IsPremium() {
		log.Debug().Str("surface", string(surface)).Msg("Skipping ad load for premium user")
		return
	}

	s.mu.Lock()
	st := s.states[surface]
	if s.stopped || st.lifecycle == StateLoading || st.lifecycle == StateLoaded || st.lifecycle == StateShowing {
		s.mu.Unlock()
		return
	}
	st.lifecycle = StateLoading
	st.errorReason = ""
	s.mu.Unlock()

	go s.load(ctx, surface)
}

func (s *Store) load(ctx context.Context, surface models.Surface) {
	loadCtx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	err := s.loader.Load(loadCtx, surface)
	cancel()

	// Premium may have activated while the load was in flight; the
	// creative is discarded rather than kept warm.
	if s.premium.IsPremium() {
		s.mu.Lock()
		s.states[surface].lifecycle = StateIdle
		s.mu.Unlock()
		return
	}

	if err != nil {
		s.MarkError(ctx, surface, fmt.Sprintf("load failed: %v", err))
		return
	}

	s.mu.Lock()
	st := s.states[surface]
	now := s.now()
	st.lifecycle = StateLoaded
	st.loadedAt = &now
	st.retries = 0
	s.mu.Unlock()
	log.Debug().Str("surface", string(surface)).Msg("Ad loaded")
}

// Lifecycle returns the surface's current state.
func (s *Store) Lifecycle(surface models.Surface) Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[surface].lifecycle
}

// IsLoaded reports whether the surface has a creative ready to show.
func (s *Store) IsLoaded(surface models.Surface) bool {
	return s.Lifecycle(surface) == StateLoaded
}

// LastShownAt returns when the surface last completed a show.
func (s *Store) LastShownAt(surface models.Surface) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.states[surface].lastShownAt; t != nil {
		c := *t
		return &c
	}
	return nil
}

// AcquireShowSlot try-acquires the global show exclusion. A false
// return means another surface is mid-show; the caller must not queue,
// just drop the attempt.
func (s *Store) AcquireShowSlot() bool {
	return s.showMu.TryLock()
}

// ReleaseShowSlot releases the global show exclusion. Callers release
// on every exit path.
func (s *Store) ReleaseShowSlot() {
	s.showMu.Unlock()
}

// MarkShowing transitions loaded -> showing. The caller must hold the
// show slot.
func (s *Store) MarkShowing(surface models.Surface) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[surface]
	if st.lifecycle != StateLoaded {
		return ErrNotLoaded
	}
	st.lifecycle = StateShowing
	return nil
}

// MarkShown completes a show: showing -> idle with the show time
// stamped. The creative is consumed; the surface must reload before the
// next show.
func (s *Store) MarkShown(surface models.Surface) {
	s.mu.Lock()
	st := s.states[surface]
	now := s.now()
	st.lifecycle = StateIdle
	st.loadedAt = nil
	st.lastShownAt = &now
	s.mu.Unlock()
	log.Debug().Str("surface", string(surface)).Msg("Ad shown, surface reset to idle")
}

// MarkError records a failure and schedules a backoff retry, up to the
// per-session retry cap.
func (s *Store) MarkError(ctx context.Context, surface models.Surface, reason string) {
	s.mu.Lock()
	st := s.states[surface]
	st.lifecycle = StateError
	st.errorReason = reason
	st.loadedAt = nil
	st.retries++
	retries := st.retries
	stopped := s.stopped
	s.mu.Unlock()

	if stopped || retries > s.maxRetries {
		log.Warn().
			Str("surface", string(surface)).
			Str("reason", reason).
			Int("retries", retries).
			Msg("Ad surface errored, retry budget exhausted")
		return
	}

	delay := s.backoff[min(retries-1, len(s.backoff)-1)]
	log.Warn().
		Str("surface", string(surface)).
		Str("reason", reason).
		Dur("retryIn", delay).
		Msg("Ad surface errored, scheduling retry")

	s.mu.Lock()
	st.retryTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		if s.stopped || s.states[surface].lifecycle != StateError {
			s.mu.Unlock()
			return
		}
		s.states[surface].lifecycle = StateIdle
		s.mu.Unlock()
		s.RequestLoad(ctx, surface)
	})
	s.mu.Unlock()
}

// ErrorReason returns the recorded failure for a surface in error state.
func (s *Store) ErrorReason(surface models.Surface) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[surface].errorReason
}

// KickIdle requests loads for surfaces sitting in idle or error, used
// by the foreground poller to recover after failures.
func (s *Store) KickIdle(ctx context.Context) {
	for _, surface := range models.Surfaces {
		s.mu.Lock()
		st := s.states[surface]
		lifecycle := st.lifecycle
		if lifecycle == StateError {
			st.lifecycle = StateIdle
			if st.retryTimer != nil {
				st.retryTimer.Stop()
				st.retryTimer = nil
			}
		}
		s.mu.Unlock()
		if lifecycle == StateIdle || lifecycle == StateError {
			s.RequestLoad(ctx, surface)
		}
	}
}

// StopAll halts every pending retry and blocks future loads. Invoked
// when the entitlement flips to premium: surfaces stop consuming quota
// and bandwidth, not merely stop showing.
func (s *Store) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for surface, st := range s.states {
		if st.retryTimer != nil {
			st.retryTimer.Stop()
			st.retryTimer = nil
		}
		if st.lifecycle != StateShowing {
			st.lifecycle = StateIdle
		}
		st.loadedAt = nil
		log.Debug().Str("surface", string(surface)).Msg("Ad surface stopped")
	}
}

// Resume re-enables loading after StopAll, for an entitlement lapse.
func (s *Store) Resume() {
	s.mu.Lock()
	for _, st := range s.states {
		st.retries = 0
	}
	s.stopped = false
	s.mu.Unlock()
}
