// Package orchestrator is the engine façade. It receives UI and
// app-lifecycle triggers, consults the consent tracker, entitlement
// gate, readiness store and ledger, invokes the ad-display collaborator,
// and records outcomes. No error ever escapes to the caller: the UI
// only sees verdicts and shown/not-shown booleans.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gpapplica/admon/internal/adconfig"
	"github.com/gpapplica/admon/internal/consent"
	"github.com/gpapplica/admon/internal/eligibility"
	"github.com/gpapplica/admon/internal/entitlement"
	"github.com/gpapplica/admon/internal/history"
	"github.com/gpapplica/admon/internal/ledger"
	"github.com/gpapplica/admon/internal/models"
	"github.com/gpapplica/admon/internal/pressure"
	"github.com/gpapplica/admon/internal/readiness"
	"github.com/gpapplica/admon/internal/telemetry"
)

const (
	// DefaultShowTimeout bounds how long a display call may hang before
	// the surface is failed and the show slot released.
	DefaultShowTimeout = 5 * time.Second

	// DefaultPollInterval is the foreground re-check cadence for
	// consent, entitlement, rollover and reload recovery.
	DefaultPollInterval = 15 * time.Second
)

// Displayer is the ad-display collaborator's show half.
type Displayer interface {
	Show(ctx context.Context, surface models.Surface) error
}

// Engagement supplies the user's current streak for pressure tiers.
type Engagement interface {
	Streak() int
}

// Options tunes an orchestrator.
type Options struct {
	Config       adconfig.Config
	ShowTimeout  time.Duration
	PollInterval time.Duration
	Metrics      *telemetry.Metrics // optional
	History      *history.Log       // optional
}

// Orchestrator wires the sibling stores together. Construct one per
// process at the composition root and share it.
type Orchestrator struct {
	sessionID  string
	gate       *entitlement.Gate
	consent    *consent.Tracker
	ready      *readiness.Store
	ledger     *ledger.Ledger
	display    Displayer
	engagement Engagement
	metrics    *telemetry.Metrics
	hist       *history.Log

	showTimeout  time.Duration
	pollInterval time.Duration

	mu  sync.Mutex
	cfg adconfig.Config

	pollMu   sync.Mutex
	pollStop chan struct{}

	now func() time.Time
}

// New builds the orchestrator and subscribes to entitlement flips so
// surfaces stop loading the instant premium activates.
func New(gate *entitlement.Gate, tracker *consent.Tracker, ready *readiness.Store,
	led *ledger.Ledger, display Displayer, engagement Engagement, opts Options) *Orchestrator {

	if opts.ShowTimeout <= 0 {
		opts.ShowTimeout = DefaultShowTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Config.Surfaces == nil {
		opts.Config = adconfig.Default()
	}

	o := &Orchestrator{
		sessionID:    uuid.NewString(),
		gate:         gate,
		consent:      tracker,
		ready:        ready,
		ledger:       led,
		display:      display,
		engagement:   engagement,
		metrics:      opts.Metrics,
		hist:         opts.History,
		showTimeout:  opts.ShowTimeout,
		pollInterval: opts.PollInterval,
		cfg:          opts.Config,
		now:          time.Now,
	}
	o.ApplyConfig(opts.Config)

	gate.OnChange(func(status models.EntitlementStatus) {
		if status.Active {
			ready.StopAll()
		} else {
			ready.Resume()
		}
	})

	log.Info().Str("session", o.sessionID).Msg("Monetization orchestrator started")
	return o
}

// SessionID identifies this app session in logs and history.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// ApplyConfig swaps in a new remote ad config, including trigger
// weights. Wired to the adconfig watcher's reload callback.
func (o *Orchestrator) ApplyConfig(cfg adconfig.Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	if len(cfg.Weights) > 0 {
		o.ledger.SetWeights(cfg.Weights)
	}
}

func (o *Orchestrator) surfaceConfig(surface models.Surface) eligibility.SurfaceConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg.SurfaceConfig(surface)
}

// Evaluate produces a fresh verdict for the surface from current state.
func (o *Orchestrator) Evaluate(surface models.Surface) eligibility.Verdict {
	v := eligibility.Evaluate(o.surfaceConfig(surface), eligibility.Input{
		Surface: surface,
		Premium: o.gate.IsPremium(),
		AnyAds:  o.consent.CanRequestAnyAds(),
		Loaded:  o.ready.IsLoaded(surface),
		Ledger:  o.ledger.Snapshot(surface),
		Now:     o.now(),
	})
	o.metrics.Verdict(surface, v.Reason)
	return v
}

// TrackInteraction records a weighted interaction and returns the
// resulting verdict. A verdict of ok means the caller should invoke
// AttemptShow immediately. Premium users are not counted at all.
func (o *Orchestrator) TrackInteraction(ctx context.Context, surface models.Surface, trigger models.TriggerType) eligibility.Verdict {
	if o.gate.IsPremium() {
		return eligibility.Verdict{Reason: eligibility.ReasonPremium}
	}
	o.ledger.TrackInteraction(surface, trigger)
	v := o.Evaluate(surface)

	// Preload ahead of eligibility so the creative is ready when the
	// threshold is crossed.
	if v.Reason == eligibility.ReasonNotLoaded || v.Reason == eligibility.ReasonBelowThreshold {
		o.ready.RequestLoad(ctx, surface)
	}
	return v
}

// AttemptShow tries to display the surface now. It returns false
// without queueing when another show is in flight; a lost attempt is
// simply retried by the next trigger.
func (o *Orchestrator) AttemptShow(ctx context.Context, surface models.Surface) bool {
	if !o.ready.AcquireShowSlot() {
		log.Debug().Str("surface", string(surface)).Msg("Show slot busy, dropping attempt")
		return false
	}
	defer o.ready.ReleaseShowSlot()

	v := o.Evaluate(surface)
	if !v.Allowed {
		o.recordAttempt(surface, v, false)
		log.Debug().
			Str("surface", string(surface)).
			Str("reason", string(v.Reason)).
			Msg("Show denied")
		return false
	}

	// Premium is re-validated at the last possible instant: a purchase
	// may have completed since the verdict above was computed.
	if o.gate.IsPremium() {
		o.recordAttempt(surface, eligibility.Verdict{Reason: eligibility.ReasonPremium}, false)
		return false
	}

	if err := o.ready.MarkShowing(surface); err != nil {
		o.recordAttempt(surface, eligibility.Verdict{Reason: eligibility.ReasonNotLoaded}, false)
		return false
	}

	showCtx, cancel := context.WithTimeout(ctx, o.showTimeout)
	err := o.safeShow(showCtx, surface)
	cancel()
	if err != nil {
		reason := fmt.Sprintf("show failed: %v", err)
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "show timed out"
		}
		o.ready.MarkError(ctx, surface, reason)
		o.metrics.LoadError(surface)
		o.recordAttempt(surface, v, false)
		log.Warn().Err(err).Str("surface", string(surface)).Msg("Ad display failed")
		return false
	}

	o.ready.MarkShown(surface)
	o.ledger.RecordShown(surface)
	o.metrics.Shown(surface)
	o.recordAttempt(surface, v, true)

	// The creative is consumed; preload the next one right away.
	o.ready.RequestLoad(ctx, surface)
	return true
}

// safeShow converts a panicking display collaborator into an error so
// the show slot is always released and nothing reaches the UI.
func (o *Orchestrator) safeShow(ctx context.Context, surface models.Surface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("display collaborator panicked: %v", r)
		}
	}()
	return o.display.Show(ctx, surface)
}

// PressurePrompt returns the current upsell tier and its copy. Premium
// users never see a prompt.
func (o *Orchestrator) PressurePrompt() (pressure.Tier, pressure.Bundle, bool) {
	if o.gate.IsPremium() {
		return pressure.TierNone, pressure.Bundle{}, false
	}
	shows := 0
	for _, surface := range models.Surfaces {
		shows += o.ledger.Snapshot(surface).SessionShowCount
	}
	streak := 0
	if o.engagement != nil {
		streak = o.engagement.Streak()
	}
	tier := pressure.ComputeTier(shows, streak)
	bundle, ok := pressure.BundleFor(tier)
	return tier, bundle, ok
}

// OnAppForeground re-validates consent and entitlement (both can change
// while backgrounded), recovers stalled surfaces, starts the poller,
// and gives the app-open surface its chance to show.
func (o *Orchestrator) OnAppForeground(ctx context.Context) {
	o.consent.Refresh(ctx)
	o.gate.Refresh(ctx)
	o.ready.KickIdle(ctx)
	o.startPoller(ctx)

	// Routed through TrackInteraction so premium users get nothing
	// counted or persisted on resume.
	o.TrackInteraction(ctx, models.SurfaceAppOpen, models.TriggerAppResume)
	o.AttemptShow(ctx, models.SurfaceAppOpen)
}

// OnAppBackground stops the poller so a suspended app burns no battery.
func (o *Orchestrator) OnAppBackground() {
	o.stopPoller()
}

// Close releases background resources.
func (o *Orchestrator) Close() {
	o.stopPoller()
}

func (o *Orchestrator) startPoller(ctx context.Context) {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()
	if o.pollStop != nil {
		return // already running
	}
	stop := make(chan struct{})
	o.pollStop = stop

	go func() {
		ticker := time.NewTicker(o.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				o.consent.Get(ctx)
				o.gate.Refresh(ctx)
				for _, surface := range models.Surfaces {
					o.ledger.Snapshot(surface) // lazy daily rollover
				}
				o.ready.KickIdle(ctx)
			case <-stop:
				return
			}
		}
	}()
}

func (o *Orchestrator) stopPoller() {
	o.pollMu.Lock()
	defer o.pollMu.Unlock()
	if o.pollStop != nil {
		close(o.pollStop)
		o.pollStop = nil
	}
}

func (o *Orchestrator) recordAttempt(surface models.Surface, v eligibility.Verdict, shown bool) {
	o.hist.Record(history.Attempt{
		Surface: surface,
		Allowed: v.Allowed,
		Reason:  v.Reason,
		Shown:   shown,
	})
}

// Stats is a debugging snapshot for one surface.
type Stats struct {
	Surface           models.Surface      `json:"surface"`
	Lifecycle         readiness.Lifecycle `json:"lifecycle"`
	Verdict           eligibility.Verdict `json:"verdict"`
	WeightedCount     float64             `json:"weightedCount"`
	SessionShowCount  int                 `json:"sessionShowCount"`
	DailyShowCount    int                 `json:"dailyShowCount"`
	CooldownRemaining time.Duration       `json:"cooldownRemaining"`
	UntilThreshold    float64             `json:"untilThreshold"`
}

// Stats reports the surface's current counters and verdict.
func (o *Orchestrator) Stats(surface models.Surface) Stats {
	cfg := o.surfaceConfig(surface)
	led := o.ledger.Snapshot(surface)
	s := Stats{
		Surface:          surface,
		Lifecycle:        o.ready.Lifecycle(surface),
		Verdict:          o.Evaluate(surface),
		WeightedCount:    led.WeightedCount,
		SessionShowCount: led.SessionShowCount,
		DailyShowCount:   led.DailyShowCount,
	}
	if led.LastShownAt != nil {
		if remaining := cfg.Cooldown - o.now().Sub(*led.LastShownAt); remaining > 0 {
			s.CooldownRemaining = remaining
		}
	}
	if until := cfg.InteractionThreshold - led.WeightedCount; until > 0 {
		s.UntilThreshold = until
	}
	return s
}
