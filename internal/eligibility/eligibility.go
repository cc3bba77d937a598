// Package eligibility decides whether an ad surface may be shown right
// now. Evaluate is a pure function over a snapshot of engine state; it
// never reads clocks, stores, or collaborators itself.
package eligibility

import (
	"time"

	"github.com/gpapplica/admon/internal/models"
)

// Reason explains a verdict. The first failing check in the fixed
// precedence order wins and is reported.
type Reason string

const (
	ReasonPremium           Reason = "premium"
	ReasonConsentBlocked    Reason = "consentBlocked"
	ReasonSurfaceDisabled   Reason = "surfaceDisabled"
	ReasonNotLoaded         Reason = "notLoaded"
	ReasonQuietHours        Reason = "quietHours"
	ReasonDailyCapReached   Reason = "dailyCapReached"
	ReasonSessionCapReached Reason = "sessionCapReached"
	ReasonCooldownActive    Reason = "cooldownActive"
	ReasonBelowThreshold    Reason = "belowThreshold"
	ReasonOK                Reason = "ok"
)

// Verdict is the result of one evaluation. It is produced fresh each
// time and never persisted.
type Verdict struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func deny(reason Reason) Verdict { return Verdict{Reason: reason} }

// QuietHours configures a daily window during which ads are withheld.
// Start and End are "15:04" clock times; a window wrapping midnight
// (Start > End) is honored.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// SurfaceConfig tunes one surface's gating. Caps of zero or below mean
// uncapped; a threshold of zero admits the first interaction.
type SurfaceConfig struct {
	Enabled              bool          `json:"enabled"`
	InteractionThreshold float64       `json:"interactionThreshold"`
	Cooldown             time.Duration `json:"cooldown"`
	DailyCap             int           `json:"dailyCap"`
	SessionCap           int           `json:"sessionCap"`
	QuietHours           QuietHours    `json:"quietHours"`
}

// LedgerState is the counter snapshot the evaluator reads.
type LedgerState struct {
	WeightedCount    float64
	SessionShowCount int
	DailyShowCount   int
	LastShownAt      *time.Time
}

// Input is the full state snapshot for one evaluation.
type Input struct {
	Surface models.Surface
	Premium bool
	// AnyAds is the consent tracker's canRequestAnyAds result.
	AnyAds bool
	// Loaded is true when the surface lifecycle is loaded.
	Loaded bool
	Ledger LedgerState
	Now    time.Time
}

// Evaluate applies the gating checks in fixed precedence order. Premium
// and consent are absolute business constraints and short-circuit before
// any engagement heuristic; caps and cooldowns protect the user
// experience and outrank the raw interaction threshold.
func Evaluate(cfg SurfaceConfig, in Input) Verdict {
	if in.Premium {
		return deny(ReasonPremium)
	}
	if !in.AnyAds {
		return deny(ReasonConsentBlocked)
	}
	if !cfg.Enabled {
		return deny(ReasonSurfaceDisabled)
	}
	if !in.Loaded {
		return deny(ReasonNotLoaded)
	}
	if inQuietHours(cfg.QuietHours, in.Now) {
		return deny(ReasonQuietHours)
	}
	if cfg.DailyCap > 0 && in.Ledger.DailyShowCount >= cfg.DailyCap {
		return deny(ReasonDailyCapReached)
	}
	if cfg.SessionCap > 0 && in.Ledger.SessionShowCount >= cfg.SessionCap {
		return deny(ReasonSessionCapReached)
	}
	if cfg.Cooldown > 0 && in.Ledger.LastShownAt != nil &&
		in.Now.Sub(*in.Ledger.LastShownAt) < cfg.Cooldown {
		return deny(ReasonCooldownActive)
	}
	if in.Ledger.WeightedCount < cfg.InteractionThreshold {
		return deny(ReasonBelowThreshold)
	}
	return Verdict{Allowed: true, Reason: ReasonOK}
}

// inQuietHours reports whether now falls inside the configured window.
// Malformed configuration never blocks ads: an unparsable window is
// treated as disabled.
func inQuietHours(qh QuietHours, now time.Time) bool {
	if !qh.Enabled {
		return false
	}
	loc := now.Location()
	if qh.Timezone != "" {
		if l, err := time.LoadLocation(qh.Timezone); err == nil {
			loc = l
		}
	}
	start, err := parseClock(qh.Start)
	if err != nil {
		return false
	}
	end, err := parseClock(qh.End)
	if err != nil {
		return false
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start <= end {
		return minute >= start && minute < end
	}
	// Window wraps midnight, e.g. 22:00-07:00.
	return minute >= start || minute < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
