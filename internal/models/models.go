// Package models holds the shared value types the monetization engine
// passes between its components: ad surfaces, trigger types, entitlement
// and consent statuses.
package models

import "time"

// Surface identifies an ad placement. Each surface carries its own
// lifecycle, cooldown and cap state.
type Surface string

const (
	SurfaceBanner       Surface = "banner"
	SurfaceInterstitial Surface = "interstitial"
	SurfaceAppOpen      Surface = "appOpen"
)

// Surfaces lists every known surface in a stable order.
var Surfaces = []Surface{SurfaceBanner, SurfaceInterstitial, SurfaceAppOpen}

// Valid reports whether s is one of the known surfaces.
func (s Surface) Valid() bool {
	switch s {
	case SurfaceBanner, SurfaceInterstitial, SurfaceAppOpen:
		return true
	}
	return false
}

// TriggerType categorizes the user action that produced an interaction.
// Each trigger type carries a configurable weight toward the show
// threshold of a surface.
type TriggerType string

const (
	TriggerContentOpen TriggerType = "contentOpen"
	TriggerNavigation  TriggerType = "navigation"
	TriggerFavorite    TriggerType = "favorite"
	TriggerShare       TriggerType = "share"
	TriggerAppResume   TriggerType = "appResume"
)

// PlanTier is the subscription plan backing a premium entitlement.
type PlanTier string

const (
	PlanFree    PlanTier = "free"
	PlanWeekly  PlanTier = "weekly"
	PlanMonthly PlanTier = "monthly"
	PlanYearly  PlanTier = "yearly"
)

// EntitlementStatus is the user's current premium standing. Only the
// billing collaborator mutates it; everything else reads it. An active
// entitlement suppresses every ad surface.
type EntitlementStatus struct {
	Active    bool       `json:"active"`
	Plan      PlanTier   `json:"plan"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// ConsentStatus is the platform tracking-permission state.
type ConsentStatus string

const (
	ConsentAuthorized   ConsentStatus = "authorized"
	ConsentDenied       ConsentStatus = "denied"
	ConsentRestricted   ConsentStatus = "restricted"
	ConsentUndetermined ConsentStatus = "undetermined"
)
