// Package pressure derives the upsell escalation tier from session ad
// counts and the user's engagement streak. Purely advisory: the UI
// decides whether to render the prompt, and only ever for free users.
package pressure

// Tier is the escalation level of the premium upsell prompt.
type Tier string

const (
	TierNone       Tier = "none"
	TierSoft       Tier = "soft"
	TierMedium     Tier = "medium"
	TierAggressive Tier = "aggressive"
)

// AggressiveStreakThreshold is the streak at which a heavily-adverted
// session escalates from medium to aggressive. Tunable.
const AggressiveStreakThreshold = 5

// Bundle is the message/CTA copy for one tier.
type Bundle struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	CTA      string `json:"cta"`
}

var bundles = map[Tier]Bundle{
	TierSoft: {
		Title:    "Tired of the ads?",
		Subtitle: "Join Premium and enjoy without interruptions",
		CTA:      "Try Premium",
	},
	TierMedium: {
		Title:    "Constant interruptions, right?",
		Subtitle: "Premium removes ALL ads forever",
		CTA:      "I want Premium NOW",
	},
	TierAggressive: {
		Title:    "Enough ads for today!",
		Subtitle: "Free yourself from this constant nuisance with Premium",
		CTA:      "REMOVE ADS",
	},
}

// ComputeTier maps session show count and streak to a tier. Two or more
// ads in a session escalate past soft; a long streak marks an engaged
// user worth the aggressive pitch.
func ComputeTier(sessionShowCount, streak int) Tier {
	switch {
	case sessionShowCount >= 2 && streak >= AggressiveStreakThreshold:
		return TierAggressive
	case sessionShowCount >= 2:
		return TierMedium
	case sessionShowCount >= 1:
		return TierSoft
	default:
		return TierNone
	}
}

// BundleFor returns the copy for a tier. TierNone has no bundle.
func BundleFor(tier Tier) (Bundle, bool) {
	b, ok := bundles[tier]
	return b, ok
}
