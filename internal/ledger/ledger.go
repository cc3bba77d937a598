// Package ledger accumulates weighted interaction counts and show
// counters per ad surface, persists them across process restarts, and
// performs the lazy daily rollover that resets the daily cap.
package ledger

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gpapplica/admon/internal/eligibility"
	"github.com/gpapplica/admon/internal/models"
	"github.com/gpapplica/admon/internal/store"
)

const keyPrefix = "ledger."

// DefaultWeights maps trigger types to their contribution toward a
// surface's interaction threshold. Tunable; overridden per deployment
// via remote config.
var DefaultWeights = map[models.TriggerType]float64{
	models.TriggerContentOpen: 1.0,
	models.TriggerNavigation:  0.5,
	models.TriggerFavorite:    0.3,
	models.TriggerShare:       0.3,
	models.TriggerAppResume:   1.0,
}

// entry is the per-surface persisted state. SessionShowCount is
// deliberately not persisted: a new process is a new session.
type entry struct {
	WeightedCount  float64    `json:"weightedCount"`
	DailyShowCount int        `json:"dailyShowCount"`
	LastShownAt    *time.Time `json:"lastShownAt,omitempty"`
	CurrentDate    string     `json:"currentDate"`

	sessionShowCount int
}

// Ledger tracks interaction and show counters for every surface.
type Ledger struct {
	mu      sync.Mutex
	kv      store.KV
	entries map[models.Surface]*entry
	weights map[models.TriggerType]float64

	now func() time.Time
}

// New loads persisted counters for every surface. Construction marks
// the start of a session: session counters begin at zero.
func New(kv store.KV) *Ledger {
	l := &Ledger{
		kv:      kv,
		entries: make(map[models.Surface]*entry),
		weights: DefaultWeights,
		now:     time.Now,
	}
	for _, surface := range models.Surfaces {
		e := &entry{}
		if raw, ok, err := kv.Get(keyPrefix + string(surface)); err == nil && ok {
			if err := json.Unmarshal([]byte(raw), e); err != nil {
				log.Warn().Err(err).Str("surface", string(surface)).
					Msg("Discarding corrupt ledger entry")
				e = &entry{}
			}
		} else if err != nil {
			log.Warn().Err(err).Str("surface", string(surface)).Msg("Failed to load ledger entry")
		}
		l.entries[surface] = e
	}
	return l
}

// SetWeights replaces the trigger weight table.
func (l *Ledger) SetWeights(weights map[models.TriggerType]float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.weights = weights
}

// TrackInteraction adds the trigger's configured weight to the
// surface's weighted count and persists. Unknown trigger types count
// with weight 1.
func (l *Ledger) TrackInteraction(surface models.Surface, trigger models.TriggerType) eligibility.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	weight, ok := l.weights[trigger]
	if !ok {
		weight = 1.0
	}
	return l.addLocked(surface, trigger, weight)
}

// TrackWeighted is TrackInteraction with an explicit weight, for
// callers carrying screen-specific tuning.
func (l *Ledger) TrackWeighted(surface models.Surface, trigger models.TriggerType, weight float64) eligibility.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addLocked(surface, trigger, weight)
}

func (l *Ledger) addLocked(surface models.Surface, trigger models.TriggerType, weight float64) eligibility.LedgerState {
	e := l.entries[surface]
	l.rolloverLocked(surface, e)
	e.WeightedCount += weight
	l.persistLocked(surface, e)
	log.Debug().
		Str("surface", string(surface)).
		Str("trigger", string(trigger)).
		Float64("weight", weight).
		Float64("weightedCount", e.WeightedCount).
		Msg("Interaction tracked")
	return snapshot(e)
}

// RecordShown resets the weighted count to zero, increments the session
// and daily show counters, and stamps the show time. Called only after
// the display collaborator confirms a successful show.
func (l *Ledger) RecordShown(surface models.Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[surface]
	l.rolloverLocked(surface, e)
	now := l.now()
	e.WeightedCount = 0
	e.sessionShowCount++
	e.DailyShowCount++
	e.LastShownAt = &now
	l.persistLocked(surface, e)
	log.Info().
		Str("surface", string(surface)).
		Int("sessionShows", e.sessionShowCount).
		Int("dailyShows", e.DailyShowCount).
		Msg("Ad show recorded")
}

// Snapshot returns the surface's current counters, applying the lazy
// daily rollover first.
func (l *Ledger) Snapshot(surface models.Surface) eligibility.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.entries[surface]
	if l.rolloverLocked(surface, e) {
		l.persistLocked(surface, e)
	}
	return snapshot(e)
}

// Reset clears every counter for the surface, including persisted
// state. The zeroed entry is stamped with today's date so the next read
// does not treat it as a day change.
func (l *Ledger) Reset(surface models.Surface) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := &entry{CurrentDate: l.todayString()}
	l.entries[surface] = e
	l.persistLocked(surface, e)
}

// rolloverLocked zeroes the daily counter when the stored date string
// differs from today's. Comparing exact date strings (not deltas) means
// a clock moved backward never grants an early reset.
func (l *Ledger) rolloverLocked(surface models.Surface, e *entry) bool {
	today := l.todayString()
	if e.CurrentDate == today {
		return false
	}
	if e.CurrentDate != "" {
		log.Info().
			Str("surface", string(surface)).
			Str("from", e.CurrentDate).
			Str("to", today).
			Msg("Daily rollover, resetting daily show count")
	}
	e.CurrentDate = today
	e.DailyShowCount = 0
	return true
}

// todayString anchors the rollover to the device-local calendar date.
func (l *Ledger) todayString() string {
	return l.now().Format("2006-01-02")
}

func (l *Ledger) persistLocked(surface models.Surface, e *entry) {
	raw, err := json.Marshal(e)
	if err != nil {
		log.Warn().Err(err).Str("surface", string(surface)).Msg("Failed to encode ledger entry")
		return
	}
	if err := l.kv.Set(keyPrefix+string(surface), string(raw)); err != nil {
		log.Warn().Err(err).Str("surface", string(surface)).Msg("Failed to persist ledger entry")
	}
}

func snapshot(e *entry) eligibility.LedgerState {
	s := eligibility.LedgerState{
		WeightedCount:    e.WeightedCount,
		SessionShowCount: e.sessionShowCount,
		DailyShowCount:   e.DailyShowCount,
	}
	if e.LastShownAt != nil {
		t := *e.LastShownAt
		s.LastShownAt = &t
	}
	return s
}
