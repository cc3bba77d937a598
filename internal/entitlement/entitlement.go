// Package entitlement owns the user's premium status. The gate is the
// master override consulted by every ad decision: an active entitlement
// suppresses ads everywhere.
package entitlement

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/gpapplica/admon/internal/models"
	"github.com/gpapplica/admon/internal/store"
)

const statusKey = "entitlement.status"

// Biller is the external billing collaborator.
type Biller interface {
	Status(ctx context.Context) (models.EntitlementStatus, error)
	OnChange(func(models.EntitlementStatus))
}

// Gate caches the entitlement status, falls back to the persisted value
// when billing is unreachable, and notifies listeners on change so ad
// surfaces stop loading the moment premium activates.
type Gate struct {
	mu        sync.RWMutex
	biller    Biller
	kv        store.KV
	status    models.EntitlementStatus
	listeners []func(models.EntitlementStatus)

	refreshGroup singleflight.Group
}

// NewGate builds a gate seeded from the persisted cache and subscribes
// to the biller's live updates.
func NewGate(biller Biller, kv store.KV) *Gate {
	g := &Gate{biller: biller, kv: kv}
	g.status.Plan = models.PlanFree

	if raw, ok, err := kv.Get(statusKey); err == nil && ok {
		var cached models.EntitlementStatus
		if err := json.Unmarshal([]byte(raw), &cached); err == nil {
			g.status = cached
		} else {
			log.Warn().Err(err).Msg("Discarding corrupt entitlement cache")
		}
	} else if err != nil {
		log.Warn().Err(err).Msg("Failed to read entitlement cache")
	}

	biller.OnChange(g.apply)
	return g
}

// IsPremium reports whether the cached entitlement is active.
func (g *Gate) IsPremium() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status.Active
}

// Status returns the cached entitlement status.
func (g *Gate) Status() models.EntitlementStatus {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Refresh queries the billing collaborator. Concurrent refreshes are
// collapsed into a single billing call; on error the cached value wins.
func (g *Gate) Refresh(ctx context.Context) models.EntitlementStatus {
	v, _, _ := g.refreshGroup.Do("refresh", func() (interface{}, error) {
		status, err := g.biller.Status(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Billing refresh failed, using cached entitlement")
			return g.Status(), nil
		}
		g.apply(status)
		return status, nil
	})
	return v.(models.EntitlementStatus)
}

// OnChange registers a listener invoked whenever the entitlement flips
// between free and premium. The readiness store uses this to stop
// in-flight loads when premium activates.
func (g *Gate) OnChange(cb func(models.EntitlementStatus)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, cb)
}

func (g *Gate) apply(status models.EntitlementStatus) {
	g.mu.Lock()
	changed := g.status.Active != status.Active
	g.status = status
	listeners := slices.Clone(g.listeners)
	if raw, err := json.Marshal(status); err == nil {
		if err := g.kv.Set(statusKey, string(raw)); err != nil {
			log.Warn().Err(err).Msg("Failed to persist entitlement cache")
		}
	}
	g.mu.Unlock()

	if !changed {
		return
	}
	log.Info().
		Bool("active", status.Active).
		Str("plan", string(status.Plan)).
		Msg("Entitlement changed")
	for _, cb := range listeners {
		cb(status)
	}
}
