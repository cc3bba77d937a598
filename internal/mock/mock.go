// Package mock provides in-memory stand-ins for the engine's external
// collaborators (billing, consent prompt, ad display, engagement,
// persistence) used by tests and the session simulator.
package mock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/gpapplica/admon/internal/models"
)

// ErrUnavailable simulates a collaborator SDK that failed to load.
var ErrUnavailable = errors.New("mock: collaborator unavailable")

// KV is an in-memory persistence collaborator.
type KV struct {
	mu   sync.Mutex
	data map[string]string

	// FailWrites makes Set return an error, for degradation tests.
	FailWrites bool
}

// NewKV returns an empty in-memory KV store.
func NewKV() *KV {
	return &KV{data: make(map[string]string)}
}

func (k *KV) Get(key string) (string, bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok, nil
}

func (k *KV) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.FailWrites {
		return ErrUnavailable
	}
	k.data[key] = value
	return nil
}

func (k *KV) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, key)
	return nil
}

// Prompter is a scriptable consent-prompt collaborator.
type Prompter struct {
	mu           sync.Mutex
	Status       models.ConsentStatus
	PromptResult models.ConsentStatus
	Err          error

	CurrentCalls int
	RequestCalls int
}

// NewPrompter returns a prompter that currently reports status and
// resolves the prompt to promptResult.
func NewPrompter(status, promptResult models.ConsentStatus) *Prompter {
	return &Prompter{Status: status, PromptResult: promptResult}
}

func (p *Prompter) Current(ctx context.Context) (models.ConsentStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CurrentCalls++
	if p.Err != nil {
		return "", p.Err
	}
	return p.Status, nil
}

func (p *Prompter) Request(ctx context.Context) (models.ConsentStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.RequestCalls++
	if p.Err != nil {
		return "", p.Err
	}
	p.Status = p.PromptResult
	return p.PromptResult, nil
}

// SetErr scripts a collaborator failure.
func (p *Prompter) SetErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Err = err
}

// Biller is a scriptable billing collaborator.
type Biller struct {
	mu        sync.Mutex
	status    models.EntitlementStatus
	err       error
	listeners []func(models.EntitlementStatus)

	StatusCalls int
}

// NewBiller returns a biller reporting the given entitlement status.
func NewBiller(status models.EntitlementStatus) *Biller {
	return &Biller{status: status}
}

func (b *Biller) Status(ctx context.Context) (models.EntitlementStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.StatusCalls++
	if b.err != nil {
		return models.EntitlementStatus{}, b.err
	}
	return b.status, nil
}

func (b *Biller) OnChange(cb func(models.EntitlementStatus)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, cb)
}

// SetStatus updates the entitlement and pushes it to registered
// listeners, simulating a live purchase or lapse.
func (b *Biller) SetStatus(status models.EntitlementStatus) {
	b.mu.Lock()
	b.status = status
	listeners := slices.Clone(b.listeners)
	b.mu.Unlock()
	for _, cb := range listeners {
		cb(status)
	}
}

// Statuses returns how many times Status ran.
func (b *Biller) Statuses() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.StatusCalls
}

// SetErr scripts a billing failure; cached status should win.
func (b *Biller) SetErr(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

// Display is a scriptable ad-display collaborator. Load and Show honor
// per-surface scripted errors and delays.
type Display struct {
	mu        sync.Mutex
	loadErr   map[models.Surface]error
	showErr   map[models.Surface]error
	loadDelay time.Duration
	showDelay time.Duration

	LoadCalls map[models.Surface]int
	ShowCalls map[models.Surface]int
}

// NewDisplay returns a display collaborator that always succeeds.
func NewDisplay() *Display {
	return &Display{
		loadErr:   make(map[models.Surface]error),
		showErr:   make(map[models.Surface]error),
		LoadCalls: make(map[models.Surface]int),
		ShowCalls: make(map[models.Surface]int),
	}
}

func (d *Display) Load(ctx context.Context, surface models.Surface) error {
	d.mu.Lock()
	d.LoadCalls[surface]++
	err := d.loadErr[surface]
	delay := d.loadDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (d *Display) Show(ctx context.Context, surface models.Surface) error {
	d.mu.Lock()
	d.ShowCalls[surface]++
	err := d.showErr[surface]
	delay := d.showDelay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

// Loads returns how many times Load ran for a surface.
func (d *Display) Loads(surface models.Surface) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.LoadCalls[surface]
}

// Shows returns how many times Show ran for a surface.
func (d *Display) Shows(surface models.Surface) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ShowCalls[surface]
}

// FailLoad scripts load errors for a surface.
func (d *Display) FailLoad(surface models.Surface, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadErr[surface] = err
}

// FailShow scripts show errors for a surface.
func (d *Display) FailShow(surface models.Surface, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.showErr[surface] = err
}

// Delay makes Load and Show block, simulating a hung SDK call. The
// calls still respect context cancellation.
func (d *Display) Delay(load, show time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loadDelay = load
	d.showDelay = show
}

// Engagement is a fixed-streak engagement collaborator.
type Engagement struct {
	mu          sync.Mutex
	streak      int
	StreakCalls int
}

// NewEngagement returns an engagement collaborator reporting streak.
func NewEngagement(streak int) *Engagement {
	return &Engagement{streak: streak}
}

func (e *Engagement) Streak() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StreakCalls++
	return e.streak
}

// SetStreak updates the reported streak.
func (e *Engagement) SetStreak(streak int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.streak = streak
}
