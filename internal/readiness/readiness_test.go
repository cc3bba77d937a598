package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gpapplica/admon/internal/mock"
	"github.com/gpapplica/admon/internal/models"
)

type stubGate struct {
	mu      sync.Mutex
	premium bool
}

func (g *stubGate) IsPremium() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.premium
}

func (g *stubGate) set(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.premium = v
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func newTestStore(display *mock.Display, gate *stubGate) *Store {
	s := NewStore(display, gate)
	s.backoff = []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}
	return s
}

func TestRequestLoadReachesLoaded(t *testing.T) {
	s := newTestStore(mock.NewDisplay(), &stubGate{})
	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	waitFor(t, func() bool { return s.IsLoaded(models.SurfaceInterstitial) }, "surface never loaded")
}

func TestRequestLoadNoOpWhenLoadedOrLoading(t *testing.T) {
	display := mock.NewDisplay()
	s := newTestStore(display, &stubGate{})
	ctx := context.Background()

	s.RequestLoad(ctx, models.SurfaceInterstitial)
	waitFor(t, func() bool { return s.IsLoaded(models.SurfaceInterstitial) }, "surface never loaded")
	s.RequestLoad(ctx, models.SurfaceInterstitial)
	s.RequestLoad(ctx, models.SurfaceInterstitial)

	if got := display.Loads(models.SurfaceInterstitial); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}
}

func TestPremiumSkipsLoad(t *testing.T) {
	display := mock.NewDisplay()
	s := newTestStore(display, &stubGate{premium: true})
	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	time.Sleep(20 * time.Millisecond)
	if got := display.Loads(models.SurfaceInterstitial); got != 0 {
		t.Errorf("loader called %d times for premium user, want 0", got)
	}
	if got := s.Lifecycle(models.SurfaceInterstitial); got != StateIdle {
		t.Errorf("lifecycle = %q, want idle", got)
	}
}

func TestPremiumFlipMidLoadDiscardsCreative(t *testing.T) {
	display := mock.NewDisplay()
	display.Delay(30*time.Millisecond, 0)
	gate := &stubGate{}
	s := newTestStore(display, gate)

	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	gate.set(true)
	waitFor(t, func() bool {
		return s.Lifecycle(models.SurfaceInterstitial) == StateIdle
	}, "in-flight load not discarded after premium flip")
}

func TestMarkShowingRequiresLoaded(t *testing.T) {
	s := newTestStore(mock.NewDisplay(), &stubGate{})
	if err := s.MarkShowing(models.SurfaceInterstitial); !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("MarkShowing on idle = %v, want ErrNotLoaded", err)
	}
}

func TestShowCycleResetsToIdle(t *testing.T) {
	s := newTestStore(mock.NewDisplay(), &stubGate{})
	ctx := context.Background()
	s.RequestLoad(ctx, models.SurfaceInterstitial)
	waitFor(t, func() bool { return s.IsLoaded(models.SurfaceInterstitial) }, "surface never loaded")

	if err := s.MarkShowing(models.SurfaceInterstitial); err != nil {
		t.Fatalf("MarkShowing returned error: %v", err)
	}
	s.MarkShown(models.SurfaceInterstitial)

	if got := s.Lifecycle(models.SurfaceInterstitial); got != StateIdle {
		t.Errorf("lifecycle after show = %q, want idle", got)
	}
	if s.LastShownAt(models.SurfaceInterstitial) == nil {
		t.Error("LastShownAt not stamped")
	}
	// Consumed creative: a second show needs a reload first.
	if err := s.MarkShowing(models.SurfaceInterstitial); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("MarkShowing without reload = %v, want ErrNotLoaded", err)
	}
}

func TestLoadErrorRetriesWithBackoff(t *testing.T) {
	display := mock.NewDisplay()
	display.FailLoad(models.SurfaceInterstitial, errors.New("no fill"))
	s := newTestStore(display, &stubGate{})

	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	waitFor(t, func() bool {
		display.FailLoad(models.SurfaceInterstitial, nil) // let a retry succeed
		return s.IsLoaded(models.SurfaceInterstitial)
	}, "retry never recovered the surface")
}

func TestRetryBudgetExhausts(t *testing.T) {
	display := mock.NewDisplay()
	display.FailLoad(models.SurfaceInterstitial, errors.New("no fill"))
	s := newTestStore(display, &stubGate{})
	s.maxRetries = 2

	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	waitFor(t, func() bool {
		return display.Loads(models.SurfaceInterstitial) >= 3 // initial + 2 retries
	}, "retries never ran")
	time.Sleep(50 * time.Millisecond)
	if got := display.Loads(models.SurfaceInterstitial); got != 3 {
		t.Errorf("loader called %d times, want 3 (budget exhausted)", got)
	}
	if got := s.Lifecycle(models.SurfaceInterstitial); got != StateError {
		t.Errorf("lifecycle = %q, want error after exhausted budget", got)
	}
}

func TestHungLoadTimesOutAndRetries(t *testing.T) {
	// A load that never returns must not pin the surface in loading:
	// the timeout fails it into the backoff path, where a retry against
	// a recovered collaborator succeeds.
	display := mock.NewDisplay()
	display.Delay(time.Hour, 0)
	s := newTestStore(display, &stubGate{})
	s.loadTimeout = 20 * time.Millisecond

	s.RequestLoad(context.Background(), models.SurfaceInterstitial)
	waitFor(t, func() bool {
		lc := s.Lifecycle(models.SurfaceInterstitial)
		if lc != StateLoading {
			display.Delay(0, 0) // let the retry succeed
		}
		return s.IsLoaded(models.SurfaceInterstitial)
	}, "surface never recovered from a hung load")
}

func TestShowSlotIsExclusive(t *testing.T) {
	s := newTestStore(mock.NewDisplay(), &stubGate{})
	if !s.AcquireShowSlot() {
		t.Fatal("first acquire failed")
	}
	if s.AcquireShowSlot() {
		t.Fatal("second acquire succeeded while slot held")
	}
	s.ReleaseShowSlot()
	if !s.AcquireShowSlot() {
		t.Fatal("acquire after release failed")
	}
	s.ReleaseShowSlot()
}

func TestStopAllBlocksLoadsUntilResume(t *testing.T) {
	display := mock.NewDisplay()
	s := newTestStore(display, &stubGate{})
	ctx := context.Background()

	s.StopAll()
	s.RequestLoad(ctx, models.SurfaceInterstitial)
	time.Sleep(20 * time.Millisecond)
	if got := display.Loads(models.SurfaceInterstitial); got != 0 {
		t.Errorf("loader called %d times after StopAll, want 0", got)
	}

	s.Resume()
	s.RequestLoad(ctx, models.SurfaceInterstitial)
	waitFor(t, func() bool { return s.IsLoaded(models.SurfaceInterstitial) }, "load blocked after Resume")
}

func TestKickIdleRecoversErroredSurfaces(t *testing.T) {
	display := mock.NewDisplay()
	s := newTestStore(display, &stubGate{})
	s.maxRetries = 0 // no automatic retries; only KickIdle recovers
	ctx := context.Background()

	display.FailLoad(models.SurfaceInterstitial, errors.New("no fill"))
	s.RequestLoad(ctx, models.SurfaceInterstitial)
	waitFor(t, func() bool {
		return s.Lifecycle(models.SurfaceInterstitial) == StateError
	}, "surface never errored")

	display.FailLoad(models.SurfaceInterstitial, nil)
	s.KickIdle(ctx)
	waitFor(t, func() bool { return s.IsLoaded(models.SurfaceInterstitial) }, "KickIdle did not reload")
}
