package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gpapplica/admon/internal/mock"
	"github.com/gpapplica/admon/internal/models"
)

func TestGetCachesWithinRefreshInterval(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentAuthorized, models.ConsentAuthorized)
	tr := NewTracker(prompter, mock.NewKV())

	ctx := context.Background()
	if got := tr.Get(ctx); got != models.ConsentAuthorized {
		t.Fatalf("Get = %q, want authorized", got)
	}
	tr.Get(ctx)
	tr.Get(ctx)
	if prompter.CurrentCalls != 1 {
		t.Errorf("platform queried %d times within interval, want 1", prompter.CurrentCalls)
	}
}

func TestGetRefreshesAfterInterval(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentDenied, models.ConsentDenied)
	tr := NewTracker(prompter, mock.NewKV())

	base := time.Now()
	tr.now = func() time.Time { return base }
	tr.Get(context.Background())

	tr.now = func() time.Time { return base.Add(DefaultRefreshInterval + time.Second) }
	tr.Get(context.Background())
	if prompter.CurrentCalls != 2 {
		t.Errorf("platform queried %d times across intervals, want 2", prompter.CurrentCalls)
	}
}

func TestRequestPromptsExactlyOncePerInstall(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentUndetermined, models.ConsentAuthorized)
	kv := mock.NewKV()
	tr := NewTracker(prompter, kv)

	ctx := context.Background()
	if got := tr.Request(ctx); got != models.ConsentAuthorized {
		t.Fatalf("Request = %q, want authorized", got)
	}
	tr.Request(ctx)
	tr.Request(ctx)
	if prompter.RequestCalls != 1 {
		t.Errorf("prompt shown %d times, want 1", prompter.RequestCalls)
	}

	// Relaunch: a new tracker over the same store must not re-prompt.
	tr2 := NewTracker(prompter, kv)
	if tr2.ShouldRequest(ctx) {
		t.Error("ShouldRequest = true after prompt already shown on this install")
	}
	tr2.Request(ctx)
	if prompter.RequestCalls != 1 {
		t.Errorf("prompt shown %d times after relaunch, want 1", prompter.RequestCalls)
	}
}

func TestPersistedStatusSeedsNewTracker(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentDenied, models.ConsentDenied)
	kv := mock.NewKV()
	tr := NewTracker(prompter, kv)
	tr.Refresh(context.Background())

	tr2 := NewTracker(prompter, kv)
	if !tr2.CanRequestAnyAds() {
		t.Error("persisted denied status should still permit non-personalized ads")
	}
	if tr2.CanRequestPersonalizedAds() {
		t.Error("denied status must not permit personalized ads")
	}
}

func TestUndeterminedSuppressesAllAds(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentUndetermined, models.ConsentAuthorized)
	tr := NewTracker(prompter, mock.NewKV())
	tr.Refresh(context.Background())

	if tr.CanRequestAnyAds() {
		t.Error("undetermined consent must suppress all ads")
	}
	if tr.CanRequestPersonalizedAds() {
		t.Error("undetermined consent must suppress personalized ads")
	}
}

func TestDeniedAndRestrictedPermitNonPersonalized(t *testing.T) {
	for _, status := range []models.ConsentStatus{models.ConsentDenied, models.ConsentRestricted} {
		t.Run(string(status), func(t *testing.T) {
			prompter := mock.NewPrompter(status, status)
			tr := NewTracker(prompter, mock.NewKV())
			tr.Refresh(context.Background())

			if !tr.CanRequestAnyAds() {
				t.Error("non-personalized ads should be permitted")
			}
			if tr.CanRequestPersonalizedAds() {
				t.Error("personalized ads must not be permitted")
			}
		})
	}
}

func TestCollaboratorFailureFailsOpenForServingOnly(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentUndetermined, models.ConsentUndetermined)
	prompter.SetErr(errors.New("tracking framework not linked"))
	tr := NewTracker(prompter, mock.NewKV())
	tr.Refresh(context.Background())

	if !tr.CanRequestAnyAds() {
		t.Error("unavailable collaborator should fail open for ad serving")
	}
	if tr.CanRequestPersonalizedAds() {
		t.Error("unavailable collaborator must fail closed for personalization")
	}
}

func TestShouldRequestOnlyWhenUndetermined(t *testing.T) {
	prompter := mock.NewPrompter(models.ConsentUndetermined, models.ConsentAuthorized)
	tr := NewTracker(prompter, mock.NewKV())
	if !tr.ShouldRequest(context.Background()) {
		t.Error("ShouldRequest = false for fresh undetermined install")
	}

	resolved := mock.NewPrompter(models.ConsentAuthorized, models.ConsentAuthorized)
	tr2 := NewTracker(resolved, mock.NewKV())
	if tr2.ShouldRequest(context.Background()) {
		t.Error("ShouldRequest = true when platform already resolved")
	}
}
