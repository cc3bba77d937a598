package adconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gpapplica/admon/internal/models"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	ic := cfg.SurfaceConfig(models.SurfaceInterstitial)
	if !ic.Enabled || ic.InteractionThreshold != 3 || ic.Cooldown != 2*time.Minute || ic.SessionCap != 2 {
		t.Errorf("interstitial defaults = %+v", ic)
	}
	ao := cfg.SurfaceConfig(models.SurfaceAppOpen)
	if !ao.Enabled || ao.InteractionThreshold != 0 || ao.Cooldown != 5*time.Minute {
		t.Errorf("appOpen defaults = %+v", ao)
	}
}

func TestLoadOverridesSurface(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ads.json")
	content := `{
		"surfaces": {
			"interstitial": {
				"enabled": false,
				"interactionThreshold": 5,
				"cooldownSeconds": 600,
				"dailyCap": 4,
				"sessionCap": 1
			}
		},
		"weights": {"contentOpen": 0.8}
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	ic := cfg.SurfaceConfig(models.SurfaceInterstitial)
	if ic.Enabled || ic.InteractionThreshold != 5 || ic.Cooldown != 10*time.Minute || ic.DailyCap != 4 {
		t.Errorf("overridden interstitial = %+v", ic)
	}
	// Untouched surfaces keep their defaults.
	if ao := cfg.SurfaceConfig(models.SurfaceAppOpen); !ao.Enabled {
		t.Errorf("appOpen lost defaults: %+v", ao)
	}
	if cfg.Weights[models.TriggerContentOpen] != 0.8 {
		t.Errorf("weights = %v", cfg.Weights)
	}
}

func TestLoadRejectsMalformedAndUnknownSurface(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte(`{not json`), 0o644)
	if _, err := Load(bad); err == nil {
		t.Error("Load accepted malformed JSON")
	}

	unknown := filepath.Join(dir, "unknown.json")
	os.WriteFile(unknown, []byte(`{"surfaces": {"popup": {"enabled": true}}}`), 0o644)
	if _, err := Load(unknown); err == nil {
		t.Error("Load accepted unknown surface")
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ads.json")
	os.WriteFile(path, []byte(`{"surfaces":{}}`), 0o644)

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher returned error: %v", err)
	}
	defer w.Stop()

	reloaded := make(chan Config, 1)
	w.OnReload(func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	w.Start()

	// Rewrite with a future mod time so the change is detected.
	time.Sleep(50 * time.Millisecond)
	content := `{"surfaces": {"banner": {"enabled": false}}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now().Add(time.Second)
	os.Chtimes(path, now, now)

	select {
	case cfg := <-reloaded:
		if cfg.Surfaces[models.SurfaceBanner].Enabled {
			t.Error("reloaded config did not apply the banner override")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("watcher never reloaded")
	}
}
