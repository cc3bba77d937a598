// Package adconfig loads the remote ad configuration: per-surface
// enable switches, ad unit IDs, and gating overrides. The config is a
// JSON file delivered by the app's remote-config pipeline; this package
// watches it for changes so tuning applies without a restart.
package adconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gpapplica/admon/internal/eligibility"
	"github.com/gpapplica/admon/internal/models"
)

// SurfaceSettings is the remote tuning for one surface. A surface
// present in the file replaces its defaults entirely.
type SurfaceSettings struct {
	Enabled              bool                   `json:"enabled"`
	AdUnitIDiOS          string                 `json:"adUnitIdIOS,omitempty"`
	AdUnitIDAndroid      string                 `json:"adUnitIdAndroid,omitempty"`
	InteractionThreshold float64                `json:"interactionThreshold"`
	CooldownSeconds      int                    `json:"cooldownSeconds"`
	DailyCap             int                    `json:"dailyCap"`
	SessionCap           int                    `json:"sessionCap"`
	QuietHours           eligibility.QuietHours `json:"quietHours"`
}

// Config is the full remote ad configuration.
type Config struct {
	Surfaces map[models.Surface]SurfaceSettings `json:"surfaces"`
	Weights  map[models.TriggerType]float64     `json:"weights,omitempty"`
}

// Default returns the shipped tuning: interstitials every 3 weighted
// interactions with a 2 minute cooldown and 2-per-session cap, app-open
// on foreground with a 5 minute cooldown, banner always-on.
func Default() Config {
	return Config{
		Surfaces: map[models.Surface]SurfaceSettings{
			models.SurfaceInterstitial: {
				Enabled:              true,
				InteractionThreshold: 3,
				CooldownSeconds:      120,
				DailyCap:             8,
				SessionCap:           2,
			},
			models.SurfaceAppOpen: {
				Enabled:         true,
				CooldownSeconds: 300,
				DailyCap:        10,
				SessionCap:      3,
			},
			models.SurfaceBanner: {
				Enabled:         true,
				CooldownSeconds: 30,
			},
		},
	}
}

// Load reads path and merges it over the defaults at surface
// granularity. A missing file yields the defaults without error; a
// malformed file is an error so a bad push cannot silently disable
// monetization tuning.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read ad config: %w", err)
	}

	var file Config
	if err := json.Unmarshal(raw, &file); err != nil {
		return cfg, fmt.Errorf("failed to parse ad config: %w", err)
	}
	for surface, settings := range file.Surfaces {
		if !surface.Valid() {
			return cfg, fmt.Errorf("unknown surface %q in ad config", surface)
		}
		cfg.Surfaces[surface] = settings
	}
	if len(file.Weights) > 0 {
		cfg.Weights = file.Weights
	}
	return cfg, nil
}

// SurfaceConfig converts a surface's settings into evaluator form.
func (c Config) SurfaceConfig(surface models.Surface) eligibility.SurfaceConfig {
	s := c.Surfaces[surface]
	return eligibility.SurfaceConfig{
		Enabled:              s.Enabled,
		InteractionThreshold: s.InteractionThreshold,
		Cooldown:             time.Duration(s.CooldownSeconds) * time.Second,
		DailyCap:             s.DailyCap,
		SessionCap:           s.SessionCap,
		QuietHours:           s.QuietHours,
	}
}
