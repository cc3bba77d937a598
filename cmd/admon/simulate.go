package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gpapplica/admon/internal/adconfig"
	"github.com/gpapplica/admon/internal/consent"
	"github.com/gpapplica/admon/internal/entitlement"
	"github.com/gpapplica/admon/internal/history"
	"github.com/gpapplica/admon/internal/ledger"
	"github.com/gpapplica/admon/internal/logging"
	"github.com/gpapplica/admon/internal/mock"
	"github.com/gpapplica/admon/internal/models"
	"github.com/gpapplica/admon/internal/orchestrator"
	"github.com/gpapplica/admon/internal/readiness"
	"github.com/gpapplica/admon/internal/store"
	"github.com/gpapplica/admon/internal/telemetry"
)

var simulateFlags struct {
	dataDir      string
	configPath   string
	interactions int
	premium      bool
	streak       int
	consent      string
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a scripted app session against mock collaborators",
	Long: `Simulate wires the full engine (store, consent, entitlement, readiness,
ledger, orchestrator) against in-memory billing/consent/display mocks and
replays a session: foreground, a burst of content-open interactions, show
attempts, pressure prompt, background. State persists in the data dir, so
running it twice exercises daily caps and cooldowns across "restarts".`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSimulate(cmd.Context())
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateFlags.dataDir, "data", envOr("ADMON_DATA_DIR", "./data"), "directory for the SQLite store and attempt history")
	simulateCmd.Flags().StringVar(&simulateFlags.configPath, "config", envOr("ADMON_AD_CONFIG", ""), "remote ad config JSON (empty = shipped defaults)")
	simulateCmd.Flags().IntVar(&simulateFlags.interactions, "interactions", 8, "content-open interactions to replay")
	simulateCmd.Flags().BoolVar(&simulateFlags.premium, "premium", false, "simulate an active premium entitlement")
	simulateCmd.Flags().IntVar(&simulateFlags.streak, "streak", 0, "engagement streak reported to the pressure tiers")
	simulateCmd.Flags().StringVar(&simulateFlags.consent, "consent", "authorized", "tracking consent the mock prompt resolves to")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runSimulate(ctx context.Context) error {
	logging.Init(logging.Config{
		Format:    os.Getenv("ADMON_LOG_FORMAT"),
		Level:     envOr("ADMON_LOG_LEVEL", "info"),
		Component: "simulate",
	})

	if err := os.MkdirAll(simulateFlags.dataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	kv, err := store.Open(filepath.Join(simulateFlags.dataDir, "admon.db"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer kv.Close()

	hist, err := history.Open(filepath.Join(simulateFlags.dataDir, "attempts.jsonl"))
	if err != nil {
		log.Warn().Err(err).Msg("Attempt history disabled")
	}

	cfg := adconfig.Default()
	var watcher *adconfig.Watcher
	if simulateFlags.configPath != "" {
		if cfg, err = adconfig.Load(simulateFlags.configPath); err != nil {
			return err
		}
		if watcher, err = adconfig.NewWatcher(simulateFlags.configPath); err != nil {
			log.Warn().Err(err).Msg("Ad config watcher disabled")
		}
	}

	// Mock collaborators stand in for the billing, consent-prompt and
	// ad SDKs the app links on device.
	entStatus := models.EntitlementStatus{Plan: models.PlanFree}
	if simulateFlags.premium {
		entStatus = models.EntitlementStatus{Active: true, Plan: models.PlanMonthly}
	}
	biller := mock.NewBiller(entStatus)
	prompter := mock.NewPrompter(models.ConsentUndetermined, models.ConsentStatus(simulateFlags.consent))
	display := mock.NewDisplay()
	engagement := mock.NewEngagement(simulateFlags.streak)

	gate := entitlement.NewGate(biller, kv)
	tracker := consent.NewTracker(prompter, kv)
	ready := readiness.NewStore(display, gate)
	led := ledger.New(kv)

	orch := orchestrator.New(gate, tracker, ready, led, display, engagement, orchestrator.Options{
		Config:  cfg,
		Metrics: telemetry.New(nil),
		History: hist,
	})
	defer orch.Close()

	if watcher != nil {
		watcher.OnReload(orch.ApplyConfig)
		watcher.Start()
		defer watcher.Stop()
	}

	// The session script.
	if tracker.ShouldRequest(ctx) {
		status := tracker.Request(ctx)
		log.Info().Str("status", string(status)).Msg("Consent prompt resolved")
	}
	orch.OnAppForeground(ctx)

	for i := 0; i < simulateFlags.interactions; i++ {
		v := orch.TrackInteraction(ctx, models.SurfaceInterstitial, models.TriggerContentOpen)
		log.Info().
			Int("interaction", i+1).
			Bool("allowed", v.Allowed).
			Str("reason", string(v.Reason)).
			Msg("Tracked content open")
		if v.Allowed {
			shown := orch.AttemptShow(ctx, models.SurfaceInterstitial)
			log.Info().Bool("shown", shown).Msg("Show attempted")
		}
		// Let async preloads settle between interactions.
		time.Sleep(50 * time.Millisecond)
	}

	if tier, bundle, ok := orch.PressurePrompt(); ok {
		log.Info().
			Str("tier", string(tier)).
			Str("title", bundle.Title).
			Str("cta", bundle.CTA).
			Msg("Pressure prompt due")
	}

	orch.OnAppBackground()
	return printStats(orch)
}

func printStats(orch *orchestrator.Orchestrator) error {
	stats := make([]orchestrator.Stats, 0, len(models.Surfaces))
	for _, surface := range models.Surfaces {
		stats = append(stats, orch.Stats(surface))
	}
	out, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
