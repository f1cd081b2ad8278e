// Package main provides the CLI entry point for the storyloom generation
// pipeline.
//
// # Basic Usage
//
// Probe every configured provider:
//
//	storyloom doctor --config storyloom.yaml
//
// Print the context that would feed unit 4:
//
//	storyloom context 4
//
// Show the stage-to-model table:
//
//	storyloom models
//
// # Environment Variables
//
//   - STORYLOOM_CONFIG: path to the configuration file (default: storyloom.yaml)
//   - per-provider API keys as named by api_key_env in the configuration
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/observability"
	"github.com/storyloom/storyloom/internal/provider"
	"github.com/storyloom/storyloom/internal/store"
	"github.com/storyloom/storyloom/internal/window"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() to facilitate testing.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "storyloom",
		Short:        "Storyloom - resilient long-form generation pipeline",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file (or set STORYLOOM_CONFIG)")

	rootCmd.AddCommand(
		buildDoctorCmd(),
		buildContextCmd(),
		buildModelsCmd(),
	)
	return rootCmd
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("STORYLOOM_CONFIG"); env != "" {
		return env
	}
	return "storyloom.yaml"
}

// app bundles the wired components behind the CLI commands.
type app struct {
	cfg     *config.Config
	logger  *observability.Logger
	router  *provider.Router
	manager *window.Manager
}

func buildApp() (*app, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Log)
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)

	clients := make(map[string]*provider.Client, len(cfg.Providers))
	profiles := make(map[string]provider.Profile, len(cfg.Providers))
	for name, p := range cfg.Providers {
		clients[name] = provider.NewClient(provider.Options{
			Provider:         name,
			APIKey:           p.APIKey,
			BaseURL:          p.BaseURL,
			MaxTokens:        p.MaxTokens,
			Temperature:      p.Temperature,
			TopP:             p.TopP,
			MaxRetries:       p.Retry.MaxRetries,
			RetryDelay:       p.Retry.RetryDelay,
			GrowthFactor:     p.Retry.GrowthFactor,
			AttemptTimeout:   p.Retry.AttemptTimeout,
			MinInterval:      p.Retry.MinInterval,
			BreakerThreshold: p.Retry.BreakerThreshold,
			BreakerTimeout:   p.Retry.BreakerTimeout,
			Logger:           logger,
			Metrics:          metrics,
		})
		profiles[name] = provider.Profile{
			DefaultModel: p.DefaultModel,
			StageModels:  p.StageModels,
		}
	}
	router := provider.NewRouter(cfg.DefaultProvider, clients, profiles, logger)

	var units store.UnitStore
	if cfg.DraftDir != "" {
		units, err = store.NewFileStore(cfg.DraftDir)
		if err != nil {
			return nil, err
		}
	} else {
		units = store.NewMemoryStore()
	}

	var outlines store.OutlineStore
	if cfg.OutlineFile != "" {
		outlines, err = store.LoadOutline(cfg.OutlineFile)
		if err != nil {
			return nil, err
		}
	}

	win := window.NewWindow(window.Config{
		Size:              cfg.Window.Size,
		WordTarget:        cfg.Window.WordTarget,
		BreakThreshold:    cfg.Window.BreakThreshold,
		EventKeywords:     cfg.Window.EventKeywords,
		CharacterKeywords: cfg.Window.CharacterKeywords,
	}, units, router, logger, metrics)

	return &app{
		cfg:     cfg,
		logger:  logger,
		router:  router,
		manager: window.NewManager(win, units, outlines, logger),
	}, nil
}

// buildDoctorCmd creates the "doctor" command: one probe per provider.
func buildDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Probe every configured provider and report reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}

			results := a.router.TestAll(cmd.Context())
			names := make([]string, 0, len(results))
			for name := range results {
				names = append(names, name)
			}
			sort.Strings(names)

			failed := 0
			for _, name := range names {
				status := "ok"
				if !results[name] {
					status = "unreachable"
					failed++
				}
				marker := ""
				if name == a.router.Default() {
					marker = " (default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s%s\n", name, status, marker)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d providers unreachable", failed, len(names))
			}
			return nil
		},
	}
}

// buildContextCmd creates the "context" command: print the prepared
// context for a unit.
func buildContextCmd() *cobra.Command {
	var providerName string
	cmd := &cobra.Command{
		Use:   "context <unit>",
		Short: "Print the sliding-window context prepared for a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			unitID, err := strconv.Atoi(args[0])
			if err != nil || unitID < 1 {
				return fmt.Errorf("unit must be a positive integer, got %q", args[0])
			}

			a, err := buildApp()
			if err != nil {
				return err
			}
			if providerName != "" {
				if err := a.router.SwitchDefault(providerName); err != nil {
					return err
				}
			}

			contextStr, repaired := a.manager.Prepare(cmd.Context(), unitID)
			if repaired {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: continuity break detected, context was rebuilt")
			}
			fmt.Fprintln(cmd.OutOrStdout(), contextStr)
			return nil
		},
	}
	cmd.Flags().StringVar(&providerName, "provider", "", "Use this provider for summarization instead of the default")
	return cmd
}

// buildModelsCmd creates the "models" command: resolved stage-to-model
// table per provider.
func buildModelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the resolved stage-to-model table for each provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp()
			if err != nil {
				return err
			}

			stages := []string{
				provider.StageOutline,
				provider.StageExpansion,
				provider.StageAnalysis,
				provider.StageContextSummary,
			}
			names := a.router.Providers()
			sort.Strings(names)

			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s:\n", name)
				for _, stage := range stages {
					model, err := a.router.ResolveModel(name, stage)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "  %-16s %s\n", stage, model)
				}
			}
			return nil
		},
	}
}
