// Package cmd implements the sfactl operator commands.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"solarforecast.org/internal/app"
	"solarforecast.org/internal/auth"
	"solarforecast.org/internal/config"
	"solarforecast.org/internal/obs"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	configPath   string
	outputFormat string

	cfg config.Config

	openStore = app.OpenStore
)

var rootCmd = &cobra.Command{
	Use:   "sfactl",
	Short: "Operate the solar forecast access control service",
	Long: `sfactl manages the access control database: schema migrations,
organization provisioning, user affiliation and promotion, role and
permission administration, and ad-hoc access checks.`,
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		switch outputFormat {
		case "table", "json", "yaml":
		default:
			return fmt.Errorf("unknown output format %q", outputFormat)
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		app.ConfigureLogging(cfg.Log)
		// stdout carries command output
		obs.Logger().SetOutput(os.Stderr)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SFA_CONFIG"), "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, yaml")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// withService opens the configured store, bootstraps the service and runs fn.
func withService(ctx context.Context, fn func(*auth.Service) error) error {
	if cfg.Store.Kind == config.StoreMemory {
		fmt.Fprintln(os.Stderr, "warning: memory store selected, changes are discarded on exit")
	}
	store, closeStore, err := openStore(cfg.Store)
	if err != nil {
		return err
	}
	defer closeStore()
	svc, err := app.NewService(ctx, cfg, store)
	if err != nil {
		return err
	}
	return fn(svc)
}

// printResult writes data as json or yaml, or calls table for the default format.
func printResult(w io.Writer, data any, table func(io.Writer) error) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return table(w)
	}
}
