package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"github.com/eddiefleurent/expected_move/internal/app"
	"github.com/eddiefleurent/expected_move/internal/config"
	"github.com/spf13/cobra"
)

// cli carries state shared by every command.
type cli struct {
	out  io.Writer
	now  func() time.Time
	app  *app.App
	json bool
}

func newRootCmd(out io.Writer, now func() time.Time) *cobra.Command {
	c := &cli{out: out, now: now}

	rootCmd := &cobra.Command{
		Use:   "expectedmove",
		Short: "Options-implied expected move from the at-the-money straddle",
		Long: `expectedmove prices the at-the-money straddle of an underlying and turns it
into an expected percentage move with upper and lower price bands.

The strike target is the prior close outside the regular session and the
latest intraday price while the market is open.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup(cmd)
		},
	}

	rootCmd.PersistentFlags().String("config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().Bool("mock", false, "use synthetic market data (config file optional)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newTickersCmd(c),
		newExpirationsCmd(c),
		newComputeCmd(c),
		newVolatilityCmd(c),
		newMarketCmd(c),
		newServeCmd(c),
	)
	return rootCmd
}

func (c *cli) setup(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("config")
	useMock, _ := cmd.Flags().GetBool("mock")
	debug, _ := cmd.Flags().GetBool("debug")
	c.json, _ = cmd.Flags().GetBool("json")

	cfg, err := loadConfig(path, useMock)
	if err != nil {
		return err
	}
	if debug {
		cfg.Environment.LogLevel = "debug"
	}

	a, err := app.New(cfg, app.Options{Now: c.now})
	if err != nil {
		return err
	}
	c.app = a
	return nil
}

// loadConfig reads the config file. In mock mode a missing file falls back to defaults.
func loadConfig(path string, useMock bool) (*config.Config, error) {
	if !useMock {
		return config.Load(path)
	}
	cfg, err := config.Load(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.Environment.Mode = config.ModeMock
	return cfg, nil
}

func (c *cli) printJSON(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) printf(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format, args...)
}
