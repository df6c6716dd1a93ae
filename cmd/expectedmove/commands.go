package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/expected_move/internal/dashboard"
	"github.com/eddiefleurent/expected_move/internal/engine"
	"github.com/eddiefleurent/expected_move/internal/models"
	"github.com/eddiefleurent/expected_move/internal/volatility"
	"github.com/spf13/cobra"
)

func newTickersCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tickers",
		Short: "List the configured underlyings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tickers := c.app.Engine.Tickers()
			if c.json {
				return c.printJSON(tickers)
			}
			for _, t := range tickers {
				c.printf("%-6s %s\n", t.Symbol, t.Name)
			}
			return nil
		},
	}
}

func newExpirationsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "expirations SYMBOL",
		Short: "List option expiration dates for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dates, err := c.app.Engine.Expirations(cmd.Context(), args[0])
			if err != nil {
				return c.printOutcome(args[0], err)
			}
			if c.json {
				return c.printJSON(dates)
			}
			for _, d := range dates {
				c.printf("%s\n", d)
			}
			return nil
		},
	}
}

func newComputeCmd(c *cli) *cobra.Command {
	var expiration string
	var target float64

	cmd := &cobra.Command{
		Use:   "compute SYMBOL",
		Short: "Compute the expected move for a symbol",
		Example: `  expectedmove compute QQQ
  expectedmove compute QQQ --expiration 2025-01-17
  expectedmove compute GLD --target 240 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.Request{Symbol: args[0], Expiration: expiration}
			if cmd.Flags().Changed("target") {
				req.TargetOverride = &target
			}

			res, err := c.app.Engine.Compute(cmd.Context(), req)
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(res)
			}
			c.printResult(res)
			return nil
		},
	}

	cmd.Flags().StringVarP(&expiration, "expiration", "e", "", "expiration date YYYY-MM-DD (default: nearest)")
	cmd.Flags().Float64VarP(&target, "target", "t", 0, "explicit strike target instead of the resolved reference price")
	return cmd
}

func (c *cli) printResult(res engine.Result) {
	if !res.OK() {
		c.printf("%s: %s\n", res.Symbol, res.Message)
		return
	}
	m := res.Move
	c.printf("%s  exp %s  (target from %s)\n", res.Symbol, res.Expiration, res.ReferenceSource)
	c.printf("  Target strike:   %s\n", m.TargetStrike)
	c.printf("  Closest strike:  %s\n", m.ClosestStrike)
	c.printf("  Expected move:   %s%%\n", m.ExpectedMovePct)
	c.printf("  Upper band:      %s\n", m.UpperBand)
	c.printf("  Lower band:      %s\n", m.LowerBand)
	c.printf("  Call  last %s  bid %s  ask %s\n", m.Call.LastPrice, m.Call.Bid, m.Call.Ask)
	c.printf("  Put   last %s  bid %s  ask %s\n", m.Put.LastPrice, m.Put.Bid, m.Put.Ask)
}

func newVolatilityCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "volatility SYMBOL",
		Short: "Forecast next-day volatility with GARCH(1,1) and compare it to implied volatility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := c.app.Engine.Volatility(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, volatility.ErrInsufficientData) {
					c.printf("%s: not enough price history to fit a volatility model\n", args[0])
					return nil
				}
				return c.printOutcome(args[0], err)
			}
			if c.json {
				return c.printJSON(f)
			}
			c.printf("%s  GARCH(1,1) over %d returns\n", f.Symbol, f.Observations)
			c.printf("  omega %.4f  alpha %.4f  beta %.4f\n", f.Model.Omega, f.Model.Alpha, f.Model.Beta)
			c.printf("  Forecast vol:    %.2f%% daily, %.2f%% annualized\n", f.DailyVolPct, f.AnnualVolPct)
			c.printf("  Implied (%s):   %.2f  ratio %.2f  rank %.0f\n", f.ProxySymbol, f.ImpliedVol, f.Ratio, f.IVRank)
			c.printf("  Regime:          %s\n", f.Regime)
			return nil
		},
	}
}

func newMarketCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "market",
		Short: "Show the market clock",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := c.app.Engine.MarketStatus(cmd.Context())
			if err != nil {
				return err
			}
			if c.json {
				return c.printJSON(status)
			}
			c.printf("Market %s (next: %s at %s)\n", status.State, status.NextState, status.NextChange)
			return nil
		},
	}
}

func newServeCmd(c *cli) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API for the UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := c.app.Config
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			server := dashboard.NewServer(dashboard.Config{
				Port:      cfg.Server.Port,
				AuthToken: cfg.Server.AuthToken,
			}, c.app.Engine, c.app.Logger)

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-sigChan:
				c.app.Logger.Info("Shutdown signal received, stopping server...")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("shutting down server: %w", err)
			}
			c.app.Logger.Info("Server stopped successfully")
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from config)")
	return cmd
}

// printOutcome reports a classified outcome as normal output and returns other errors.
func (c *cli) printOutcome(symbol string, err error) error {
	var me *models.Error
	if !errors.As(err, &me) {
		return err
	}
	if c.json {
		return c.printJSON(dashboard.StatusResponse{Symbol: symbol, Status: string(me.Kind), Message: me.Message()})
	}
	c.printf("%s: %s\n", symbol, me.Message())
	return nil
}
