// Package main provides a test utility for Tradier market data connectivity.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/eddiefleurent/expected_move/internal/broker"
	"github.com/eddiefleurent/expected_move/internal/util"
)

var optionSymbolRegex = regexp.MustCompile(`^[A-Z]{1,6}\d{6}[CP]\d{8}$`)

func main() {
	var sandbox, verbose bool
	var symbol string
	flag.BoolVar(&sandbox, "sandbox", true, "Use Tradier sandbox endpoints (default: true)")
	flag.BoolVar(&verbose, "v", false, "Dump raw responses")
	flag.StringVar(&symbol, "symbol", "QQQ", "Underlying to probe")
	flag.Parse()

	fmt.Println("=== Tradier Market Data Probe ===")
	fmt.Println()

	apiKey := os.Getenv("TRADIER_API_KEY")
	if apiKey == "" {
		fmt.Println("❌ TRADIER_API_KEY not set")
		fmt.Println("\nSetup Instructions:")
		fmt.Println("1. Go to https://developer.tradier.com/")
		fmt.Println("2. Sign up for a free account")
		fmt.Println("3. Get your sandbox API token")
		fmt.Println("4. Export it:")
		fmt.Println("   export TRADIER_API_KEY='your_token_here'")
		os.Exit(1)
	}

	client := broker.NewTradierAPI(apiKey, sandbox)
	fmt.Printf("✓ Initialized Tradier client (%s, key %s)\n\n", client.BaseURL(), maskAPIKey(apiKey))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	failures := 0
	step := func(name string, fn func() error) {
		fmt.Printf("→ %s\n", name)
		if err := fn(); err != nil {
			fmt.Printf("  ❌ %v\n", err)
			failures++
			return
		}
		fmt.Println("  ✓ ok")
	}

	dump := func(v interface{}) {
		if !verbose {
			return
		}
		b, _ := json.MarshalIndent(v, "  ", "  ")
		fmt.Printf("  %s\n", b)
	}

	step("Market clock", func() error {
		clock, err := client.GetMarketClock(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("  %s (session day: %t)\n", clock.Clock.Description, clock.IsSessionDay())
		dump(clock)
		return nil
	})

	step("Quote "+symbol, func() error {
		q, err := client.GetQuote(ctx, symbol)
		if err != nil {
			return err
		}
		fmt.Printf("  last %s  bid %s  ask %s\n", util.FormatPrice(q.Last), util.FormatPrice(q.Bid), util.FormatPrice(q.Ask))
		dump(q)
		return nil
	})

	var expiration string
	step("Expirations", func() error {
		dates, err := client.GetExpirations(ctx, symbol)
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			return fmt.Errorf("no expirations listed for %s", symbol)
		}
		expiration = dates[0]
		fmt.Printf("  %d dates, nearest %s\n", len(dates), expiration)
		return nil
	})

	step("Option chain", func() error {
		if expiration == "" {
			return fmt.Errorf("skipped: no expiration")
		}
		options, err := client.GetOptionChain(ctx, symbol, expiration, false)
		if err != nil {
			return err
		}
		bad, noLast := auditContracts(options)
		chain := broker.ToOptionsChain(symbol, expiration, options)
		fmt.Printf("  %d contracts (%d calls, %d puts), %d without last trade\n",
			len(options), len(chain.Calls), len(chain.Puts), noLast)
		if bad > 0 {
			return fmt.Errorf("%d contracts with malformed OCC symbols", bad)
		}
		return nil
	})

	now := time.Now()
	step("Daily history (10 days)", func() error {
		bars, err := client.GetDailyHistory(ctx, symbol, now.AddDate(0, 0, -10), now)
		if err != nil {
			return err
		}
		if len(bars) == 0 {
			return fmt.Errorf("no daily bars")
		}
		fmt.Printf("  %d bars, last %s\n", len(bars), describeBar(bars[len(bars)-1]))
		return nil
	})

	step("Time & sales (last hour)", func() error {
		bars, err := client.GetIntradayHistory(ctx, symbol, now.Add(-time.Hour), now)
		if err != nil {
			return err
		}
		fmt.Printf("  %d one-minute bars\n", len(bars))
		return nil
	})

	fmt.Println()
	if failures > 0 {
		fmt.Printf("⚠️  %d check(s) failed\n", failures)
		os.Exit(1)
	}
	fmt.Println("🎉 All checks passed")
}

// auditContracts counts contracts with malformed OCC symbols and contracts
// without a last trade.
func auditContracts(options []broker.Option) (malformed, noLast int) {
	for _, o := range options {
		if !isOptionSymbol(o.Symbol) {
			malformed++
		}
		if o.Last == nil {
			noLast++
		}
	}
	return malformed, noLast
}

func describeBar(bar broker.HistoricalDataPoint) string {
	return fmt.Sprintf("%s close %s volume %s", bar.Date.Format("2006-01-02"),
		util.FormatPrice(bar.Close), formatNumber(bar.Volume))
}

func formatNumber(n int64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	} else if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

// maskAPIKey keeps the first and last four characters of long keys.
func maskAPIKey(apiKey string) string {
	const minLength, show = 12, 4
	if len(apiKey) < minLength {
		return "<redacted>"
	}
	return apiKey[:show] + "..." + apiKey[len(apiKey)-show:]
}

func isOptionSymbol(s string) bool {
	return optionSymbolRegex.MatchString(strings.ToUpper(strings.TrimSpace(s)))
}
