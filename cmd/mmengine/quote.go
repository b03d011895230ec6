package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"market-maker-twap/internal/strategy"
)

func (a *app) quoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Compute one Avellaneda-Stoikov quote",
		Example: `  mmengine quote --mid 3400 --inventory 2 --vol 0.35
  mmengine quote --mid 3400 -q -1 -t 0.5 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.quote()
		},
	}
	f := cmd.Flags()
	f.Float64("mid", 0, "mid price (required)")
	f.Float64P("inventory", "q", 0, "current inventory q")
	f.Float64("vol", 0, "annualised volatility σ (default volatility.seed)")
	f.Float64P("time", "t", 0, "elapsed time t within the horizon")
	f.Float64("horizon", 0, "horizon T (default model.horizon)")
	f.Float64("risk-aversion", 0, "override model.risk_aversion γ")
	f.Float64("liquidity", 0, "override model.liquidity k")
	f.Float64("intensity", 0, "override model.arrival_intensity A")
	f.Float64("target-inventory", 0, "override model.target_inventory")
	f.Bool("json", false, "print the quote as JSON")
	return cmd
}

func (a *app) quote() error {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return err
	}
	mid := a.v.GetFloat64("mid")
	if mid <= 0 {
		return errors.New("--mid must be > 0")
	}

	params := cfg.Model
	if a.v.IsSet("risk-aversion") {
		params.RiskAversion = a.v.GetFloat64("risk-aversion")
	}
	if a.v.IsSet("liquidity") {
		params.Liquidity = a.v.GetFloat64("liquidity")
	}
	if a.v.IsSet("intensity") {
		params.ArrivalIntensity = a.v.GetFloat64("intensity")
	}
	if a.v.IsSet("target-inventory") {
		params.TargetInventory = a.v.GetFloat64("target-inventory")
	}
	sigma := cfg.Volatility.Seed
	if v := a.v.GetFloat64("vol"); v > 0 {
		sigma = v
	}
	horizon := params.Horizon
	if h := a.v.GetFloat64("horizon"); h > 0 {
		horizon = h
	}

	q, err := strategy.ComputeQuote(params, sigma, mid, a.v.GetFloat64("inventory"), a.v.GetFloat64("time"), horizon)
	if err != nil {
		return err
	}
	q.GeneratedAt = a.now()

	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(q)
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "mid\t%.4f\n", q.Mid)
	fmt.Fprintf(w, "inventory\t%.6f\n", q.Inventory)
	fmt.Fprintf(w, "volatility\t%.4f\n", q.Volatility)
	fmt.Fprintf(w, "reservation\t%.4f\n", q.ReservationPrice)
	fmt.Fprintf(w, "optimal spread\t%.4f\n", q.OptimalSpread)
	fmt.Fprintf(w, "bid\t%.4f\n", q.BidPrice)
	fmt.Fprintf(w, "ask\t%.4f\n", q.AskPrice)
	fmt.Fprintf(w, "skew\t%+.4f\n", q.SkewFactor())
	return w.Flush()
}
