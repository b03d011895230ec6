package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"market-maker-twap/internal/twap"
	"market-maker-twap/order"
)

func (a *app) planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Preview the TWAP slices for an order",
		Example: `  mmengine plan --size 0.5 --parts 10 --duration 5m
  mmengine plan --size 0.5 --direction sell --skew 0.8 --poisson --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.plan()
		},
	}
	f := cmd.Flags()
	f.Float64("size", 0, "total order size (required)")
	f.String("direction", "buy", "buy or sell")
	f.Float64("price", 0, "target price, 0 = market")
	f.Int("parts", 0, "number of slices (default engine.order_parts)")
	f.Duration("duration", 0, "order duration (default engine.order_duration)")
	f.Float64("skew", 0, "inventory skew factor in [-1,1]")
	f.Bool("poisson", false, "Poisson arrival times instead of uniform spacing")
	f.Uint64("seed", 0, "random seed for Poisson times, 0 = random")
	f.Bool("json", false, "print the plan as JSON")
	return cmd
}

func parseDirection(s string) (order.Direction, error) {
	d := order.Direction(strings.ToUpper(strings.TrimSpace(s)))
	if !d.Valid() {
		return "", fmt.Errorf("unknown direction %q", s)
	}
	return d, nil
}

func (a *app) plan() error {
	cfg, _, err := a.loadConfig()
	if err != nil {
		return err
	}
	dir, err := parseDirection(a.v.GetString("direction"))
	if err != nil {
		return err
	}
	parts := a.v.GetInt("parts")
	if parts <= 0 {
		parts = cfg.Engine.OrderParts
	}
	duration := a.v.GetDuration("duration")
	if duration <= 0 {
		duration = cfg.Engine.OrderDuration
	}

	tc := cfg.TWAP
	if a.v.GetBool("poisson") {
		tc.Poisson = true
	}
	var rng twap.Uniform
	if tc.Poisson {
		seed := a.v.GetUint64("seed")
		if seed == 0 {
			seed = rand.Uint64()
		}
		rng = rand.New(rand.NewPCG(seed, seed))
	}

	intent := order.NewIntent(dir, a.v.GetFloat64("size"), a.v.GetFloat64("price"), duration, parts)
	intent.Source = "cli"
	plan, err := twap.BuildPlan(intent, a.v.GetFloat64("skew"), a.now(), tc, rng)
	if err != nil {
		return err
	}

	if a.v.GetBool("json") {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	}

	fmt.Fprintf(a.out, "%s %.8g over %s in %d slices (skew %+.2f)\n",
		plan.Intent.Direction, plan.TotalSize(), duration, len(plan.Parts), plan.Skew)
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "#\toffset\tsize\t")
	for _, p := range plan.Parts {
		fmt.Fprintf(w, "%d\t%s\t%.8g\t\n", p.Index, p.ScheduledTime.Sub(plan.StartTime).Round(time.Millisecond), p.Size)
	}
	return w.Flush()
}
