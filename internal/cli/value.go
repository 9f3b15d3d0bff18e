package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/config"
	"github.com/rustyeddy/tracker/valuation"
)

func newValueCmd(rc *RootConfig) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "value",
		Short: "Value holdings at cached prices",
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseTime("at", at, time.Now().UTC())
			if err != nil {
				return err
			}

			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.svc.Portfolio(when)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTRUMENT\tQUANTITY\tPRICE\tAS OF\tVALUE\tUNREALIZED")
			for _, p := range v.Positions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.Instrument, p.Quantity, p.Price,
					p.PriceTime.Format(time.DateOnly), a.svc.Display(p.Value), a.svc.Display(p.Unrealized))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			fmt.Fprintf(out, "\nTotal %s  (cost basis %s, realized %s) at %s\n",
				a.svc.Display(v.Total), a.svc.Display(v.CostBasis), a.svc.Display(v.Realized),
				v.At.Format(time.RFC3339))
			for _, e := range v.Unpriced {
				fmt.Fprintf(out, "warning: %v\n", e)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Valuation time (default now)")
	return cmd
}

func newReturnsCmd(rc *RootConfig) *cobra.Command {
	var (
		from, to string
		step     string
		daily    bool
		tz       string
	)

	cmd := &cobra.Command{
		Use:   "returns",
		Short: "Print a return series between two times",
		Example: `  tracker returns --from 2024-01-01 --daily
  tracker returns --from 2024-01-01T00:00:00Z --to 2024-06-30 --step 168h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			end, err := parseTime("to", to, time.Now().UTC())
			if err != nil {
				return err
			}
			start, err := parseTime("from", from, time.Time{})
			if err != nil {
				return err
			}
			if start.IsZero() {
				return fmt.Errorf("--from is required")
			}

			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var boundaries []time.Time
			if daily {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return fmt.Errorf("bad --tz %q: %w", tz, err)
				}
				boundaries = valuation.DailyIn(start, end, loc)
			} else {
				s := step
				if s == "" {
					s = a.cfg.Valuation.ReturnStep
				}
				d, err := config.Duration(s)
				if err != nil || d <= 0 {
					return fmt.Errorf("bad --step %q", s)
				}
				boundaries = valuation.Every(start, end, d)
			}

			points, err := a.svc.ReturnsAt(boundaries)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tVALUE\tCHANGE\tNET FLOW\tGAIN\tRETURN")
			for i, p := range points {
				if i == 0 {
					fmt.Fprintf(tw, "%s\t%s\t\t\t\t\n", p.At.Format(time.RFC3339), a.svc.Display(p.Value))
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", p.At.Format(time.RFC3339),
					a.svc.Display(p.Value), a.svc.Display(p.Change), a.svc.Display(p.NetFlow),
					a.svc.Display(p.Gain), valuation.Percent(p.Return))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First boundary")
	cmd.Flags().StringVar(&to, "to", "", "Last boundary (default now)")
	cmd.Flags().StringVar(&step, "step", "", "Boundary spacing (default valuation.return_step)")
	cmd.Flags().BoolVar(&daily, "daily", false, "Midnight boundaries in --tz")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "Time zone for --daily midnights")
	return cmd
}
