package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/config"
	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/market"
)

// parseTime accepts RFC3339 or YYYY-MM-DD; empty yields def.
func parseTime(flag, s string, def time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("bad --%s %q: want RFC3339 or YYYY-MM-DD", flag, s)
}

func newAddCmd(rc *RootConfig) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "add INSTRUMENT QUANTITY PRICE",
		Short: "Record a transaction (negative quantity sells)",
		Example: `  tracker add AAPL 10 185.25
  tracker add AAPL -3 190 --time 2024-03-01T15:04:05Z`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("bad quantity %q", args[1])
			}
			price, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("bad price %q", args[2])
			}
			when, err := parseTime("time", at, time.Time{})
			if err != nil {
				return err
			}

			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			tx, err := a.svc.Record(strings.ToUpper(args[0]), qty, price, when)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "recorded %s %s %s @ %s (%s)\n",
				tx.ID, tx.Instrument, tx.Quantity, tx.Price, tx.State)
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "time", "", "Transaction time (default now)")
	return cmd
}

func newConflictsCmd(rc *RootConfig) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List staged sync conflicts as org entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			cs := a.svc.Conflicts()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cs)
			}
			if len(cs) == 0 {
				fmt.Fprintln(out, "no conflicts")
				return nil
			}
			fmt.Fprint(out, journal.FormatConflictsOrg(cs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of org")
	return cmd
}

func newLogCmd(rc *RootConfig) *cobra.Command {
	var (
		output     string
		instrument string
		from, to   string
	)

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Export the transaction log as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseTime("from", from, time.Time{})
			if err != nil {
				return err
			}
			end, err := parseTime("to", to, time.Time{})
			if err != nil {
				return err
			}

			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			txs := a.store.Query(journal.Filter{
				Instrument: strings.ToUpper(instrument),
				Range:      market.Range{From: start, To: end},
			})
			return journal.ExportCSV(w, txs)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file ('-' for stdout)")
	cmd.Flags().StringVar(&instrument, "instrument", "", "Only this instrument")
	cmd.Flags().StringVar(&from, "from", "", "Start time (inclusive)")
	cmd.Flags().StringVar(&to, "to", "", "End time (exclusive)")
	return cmd
}

func newPurgeCmd(rc *RootConfig) *cobra.Command {
	var maxAge string

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Drop closed, synced history older than the retention window",
		Long: `Removes, per instrument, the oldest run of synced transactions that
nets to a flat position, and price snapshots older than the window except the
last one before it. Current holdings are unchanged.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			window := maxAge
			if window == "" {
				window = a.cfg.Store.Retention
			}
			age, err := config.Duration(window)
			if err != nil {
				return fmt.Errorf("bad --max-age: %w", err)
			}
			if age <= 0 {
				return fmt.Errorf("--max-age (or store.retention) is required")
			}

			res, err := a.svc.Purge(age)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d transactions and %d prices before %s\n",
				res.Transactions, res.Prices, res.Cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&maxAge, "max-age", "", "Retention window, e.g. 2160h")
	return cmd
}

func newHoldingsCmd(rc *RootConfig) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "holdings",
		Short: "Show holdings replayed from the log",
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

			state := a.svc.Holdings(when)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "INSTRUMENT\tQUANTITY\tCOST BASIS\tAVG COST\tREALIZED")
			for _, inst := range state.Instruments() {
				h := state[inst]
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", inst, h.Quantity,
					a.svc.Display(h.CostBasis), a.svc.Display(h.AverageCost()), a.svc.Display(h.RealizedPL))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Replay up to this time (default now)")
	return cmd
}
