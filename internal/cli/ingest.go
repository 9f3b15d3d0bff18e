package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/config"
)

func newIngestCmd(rc *RootConfig) *cobra.Command {
	var (
		format     string
		path       string
		instrument string
		source     string
	)

	cmd := &cobra.Command{
		Use:   "ingest [FILE|URL]",
		Short: "Cache price snapshots from a JSON, YAML or CSV payload",
		Long: `Parses a price payload and caches it. The whole payload is rejected if
any record is malformed. With no argument the configured ingest.url is fetched.`,
		Example: `  tracker ingest prices.json
  tracker ingest --format csv --instrument EUR_USD ticks.csv
  tracker ingest --path '$.chart.result[0].quotes' https://example.com/aapl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// flags override the configured parser
			a, err := rc.open(cmd.Context(), func(c *config.Config) {
				if cmd.Flags().Changed("format") {
					c.Ingest.Format = format
				}
				if path != "" {
					c.Ingest.Path = path
				}
				if instrument != "" {
					c.Ingest.Instrument = strings.ToUpper(instrument)
				}
				if source != "" {
					c.Ingest.Source = source
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			target := a.cfg.Ingest.URL
			if len(args) == 1 {
				target = args[0]
			}
			if target == "" {
				return fmt.Errorf("nothing to ingest: pass a file or URL, or set ingest.url")
			}

			var n int
			if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
				n, err = a.svc.IngestURL(cmd.Context(), target)
			} else {
				n, err = a.svc.IngestFile(target)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d price snapshots\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "auto", "auto|json|yaml|csv")
	cmd.Flags().StringVar(&path, "path", "", "JSONPath selecting the records")
	cmd.Flags().StringVar(&instrument, "instrument", "", "Instrument for records that do not name one")
	cmd.Flags().StringVar(&source, "source", "", "Source for records that do not name one")
	return cmd
}
