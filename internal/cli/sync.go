package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/service"
)

func newSyncCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle against the configured remote",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := rc.open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.svc.Sync(cmd.Context())
			out := cmd.OutOrStdout()
			if errors.Is(err, service.ErrNoRemote) {
				return fmt.Errorf("%w: set remote.kind in the config or TRACKER_REMOTE", err)
			}
			fmt.Fprintf(out, "pulled %d (new %d, confirmed %d), pushed %d, %d pending, cursor %d\n",
				res.Pulled, res.Inserted, res.Synced, res.Pushed, res.Remaining, res.Cursor)
			if n := len(res.Conflicts); n > 0 {
				ids := make([]string, n)
				for i, c := range res.Conflicts {
					ids[i] = c.ID
				}
				fmt.Fprintf(out, "%d new conflicts: %s (see `tracker conflicts`)\n", n, strings.Join(ids, ", "))
			}
			return err
		},
	}
	return cmd
}
