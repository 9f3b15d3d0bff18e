package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/ingest"
	"github.com/rustyeddy/tracker/journal"
	"github.com/rustyeddy/tracker/market"
	"github.com/rustyeddy/tracker/pkg/id"
	"github.com/rustyeddy/tracker/remote/memory"
	"github.com/rustyeddy/tracker/service"
	"github.com/rustyeddy/tracker/syncer"
	"github.com/rustyeddy/tracker/valuation"
)

func newDemoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run two trackers against an in-process remote",
		Long: `Walks through the offline workflow with two devices sharing one
in-memory remote:

  1. The phone records trades while offline and syncs them
  2. The laptop pulls them, caches prices and values the portfolio
  3. Both devices write different content under one id and the
     conflict is staged for a decision

Nothing outside a temporary directory is touched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

type device struct {
	name  string
	store *journal.Store
	svc   *service.Service
}

func runDemo(ctx context.Context, out io.Writer) error {
	dir, err := os.MkdirTemp("", "tracker-demo-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	log := logrus.New()
	log.SetOutput(io.Discard)

	t1 := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := t1.Add(24 * time.Hour)
	t3 := t2.Add(24 * time.Hour)

	shared := memory.New()

	open := func(name string) (*device, error) {
		store, err := journal.Open(filepath.Join(dir, name+".db"), journal.Options{Logger: log})
		if err != nil {
			return nil, err
		}
		eng := syncer.New(store, shared, syncer.Options{Logger: log})
		svc := service.New(store, eng, service.Options{
			Account:  "demo",
			Currency: "USD",
			Parser:   ingest.Parser{Format: ingest.FormatJSON},
			Logger:   log,
			Now:      func() time.Time { return t3.Add(time.Hour) },
		})
		return &device{name: name, store: store, svc: svc}, nil
	}

	phone, err := open("phone")
	if err != nil {
		return err
	}
	defer phone.store.Close()
	laptop, err := open("laptop")
	if err != nil {
		return err
	}
	defer laptop.store.Close()

	fmt.Fprintln(out, "=== 1. Offline trades on the phone ===")
	for _, tr := range []struct {
		qty, price string
		at         time.Time
	}{{"10", "5", t1}, {"-3", "6", t2}} {
		tx, err := phone.svc.Record("AAPL", decimal.RequireFromString(tr.qty), decimal.RequireFromString(tr.price), tr.at)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "  %s  %s %s @ %s  [%s]\n", tx.Time.Format(time.DateOnly), tx.Instrument, tx.Quantity, tx.Price, tx.State)
	}
	if err := demoSync(ctx, out, phone); err != nil {
		return err
	}

	fmt.Fprintln(out, "\n=== 2. The laptop catches up and values the portfolio ===")
	if err := demoSync(ctx, out, laptop); err != nil {
		return err
	}
	n, err := laptop.svc.Ingest([]byte(`{"symbol": "AAPL", "source": "demo", "prices": [
		{"time": "2024-01-02T15:00:00Z", "price": "5"},
		{"time": "2024-01-03T15:00:00Z", "price": "6"},
		{"time": "2024-01-04T15:00:00Z", "price": "7"}]}`))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  cached %d prices\n", n)

	h := laptop.svc.Holdings(t3)["AAPL"]
	fmt.Fprintf(out, "  AAPL quantity %s, cost basis %s, realized %s\n",
		h.Quantity, laptop.svc.Display(h.CostBasis), laptop.svc.Display(h.RealizedPL))

	v, err := laptop.svc.Portfolio(t3)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  value on %s: %s\n", t3.Format(time.DateOnly), laptop.svc.Display(v.Total))

	points, err := laptop.svc.ReturnsAt(valuation.Every(t1, t3, 24*time.Hour))
	if err != nil {
		return err
	}
	for _, p := range points[1:] {
		fmt.Fprintf(out, "  %s  value %s  gain %s  return %s\n", p.At.Format(time.DateOnly),
			laptop.svc.Display(p.Value), laptop.svc.Display(p.Gain), valuation.Percent(p.Return))
	}

	fmt.Fprintln(out, "\n=== 3. Same id, different content ===")
	sharedID, err := id.NewAt(t3)
	if err != nil {
		return err
	}
	base := market.Transaction{ID: sharedID, Account: "demo", Instrument: "MSFT", Price: decimal.NewFromInt(300), Time: t3}
	mine, theirs := base, base
	mine.Quantity = decimal.NewFromInt(2)
	theirs.Quantity = decimal.NewFromInt(3)
	if _, err := phone.store.Append(mine); err != nil {
		return err
	}
	if _, err := laptop.store.Append(theirs); err != nil {
		return err
	}
	if err := demoSync(ctx, out, phone); err != nil {
		return err
	}
	if err := demoSync(ctx, out, laptop); err != nil {
		return err
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, journal.FormatConflictsOrg(laptop.svc.Conflicts()))
	return nil
}

func demoSync(ctx context.Context, out io.Writer, d *device) error {
	res, err := d.svc.Sync(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  %s synced: pulled %d, pushed %d, conflicts %d\n",
		d.name, res.Pulled, res.Pushed, len(res.Conflicts))
	return nil
}
