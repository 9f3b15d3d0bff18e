package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tracker/config"
	"github.com/rustyeddy/tracker/internal/gateway"
	"github.com/rustyeddy/tracker/remote/httpdoc"
)

func newServeCmd(rc *RootConfig) *cobra.Command {
	var (
		addr      string
		documents bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP gateway and sync periodically",
		Long: `Serves /v1/portfolio, /v1/returns, /v1/status (server-sent events),
/v1/sync and /v1/conflicts, and runs a sync cycle every sync.interval.

With --documents the configured memory or postgres remote is also exposed
as a document API under /v1/collections, so other trackers can use this
process as their http remote.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := rc.open(ctx, func(c *config.Config) {
				if addr != "" {
					c.Gateway.Addr = addr
				}
			})
			if err != nil {
				return err
			}
			defer a.Close()

			if a.log.GetLevel() < logrus.DebugLevel {
				gin.SetMode(gin.ReleaseMode)
			}
			r := gin.New()
			r.Use(gin.Recovery(), gateway.RequestLogger(a.log))

			gateway.New(a.svc, gateway.Options{
				Token:      a.cfg.Gateway.Token,
				ReturnStep: config.MustDuration(a.cfg.Valuation.ReturnStep),
				Logger:     a.log,
			}).Register(r)

			if documents {
				switch a.cfg.Remote.Kind {
				case config.RemoteMemory, config.RemotePostgres:
					httpdoc.NewServer(a.remote, a.cfg.Remote.Token, a.log).Register(r)
				default:
					return fmt.Errorf("--documents needs a memory or postgres remote, not %q", a.cfg.Remote.Kind)
				}
			}

			a.svc.Start(ctx, config.MustDuration(a.cfg.Sync.Interval))

			srv := &http.Server{
				Addr:              a.cfg.Gateway.Addr,
				Handler:           r,
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdown); err != nil {
					a.log.WithError(err).Warn("gateway shutdown")
				}
			}()

			a.log.WithFields(logrus.Fields{
				"addr":      a.cfg.Gateway.Addr,
				"remote":    a.cfg.Remote.Kind,
				"documents": documents,
			}).Info("gateway listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default gateway.addr)")
	cmd.Flags().BoolVar(&documents, "documents", false, "Also serve the remote as a document API")
	return cmd
}
