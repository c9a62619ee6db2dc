package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/config"
	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/precision"
	"github.com/example/teetime-scheduler/internal/queue"
	"github.com/example/teetime-scheduler/internal/scheduler"
	"github.com/example/teetime-scheduler/internal/web"
)

func newServerCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the web UI, dispatcher and precision window",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, migrateUp)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.cfg.RequireSessionKeys(); err != nil {
				return err
			}
			if err := a.connectNATS("teesched-server"); err != nil {
				return err
			}

			var dispatch scheduler.Dispatcher
			var pool *executor.Pool
			if a.cfg.DispatchMode == config.DispatchNATS {
				dispatch = &queue.Publisher{Conn: a.nc, Clock: a.clock}
			} else {
				pool = executor.NewPool(ctx, a.unit(), a.cfg.WorkerConcurrency, a.log)
				dispatch = pool
			}
			a.log.WithFields(logrus.Fields{
				"dispatch_mode": a.cfg.DispatchMode,
				"booking_mode":  a.cfg.BookingMode,
				"opening_time":  a.cfg.OpeningTime.String(),
				"timezone":      a.cfg.Location.String(),
			}).Info("starting server")

			s := &scheduler.Scheduler{
				Store:    a.store,
				Dispatch: dispatch,
				Clock:    a.clock,
				Interval: a.cfg.DispatchInterval,
				Log:      a.log,

				StaleAfter: a.cfg.StaleRunningAfter(),
			}
			go func() { _ = s.Run(ctx) }()

			flag, err := a.flag(ctx)
			if err != nil {
				return err
			}
			pc := &precision.Controller{
				Flag:      flag,
				Store:     a.store,
				Dispatch:  dispatch,
				Clock:     a.clock,
				TTL:       a.cfg.PrecisionTTL,
				Interval:  a.cfg.PrecisionTick,
				Threshold: a.cfg.PrecisionThreshold,
				Log:       a.log,
			}
			cr, err := pc.Schedule(ctx, a.cfg.Location, a.cfg.OpeningTime, a.cfg.PrecisionArmLead)
			if err != nil {
				return err
			}
			defer cr.Stop()

			ws := &web.Server{
				Auth:     auth.NewStore(a.users, a.cfg.CookieHashKey, a.cfg.CookieBlockKey),
				Bookings: a.service(),
				Health:   a.health,
				Log:      a.log,
			}
			err = web.Start(ctx, a.cfg.ListenAddr, ws.Routes(), a.log)
			cancel()
			if pool != nil {
				pool.Wait()
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")

	cmd.Flags().Lookup("migrate").NoOptDefVal = "true"
	return cmd
}
