package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/queue"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run Execution Units for requests dispatched over NATS",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := openApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()
			if a.cfg.NATSURL == "" {
				return fmt.Errorf("worker requires NATS_URL")
			}
			if err := a.connectNATS("teesched-worker"); err != nil {
				return err
			}

			pool := executor.NewPool(ctx, a.unit(), a.cfg.WorkerConcurrency, a.log)
			w := &queue.Worker{Pool: pool, Log: a.log}
			sub, err := w.Subscribe(ctx, a.nc)
			if err != nil {
				return fmt.Errorf("subscribe %s: %w", queue.SubjectExecute, err)
			}
			a.log.WithFields(logrus.Fields{
				"subject":     queue.SubjectExecute,
				"group":       queue.WorkerGroup,
				"concurrency": a.cfg.WorkerConcurrency,
			}).Info("worker started")

			<-ctx.Done()
			_ = sub.Unsubscribe()
			pool.Wait()
			a.log.Info("worker stopped")
			return nil
		},
	}
}
