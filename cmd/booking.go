package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/teetime-scheduler/internal/bookings"
	"github.com/example/teetime-scheduler/internal/clock"
	"github.com/example/teetime-scheduler/internal/config"
)

func newBookingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "booking",
		Short: "Manage tee-time booking requests (non-UI)",
	}
	cmd.AddCommand(newBookingCreateCmd())
	cmd.AddCommand(newBookingListCmd())
	cmd.AddCommand(newBookingGetCmd())
	cmd.AddCommand(newBookingCancelCmd())
	cmd.AddCommand(newBookingHistoryCmd())
	return cmd
}

// withStore opens the durable store for one CLI call.
func withStore(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.cfg.Store != config.StorePostgres {
		return fmt.Errorf("this command needs STORE=postgres")
	}
	return fn(ctx, a)
}

func parseIDArg(args []string) (int64, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid booking id %q", args[0])
	}
	return id, nil
}

func newBookingCreateCmd() *cobra.Command {
	var sub bookings.Submission

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking attempt for when the date's tee sheet opens",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				r, err := a.service().Submit(ctx, sub)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "created booking id=%d due_utc=%s due_local=%s\n",
					r.ID, r.DueAt.UTC().Format(time.RFC3339), r.DueAt.In(a.cfg.Location).Format(time.RFC3339))
				return nil
			})
		},
	}

	c.Flags().StringVar(&sub.Name, "name", "", "requester name")
	c.Flags().StringVar(&sub.Date, "date", "", "play date YYYY-MM-DD")
	c.Flags().StringVar(&sub.Time, "time", "", "preferred tee time HH:MM (24h)")
	_ = c.MarkFlagRequired("name")
	_ = c.MarkFlagRequired("date")
	_ = c.MarkFlagRequired("time")
	return c
}

func newBookingListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List booking requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, a *app) error {
				list, err := a.store.ListAll(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tDATE\tTIME\tSTATUS\tATTEMPTS\tDUE (LOCAL)")
				for _, r := range list {
					fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
						r.ID, r.Name, r.RequestedDate.Format(clock.DateLayout), r.RequestedTime, r.Status, r.Attempts,
						r.DueAt.In(a.cfg.Location).Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
}

func newBookingGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show one booking request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, a *app) error {
				r, err := a.store.Get(ctx, id)
				if err != nil {
					return err
				}
				printBooking(os.Stdout, r, a.cfg.Location)
				return nil
			})
		},
	}
}

func printBooking(w io.Writer, r bookings.BookingRequest, loc *time.Location) {
	fmt.Fprintf(w, "id=%d name=%q date=%s time=%s status=%s attempts=%d due=%s\n",
		r.ID, r.Name, r.RequestedDate.Format(clock.DateLayout), r.RequestedTime, r.Status, r.Attempts,
		r.DueAt.In(loc).Format(time.RFC3339))
	if r.LastAttemptAt != nil {
		fmt.Fprintf(w, "last_attempt=%s\n", r.LastAttemptAt.In(loc).Format(time.RFC3339))
	}
	if r.NextRetryAt != nil {
		fmt.Fprintf(w, "next_retry=%s\n", r.NextRetryAt.In(loc).Format(time.RFC3339))
	}
	if r.BookedTime != nil {
		fmt.Fprintf(w, "booked_time=%s\n", *r.BookedTime)
	}
	if r.LastError != nil {
		fmt.Fprintf(w, "error=%q\n", *r.LastError)
	}
}

func newBookingCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ID",
		Short: "Cancel a pending booking request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, a *app) error {
				if err := a.store.Cancel(ctx, id); err != nil {
					return err
				}
				fmt.Fprintf(os.Stdout, "cancelled booking id=%d\n", id)
				return nil
			})
		},
	}
}

func newBookingHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history ID",
		Short: "Show the attempt history of a booking request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseIDArg(args)
			if err != nil {
				return err
			}
			return withStore(func(ctx context.Context, a *app) error {
				hist, err := a.store.History(ctx, id)
				if err != nil {
					return err
				}
				for _, h := range hist {
					fmt.Fprintf(os.Stdout, "%s attempt=%d status=%s success=%t",
						h.CreatedAt.In(a.cfg.Location).Format(time.RFC3339), h.Details.Attempt, h.Status, h.Success)
					if h.Details.BookedTime != "" {
						fmt.Fprintf(os.Stdout, " booked=%s", h.Details.BookedTime)
					}
					if h.Details.Error != "" {
						fmt.Fprintf(os.Stdout, " error=%q", h.Details.Error)
					}
					fmt.Fprintln(os.Stdout)
				}
				return nil
			})
		},
	}
}
