package cli

import (
	gocontext "context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/example/warden/internal/events"
	"github.com/example/warden/internal/wire"
)

// DaemonCmd returns the daemon command
func DaemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the background maintenance loop",
		Long: `Run the warden daemon: the expiry sweep (overdue approvals time out),
the daily budget reset, and a live feed of governor events. Stops on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(gocontext.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			bus := wire.Bus()
			for _, eventType := range []events.EventType{
				events.EventApprovalRequested,
				events.EventSafetyAlert,
			} {
				unsubscribe := bus.Subscribe(eventType, func(event events.Event) {
					fmt.Fprintf(os.Stderr, "[%s] %s %s %s\n",
						event.Timestamp.Format("15:04:05"), event.Type, event.ProjectID, event.Message)
				})
				defer unsubscribe()
			}

			fmt.Printf("warden daemon running (sweep every %s)\n", wire.Config().SweepInterval())

			group, groupCtx := errgroup.WithContext(ctx)
			group.Go(func() error {
				return wire.Sweeper().Run(groupCtx)
			})

			err := group.Wait()
			if err == gocontext.Canceled {
				fmt.Println("warden daemon stopped")
				return nil
			}
			return err
		},
	}
}
