package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"easybox-network/internal/cleanup"
	"easybox-network/internal/clock"
	"easybox-network/internal/storage"

	"github.com/spf13/cobra"
)

var reservationCmd = &cobra.Command{
	Use:   "reservation",
	Short: "Inspect and maintain reservations",
}

var reservationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List reservations",
	Run: func(cmd *cobra.Command, args []string) {
		statuses, _ := cmd.Flags().GetStringSlice("status")
		lockerID, _ := cmd.Flags().GetInt64("locker")
		bakeryID, _ := cmd.Flags().GetInt64("bakery")

		filter := storage.ReservationFilter{LockerID: lockerID, BakeryID: bakeryID}
		for _, s := range statuses {
			filter.Statuses = append(filter.Statuses, storage.ReservationStatus(s))
		}
		list, err := provider.ListReservations(context.Background(), filter)
		if err != nil {
			fail("Failed to list reservations", err)
		}
		if len(list) == 0 {
			fmt.Println("No reservations found")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tBAKERY\tLOCKER\tCOMPARTMENT\tDELIVERY\tWINDOW START\tWINDOW END")
		for _, r := range list {
			fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
				r.ID, r.Status, r.BakeryID, r.LockerID, r.CompartmentID,
				r.DeliveryTime.Format("2006-01-02 15:04"),
				r.ReservationStart.Format("2006-01-02 15:04"),
				r.ReservationEnd.Format("2006-01-02 15:04"),
			)
		}
		w.Flush()
	},
}

var reservationSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire stale holds and advance reservations once",
	Long: `Run one pass of the cleanup jobs the server runs periodically.
Lockers are not contacted; commands a transition would send are skipped.`,
	Run: func(cmd *cobra.Command, args []string) {
		clk := clock.Real{}
		scheduler := cleanup.NewScheduler(newEngine(cfg, provider, clk), clk, cfg.Cleanup)

		expired, report, err := scheduler.RunOnce(context.Background())
		if err != nil {
			fail("Sweep failed", err)
		}
		fmt.Printf("Expired holds removed: %d\n", expired)
		fmt.Printf("Reservations checked: %d, conflicts: %d, errors: %d\n",
			report.Checked, report.Conflicts, report.Errors)
		for status, n := range report.Transitions {
			fmt.Printf("  -> %s: %d\n", status, n)
		}
	},
}

func init() {
	reservationListCmd.Flags().StringSlice("status", nil, "only these statuses (repeatable)")
	reservationListCmd.Flags().Int64("locker", 0, "only reservations of this locker id")
	reservationListCmd.Flags().Int64("bakery", 0, "only reservations of this bakery id")

	reservationCmd.AddCommand(reservationListCmd)
	reservationCmd.AddCommand(reservationSweepCmd)
	rootCmd.AddCommand(reservationCmd)
}
