package cmd

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"text/tabwriter"

	"easybox-network/internal/clock"
	"easybox-network/internal/geo"
	"easybox-network/internal/registration"
	"easybox-network/internal/storage"

	"github.com/spf13/cobra"
)

var lockerCmd = &cobra.Command{
	Use:   "locker",
	Short: "Manage lockers",
	Long:  `Manage registered lockers and put their compartments back in service.`,
}

// getActiveUser returns a string identifying who is performing the action
// Format: username@hostname
func getActiveUser() string {
	username := "unknown"
	if currentUser, err := user.Current(); err == nil {
		username = currentUser.Username
	}

	hostname := "unknown"
	// Check environment variable first for SSH sessions
	if h := os.Getenv("SSH_CLIENT"); h != "" {
		if fields := strings.Fields(h); len(fields) > 0 {
			hostname = fields[0]
		}
	} else if h, err := os.Hostname(); err == nil {
		hostname = h
	}

	return fmt.Sprintf("%s@%s", username, hostname)
}

// registrar builds a registrar without a device channel. Commands that talk
// to lockers use connectDevices instead.
func registrar(inventory registration.Inventory) *registration.Registrar {
	return registration.NewRegistrar(provider, geo.NewNominatim(cfg.Geocoder), inventory, clock.Real{},
		cfg.Registration, cfg.MQTT.SyncRetries)
}

var lockerListCmd = &cobra.Command{
	Use:   "list [pending|approved]",
	Short: "List lockers",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		lockers, err := provider.ListLockers(ctx)
		if err != nil {
			fail("Failed to list lockers", err)
		}

		filter := ""
		if len(args) > 0 {
			filter = args[0]
			if filter != "pending" && filter != "approved" {
				fail("Invalid filter", fmt.Errorf("%q is not pending or approved", filter))
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCLIENT ID\tSTATUS\tAPPROVED\tCOMPARTMENTS\tADDRESS\tAPPROVED BY")
		shown := 0
		for _, l := range lockers {
			if (filter == "pending" && l.Approved) || (filter == "approved" && !l.Approved) {
				continue
			}
			comps, err := provider.ListCompartments(ctx, l.ID)
			if err != nil {
				fail("Failed to list compartments", err, "locker", l.ID)
			}
			approvedBy := ""
			if l.ApprovedBy != nil {
				approvedBy = *l.ApprovedBy
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%s\t%s\n",
				l.ID, l.ClientID, l.Status, l.Approved, len(comps), l.Address, approvedBy)
			shown++
		}
		if shown == 0 {
			fmt.Println("No lockers found")
			return
		}
		w.Flush()
	},
}

var lockerApproveCmd = &cobra.Command{
	Use:   "approve <client_id>",
	Short: "Approve a registered locker",
	Long:  `Approve a locker so it is offered to bakeries. The locker receives its secret on its next registration.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		approver := getActiveUser()
		l, err := registrar(nil).Approve(context.Background(), args[0], approver)
		if err != nil {
			fail("Failed to approve locker", err, "client_id", args[0])
		}
		fmt.Printf("Locker %s (#%d) approved by %s\n", l.ClientID, l.ID, approver)
	},
}

func statusCmd(use, short string, status storage.LockerStatus) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <client_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			l, err := registrar(nil).SetStatus(context.Background(), args[0], status)
			if err != nil {
				fail("Failed to change locker status", err, "client_id", args[0])
			}
			fmt.Printf("Locker %s (#%d) is now %s\n", l.ClientID, l.ID, l.Status)
		},
	}
}

func markCmd(use, short string, clean bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <compartment_id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				fail("Invalid compartment id", err, "id", args[0])
			}
			engine := newEngine(cfg, provider, clock.Real{})
			mark := engine.MarkFree
			if clean {
				mark = engine.MarkClean
			}
			c, err := mark(context.Background(), id)
			if err != nil {
				fail("Failed to update compartment", err, "id", id)
			}
			fmt.Printf("Compartment #%d of locker #%d is %s and %s\n", c.ID, c.LockerID, c.Status, c.Condition)
		},
	}
}

var lockerSyncCmd = &cobra.Command{
	Use:   "sync <client_id>",
	Short: "Pull the compartment inventory from a locker",
	Long:  `Ask the locker over MQTT for its compartments and store them. Existing compartments keep their condition.`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dev, err := connectDevices(cfg, provider, clock.Real{})
		if err != nil {
			fail("Failed to connect to lockers", err)
		}
		defer dev.Close()
		if err := dev.channel.Start(); err != nil {
			fail("Failed to subscribe to lockers", err)
		}

		comps, err := registrar(dev.channel).SyncByClientID(context.Background(), args[0])
		if err != nil {
			fail("Failed to sync locker", err, "client_id", args[0])
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDEVICE REF\tSIZE\tTEMPERATURE\tSTATUS\tCONDITION")
		for _, c := range comps {
			fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%s\t%s\n", c.ID, c.DeviceRef, c.Size, c.Temperature, c.Status, c.Condition)
		}
		w.Flush()
	},
}

func init() {
	lockerCmd.AddCommand(lockerListCmd)
	lockerCmd.AddCommand(lockerApproveCmd)
	lockerCmd.AddCommand(statusCmd("activate", "Put a locker back in service", storage.LockerStatusActive))
	lockerCmd.AddCommand(statusCmd("deactivate", "Take a locker out of service", storage.LockerStatusInactive))
	lockerCmd.AddCommand(lockerSyncCmd)
	lockerCmd.AddCommand(markCmd("mark-clean", "Return a cleaned or repaired compartment to service", true))
	lockerCmd.AddCommand(markCmd("mark-free", "Free a compartment, keeping its condition", false))
	rootCmd.AddCommand(lockerCmd)
}
