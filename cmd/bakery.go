package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"easybox-network/internal/access"
	"easybox-network/internal/storage"

	"github.com/spf13/cobra"
)

var bakeryCmd = &cobra.Command{
	Use:   "bakery",
	Short: "Manage bakery accounts",
}

var bakeryCreateCmd = &cobra.Command{
	Use:   "create <email> <name>",
	Short: "Create a bakery account",
	Long: `Create a bakery that can log in to the API. The password is read from
--password or, when missing, from the first line of stdin.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		email := access.NormalizeEmail(args[0])
		if err := access.ValidEmail(email); err != nil {
			fail("Invalid email", err, "email", args[0])
		}

		password, _ := cmd.Flags().GetString("password")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				fail("Failed to read password", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		if len(password) < 8 {
			fail("Password too short", errors.New("at least 8 characters are required"))
		}

		hash, err := access.HashPassword(password)
		if err != nil {
			fail("Failed to hash password", err)
		}
		b := &storage.Bakery{Name: strings.TrimSpace(args[1]), Email: email, PasswordHash: hash}
		if err := provider.CreateBakery(context.Background(), b); err != nil {
			if errors.Is(err, storage.ErrUniqueViolation) {
				fail("Bakery already exists", err, "email", email)
			}
			fail("Failed to create bakery", err)
		}
		fmt.Printf("Bakery %q created with id %d\n", b.Name, b.ID)
	},
}

var bakeryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bakery accounts",
	Run: func(cmd *cobra.Command, args []string) {
		bakeries, err := provider.ListBakeries(context.Background())
		if err != nil {
			fail("Failed to list bakeries", err)
		}
		if len(bakeries) == 0 {
			fmt.Println("No bakeries found")
			return
		}

		admins := map[string]bool{}
		for _, e := range cfg.RBAC.Admins {
			admins[access.NormalizeEmail(e)] = true
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tCREATED AT")
		for _, b := range bakeries {
			role := access.RoleBakery
			if admins[access.NormalizeEmail(b.Email)] {
				role = access.RoleAdmin
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", b.ID, b.Name, b.Email, role, b.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Show or change the database schema version",
	Long:  `Without arguments prints the schema version. Storage is migrated to the latest version on startup; pass a version to move to it explicitly.`,
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()
		if len(args) == 1 {
			var target int
			if _, err := fmt.Sscanf(args[0], "%d", &target); err != nil {
				fail("Invalid version", err, "version", args[0])
			}
			if err := provider.Migrate(ctx, target); err != nil {
				fail("Migration failed", err, "target", target)
			}
		}
		version, err := provider.GetSchemaVersion(ctx)
		if err != nil {
			fail("Failed to read schema version", err)
		}
		fmt.Printf("Schema version %d\n", version)
	},
}

func init() {
	bakeryCreateCmd.Flags().String("password", "", "password for the bakery account")
	bakeryCmd.AddCommand(bakeryCreateCmd)
	bakeryCmd.AddCommand(bakeryListCmd)
	rootCmd.AddCommand(bakeryCmd)
	rootCmd.AddCommand(migrateCmd)
}
