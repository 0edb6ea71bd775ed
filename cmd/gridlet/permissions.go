package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gridlet-dev/gridlet/internal/application/ports"
	"github.com/gridlet-dev/gridlet/internal/application/services"
	"github.com/gridlet-dev/gridlet/internal/domain/permissions"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
	"github.com/gridlet-dev/gridlet/internal/infrastructure/permstore"
)

var (
	grantHost string
	resetAll  bool
)

var permissionsCmd = &cobra.Command{
	Use:   "permissions",
	Short: "Inspect and manage extension permission grants",
}

var permissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List granted permissions per extension",
	RunE: func(_ *cobra.Command, _ []string) error {
		mgr, err := openPermissionManager()
		if err != nil {
			return err
		}
		records := mgr.Records()
		if len(records) == 0 {
			fmt.Println("no permissions granted")
			return nil
		}

		ids := make([]string, 0, len(records))
		byID := make(map[string]*permissions.Record, len(records))
		for id, record := range records {
			ids = append(ids, id.String())
			byID[id.String()] = record
		}
		sort.Strings(ids)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "EXTENSION\tPERMISSION\tDETAIL")
		for _, id := range ids {
			record := byID[id]
			var names []string
			for name := range record.Simple {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(w, "%s\t%s\t\n", id, name)
			}
			if record.Network != nil {
				detail := string(record.Network.Mode)
				if len(record.Network.Hosts) > 0 {
					detail += ": " + strings.Join(record.Network.Hosts, ", ")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, permissions.Network, detail)
			}
		}
		return w.Flush()
	},
}

var permissionsGrantCmd = &cobra.Command{
	Use:   "grant <extension-id> <permission>...",
	Short: "Grant permissions without an interactive prompt",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := values.NewExtensionID(args[0])
		if err != nil {
			return err
		}
		requested := args[1:]
		for _, name := range requested {
			if !permissions.IsKnown(name) {
				return fmt.Errorf("unknown permission %q", name)
			}
		}

		// An auto-approving prompter turns the consent step into a direct
		// grant while reusing the manager's persistence rules.
		approve := ports.ConsentPrompterFunc(func(context.Context, ports.ConsentRequest) (bool, error) {
			return true, nil
		})
		store, err := openStore()
		if err != nil {
			return err
		}
		mgr := services.NewPermissionManager(store, approve)

		req := services.PermissionRequest{Permissions: requested, Declared: requested}
		if grantHost != "" {
			req.TargetURL = "https://" + grantHost
		}
		if err := mgr.EnsurePermissions(context.Background(), id, id.String(), req); err != nil {
			return err
		}
		fmt.Printf("granted %s to %s\n", strings.Join(requested, ", "), id)
		return nil
	},
}

var permissionsRevokeCmd = &cobra.Command{
	Use:   "revoke <extension-id> <permission>...",
	Short: "Revoke granted permissions",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		id, err := values.NewExtensionID(args[0])
		if err != nil {
			return err
		}
		mgr, err := openPermissionManager()
		if err != nil {
			return err
		}
		if err := mgr.RevokePermissions(id, args[1:]); err != nil {
			return err
		}
		fmt.Printf("revoked %s from %s\n", strings.Join(args[1:], ", "), id)
		return nil
	},
}

var permissionsResetCmd = &cobra.Command{
	Use:   "reset [extension-id]",
	Short: "Reset all grants for one extension, or every extension with --all",
	RunE: func(_ *cobra.Command, args []string) error {
		mgr, err := openPermissionManager()
		if err != nil {
			return err
		}
		if resetAll {
			if err := mgr.ResetAllPermissions(); err != nil {
				return err
			}
			fmt.Println("reset all permission grants")
			return nil
		}
		if len(args) != 1 {
			return fmt.Errorf("an extension id is required unless --all is given")
		}
		id, err := values.NewExtensionID(args[0])
		if err != nil {
			return err
		}
		if err := mgr.ResetPermissions(id); err != nil {
			return err
		}
		fmt.Printf("reset permissions for %s\n", id)
		return nil
	},
}

func openStore() (*permstore.FileStore, error) {
	dir, err := dataDir()
	if err != nil {
		return nil, err
	}
	return permstore.NewFileStore(filepath.Join(dir, "permissions.yaml")), nil
}

func openPermissionManager() (*services.PermissionManager, error) {
	store, err := openStore()
	if err != nil {
		return nil, err
	}
	// Management commands never prompt; a deny prompter keeps EnsurePermissions
	// unusable by accident.
	deny := ports.ConsentPrompterFunc(func(context.Context, ports.ConsentRequest) (bool, error) {
		return false, nil
	})
	return services.NewPermissionManager(store, deny), nil
}

func init() {
	rootCmd.AddCommand(permissionsCmd)
	permissionsCmd.AddCommand(permissionsListCmd)
	permissionsCmd.AddCommand(permissionsGrantCmd)
	permissionsCmd.AddCommand(permissionsRevokeCmd)
	permissionsCmd.AddCommand(permissionsResetCmd)

	permissionsGrantCmd.Flags().StringVar(&grantHost, "host", "", "Host to add to the network allowlist (network permission only)")
	permissionsResetCmd.Flags().BoolVar(&resetAll, "all", false, "Reset grants for every extension")
}
