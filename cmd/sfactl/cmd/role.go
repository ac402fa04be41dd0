package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

var (
	actingSubject   string
	roleDescription string
	roleListUser    string
)

func init() {
	rootCmd.AddCommand(roleCmd)
	roleCmd.PersistentFlags().StringVar(&actingSubject, "as", "", "Identity provider subject of the acting user")
	_ = roleCmd.MarkPersistentFlagRequired("as")
	roleCmd.AddCommand(roleCreateCmd, roleShowCmd, roleListCmd, roleDeleteCmd,
		roleGrantCmd, roleRevokeCmd, roleAddPermissionCmd, roleRemovePermissionCmd)
	roleCreateCmd.Flags().StringVar(&roleDescription, "description", "", "Role description")
	roleListCmd.Flags().StringVar(&roleListUser, "user", "", "User whose roles are listed")
	_ = roleListCmd.MarkFlagRequired("user")
}

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Administer roles on behalf of a user",
	Long: `Role commands act as the user named by --as and are subject to that
user's permissions, exactly as API calls are.`,
}

var roleCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a role in the acting user's organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			role, err := svc.CreateRole(cmd.Context(), actingSubject, args[0], roleDescription)
			if err != nil {
				return err
			}
			return printRoles(cmd.OutOrStdout(), role, []auth.Role{role})
		})
	},
}

var roleShowCmd = &cobra.Command{
	Use:   "show ROLE_ID",
	Short: "Show a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			role, err := svc.GetRole(cmd.Context(), actingSubject, args[0])
			if err != nil {
				return err
			}
			return printRoles(cmd.OutOrStdout(), role, []auth.Role{role})
		})
	},
}

var roleListCmd = &cobra.Command{
	Use:   "list --user USER_ID",
	Short: "List the roles a user holds",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			roles, err := svc.UserRoles(cmd.Context(), actingSubject, roleListUser)
			if err != nil {
				return err
			}
			if roles == nil {
				roles = []auth.Role{}
			}
			return printRoles(cmd.OutOrStdout(), roles, roles)
		})
	},
}

var roleDeleteCmd = &cobra.Command{
	Use:   "delete ROLE_ID",
	Short: "Delete a role and its memberships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.DeleteRole(cmd.Context(), actingSubject, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted role %s\n", args[0])
			return err
		})
	},
}

var roleGrantCmd = &cobra.Command{
	Use:   "grant USER_ID ROLE_ID",
	Short: "Grant a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.AddRoleToUser(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Granted role %s to user %s\n", args[1], args[0])
			return err
		})
	},
}

var roleRevokeCmd = &cobra.Command{
	Use:   "revoke USER_ID ROLE_ID",
	Short: "Revoke a role from a user",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.RemoveRoleFromUser(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Revoked role %s from user %s\n", args[1], args[0])
			return err
		})
	},
}

var roleAddPermissionCmd = &cobra.Command{
	Use:   "add-permission ROLE_ID PERMISSION_ID",
	Short: "Add a permission of the same organization to a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.AddPermissionToRole(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Added permission %s to role %s\n", args[1], args[0])
			return err
		})
	},
}

var roleRemovePermissionCmd = &cobra.Command{
	Use:   "remove-permission ROLE_ID PERMISSION_ID",
	Short: "Remove a permission from a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.RemovePermissionFromRole(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Removed permission %s from role %s\n", args[1], args[0])
			return err
		})
	},
}

func printRoles(out io.Writer, data any, roles []auth.Role) error {
	return printResult(out, data, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tORGANIZATION\tDESCRIPTION")
		for _, r := range roles {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, r.OrganizationID, r.Description)
		}
		return tw.Flush()
	})
}
