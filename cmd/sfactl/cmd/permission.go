package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

var (
	permAction       string
	permObjectType   string
	permDescription  string
	permAppliesToAll bool
)

func init() {
	rootCmd.AddCommand(permissionCmd)
	permissionCmd.PersistentFlags().StringVar(&actingSubject, "as", "", "Identity provider subject of the acting user")
	_ = permissionCmd.MarkPersistentFlagRequired("as")
	permissionCmd.AddCommand(permissionCreateCmd, permissionShowCmd, permissionDeleteCmd,
		permissionObjectsCmd, permissionAddObjectCmd, permissionRemoveObjectCmd)

	f := permissionCreateCmd.Flags()
	f.StringVar(&permAction, "action", "", "Action the permission grants")
	f.StringVar(&permObjectType, "type", "", "Object type the permission applies to")
	f.StringVar(&permDescription, "description", "", "Permission description")
	f.BoolVar(&permAppliesToAll, "all", false, "Apply to every object of the type in the organization")
	_ = permissionCreateCmd.MarkFlagRequired("action")
	_ = permissionCreateCmd.MarkFlagRequired("type")
	_ = permissionCreateCmd.MarkFlagRequired("description")
}

var permissionCmd = &cobra.Command{
	Use:     "permission",
	Aliases: []string{"perm"},
	Short:   "Administer permissions on behalf of a user",
}

var permissionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a permission in the acting user's organization",
	Example: `  sfactl permission create --as 'auth0|abc' --action read --type sites --description "Read sites" --all
  sfactl permission create --as 'auth0|abc' --action write_values --type forecasts --description "Upload day ahead"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			perm, err := svc.CreatePermission(cmd.Context(), actingSubject, auth.PermissionSpec{
				Description:  permDescription,
				Action:       auth.Action(permAction),
				ObjectType:   auth.ObjectType(permObjectType),
				AppliesToAll: permAppliesToAll,
			})
			if err != nil {
				return err
			}
			return printPermission(cmd.OutOrStdout(), perm)
		})
	},
}

var permissionShowCmd = &cobra.Command{
	Use:   "show PERMISSION_ID",
	Short: "Show a permission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			perm, err := svc.GetPermission(cmd.Context(), actingSubject, args[0])
			if err != nil {
				return err
			}
			return printPermission(cmd.OutOrStdout(), perm)
		})
	},
}

var permissionDeleteCmd = &cobra.Command{
	Use:   "delete PERMISSION_ID",
	Short: "Delete a permission with its role memberships and grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.DeletePermission(cmd.Context(), actingSubject, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted permission %s\n", args[0])
			return err
		})
	},
}

var permissionObjectsCmd = &cobra.Command{
	Use:   "objects PERMISSION_ID",
	Short: "List the objects a permission grants",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			objs, err := svc.PermissionObjects(cmd.Context(), actingSubject, args[0])
			if err != nil {
				return err
			}
			if objs == nil {
				objs = []string{}
			}
			return printResult(cmd.OutOrStdout(), objs, func(w io.Writer) error {
				for _, id := range objs {
					if _, err := fmt.Fprintln(w, id); err != nil {
						return err
					}
				}
				return nil
			})
		})
	},
}

var permissionAddObjectCmd = &cobra.Command{
	Use:   "add-object PERMISSION_ID OBJECT_ID",
	Short: "Grant a permission on one object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.AddObjectToPermission(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Permission %s now applies to %s\n", args[0], args[1])
			return err
		})
	},
}

var permissionRemoveObjectCmd = &cobra.Command{
	Use:   "remove-object PERMISSION_ID OBJECT_ID",
	Short: "Withdraw a permission from one object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.RemoveObjectFromPermission(cmd.Context(), actingSubject, args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Permission %s no longer applies to %s\n", args[0], args[1])
			return err
		})
	},
}

func printPermission(out io.Writer, p auth.Permission) error {
	return printResult(out, p, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tACTION\tTYPE\tALL\tDESCRIPTION")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\n", p.ID, p.Action, p.ObjectType, p.AppliesToAll, p.Description)
		return tw.Flush()
	})
}
