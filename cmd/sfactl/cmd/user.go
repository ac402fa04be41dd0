package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userCreateCmd, userShowCmd, userAddToOrgCmd, userUnaffiliateCmd, userPromoteCmd,
		userGetCmd, userDeleteCmd)
	for _, c := range []*cobra.Command{userGetCmd, userDeleteCmd} {
		c.Flags().StringVar(&actingSubject, "as", "", "Identity provider subject of the acting user")
		_ = c.MarkFlagRequired("as")
	}
}

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage users and their affiliation",
}

var userCreateCmd = &cobra.Command{
	Use:   "create AUTH_ID",
	Short: "Create a user in the unaffiliated organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			u, err := svc.CreateUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

var userShowCmd = &cobra.Command{
	Use:   "show AUTH_ID",
	Short: "Show a user by identity provider subject",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			u, err := svc.GetUserByAuthID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

var userAddToOrgCmd = &cobra.Command{
	Use:   "add-to-org USER_ID ORG_ID",
	Short: "Affiliate an unaffiliated user with an organization",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			u, err := svc.AddUserToOrg(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

var userUnaffiliateCmd = &cobra.Command{
	Use:   "unaffiliate USER_ID",
	Short: "Move a user back to the unaffiliated organization",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			u, err := svc.MoveUserToUnaffiliated(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

var userPromoteCmd = &cobra.Command{
	Use:   "promote USER_ID ORG_ID",
	Short: "Grant every default role of the organization to a member",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.PromoteUserToOrgAdmin(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Promoted user %s in organization %s\n", args[0], args[1])
			return err
		})
	},
}

var userGetCmd = &cobra.Command{
	Use:   "get USER_ID",
	Short: "Show a user the acting user may read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			u, err := svc.GetUser(cmd.Context(), actingSubject, args[0])
			if err != nil {
				return err
			}
			return printUser(cmd.OutOrStdout(), u)
		})
	},
}

var userDeleteCmd = &cobra.Command{
	Use:   "delete USER_ID",
	Short: "Delete a user with its memberships and default role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.DeleteUser(cmd.Context(), actingSubject, args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted user %s\n", args[0])
			return err
		})
	},
}

func printUser(out io.Writer, u auth.User) error {
	return printResult(out, u, func(w io.Writer) error {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tAUTH ID\tORGANIZATION\tCREATED")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.ID, u.AuthID, u.OrganizationID, u.CreatedAt.Format("2006-01-02 15:04"))
		return tw.Flush()
	})
}
