package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

var termsAccepted bool

func init() {
	rootCmd.AddCommand(orgCmd)
	orgCmd.AddCommand(orgCreateCmd, orgListCmd, orgDeleteCmd, orgTermsCmd)
	orgTermsCmd.Flags().BoolVar(&termsAccepted, "accepted", true, "Whether the terms of use are accepted")
}

var orgCmd = &cobra.Command{
	Use:     "org",
	Aliases: []string{"organization"},
	Short:   "Manage organizations",
}

var orgCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an organization with its default roles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			org, err := svc.CreateOrganization(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOrganizations(cmd.OutOrStdout(), org, []auth.Organization{org})
		})
	},
}

var orgListCmd = &cobra.Command{
	Use:   "list",
	Short: "List organizations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			orgs, err := svc.ListOrganizations(cmd.Context())
			if err != nil {
				return err
			}
			if orgs == nil {
				orgs = []auth.Organization{}
			}
			return printOrganizations(cmd.OutOrStdout(), orgs, orgs)
		})
	},
}

var orgDeleteCmd = &cobra.Command{
	Use:   "delete ORG_ID",
	Short: "Delete an organization and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.DeleteOrganization(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "Deleted organization %s\n", args[0])
			return err
		})
	},
}

var orgTermsCmd = &cobra.Command{
	Use:   "terms ORG_ID",
	Short: "Record whether an organization accepted the terms of use",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			if err := svc.SetTermsOfUse(cmd.Context(), args[0], termsAccepted); err != nil {
				return err
			}
			org, err := svc.GetOrganization(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printOrganizations(cmd.OutOrStdout(), org, []auth.Organization{org})
		})
	},
}

func printOrganizations(out io.Writer, data any, orgs []auth.Organization) error {
	return printResult(out, data, func(w io.Writer) error {
		if len(orgs) == 0 {
			_, err := fmt.Fprintln(w, "No organizations found.")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tNAME\tTERMS\tCREATED")
		for _, o := range orgs {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", o.ID, o.Name, o.AcceptedTermsOfUse, o.CreatedAt.Format("2006-01-02 15:04"))
		}
		return tw.Flush()
	})
}
