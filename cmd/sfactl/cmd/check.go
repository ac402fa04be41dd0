package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"solarforecast.org/internal/auth"
)

var (
	checkSubject    string
	checkObject     string
	checkAction     string
	checkCreateType string
	checkOrg        string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkSubject, "subject", "", "Identity provider subject of the acting user")
	checkCmd.Flags().StringVar(&checkObject, "object", "", "Object id to check")
	checkCmd.Flags().StringVar(&checkAction, "action", "read", "Action to check")
	checkCmd.Flags().StringVar(&checkCreateType, "create", "", "Object type for a create check")
	checkCmd.Flags().StringVar(&checkOrg, "org", "", "Owning organization for a create check")
	_ = checkCmd.MarkFlagRequired("subject")
	checkCmd.MarkFlagsMutuallyExclusive("object", "create")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Explain an authorization decision",
	Example: `  sfactl check --subject 'auth0|abc' --object 3a2b1c0d-... --action read_values
  sfactl check --subject 'auth0|abc' --create forecasts --org 7d1c6a0e-...`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd.Context(), func(svc *auth.Service) error {
			var (
				d   auth.Decision
				err error
			)
			switch {
			case checkCreateType != "":
				objectType, perr := auth.ParseObjectType(checkCreateType)
				if perr != nil {
					return perr
				}
				if strings.TrimSpace(checkOrg) == "" {
					return errors.New("--org is required with --create")
				}
				d, err = svc.DecideCreate(cmd.Context(), checkSubject, objectType, checkOrg)
			case checkObject != "":
				action, perr := auth.ParseAction(checkAction)
				if perr != nil {
					return perr
				}
				d, err = svc.Decide(cmd.Context(), checkSubject, checkObject, action)
			default:
				return errors.New("one of --object or --create is required")
			}
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), d, func(w io.Writer) error {
				verdict := "DENY"
				if d.Allowed {
					verdict = "ALLOW"
				}
				if _, err := fmt.Fprintf(w, "%s (%s)\n", verdict, d.Reason); err != nil {
					return err
				}
				if d.PermissionID != "" {
					_, err := fmt.Fprintf(w, "granted by permission %s\n", d.PermissionID)
					return err
				}
				return nil
			})
		})
	},
}
