package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test policies",
		Long: `List the loaded policies or evaluate a configuration against them
without touching any infrastructure.`,
	}

	cmd.AddCommand(newPolicyListCommand())
	cmd.AddCommand(newPolicyTestCommand())
	return cmd
}

func newPolicyListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(cmd.Context(), "policy-list")
			if err != nil {
				return err
			}
			defer cleanup()

			policies := app.engine.ListPolicies()
			if done, perr := printStructured(policies); done {
				return perr
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tSEVERITY\tENABLED\tSOURCE\tDESCRIPTION")
			for _, p := range policies {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
					p.Name, p.Severity, p.Enabled, p.Source, p.Description)
			}
			return w.Flush()
		},
	}
}

func newPolicyTestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "test <config>",
		Short: "Evaluate a configuration against the loaded policies",
		Example: `  # Show every violation a config would produce
  poolhand policy test deploy.cue

  # Same, but fail the command the way an enforcing run would
  poolhand policy test --enforce-policies deploy.cue`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(cmd.Context(), "policy-test")
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}

			result, err := app.engine.Evaluate(cmd.Context(), policy.Input{
				Infra:   cfg.ToInfraSpec(),
				Context: app.policyInput("policy-test"),
			})
			if err != nil {
				return err
			}
			if done, perr := printStructured(result); done {
				return perr
			}

			fmt.Printf("%d policies evaluated, %d violations\n",
				result.Evaluated, len(result.Violations))
			for _, v := range result.Violations {
				fmt.Printf("  [%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			if !result.Allowed {
				return fmt.Errorf("configuration would be denied under the current enforcement mode")
			}
			return nil
		},
	}
}
