package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poolhand/poolhand/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <config>",
		Short: "Validate a deployment configuration",
		Long: `Validate a CUE deployment configuration without touching any
infrastructure.

This command checks:
  - CUE syntax and schema conformance
  - Pool capacity bounds and database placement references
  - Policy compliance`,
		Example: `  # Validate a single file
  poolhand validate deploy.cue

  # Validate a directory of CUE files, denying on policy errors
  poolhand validate --enforce-policies ./configs`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, cleanup, err := newApp(cmd.Context(), "validate")
			if err != nil {
				return err
			}
			defer cleanup()

			cfg, err := loadConfig(args[0])
			if err != nil {
				return err
			}

			result, err := app.engine.Gate(cmd.Context(), policy.Input{
				Infra:   cfg.ToInfraSpec(),
				Context: app.policyInput("validate"),
			})
			if result != nil {
				app.printPolicyWarnings(result)
			}
			if err != nil {
				return err
			}

			if done, perr := printStructured(cfg); done {
				return perr
			}
			fmt.Printf("configuration %s is valid: %d pools, %d databases, %d firewall rules\n",
				cfg.Name, len(cfg.Pools), len(cfg.Databases), len(cfg.FirewallRules))
			return nil
		},
	}
	return cmd
}
