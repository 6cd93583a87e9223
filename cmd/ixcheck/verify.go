package main

import (
	"fmt"

	"interaction-pipeline/services"

	"github.com/spf13/cobra"
)

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Run all integrity checks (exit 0 all pass, 1 any fail)",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			v := services.NewVerifier(e.db, e.log, nil, services.VerifierConfig{Workers: e.cfg.VerifyWorkers})
			report := v.Verify(cmd.Context())
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Passed {
				return withCode(services.ExitValidation, fmt.Errorf("%d integrity checks failed", len(report.Failed())))
			}
			return nil
		},
	}
}
