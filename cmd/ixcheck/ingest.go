package main

import (
	"fmt"

	"interaction-pipeline/providers"
	"interaction-pipeline/services"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <csv|s3://bucket/key>",
		Short: "Load, validate, commit and verify an interaction CSV",
		Long: `Runs one ingestion: parse -> archive -> stage -> validate -> commit -> verify.

Exit codes:
  0  success
  1  validation errors (unresolved substances or tokens)
  2  ingestion or database errors
  3  post-commit verification failure
  4  usage error`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: runIngest,
	}
	cmd.Flags().Int("batch-size", services.DefaultBatchSize, "Commit batch size (1-10000)")
	cmd.Flags().Bool("dry-run", false, "Load, validate and verify only, never commit")
	cmd.Flags().Bool("skip-verify", false, "Skip the integrity verification")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	batchSize, _ := cmd.Flags().GetInt("batch-size")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	skipVerify, _ := cmd.Flags().GetBool("skip-verify")
	if err := services.ValidateBatchSize(batchSize); err != nil {
		return withCode(services.ExitUsage, err)
	}
	if err := providers.Check(args[0]); err != nil {
		return withCode(services.ExitUsage, err)
	}

	e, err := loadEnv(cmd)
	if err != nil {
		return err
	}
	defer e.close()

	src, err := providers.Resolve(args[0], e.objectGetter())
	if err != nil {
		return withCode(services.ExitUsage, err)
	}
	if err := e.connect(); err != nil {
		return err
	}

	report, runErr := e.pipeline().Run(cmd.Context(), services.RunOptions{
		Source:     src,
		DryRun:     dryRun,
		SkipVerify: skipVerify,
		BatchSize:  batchSize,
	})
	if report != nil {
		if report.Validation != nil {
			v := report.Validation.Display()
			report.Validation = &v
		}
		if err := printJSON(cmd.OutOrStdout(), report); err != nil {
			e.log.Warn("Could not print run report", zap.Error(err))
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "ingestion %s finished: %s\n", report.AuditID, report.Status)
	return nil
}
