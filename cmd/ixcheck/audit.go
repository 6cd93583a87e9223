package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"interaction-pipeline/services"

	"github.com/spf13/cobra"
)

func auditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and export the ingestion audit log",
	}
	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditExportCmd())
	return cmd
}

func auditListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent ingestion runs, newest first",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			entries, err := services.NewAuditLog(e.db, e.log).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), entries)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSTAGE\tSTARTED\tROWS\tINS\tUPD\tSKIP\tERR\tSOURCE")
			for _, a := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
					a.ID, a.Status, a.Stage, a.StartedAt.Format(time.RFC3339),
					a.TotalRows, a.Inserted, a.Updated, a.Skipped, a.Errored, a.SourceFile)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum entries")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func auditExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Upload all audit records as gzipped JSON lines to the archive bucket",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := loadEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			store := e.archive()
			if store == nil {
				return withCode(services.ExitUsage, errors.New("audit export requires ARCHIVE_S3_BUCKET"))
			}
			if err := e.connect(); err != nil {
				return err
			}
			res, err := services.NewAuditLog(e.db, e.log).Export(cmd.Context(), store, e.cfg.AuditExportKeep)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}
