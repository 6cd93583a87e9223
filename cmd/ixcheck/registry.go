package main

import (
	"errors"
	"fmt"
	"os"

	"interaction-pipeline/services"

	"github.com/spf13/cobra"
)

// registryErr klassifiziert Datenfehler des Registers als Exit-Code 1.
func registryErr(err error) error {
	if errors.Is(err, services.ErrDuplicateToken) || errors.Is(err, services.ErrEmptyToken) || errors.Is(err, services.ErrNotFound) {
		return withCode(services.ExitValidation, err)
	}
	return err
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <substances.yaml>",
		Short: "Register substances and aliases from a YAML file",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return withCode(services.ExitUsage, err)
			}
			defer f.Close()
			seed, err := services.ParseSeed(f)
			if err != nil {
				return withCode(services.ExitUsage, err)
			}

			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			res, err := services.NewRegistry(e.db, e.log).Seed(cmd.Context(), seed)
			if err != nil {
				return registryErr(err)
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func aliasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "alias <substance-id> <alias>",
		Short: "Add an alias token to an existing substance",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv(cmd)
			if err != nil {
				return err
			}
			defer e.close()

			created, err := services.NewRegistry(e.db, e.log).AddAlias(cmd.Context(), args[0], args[1])
			if err != nil {
				return registryErr(err)
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "alias %q -> %s added\n", args[1], args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "alias %q -> %s already present\n", args[1], args[0])
			}
			return nil
		},
	}
}
