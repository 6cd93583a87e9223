package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"interaction-pipeline/services"

	"github.com/spf13/cobra"
)

var Version = "dev"

// exitError trägt einen expliziten Exit-Code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: code, err: err}
}

// exitCode bildet einen Kommandofehler auf den Exit-Code ab.
func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return services.ExitCodeFor(err)
}

// usageArgs markiert Argumentfehler als Bedienfehler.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return withCode(services.ExitUsage, check(cmd, args))
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ixcheck",
		Short:         "ixcheck - interaction data ingestion and integrity verification",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Debug logging")
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return withCode(services.ExitUsage, fmt.Errorf("%w\n\n%s", err, cmd.UsageString()))
	})

	rootCmd.AddCommand(ingestCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(aliasCmd())
	rootCmd.AddCommand(auditCmd())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
