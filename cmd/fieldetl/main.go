package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var subcommandFns = map[string]func(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command{}

// NewRootCommand builds the fieldetl command with every registered subcommand.
func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "fieldetl",
		Short: "fieldetl - load field survey bundles into the monitoring database",
		Long: `Ingests a protocol's survey bundle, resolves lookups against the
target database and loads the parent event table followed by its children.
Options come from flags, FIELDETL_* environment variables, then --config.`,
		SilenceUsage: true,
	}
	for _, fn := range subcommandFns {
		rc.AddCommand(fn(stdin, stdout, stderr))
	}
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(os.Stdin, os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
