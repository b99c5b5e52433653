package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/hazyhaar/fieldetl/pkg/protocols"
	"github.com/spf13/cobra"
)

// NewProtocolsCommand returns the command listing the registered protocols.
func NewProtocolsCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var verbose bool
	listCommand := &cobra.Command{
		Use:   "protocols",
		Short: "list the available protocols and their steps",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range protocols.All() {
				fmt.Fprintf(stdout, "  %-12s  %s\n", p.ID(), p.Description())
				if !verbose {
					continue
				}
				fmt.Fprintf(stdout, "  %-12s  forms: %s\n", "", strings.Join(p.Forms(), ", "))
				for i, s := range p.Steps() {
					fmt.Fprintf(stdout, "  %-12s  %2d. %s (%s)\n", "", i+1, s.Name, s.Kind)
				}
			}
			return nil
		},
	}
	listCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "show forms and steps")
	return listCommand
}

func init() {
	subcommandFns["protocols"] = NewProtocolsCommand
}
