package main

import (
	"fmt"
	"io"

	"github.com/hazyhaar/fieldetl/pkg/loader"
	"github.com/hazyhaar/fieldetl/pkg/schema"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewInitDBCommand returns the command that creates a protocol's tables.
func NewInitDBCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	var db string
	var all bool
	initCommand := &cobra.Command{
		Use:   "initdb [protocol...]",
		Short: "create the tables and default lookup rows of one or more protocols",
		RunE: func(cmd *cobra.Command, args []string) error {
			if db == "" {
				return errors.New("--backend-db is required")
			}
			if all {
				args = schema.Protocols()
			}
			if len(args) == 0 {
				return errors.Errorf("name a protocol (%v) or pass --all", schema.Protocols())
			}
			conn, err := loader.Open(db)
			if err != nil {
				return err
			}
			defer conn.Close()
			for _, p := range args {
				if err := schema.Apply(cmd.Context(), conn, p); err != nil {
					return err
				}
				fmt.Fprintf(stdout, "[%s] schema applied -> %s\n", p, db)
			}
			return nil
		},
	}
	flags := initCommand.Flags()
	flags.StringVar(&db, "backend-db", "", "target database file")
	flags.BoolVar(&all, "all", false, "apply every protocol schema")
	return initCommand
}

func init() {
	subcommandFns["initdb"] = NewInitDBCommand
}
