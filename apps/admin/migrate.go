package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var errNoDatabase = errors.New("migrations need a postgres database")

func (cli *commandLine) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <command> [args...]",
		Short: "Run a goose migration command (up, up-to, down, down-to, redo, reset, status, version, create, fix)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cli.db == nil {
				return errNoDatabase
			}
			return gooseRunFunc(cli.db, args[0], args[1:]...)
		},
	}
}
