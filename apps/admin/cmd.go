package main

import (
	"database/sql"
	"fmt"
	"io"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/trezcool/eduro/core/class"
	"github.com/trezcool/eduro/core/fee"
	"github.com/trezcool/eduro/core/quiz"
	"github.com/trezcool/eduro/core/user"
	"github.com/trezcool/eduro/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	gooseRunFunc     = database.Migrate  // mockable

	errEmptyPassword = errors.New("password cannot be empty")
)

// commandLine holds what the admin commands operate on.
type commandLine struct {
	db         *sql.DB // nil with the in-memory database
	usrRepo    user.Repository
	classSvc   class.Service
	attemptSvc quiz.AttemptService
	feeSvc     fee.Service
}

func (cli *commandLine) rootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "admin",
		Short:         "Eduro administration commands",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)
	root.AddCommand(
		cli.addUserCmd(),
		cli.resetPasswordCmd(),
		cli.migrateCmd(),
		cli.expireAttemptsCmd(),
		cli.importEnrollmentsCmd(),
		cli.exportReceiptsCmd(),
	)
	return root
}

// run executes the command line args, without the program name.
func (cli *commandLine) run(out io.Writer, args []string) error {
	root := cli.rootCmd(out)
	root.SetArgs(args)
	return root.Execute()
}

func promptPassword(cmd *cobra.Command) (string, error) {
	_, _ = fmt.Fprint(cmd.OutOrStdout(), "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	_, _ = fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", errors.Wrap(err, "reading password")
	}
	if len(pwd) == 0 {
		return "", errEmptyPassword
	}
	return string(pwd), nil
}
