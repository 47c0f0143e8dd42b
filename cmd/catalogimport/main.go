// Command catalogimport runs an equipment catalog import from the command
// line. Without --apply it stops after the preview and changes nothing.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Exit codes
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitValidation = 3
	exitStore      = 4
	exitPartial    = 5
)

type codedError struct {
	code int
	err  error
}

func (e *codedError) Error() string { return e.err.Error() }
func (e *codedError) Unwrap() error { return e.err }

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitFailure
}

func newRootCmd() *cobra.Command {
	var g globalOptions

	root := &cobra.Command{
		Use:           "catalogimport",
		Short:         "Import equipment catalogs from CSV and spreadsheet files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.envFile, "env-file", "", "Load environment variables from this file before reading configuration")
	root.PersistentFlags().StringVar(&g.driver, "driver", "", "Override DB_DRIVER (postgres, sqlite or memory)")
	root.PersistentFlags().StringVar(&g.dbURL, "db", "", "Override DATABASE_URL")

	root.AddCommand(newImportCmd(&g))
	root.AddCommand(newSchemaCmd(&g))
	root.AddCommand(newTemplatesCmd(&g))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(exitCode(err))
}
