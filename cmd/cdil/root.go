package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

const (
	exitPass  = 0
	exitFail  = 1
	exitError = 2
)

const (
	formatJSON = "json"
	formatYAML = "yaml"
)

var validFormats = []string{formatJSON, formatYAML}

// errVerificationFailed marks a completed verification that found tampering.
// Every other error is an ERROR outcome.
var errVerificationFailed = errors.New("verification failed")

type rootOptions struct {
	Format string
	// kind names the running verification for ERROR outcomes.
	kind string
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "cdil",
		Short:         "Offline verifier for clinical documentation integrity artifacts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&opts.Format, "format", formatJSON, "input document format (json|yaml)")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newCanonicalizeCommand(opts))
	return cmd
}

func isValidFormat(format string) bool {
	for _, f := range validFormats {
		if f == format {
			return true
		}
	}
	return false
}

// execute runs the CLI and maps the outcome onto the exit code contract.
func execute(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts := &rootOptions{}
	cmd := newRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	switch {
	case err == nil:
		return exitPass
	case errors.Is(err, errVerificationFailed):
		return exitFail
	default:
		_ = writeOutcome(stdout, outcome{Status: statusError, Kind: opts.kind, Error: err.Error()})
		fmt.Fprintf(stderr, "cdil: %v\n", err)
		return exitError
	}
}
