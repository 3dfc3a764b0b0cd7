package main

import (
	"fmt"

	cryptoinfra "github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/infra/crypto"

	"github.com/spf13/cobra"
)

func newCanonicalizeCommand(opts *rootOptions) *cobra.Command {
	var hash bool
	cmd := &cobra.Command{
		Use:   "canonicalize <document>",
		Short: "Print the canonical JSON bytes of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.kind = "canonicalize"
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			data, err = toJSON(data, opts.Format)
			if err != nil {
				return err
			}
			canonical, err := cryptoinfra.CanonicalizeJSON(data)
			if err != nil {
				return err
			}
			if hash {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), cryptoinfra.SHA256Hex(canonical))
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(canonical))
			return err
		},
	}
	cmd.Flags().BoolVar(&hash, "sha256", false, "print the SHA-256 hex digest of the canonical bytes instead")
	return cmd
}
