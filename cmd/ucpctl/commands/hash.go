package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sumup/ucp/ap2"
)

func hashCmd() *cobra.Command {
	var canonical bool
	cmd := &cobra.Command{
		Use:   "hash [file]",
		Short: "Print the checkout state hash of a JSON document",
		Long: "Canonicalize a JSON document and print its hex SHA-256 state hash.\n" +
			"Reads stdin when no file (or \"-\") is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readInput(cmd, path)
			if err != nil {
				return err
			}
			v, err := ap2.ParseJSON(data)
			if err != nil {
				return err
			}
			if canonical {
				s, err := ap2.Canonicalize(v)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
			hash, err := ap2.HashState(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	cmd.Flags().BoolVar(&canonical, "canonical", false, "also print the canonical form before the hash")
	return cmd
}
