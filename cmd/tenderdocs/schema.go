package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/internal/entity"
)

func newSchemaCmd(_ *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of the extraction result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := entity.ResultSchema()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return err
		},
	}
}
