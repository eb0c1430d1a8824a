package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/tender-docs/internal/repository"
)

func newDBHealthCmd(c *cli) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "dbhealth",
		Short: "Check the database connection and list recent documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := c.openApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if err := repository.HealthCheck(ctx, a.db, time.Second, c.logger); err != nil {
				fmt.Fprintf(out, "DB health: FAIL (%v)\n", err)
				return err
			}
			fmt.Fprintf(out, "DB health: OK (%s)\n", a.db.Dialect())

			docs, err := a.docs.List(ctx, limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "documents: %d shown\n", len(docs))
			for _, d := range docs {
				fmt.Fprintf(out, "- %s %s (%d bytes)\n", d.ID, d.Filename, d.FileSize)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of recent documents to list")
	return cmd
}
