package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/obsdb/obsdb/internal/catalog"
	"github.com/obsdb/obsdb/internal/xmlexport"
)

func newRenderCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "render <project>",
		Short: "Print the XML document of a project from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			ctx := context.Background()
			store := catalog.New(cfg, nil)
			defer func() { _ = store.Close() }()
			if err := store.Open(ctx); err != nil {
				return err
			}

			data, err := xmlexport.New(cfg.XMLDir(), store).Render(ctx, args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
