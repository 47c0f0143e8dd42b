package main

import (
	"github.com/spf13/cobra"
)

func newTemplatesCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List saved mapping templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List templates ordered by name",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := openApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer app.Close()

			templates, err := app.Service.ListTemplates(cmd.Context())
			if err != nil {
				return withCode(exitStore, err)
			}
			return printJSON(cmd.OutOrStdout(), templates)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show ID",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, _, err := openApp(cmd.Context(), g)
			if err != nil {
				return err
			}
			defer app.Close()

			tpl, err := app.Service.GetTemplate(cmd.Context(), args[0])
			if err != nil {
				return withCode(exitUsage, err)
			}
			return printJSON(cmd.OutOrStdout(), tpl)
		},
	})
	return cmd
}
