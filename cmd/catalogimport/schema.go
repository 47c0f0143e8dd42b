package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/catalogimport/internal/schema"
)

type schemaField struct {
	Field     schema.Field `yaml:"field"`
	Label     string       `yaml:"label"`
	Kind      string       `yaml:"kind"`
	Required  bool         `yaml:"required,omitempty"`
	Column    string       `yaml:"column"`
	Reference string       `yaml:"reference,omitempty"`
}

func newSchemaCmd(g *globalOptions) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the target fields a mapping can assign",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("SCHEMA_FILE")
			}
			sc := schema.Default()
			if file != "" {
				loaded, err := schema.Load(file)
				if err != nil {
					return withCode(exitUsage, err)
				}
				sc = loaded
			}

			fields := make([]schemaField, 0, len(sc.Fields))
			for _, spec := range sc.Fields {
				f := schemaField{
					Field:    spec.Field,
					Label:    spec.Label,
					Kind:     spec.Kind.String(),
					Required: spec.Required,
					Column:   spec.Column(),
				}
				if spec.Reference != nil {
					f.Reference = spec.Reference.Table
				}
				fields = append(fields, f)
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(map[string]any{"table": sc.Table, "fields": fields})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "Schema file (default: $SCHEMA_FILE or the built-in equipment schema)")
	return cmd
}
