package schema

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileSchema is the YAML shape of a schema override file:
//
//	table: equipment
//	fields:
//	  - field: name
//	    label: Equipment Name
//	    required: true
//	  - field: category
//	    kind: reference
//	    reference: {table: categories, name_column: name, column: category_id}
type fileSchema struct {
	Table  string      `yaml:"table"`
	Fields []fileField `yaml:"fields"`
}

type fileField struct {
	Field     string         `yaml:"field"`
	Label     string         `yaml:"label"`
	Kind      string         `yaml:"kind"`
	Required  bool           `yaml:"required"`
	Reference *fileReference `yaml:"reference"`
}

type fileReference struct {
	Table      string `yaml:"table"`
	NameColumn string `yaml:"name_column"`
	Column     string `yaml:"column"`
}

// Load reads a schema override from a YAML file. An empty path returns the
// built-in equipment schema.
func Load(path string) (*Schema, error) {
	if path == "" {
		return Default(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open schema file: %w", err)
	}
	defer file.Close()

	return LoadFromReader(file)
}

// LoadFromReader parses a schema override. Fields may omit kind and reference,
// in which case the built-in definition for that field is used.
func LoadFromReader(r io.Reader) (*Schema, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var fs fileSchema
	if err := dec.Decode(&fs); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	defaults := Default()
	s := &Schema{Table: fs.Table}
	if s.Table == "" {
		s.Table = defaults.Table
	}

	for _, ff := range fs.Fields {
		f := Field(strings.TrimSpace(ff.Field))
		base, known := defaults.Lookup(f)
		if !known {
			return nil, fmt.Errorf("schema: unknown field %q", ff.Field)
		}

		spec := base
		spec.Required = ff.Required
		if ff.Label != "" {
			spec.Label = ff.Label
		}
		if ff.Kind != "" {
			k, err := parseKind(ff.Kind)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", ff.Field, err)
			}
			spec.Kind = k
		}
		if ff.Reference != nil {
			spec.Reference = &Reference{
				Table:      ff.Reference.Table,
				NameColumn: ff.Reference.NameColumn,
				Column:     ff.Reference.Column,
			}
			if spec.Reference.NameColumn == "" {
				spec.Reference.NameColumn = "name"
			}
			if spec.Reference.Column == "" {
				spec.Reference.Column = string(f) + "_id"
			}
		}
		if spec.Kind != KindReference {
			spec.Reference = nil
		}
		s.Fields = append(s.Fields, spec)
	}

	if len(fs.Fields) == 0 {
		s.Fields = defaults.Fields
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseKind(v string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "text":
		return KindText, nil
	case "numeric", "number":
		return KindNumeric, nil
	case "url":
		return KindURL, nil
	case "reference":
		return KindReference, nil
	case "image":
		return KindImage, nil
	default:
		return KindText, fmt.Errorf("unknown kind %q", v)
	}
}
