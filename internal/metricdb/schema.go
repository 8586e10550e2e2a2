package metricdb

import (
	"errors"
	"fmt"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// defaultColumnType is used for columns without an entry in special_types.
const defaultColumnType = "text"

// ErrSchemaInvalid is returned when a schema descriptor fails validation.
var ErrSchemaInvalid = errors.New("invalid schema descriptor")

// descriptorMetaSchema constrains the shape of a schema descriptor:
// a map of table names to ordered column lists, plus optional type overrides.
const descriptorMetaSchema = `{
	"type": "object",
	"properties": {
		"tables": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {"type": "string"},
				"minItems": 1
			}
		},
		"special_types": {
			"type": "object",
			"additionalProperties": {"type": "string"}
		},
		"default_type": {"type": "string"}
	},
	"required": ["tables"]
}`

// Schema describes the declared tables of a store.
// Column order within a table is significant; it is the creation order.
type Schema struct {
	Tables       map[string][]string `yaml:"tables"`
	SpecialTypes map[string]string   `yaml:"special_types"`
	DefaultType  string              `yaml:"default_type"`
}

// LoadSchema reads and validates a schema descriptor from a YAML file.
func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema descriptor: %w", err)
	}

	return ParseSchema(data)
}

// ParseSchema parses and validates a schema descriptor from YAML bytes.
func ParseSchema(data []byte) (*Schema, error) {
	var raw any

	err := yaml.Unmarshal(data, &raw)
	if err != nil {
		return nil, fmt.Errorf("parse schema descriptor: %w", err)
	}

	validateErr := validateDescriptor(raw)
	if validateErr != nil {
		return nil, validateErr
	}

	var schema Schema

	unmarshalErr := yaml.Unmarshal(data, &schema)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("decode schema descriptor: %w", unmarshalErr)
	}

	if schema.DefaultType == "" {
		schema.DefaultType = defaultColumnType
	}

	return &schema, nil
}

// validateDescriptor checks the raw descriptor document against the meta-schema.
func validateDescriptor(raw any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(descriptorMetaSchema),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("validate schema descriptor: %w", err)
	}

	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("%w: %s", ErrSchemaInvalid, errs[0].String())
		}

		return ErrSchemaInvalid
	}

	return nil
}

// ColumnType returns the declared type of a column, falling back to the default.
func (s *Schema) ColumnType(column string) string {
	if t, ok := s.SpecialTypes[column]; ok {
		return t
	}

	return s.DefaultType
}

// TableNames returns the declared table names in unspecified order.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}

	return names
}
