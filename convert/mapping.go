package convert

import (
	"fmt"
	"os"

	orderedmap "github.com/wk8/go-ordered-map/v2"
	"gopkg.in/yaml.v3"
)

// FieldMapping binds one column of the legacy export, by zero-based
// position, to a destination field API name.
type FieldMapping struct {
	Index int    `yaml:"index" json:"index"`
	Field string `yaml:"field" json:"field"`
}

// Spec is one master's declarative conversion: how to read the legacy
// export, which columns become which fields, and the load job the result
// feeds.
type Spec struct {
	// MasterKey identifies the master dataset, used in output file names.
	MasterKey string `yaml:"master_key" json:"master_key"`
	SFObject  string `yaml:"sf_object" json:"sf_object"`
	// Operation is the load operation the converted file is destined for.
	Operation       string `yaml:"operation" json:"operation"`
	ExternalIDField string `yaml:"external_id_field,omitempty" json:"external_id_field,omitempty"`

	InputEncoding  string `yaml:"input_encoding,omitempty" json:"input_encoding,omitempty"`
	OutputEncoding string `yaml:"output_encoding,omitempty" json:"output_encoding,omitempty"`
	Delimiter      string `yaml:"delimiter,omitempty" json:"delimiter,omitempty"`
	LineTerminator string `yaml:"lineterminator,omitempty" json:"lineterminator,omitempty"`
	HasHeader      bool   `yaml:"has_header,omitempty" json:"has_header,omitempty"`

	// OwnerIDColumn optionally names a destination field receiving the
	// constant OwnerIDValue on every row.
	OwnerIDColumn string `yaml:"owner_id_column,omitempty" json:"owner_id_column,omitempty"`
	OwnerIDValue  string `yaml:"owner_id_value,omitempty" json:"owner_id_value,omitempty"`

	// ExtraFields are constant columns appended after the mapped ones, in
	// declaration order.
	ExtraFields *orderedmap.OrderedMap[string, string] `yaml:"extra_fields,omitempty" json:"extra_fields,omitempty"`

	Mapping []FieldMapping `yaml:"mapping" json:"mapping"`

	// OutputCSV overrides the default output location.
	OutputCSV string `yaml:"output_csv,omitempty" json:"output_csv,omitempty"`
}

// LoadSpec reads a conversion spec from a YAML or JSON file.
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}

	var spec Spec
	// YAML is a superset of JSON, so this handles both formats.
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("parsing mapping file %q: %w", path, err)
	}

	spec.applyDefaults()
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping file %q: %w", path, err)
	}
	return &spec, nil
}

func (s *Spec) applyDefaults() {
	if s.InputEncoding == "" {
		s.InputEncoding = "cp932"
	}
	if s.OutputEncoding == "" {
		s.OutputEncoding = "utf-8"
	}
	if s.Delimiter == "" {
		s.Delimiter = ","
	}
	if s.LineTerminator == "" {
		s.LineTerminator = "\n"
	}
}

func (s *Spec) Validate() error {
	if s.MasterKey == "" {
		return fmt.Errorf("missing master_key")
	}
	if s.SFObject == "" {
		return fmt.Errorf("missing sf_object")
	}
	switch s.Operation {
	case "insert", "update", "upsert", "delete":
	case "":
		return fmt.Errorf("missing operation")
	default:
		return fmt.Errorf("invalid operation %q", s.Operation)
	}
	if s.Operation == "upsert" && s.ExternalIDField == "" {
		return fmt.Errorf("operation upsert requires external_id_field")
	}
	if len(s.Mapping) == 0 {
		return fmt.Errorf("mapping must list at least one column")
	}

	seen := make(map[string]bool)
	for i, m := range s.Mapping {
		if m.Index < 0 {
			return fmt.Errorf("mapping entry %d: index %d cannot be negative", i, m.Index)
		}
		if m.Field == "" {
			return fmt.Errorf("mapping entry %d: missing field", i)
		}
		if seen[m.Field] {
			return fmt.Errorf("field %q is mapped more than once", m.Field)
		}
		seen[m.Field] = true
	}

	if (s.OwnerIDColumn == "") != (s.OwnerIDValue == "") {
		return fmt.Errorf("owner_id_column and owner_id_value must be set together")
	}
	if s.OwnerIDColumn != "" && seen[s.OwnerIDColumn] {
		return fmt.Errorf("owner_id_column %q collides with a mapped field", s.OwnerIDColumn)
	}
	seen[s.OwnerIDColumn] = true

	if s.ExtraFields != nil {
		for pair := s.ExtraFields.Oldest(); pair != nil; pair = pair.Next() {
			if seen[pair.Key] {
				return fmt.Errorf("extra field %q collides with another output column", pair.Key)
			}
			seen[pair.Key] = true
		}
	}

	if _, err := lookupEncoding(s.InputEncoding); err != nil {
		return fmt.Errorf("input_encoding: %w", err)
	}
	if _, err := lookupEncoding(s.OutputEncoding); err != nil {
		return fmt.Errorf("output_encoding: %w", err)
	}

	return nil
}

// FieldNames returns the output header: mapped fields in mapping order, then
// the owner column, then extra fields in declaration order.
func (s *Spec) FieldNames() []string {
	var names = make([]string, 0, len(s.Mapping)+1)
	for _, m := range s.Mapping {
		names = append(names, m.Field)
	}
	if s.OwnerIDColumn != "" {
		names = append(names, s.OwnerIDColumn)
	}
	if s.ExtraFields != nil {
		for pair := s.ExtraFields.Oldest(); pair != nil; pair = pair.Next() {
			names = append(names, pair.Key)
		}
	}
	return names
}

// OutputPath is the destination of the converted file.
func (s *Spec) OutputPath() string {
	if s.OutputCSV != "" {
		return s.OutputCSV
	}
	return fmt.Sprintf("output/%s_upsert_ready.csv", s.MasterKey)
}
