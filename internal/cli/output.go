// Package cli renders flag evaluations for the command-line tools.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"

	"github.com/TimurManjosov/flagship-webdemo/internal/sdk"
)

// OutputFormat specifies the output format for CLI commands
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format: %s", s)
	}
}

// Evaluation is the printed result for one context.
type Evaluation struct {
	User  string          `json:"user" yaml:"user"`
	Flags []sdk.FlagState `json:"flags" yaml:"flags"`
}

// PrintEvaluation writes ev to w in the given format.
func PrintEvaluation(w io.Writer, ev Evaluation, format OutputFormat) error {
	switch format {
	case FormatJSON:
		return printJSON(w, ev)
	case FormatYAML:
		return printYAML(w, ev)
	case FormatTable:
		return printTable(w, ev.Flags)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}

func printJSON(w io.Writer, data any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func printYAML(w io.Writer, data any) error {
	// round-trip through JSON so the YAML keys match the JSON field names
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var generic any
	if err := yaml.Unmarshal(raw, &generic); err != nil {
		return err
	}
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(generic)
}

func printTable(w io.Writer, states []sdk.FlagState) error {
	table := tablewriter.NewWriter(w)
	table.Header("Key", "On", "Value", "Variant", "Reason")

	for _, st := range states {
		value := "-"
		if st.Value != nil {
			b, err := json.Marshal(st.Value)
			if err != nil {
				return fmt.Errorf("encode value of %s: %w", st.Key, err)
			}
			value = string(b)
			if len(value) > 40 {
				value = value[:37] + "..."
			}
		}
		variant := st.Variant
		if variant == "" {
			variant = "-"
		}
		table.Append(
			st.Key,
			fmt.Sprintf("%t", st.On),
			value,
			variant,
			st.Reason.String(),
		)
	}

	return table.Render()
}
