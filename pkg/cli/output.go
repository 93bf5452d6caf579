package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"
)

// OutputFormat selects how results are rendered.
type OutputFormat string

const (
	// FormatYAML renders YAML, the default for terminals.
	FormatYAML OutputFormat = "yaml"
	// FormatJSON renders indented JSON.
	FormatJSON OutputFormat = "json"
	// FormatRaw writes strings and byte slices verbatim.
	FormatRaw OutputFormat = "raw"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatYAML, FormatJSON, FormatRaw:
		return OutputFormat(s), nil
	case "":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("cli: unsupported output format %q", s)
	}
}

// OutputOptions configures where and how a result is written.
type OutputOptions struct {
	// Format is the output format, FormatYAML when empty.
	Format OutputFormat

	// File is the output file path, stdout when empty.
	File string

	// Writer overrides File when set.
	Writer io.Writer

	// Indent is the JSON indentation, two spaces when empty.
	Indent string
}

// Output renders result to the configured destination.
func Output(result any, opts OutputOptions) error {
	var w io.Writer = os.Stdout
	if opts.Writer != nil {
		w = opts.Writer
	} else if opts.File != "" {
		f, err := os.Create(opts.File)
		if err != nil {
			return fmt.Errorf("cli: create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		indent := opts.Indent
		if indent == "" {
			indent = "  "
		}
		enc.SetIndent("", indent)
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatRaw:
		switch v := result.(type) {
		case []byte:
			_, err := w.Write(v)
			return err
		case string:
			_, err := io.WriteString(w, v)
			return err
		default:
			return fmt.Errorf("cli: raw output needs string or bytes, got %T", result)
		}
	default:
		return fmt.Errorf("cli: unsupported output format %q", opts.Format)
	}
}

// Print helpers for terminal output.

// PrintSuccess prints a success message with a checkmark.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}

// PrintInfo prints an informational message.
func PrintInfo(format string, args ...any) {
	fmt.Printf("ℹ "+format+"\n", args...)
}

// PrintWarning prints a warning message.
func PrintWarning(format string, args ...any) {
	fmt.Printf("⚠ "+format+"\n", args...)
}
