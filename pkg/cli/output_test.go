package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    OutputFormat
		wantErr bool
	}{
		{"", FormatYAML, false},
		{"yaml", FormatYAML, false},
		{"json", FormatJSON, false},
		{"raw", FormatRaw, false},
		{"table", "", true},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseFormat(%q) should fail", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseFormat(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestOutput_JSON(t *testing.T) {
	var buf bytes.Buffer

	data := map[string]any{
		"name":  "weather-smoke",
		"value": 123,
	}

	err := Output(data, OutputOptions{
		Format: FormatJSON,
		Writer: &buf,
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if result["name"] != "weather-smoke" {
		t.Errorf("name = %v, want %q", result["name"], "weather-smoke")
	}
}

func TestOutput_DefaultFormatIsYAML(t *testing.T) {
	var buf bytes.Buffer

	err := Output(map[string]string{"key": "value"}, OutputOptions{Writer: &buf})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	if !strings.Contains(buf.String(), "key: value") {
		t.Errorf("default format should be YAML, got: %s", buf.String())
	}
}

func TestOutput_Raw(t *testing.T) {
	var buf bytes.Buffer

	if err := Output([]byte("raw bytes"), OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	if buf.String() != "raw bytes" {
		t.Errorf("Output = %q, want %q", buf.String(), "raw bytes")
	}

	buf.Reset()
	if err := Output("raw string", OutputOptions{Format: FormatRaw, Writer: &buf}); err != nil {
		t.Fatalf("Output error: %v", err)
	}
	if buf.String() != "raw string" {
		t.Errorf("Output = %q, want %q", buf.String(), "raw string")
	}

	if err := Output(map[string]int{"count": 42}, OutputOptions{Format: FormatRaw, Writer: &buf}); err == nil {
		t.Error("raw output should fail for structured data")
	}
}

func TestOutput_UnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer

	err := Output("data", OutputOptions{Format: "xml", Writer: &buf})
	if err == nil {
		t.Error("Output should fail for unsupported format")
	}
}

func TestOutput_ToFile(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "report.json")

	err := Output(map[string]string{"key": "value"}, OutputOptions{
		Format: FormatJSON,
		File:   filePath,
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatalf("ReadFile error: %v", err)
	}

	var result map[string]string
	if err := json.Unmarshal(content, &result); err != nil {
		t.Fatalf("invalid JSON in file: %v", err)
	}
	if result["key"] != "value" {
		t.Errorf("key = %q, want %q", result["key"], "value")
	}
}

func TestOutput_JSONIndent(t *testing.T) {
	var buf bytes.Buffer

	err := Output(map[string]string{"key": "value"}, OutputOptions{
		Format: FormatJSON,
		Writer: &buf,
		Indent: "    ",
	})
	if err != nil {
		t.Fatalf("Output error: %v", err)
	}

	if !strings.Contains(buf.String(), "    ") {
		t.Errorf("output should be indented, got: %s", buf.String())
	}
}
