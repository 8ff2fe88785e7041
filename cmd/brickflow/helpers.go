package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	goyaml "github.com/goccy/go-yaml"
)

// expandPath expands ~ to home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

// parseInput decodes a --input value. "@path" reads a file and "-" reads
// stdin; the text may be JSON or YAML. Numbers decode as float64, as they
// would from JSON.
func parseInput(value string, stdin io.Reader) (any, error) {
	if value == "" {
		return nil, nil
	}

	var data []byte
	switch {
	case value == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	case strings.HasPrefix(value, "@"):
		path, err := expandPath(value[1:])
		if err != nil {
			return nil, err
		}
		b, err := os.ReadFile(path) // #nosec G304 - user-provided input file
		if err != nil {
			return nil, fmt.Errorf("read input: %w", err)
		}
		data = b
	default:
		data = []byte(value)
	}

	js, err := goyaml.YAMLToJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	var input any
	if err := json.Unmarshal(js, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	return input, nil
}

// printValue writes v in the requested output format. Text output is YAML.
func printValue(w io.Writer, format string, v any) error {
	switch format {
	case jsonFormat:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	default:
		data, err := goyaml.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal output: %w", err)
		}
		_, err = fmt.Fprint(w, string(data))
		return err
	}
}
