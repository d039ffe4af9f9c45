package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/orf/locksmith"
	"github.com/orf/locksmith/render"
)

// readStatement returns arg, or the whole of stdin when arg is "-".
func readStatement(arg string, stdin io.Reader) (string, error) {
	statement := arg

	if arg == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read statement from stdin: %w", err)
		}

		statement = string(data)
	}

	statement = strings.TrimSpace(statement)
	if statement == "" {
		return "", ErrEmptyStatement
	}

	return statement, nil
}

// ensureDir creates a directory if it doesn't exist
func ensureDir(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return nil
}

// writeOutput renders the inspection to path, or to stdout when path is empty.
func writeOutput(path string, formatter *render.Formatter, inspection *locksmith.Inspection) error {
	if path == "" {
		return formatter.Format(inspection, os.Stdout)
	}

	if err := ensureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}

	formatter.NoColor = true

	if err := formatter.Format(inspection, file); err != nil {
		file.Close()
		return err
	}

	return file.Close()
}
