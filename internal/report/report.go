// Package report writes the run summary to a file.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/IliaW/listing-crawler/internal/model"
	"gopkg.in/yaml.v3"
)

var UnsupportedFormatError = errors.New("unsupported report format")

// Write stores summary at path. The format follows the extension: .yaml, .yml or .json.
func Write(path string, summary *model.RunSummary) error {
	var (
		body []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		body, err = yaml.Marshal(summary)
	case ".json":
		body, err = json.MarshalIndent(summary, "", "  ")
	default:
		return fmt.Errorf("%w: %q", UnsupportedFormatError, path)
	}
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	return os.WriteFile(path, body, 0o644)
}
